// Package dispatch frames length-prefixed server messages off a socket and
// routes each to a handler keyed by its request id.
//
// The read loop is grounded on the same buffered-reader-plus-scan idiom the
// rest of the ecosystem uses for message-oriented sockets (see
// eventsocket.client.MustRun for the line-delimited analogue); here frames
// are binary and length-prefixed rather than newline-delimited.
package dispatch

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/lith-project/relay-client/metrics"
)

// ErrReentrant is returned by Pump if a Handler tries to trigger another
// frame read while the current one has not finished. The dispatcher must
// never invoke a handler re-entrantly; see the reentrancy-guard design
// note.
var ErrReentrant = errors.New("dispatch: re-entrant frame handling")

// headerLen is the 5-byte frame header: 4-byte big-endian total length
// (including the header itself) plus 1 compression-flag byte.
const headerLen = 5

// Frame is one decoded length-prefixed unit read off the wire.
type Frame struct {
	// Compressed is true if the server tagged this frame as compressed.
	// Decompression is unimplemented (see Non-goals); a Compressed frame
	// is handled by returning ErrCompressedUnsupported rather than
	// attempting to parse it as plain data.
	Compressed bool
	// Body is the frame payload with the 5-byte header stripped off.
	Body []byte
}

// ErrCompressedUnsupported is returned by ReadFrame when a frame's
// compression flag is set; the header reserves the flag but payload
// decompression is out of scope (see Non-goals).
var ErrCompressedUnsupported = errors.New("dispatch: compressed frames are not supported")

// ReadFrame reads exactly one length-prefixed frame from r, buffering
// across as many underlying Reads as needed. A 200-byte frame delivered as
// two 100-byte reads decodes identically to one 200-byte read, since r is
// read to completion regardless of how the caller's io.Reader chooses to
// chunk it.
func ReadFrame(r io.Reader) (Frame, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, fmt.Errorf("dispatch: reading frame header: %w", err)
	}
	total := binary.BigEndian.Uint32(header[:4])
	if total < headerLen {
		return Frame{}, fmt.Errorf("dispatch: frame length %d shorter than header", total)
	}
	compressed := header[4] != 0

	body := make([]byte, total-headerLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("dispatch: reading frame body: %w", err)
	}
	if compressed {
		return Frame{Compressed: true, Body: body}, ErrCompressedUnsupported
	}
	return Frame{Body: body}, nil
}

// Handler processes one decoded frame body for a given request id.
type Handler func(ctx context.Context, requestID string, typeTag string, body []byte) error

// Dispatcher reads frames from a connection and routes them by request id.
type Dispatcher struct {
	r        *bufio.Reader
	handlers map[string]Handler
	fallback Handler
	busy     bool
	onFrame  func()
}

// New creates a Dispatcher reading frames from r.
func New(r io.Reader) *Dispatcher {
	return &Dispatcher{r: bufio.NewReader(r), handlers: make(map[string]Handler)}
}

// Handle registers handler for requestID. Registering the same id twice
// replaces the previous handler.
func (d *Dispatcher) Handle(requestID string, handler Handler) {
	d.handlers[requestID] = handler
}

// HandleUnknown registers the fallback invoked for any request id with no
// registered Handler. Per the sync engine design, unknown ids are logged
// and ignored, not treated as an error.
func (d *Dispatcher) HandleUnknown(handler Handler) {
	d.fallback = handler
}

// OnFrame registers a callback invoked once per frame actually read off the
// wire, including an unsupported-compressed frame, before it is routed.
// The connection controller uses this to reset its inactivity deadline on
// real server traffic instead of its own outbound ticks.
func (d *Dispatcher) OnFrame(f func()) {
	d.onFrame = f
}

// splitFrameBody extracts the null-terminated request id and the 3-byte
// object type tag that follow it, returning the remaining bytes as the
// typed body.
func splitFrameBody(body []byte) (requestID, typeTag string, rest []byte, err error) {
	nul := -1
	for i, b := range body {
		if b == 0 {
			nul = i
			break
		}
	}
	if nul < 0 {
		return "", "", nil, errors.New("dispatch: frame body missing null-terminated request id")
	}
	requestID = string(body[:nul])
	after := body[nul+1:]
	if len(after) < 3 {
		return "", "", nil, errors.New("dispatch: frame body missing type tag")
	}
	typeTag = string(after[:3])
	rest = after[3:]
	return requestID, typeTag, rest, nil
}

// Pump reads and dispatches frames until ctx is cancelled or a read fails.
// It enforces the reentrancy guard: if a Handler were to call back into
// Pump (directly or by pumping an outer event loop) while a frame is still
// being handled, that inner call returns ErrReentrant immediately instead
// of racing the buffered reader.
func (d *Dispatcher) Pump(ctx context.Context) error {
	if d.busy {
		return ErrReentrant
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := ReadFrame(d.r)
		if errors.Is(err, ErrCompressedUnsupported) {
			if d.onFrame != nil {
				d.onFrame()
			}
			continue
		}
		if err != nil {
			return err
		}
		if d.onFrame != nil {
			d.onFrame()
		}
		if err := d.dispatchOne(ctx, frame); err != nil {
			return err
		}
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, frame Frame) error {
	requestID, typeTag, body, err := splitFrameBody(frame.Body)
	if err != nil {
		// A malformed frame is a protocol-decode error: discard it and
		// keep the connection (see error handling design).
		metrics.DecodeErrorsTotal.WithLabelValues("dispatch").Inc()
		return nil
	}
	if strings.HasPrefix(requestID, "_") {
		metrics.FramesTotal.WithLabelValues("push").Inc()
	} else {
		metrics.FramesTotal.WithLabelValues("reply").Inc()
	}
	handler, ok := d.handlers[requestID]
	if !ok {
		handler = d.fallback
	}
	if handler == nil {
		return nil
	}

	d.busy = true
	defer func() { d.busy = false }()
	return handler(ctx, requestID, typeTag, body)
}
