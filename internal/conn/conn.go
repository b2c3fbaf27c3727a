// Package conn drives the connect/auth/sync/reconnect state machine that
// owns the relay socket.
//
// The loop is grounded on the teacher's top-level orchestration in
// main.go (ticker-driven, context.Context-cancelled, deferred teardown)
// generalized from "poll a local kernel socket forever" to "dial a remote
// socket, reconnect with backoff on failure"; the rep-counted retry shape
// of collector.Run becomes a backoff-driven redial loop, and graceful
// shutdown follows the same sync.WaitGroup-style "stop and wait" pattern
// as saver.Saver.Done.
package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/lith-project/relay-client/internal/archive"
	"github.com/lith-project/relay-client/internal/cmdline"
	"github.com/lith-project/relay-client/internal/dispatch"
	"github.com/lith-project/relay-client/internal/model"
	relaysync "github.com/lith-project/relay-client/internal/sync"
	"github.com/lith-project/relay-client/internal/transport"
	"github.com/lith-project/relay-client/metrics"
)

// State is one of the controller's lifecycle states.
type State int

// States, matching the protocol notes' transition table.
const (
	Unconfigured State = iota
	Connecting
	Connected
	Disconnected
	Error
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "UNCONFIGURED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Disconnected:
		return "DISCONNECTED"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Settings is the external configuration this controller observes.
// Host and Passphrase both non-empty is the condition for leaving
// Unconfigured.
type Settings struct {
	Host       string
	Port       int
	Encrypted  bool
	Passphrase string

	// PinnedFingerprint, if set, is forwarded to transport.Config; see
	// its doc comment for the certificate-trust exception it grants.
	PinnedFingerprint string
}

// complete reports whether Settings carries enough information to attempt
// a connection.
func (s Settings) complete() bool {
	return s.Host != "" && s.Passphrase != ""
}

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 5 * time.Second
	requestTimeout = 5 * time.Second
	hotlistPeriod  = 1 * time.Second
	defaultPort    = 9001
)

// Controller owns the relay socket and the Model Store it feeds.
// Controller is not safe for concurrent use: its methods must be called
// from the goroutine running Run (or externally serialized), matching the
// single-threaded cooperative model the rest of this client follows. The
// one exception is SetSettings, which hands settings to Run over a channel.
type Controller struct {
	Store *model.Store

	settings Settings
	state    State

	conn    net.Conn
	backoff time.Duration

	// ActiveBuffer and Archive are forwarded to the sync Engine on every
	// reconnect; see their doc comments there.
	ActiveBuffer func() model.Pointer
	Archive      *archive.Sink

	settingsChanged chan Settings
	stateChanges    chan State
}

// New creates a Controller backed by store. Call SetSettings (or Run after
// one) to move it out of Unconfigured.
func New(store *model.Store) *Controller {
	return &Controller{
		Store:           store,
		state:           Unconfigured,
		backoff:         initialBackoff,
		settingsChanged: make(chan Settings, 1),
		stateChanges:    make(chan State, 8),
	}
}

// StateChanges returns a channel of state transitions. The channel holds up
// to 8 pending transitions; when it is full, further transitions are
// dropped rather than blocking Run.
func (c *Controller) StateChanges() <-chan State {
	return c.stateChanges
}

// SetSettings updates the observed configuration. If the controller is
// currently connected, Run tears down the socket and reconnects with the
// new settings, per the protocol notes' "settings change while connected"
// transition. Safe to call from a different goroutine than Run.
func (c *Controller) SetSettings(s Settings) {
	if s.Port == 0 {
		s.Port = defaultPort
	}
	select {
	case c.settingsChanged <- s:
	default:
		// Drain the stale pending change and replace it; only the most
		// recent settings value matters.
		select {
		case <-c.settingsChanged:
		default:
		}
		c.settingsChanged <- s
	}
}

func (c *Controller) setState(s State) {
	c.state = s
	select {
	case c.stateChanges <- s:
	default:
	}
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	return c.state
}

// Run drives the controller until ctx is cancelled. It never returns an
// error for network failures — those are handled internally via backoff
// and reconnect, per the "no error is fatal to the process" policy — and
// only returns when ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case s := <-c.settingsChanged:
			c.settings = s
		case <-ctx.Done():
			c.closeConn()
			return ctx.Err()
		default:
		}

		if !c.settings.complete() {
			c.setState(Unconfigured)
			if !c.waitForSettingsOrDone(ctx) {
				return ctx.Err()
			}
			continue
		}

		c.setState(Connecting)
		err := c.runOneConnection(ctx)
		c.closeConn()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.setState(Error)
			metrics.ReconnectsTotal.WithLabelValues(reasonFor(err)).Inc()
		} else {
			c.setState(Disconnected)
			metrics.ReconnectsTotal.WithLabelValues("settings_change").Inc()
		}

		if !c.sleepBackoff(ctx) {
			return ctx.Err()
		}
	}
}

func reasonFor(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return "network"
}

// waitForSettingsOrDone blocks until either a settings update arrives
// (applied to c.settings before returning) or ctx is cancelled. Returns
// false if ctx was cancelled.
func (c *Controller) waitForSettingsOrDone(ctx context.Context) bool {
	select {
	case s := <-c.settingsChanged:
		c.settings = s
		return true
	case <-ctx.Done():
		return false
	}
}

// sleepBackoff waits the current backoff duration (observing ctx
// cancellation and settings changes, either of which short-circuits the
// wait), then doubles backoff up to maxBackoff. Returns false if ctx was
// cancelled during the wait.
func (c *Controller) sleepBackoff(ctx context.Context) bool {
	metrics.BackoffSecondsHistogram.Observe(c.backoff.Seconds())
	timer := time.NewTimer(c.backoff)
	defer timer.Stop()

	select {
	case <-timer.C:
	case s := <-c.settingsChanged:
		c.settings = s
	case <-ctx.Done():
		return false
	}

	next := c.backoff * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	c.backoff = next
	return true
}

// resetBackoff restores the initial backoff after a successful connection,
// so a flaky-then-stable relay doesn't keep paying the penalty from an
// earlier outage.
func (c *Controller) resetBackoff() {
	c.backoff = initialBackoff
}

// runOneConnection dials, completes the handshake, and pumps frames until
// the socket fails, the peer closes it, a request times out, or new
// settings arrive. A nil return means the loop exited because settings
// changed underneath it or ctx was cancelled, not because of an error.
func (c *Controller) runOneConnection(ctx context.Context) error {
	settings := c.settings
	conn, err := transport.Dial(transport.Config{
		Host:              settings.Host,
		Port:              settings.Port,
		Encrypted:         settings.Encrypted,
		PinnedFingerprint: settings.PinnedFingerprint,
		DialTimeout:       requestTimeout,
	})
	if err != nil {
		return err
	}
	c.conn = conn
	c.resetBackoff()
	c.setState(Connected)

	for _, line := range cmdline.Handshake(settings.Passphrase) {
		if _, err := io.WriteString(conn, line); err != nil {
			return fmt.Errorf("conn: writing handshake: %w", err)
		}
	}

	engine := relaysync.NewEngine(c.Store)
	engine.ActiveBuffer = c.ActiveBuffer
	engine.Archive = c.Archive

	disp := dispatch.New(conn)
	disp.HandleUnknown(func(ctx context.Context, requestID, typeTag string, body []byte) error {
		if err := engine.HandleFrame(ctx, requestID, typeTag, body); err != nil {
			// A protocol-decode error discards this frame; the connection is kept.
			log.Println("conn: discarding undecodable frame", requestID+":", err)
		}
		return nil
	})

	deadline := time.NewTimer(requestTimeout)
	defer deadline.Stop()
	disp.OnFrame(func() { resetTimer(deadline, requestTimeout) })

	pumpErr := make(chan error, 1)
	pumpCtx, cancelPump := context.WithCancel(ctx)
	defer cancelPump()
	go func() { pumpErr <- disp.Pump(pumpCtx) }()

	hotlist := time.NewTicker(hotlistPeriod)
	defer hotlist.Stop()

	for {
		select {
		case err := <-pumpErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("conn: frame pump: %w", err)
		case <-hotlist.C:
			if _, err := io.WriteString(conn, cmdline.Hotlist()); err != nil {
				return fmt.Errorf("conn: writing hotlist poll: %w", err)
			}
			reportGauges(c.Store)
		case <-deadline.C:
			return fmt.Errorf("conn: response timeout after %s", requestTimeout)
		case s := <-c.settingsChanged:
			c.settings = s
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// reportGauges publishes the store's current size to the model-size
// gauges; called on the hotlist tick, a convenient once-a-second cadence.
func reportGauges(store *model.Store) {
	buffers, lines, nicks := store.Counts()
	metrics.BuffersGauge.Set(float64(buffers))
	metrics.LinesGauge.Set(float64(lines))
	metrics.NicksGauge.Set(float64(nicks))
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (c *Controller) closeConn() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		log.Println("conn: error closing socket:", err)
	}
	c.conn = nil
}
