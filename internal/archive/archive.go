// Package archive provides an optional, disabled-by-default sink that
// records every line the sync engine applies to the model store, for
// later offline inspection (see cmd/relay-history).
//
// This is a supplemental feature with no direct precedent in the protocol
// notes: the reference client keeps lines only for the lifetime of one
// session. It is grounded on the teacher's saver package — a
// task-channel decoupling the hot path from slow I/O — adapted to write
// one JSON object per line (the teacher's eventsocket.go precedent for
// JSONL framing) through the teacher's zstd external-process pipe, rather
// than the teacher's generated-protobuf record format.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/lith-project/relay-client/internal/model"
	"github.com/lith-project/relay-client/zstd"
)

// Record is one archived line, self-contained enough to reconstruct the
// conversation offline without the rest of the model store.
type Record struct {
	Timestamp time.Time
	BufferPtr model.Pointer
	BufferName string
	LinePtr   model.Pointer
	Prefix    string
	Message   string
	Highlight bool
}

// Sink writes Records to a zstd-compressed JSONL file asynchronously, so
// that a slow disk never stalls the connection's single reactor goroutine.
// A nil *Sink is valid and silently discards everything, matching the
// "disabled by default" requirement — callers need not branch on whether
// archival is enabled.
type Sink struct {
	tasks chan *Record
	done  sync.WaitGroup
}

// Open creates a Sink writing newline-delimited JSON Records, zstd
// compressed, to filename. Call Close when done; Close waits for the
// background writer to drain and for the external zstd process to finish.
func Open(filename string) (*Sink, error) {
	w, err := zstd.NewWriter(filename)
	if err != nil {
		return nil, fmt.Errorf("archive: opening %q: %w", filename, err)
	}
	s := &Sink{tasks: make(chan *Record, 100)}
	s.done.Add(1)
	go s.run(w)
	return s, nil
}

func (s *Sink) run(w io.WriteCloser) {
	defer s.done.Done()
	enc := json.NewEncoder(w)
	for rec := range s.tasks {
		if err := enc.Encode(rec); err != nil {
			log.Println("archive: write error:", err)
		}
	}
	if err := w.Close(); err != nil {
		log.Println("archive: error closing archive file:", err)
	}
}

// Record queues rec for writing. It never blocks the caller on I/O; if the
// sink is nil (archival disabled), Record is a no-op. Record must not be
// called after Close: the queue channel is closed then and the send panics.
func (s *Sink) Record(rec *Record) {
	if s == nil {
		return
	}
	select {
	case s.tasks <- rec:
	default:
		log.Println("archive: queue full, dropping record")
	}
}

// Close stops accepting new records and waits for the writer goroutine and
// the external zstd process to finish. Safe to call on a nil *Sink.
func (s *Sink) Close() {
	if s == nil {
		return
	}
	close(s.tasks)
	s.done.Wait()
}

// RecordLine builds a Record from a just-upserted line and its owning
// buffer, the shape the sync engine's handlers feed into a Sink.
func RecordLine(buf *model.Buffer, line *model.BufferLine) *Record {
	return &Record{
		Timestamp:  time.UnixMilli(line.TimestampMS),
		BufferPtr:  buf.Ptr,
		BufferName: buf.Name,
		LinePtr:    line.Ptr,
		Prefix:     line.Prefix,
		Message:    line.Message,
		Highlight:  line.Highlight,
	}
}
