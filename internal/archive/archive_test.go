package archive

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/lith-project/relay-client/internal/model"
	"github.com/m-lab/go/rtx"
)

// nopWriteCloser wraps a bytes.Buffer so run() can write to an in-memory
// sink without spawning the external zstd process Open would use.
type nopWriteCloser struct {
	*bytes.Buffer
	closed bool
}

func (w *nopWriteCloser) Close() error {
	w.closed = true
	return nil
}

func newTestSink() (*Sink, *nopWriteCloser) {
	w := &nopWriteCloser{Buffer: &bytes.Buffer{}}
	s := &Sink{tasks: make(chan *Record, 100)}
	s.done.Add(1)
	go s.run(w)
	return s, w
}

func TestSinkRecordWritesJSONLines(t *testing.T) {
	s, w := newTestSink()
	rec := &Record{
		Timestamp:  time.Unix(1000, 0).UTC(),
		BufferPtr:  1,
		BufferName: "#test",
		LinePtr:    100,
		Prefix:     "nick",
		Message:    "hello",
		Highlight:  true,
	}
	s.Record(rec)
	s.Close()

	if !w.closed {
		t.Error("underlying writer was not closed")
	}

	var got Record
	err := json.Unmarshal(w.Bytes(), &got)
	rtx.Must(err, "could not decode written JSON:\n%s", w.Bytes())
	if got.BufferName != "#test" || got.Message != "hello" || !got.Highlight {
		t.Errorf("got %+v, want matching fields from %+v", got, rec)
	}
}

func TestSinkRecordDropsWhenQueueFull(t *testing.T) {
	s := &Sink{tasks: make(chan *Record)} // unbuffered: Record must not block
	done := make(chan struct{})
	go func() {
		s.Record(&Record{Message: "dropped"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full/unconsumed channel instead of dropping")
	}
}

func TestNilSinkIsSafe(t *testing.T) {
	var s *Sink
	s.Record(&Record{Message: "ignored"}) // must not panic
	s.Close()                             // must not panic
}

func TestRecordLineBuildsFromBufferAndLine(t *testing.T) {
	buf := &model.Buffer{Ptr: 1, Name: "#test"}
	line := &model.BufferLine{
		Ptr:         100,
		TimestampMS: 1609459200000, // 2021-01-01T00:00:00Z
		Prefix:      "nick",
		Message:     "hi",
		Highlight:   true,
	}

	rec := RecordLine(buf, line)
	if rec.BufferPtr != 1 || rec.BufferName != "#test" {
		t.Errorf("buffer fields not carried through: %+v", rec)
	}
	if rec.LinePtr != 100 || rec.Prefix != "nick" || rec.Message != "hi" || !rec.Highlight {
		t.Errorf("line fields not carried through: %+v", rec)
	}
	if !rec.Timestamp.Equal(time.UnixMilli(1609459200000)) {
		t.Errorf("Timestamp = %v, want %v", rec.Timestamp, time.UnixMilli(1609459200000))
	}
}
