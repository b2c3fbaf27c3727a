package model

import (
	"testing"

	"github.com/go-test/deep"
)

func TestUpsertBufferCreatesThenUpdates(t *testing.T) {
	s := NewStore()
	b := s.UpsertBuffer(1, BufferFields{Number: 1, Name: "#test", Title: "first"})
	if b.Title != "first" {
		t.Fatalf("Title = %q, want %q", b.Title, "first")
	}

	b2 := s.UpsertBuffer(1, BufferFields{Number: 1, Name: "#test", Title: "second"})
	if b2 != b {
		t.Fatalf("UpsertBuffer on existing ptr returned a different *Buffer")
	}
	if b.Title != "second" {
		t.Errorf("Title = %q, want %q", b.Title, "second")
	}

	if got := len(s.Buffers()); got != 1 {
		t.Errorf("len(Buffers()) = %d, want 1", got)
	}
}

func TestUpsertBufferIsIdempotent(t *testing.T) {
	s := NewStore()
	fields := BufferFields{Number: 1, Name: "#test", Title: "t"}
	s.UpsertBuffer(1, fields)
	s.UpsertBuffer(1, fields)
	s.UpsertBuffer(1, fields)

	if got := len(s.Buffers()); got != 1 {
		t.Fatalf("len(Buffers()) = %d, want 1", got)
	}
}

func TestUpsertLineIsIdempotent(t *testing.T) {
	s := NewStore()
	s.UpsertBuffer(1, BufferFields{Name: "#test"})

	s.UpsertLine(100, 1, LineFields{TimestampMS: 1000, Message: "hello"})
	s.UpsertLine(100, 1, LineFields{TimestampMS: 1000, Message: "hello"})

	b, _ := s.Buffer(1)
	if got := len(b.Lines()); got != 1 {
		t.Fatalf("len(Lines()) = %d, want 1", got)
	}
}

func TestUpsertLineIgnoresUnknownBuffer(t *testing.T) {
	s := NewStore()
	s.UpsertLine(100, 999, LineFields{TimestampMS: 1000, Message: "orphan"})
	if _, ok := s.Line(100); ok {
		t.Fatal("line was recorded despite an unknown buffer pointer")
	}
}

func TestUpsertLineOrdersByTimestampThenArrival(t *testing.T) {
	s := NewStore()
	s.UpsertBuffer(1, BufferFields{Name: "#test"})

	s.UpsertLine(3, 1, LineFields{TimestampMS: 300})
	s.UpsertLine(1, 1, LineFields{TimestampMS: 100})
	s.UpsertLine(2, 1, LineFields{TimestampMS: 100})
	s.UpsertLine(4, 1, LineFields{TimestampMS: 400})

	b, _ := s.Buffer(1)
	want := []Pointer{1, 2, 3, 4}
	if diff := deep.Equal(b.Lines(), want); diff != nil {
		t.Error(diff)
	}
}

func TestSnapshotCopiesBufferLinesAndNicks(t *testing.T) {
	s := NewStore()
	s.UpsertBuffer(1, BufferFields{Name: "#test", Title: "hello"})
	s.UpsertLine(10, 1, LineFields{TimestampMS: 100, Message: "hi"})
	s.UpsertNick(1, 20, NickFields{Name: "alice"})

	snap := s.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("got %d snapshot entries, want 1", len(snap))
	}
	bs := snap[0]
	if bs.Ptr != 1 || bs.Name != "#test" || bs.Title != "hello" {
		t.Errorf("snapshot fields = %+v, want Ptr=1 Name=#test Title=hello", bs)
	}
	if diff := deep.Equal(bs.Lines, []Pointer{10}); diff != nil {
		t.Error(diff)
	}
	if len(bs.Nicks) != 1 || bs.Nicks[0].Name != "alice" {
		t.Errorf("snapshot nicks = %+v, want one nick named alice", bs.Nicks)
	}

	// Mutating the store after taking the snapshot must not be visible
	// through it: the snapshot is a copy, not a live view.
	s.UpsertLine(11, 1, LineFields{TimestampMS: 200, Message: "second"})
	if len(bs.Lines) != 1 {
		t.Errorf("snapshot Lines changed after a later mutation: %+v", bs.Lines)
	}
}

func TestRemoveBuffer(t *testing.T) {
	s := NewStore()
	s.UpsertBuffer(1, BufferFields{Name: "#test"})
	s.RemoveBuffer(1)
	if _, ok := s.Buffer(1); ok {
		t.Fatal("buffer still present after RemoveBuffer")
	}
	// Removing again must not panic or notify spuriously.
	s.RemoveBuffer(1)
}

func TestReplaceNicksReplacesWholeSet(t *testing.T) {
	s := NewStore()
	s.UpsertBuffer(1, BufferFields{Name: "#test"})
	s.UpsertNick(1, 10, NickFields{Name: "alice"})
	s.UpsertNick(1, 20, NickFields{Name: "bob"})

	s.ReplaceNicks(1, []NickFields{{Name: "carol"}}, []Pointer{30})

	b, _ := s.Buffer(1)
	nicks := b.Nicks()
	if len(nicks) != 1 || nicks[0].Name != "carol" {
		t.Errorf("Nicks() = %+v, want exactly carol", nicks)
	}
}

func TestRemoveNick(t *testing.T) {
	s := NewStore()
	s.UpsertBuffer(1, BufferFields{Name: "#test"})
	s.UpsertNick(1, 10, NickFields{Name: "alice"})
	s.RemoveNick(1, 10)

	b, _ := s.Buffer(1)
	if got := len(b.Nicks()); got != 0 {
		t.Errorf("len(Nicks()) = %d, want 0", got)
	}
}

func TestClearAllRemovesEverything(t *testing.T) {
	s := NewStore()
	s.UpsertBuffer(1, BufferFields{Name: "#a"})
	s.UpsertBuffer(2, BufferFields{Name: "#b"})
	s.UpsertLine(100, 1, LineFields{TimestampMS: 1})

	s.ClearAll()

	if got := len(s.Buffers()); got != 0 {
		t.Errorf("len(Buffers()) = %d, want 0", got)
	}
	if _, ok := s.Line(100); ok {
		t.Error("line still present after ClearAll")
	}
}

func TestClearAllHotlistCountsExceptsGiven(t *testing.T) {
	s := NewStore()
	s.UpsertBuffer(1, BufferFields{Name: "#a"})
	s.UpsertBuffer(2, BufferFields{Name: "#b"})
	s.SetUnreadHighlight(1, 5, 2)
	s.SetUnreadHighlight(2, 7, 3)

	s.ClearAllHotlistCounts(map[Pointer]bool{1: true})

	b1, _ := s.Buffer(1)
	b2, _ := s.Buffer(2)
	if b1.UnreadCount != 5 || b1.HighlightCount != 2 {
		t.Errorf("excepted buffer counts changed: %+v", b1)
	}
	if b2.UnreadCount != 0 || b2.HighlightCount != 0 {
		t.Errorf("non-excepted buffer counts not cleared: %+v", b2)
	}
}

func TestCounts(t *testing.T) {
	s := NewStore()
	s.UpsertBuffer(1, BufferFields{Name: "#a"})
	s.UpsertLine(100, 1, LineFields{TimestampMS: 1})
	s.UpsertNick(1, 10, NickFields{Name: "alice"})

	buffers, lines, nicks := s.Counts()
	if buffers != 1 || lines != 1 || nicks != 1 {
		t.Errorf("Counts() = (%d, %d, %d), want (1, 1, 1)", buffers, lines, nicks)
	}
}

func TestSubscribeReceivesChanges(t *testing.T) {
	s := NewStore()
	ch := make(chan Change, 10)
	s.Subscribe(ch)

	s.UpsertBuffer(1, BufferFields{Name: "#a"})

	select {
	case c := <-ch:
		if c.Kind != BufferAdded || c.BufferPtr != 1 {
			t.Errorf("got %+v, want BufferAdded for ptr 1", c)
		}
	default:
		t.Fatal("expected a Change notification, got none")
	}

	s.Unsubscribe(ch)
	s.UpsertBuffer(2, BufferFields{Name: "#b"})
	select {
	case c := <-ch:
		t.Errorf("received notification after Unsubscribe: %+v", c)
	default:
	}
}
