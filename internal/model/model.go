// Package model holds the in-memory synchronized view of buffers, lines,
// and nicks, keyed by the opaque pointers the relay server mints.
//
// The upsert-by-identity, swap-and-reconcile shape is grounded directly on
// the teacher's cache package (a map keyed by connection identity, with an
// explicit end-of-cycle reconciliation step); here the identity is a
// server-minted Pointer rather than a kernel socket cookie, and there is no
// fixed "cycle" — reconciliation happens per-reply instead (hotlist resets,
// nicklist rebuilds) rather than once per polling tick.
package model

import (
	"sort"
	"sync"

	"github.com/lith-project/relay-client/internal/wire"
)

// Pointer is re-exported from wire so callers of model need not import
// wire just to name an identity.
type Pointer = wire.Pointer

// NullPointer is the zero pointer.
const NullPointer = wire.NullPointer

// Buffer represents one chat room/channel/query.
type Buffer struct {
	Ptr              Pointer
	Number           int32
	Name             string
	Title            string
	LocalVariables   map[string]string
	UnreadCount      int
	HighlightCount   int
	InitialFetchDone bool

	lines   []Pointer         // ascending timestamp order
	lineSeq map[Pointer]int64 // arrival sequence, for stable ties
	nicks   map[Pointer]*Nick
}

// Lines returns the buffer's line pointers in ascending timestamp order
// (ties broken by server arrival order).
func (b *Buffer) Lines() []Pointer {
	out := make([]Pointer, len(b.lines))
	copy(out, b.lines)
	return out
}

// Nicks returns the buffer's current nick set as a slice, in no particular
// order (the nick list is unordered, identity by pointer).
func (b *Buffer) Nicks() []*Nick {
	out := make([]*Nick, 0, len(b.nicks))
	for _, n := range b.nicks {
		out = append(out, n)
	}
	return out
}

// BufferLine is one displayable message belonging to exactly one Buffer.
type BufferLine struct {
	Ptr         Pointer
	BufferPtr   Pointer // weak reference to the owning Buffer
	TimestampMS int64
	Displayed   bool
	Highlight   bool
	Tags        []string
	Prefix      string
	Message     string
}

// Nick is a participant entry in a buffer's participant list.
type Nick struct {
	Ptr          Pointer
	Visible      bool
	Group        bool
	Level        int
	Name         string
	Colour       string
	Prefix       string
	PrefixColour string
}

// HotListItem pairs a Buffer pointer with its per-severity count vector:
// [low, message, private, highlight].
type HotListItem struct {
	BufferPtr Pointer
	Counts    [4]int
}

// ChangeKind identifies what kind of mutation a Change notification
// describes.
type ChangeKind int

// Change kinds, matching the granularity named in the component design:
// buffer added/removed/changed, line added to buffer, nicks changed.
const (
	BufferAdded ChangeKind = iota
	BufferRemoved
	BufferChanged
	LineAdded
	NicksChanged
)

// Change is one notification emitted by the Store after a mutation.
type Change struct {
	Kind      ChangeKind
	BufferPtr Pointer
	LinePtr   Pointer
}

// Store holds all Buffers, keyed by pointer, and fans out Change
// notifications to subscribers. Store is not safe for concurrent use from
// multiple goroutines without external synchronization beyond what
// Subscribe/notify provide; the connection controller is the sole
// mutator, matching the single-threaded cooperative model (see
// concurrency design notes).
type Store struct {
	mu      sync.Mutex
	buffers map[Pointer]*Buffer
	lines   lineIndex
	nextSeq int64

	subMu sync.Mutex
	subs  map[chan<- Change]struct{}
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		buffers: make(map[Pointer]*Buffer),
		subs:    make(map[chan<- Change]struct{}),
	}
}

// Subscribe registers ch to receive Change notifications. The caller owns
// ch and must keep reading from it, or later notify calls will block;
// Unsubscribe to stop.
func (s *Store) Subscribe(ch chan<- Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subs[ch] = struct{}{}
}

// Unsubscribe stops ch from receiving further notifications.
func (s *Store) Unsubscribe(ch chan<- Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	delete(s.subs, ch)
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		ch <- c
	}
}

// BufferFields carries the subset of Buffer attributes an upsert may set.
// Zero-valued fields are still applied; callers populate exactly the
// fields the reply provided.
type BufferFields struct {
	Number         int32
	Name           string
	Title          string
	LocalVariables map[string]string
}

// UpsertBuffer creates or in-place updates the Buffer identified by ptr.
func (s *Store) UpsertBuffer(ptr Pointer, fields BufferFields) *Buffer {
	s.mu.Lock()
	b, existed := s.buffers[ptr]
	if !existed {
		b = &Buffer{
			Ptr:     ptr,
			lineSeq: make(map[Pointer]int64),
			nicks:   make(map[Pointer]*Nick),
		}
		s.buffers[ptr] = b
	}
	b.Number = fields.Number
	b.Name = fields.Name
	b.Title = fields.Title
	if fields.LocalVariables != nil {
		b.LocalVariables = fields.LocalVariables
	}
	s.mu.Unlock()

	if existed {
		s.notify(Change{Kind: BufferChanged, BufferPtr: ptr})
	} else {
		s.notify(Change{Kind: BufferAdded, BufferPtr: ptr})
	}
	return b
}

// Buffer looks up a Buffer by pointer. ok is false if it is not present.
func (s *Store) Buffer(ptr Pointer) (b *Buffer, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok = s.buffers[ptr]
	return
}

// Buffers returns every known Buffer, unordered.
func (s *Store) Buffers() []*Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Buffer, 0, len(s.buffers))
	for _, b := range s.buffers {
		out = append(out, b)
	}
	return out
}

// RemoveBuffer deletes the Buffer identified by ptr, if present.
func (s *Store) RemoveBuffer(ptr Pointer) {
	s.mu.Lock()
	_, existed := s.buffers[ptr]
	delete(s.buffers, ptr)
	s.mu.Unlock()
	if existed {
		s.notify(Change{Kind: BufferRemoved, BufferPtr: ptr})
	}
}

// LineFields carries the subset of BufferLine attributes an upsert may
// set.
type LineFields struct {
	TimestampMS int64
	Displayed   bool
	Highlight   bool
	Tags        []string
	Prefix      string
	Message     string
}

// lines live inside their owning Buffer, addressed by ptr, but the Store
// needs a flat index to make UpsertLine idempotent in O(1).
// Store.lines maps every known line pointer to its content, regardless of
// buffer; Buffer.lines holds only the ordering.
type lineIndex map[Pointer]*BufferLine

// UpsertLine inserts the line identified by ptr into bufferPtr's line
// list, in ascending timestamp order (ties broken by arrival order). If
// ptr is already present anywhere, this is a no-op (idempotence; a line
// never moves between buffers once inserted).
func (s *Store) UpsertLine(ptr, bufferPtr Pointer, fields LineFields) {
	s.mu.Lock()
	b, ok := s.buffers[bufferPtr]
	if !ok {
		s.mu.Unlock()
		return
	}
	if s.lines == nil {
		s.lines = make(lineIndex)
	}
	if _, exists := s.lines[ptr]; exists {
		s.mu.Unlock()
		return
	}
	line := &BufferLine{
		Ptr:         ptr,
		BufferPtr:   bufferPtr,
		TimestampMS: fields.TimestampMS,
		Displayed:   fields.Displayed,
		Highlight:   fields.Highlight,
		Tags:        fields.Tags,
		Prefix:      fields.Prefix,
		Message:     fields.Message,
	}
	s.lines[ptr] = line

	seq := s.nextSeq
	s.nextSeq++
	b.lineSeq[ptr] = seq
	insertLineSorted(b, ptr, fields.TimestampMS, seq, s.lines)
	s.mu.Unlock()

	s.notify(Change{Kind: LineAdded, BufferPtr: bufferPtr, LinePtr: ptr})
}

// insertLineSorted inserts ptr into b.lines keeping ascending timestamp
// order, with ties broken by seq (arrival order).
func insertLineSorted(b *Buffer, ptr Pointer, ts, seq int64, idx lineIndex) {
	i := sort.Search(len(b.lines), func(i int) bool {
		other := b.lines[i]
		ots := idx[other].TimestampMS
		if ots != ts {
			return ots > ts
		}
		return b.lineSeq[other] > seq
	})
	b.lines = append(b.lines, NullPointer)
	copy(b.lines[i+1:], b.lines[i:])
	b.lines[i] = ptr
}

// Line looks up a BufferLine by pointer.
func (s *Store) Line(ptr Pointer) (*BufferLine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lines == nil {
		return nil, false
	}
	l, ok := s.lines[ptr]
	return l, ok
}

// NickFields carries the subset of Nick attributes an upsert may set.
type NickFields struct {
	Visible      bool
	Group        bool
	Level        int
	Name         string
	Colour       string
	Prefix       string
	PrefixColour string
}

// UpsertNick creates or in-place updates the Nick identified by ptr within
// bufferPtr.
func (s *Store) UpsertNick(bufferPtr, ptr Pointer, fields NickFields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[bufferPtr]
	if !ok {
		return
	}
	b.nicks[ptr] = &Nick{
		Ptr:          ptr,
		Visible:      fields.Visible,
		Group:        fields.Group,
		Level:        fields.Level,
		Name:         fields.Name,
		Colour:       fields.Colour,
		Prefix:       fields.Prefix,
		PrefixColour: fields.PrefixColour,
	}
	s.notifyLocked(Change{Kind: NicksChanged, BufferPtr: bufferPtr})
}

// RemoveNick deletes the Nick identified by ptr from bufferPtr, if
// present.
func (s *Store) RemoveNick(bufferPtr, ptr Pointer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[bufferPtr]
	if !ok {
		return
	}
	if _, existed := b.nicks[ptr]; !existed {
		return
	}
	delete(b.nicks, ptr)
	s.notifyLocked(Change{Kind: NicksChanged, BufferPtr: bufferPtr})
}

// ReplaceNicks discards bufferPtr's current nick list and installs a fresh
// one, used when a nicklist snapshot reply arrives (as opposed to an
// incremental _nicklist_diff).
func (s *Store) ReplaceNicks(bufferPtr Pointer, nicks []NickFields, ptrs []Pointer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[bufferPtr]
	if !ok {
		return
	}
	b.nicks = make(map[Pointer]*Nick, len(nicks))
	for i, f := range nicks {
		b.nicks[ptrs[i]] = &Nick{
			Ptr:          ptrs[i],
			Visible:      f.Visible,
			Group:        f.Group,
			Level:        f.Level,
			Name:         f.Name,
			Colour:       f.Colour,
			Prefix:       f.Prefix,
			PrefixColour: f.PrefixColour,
		}
	}
	s.notifyLocked(Change{Kind: NicksChanged, BufferPtr: bufferPtr})
}

// notifyLocked is notify(), callable while s.mu is already held; it
// releases mu before fanning out since subscriber channels may be
// unbuffered and a slow subscriber must never hold up the model mutex.
func (s *Store) notifyLocked(c Change) {
	s.mu.Unlock()
	s.notify(c)
	s.mu.Lock()
}

// ClearAll removes every Buffer, Line, and Nick. Called before a fresh
// snapshot after reconnect, so that a stale model from a prior connection
// never lingers into the new session.
func (s *Store) ClearAll() {
	s.mu.Lock()
	ptrs := make([]Pointer, 0, len(s.buffers))
	for p := range s.buffers {
		ptrs = append(ptrs, p)
	}
	s.buffers = make(map[Pointer]*Buffer)
	s.lines = nil
	s.mu.Unlock()
	for _, p := range ptrs {
		s.notify(Change{Kind: BufferRemoved, BufferPtr: p})
	}
}

// MarkInitialFetchDone flags bufferPtr as having completed its first lines
// fetch, per the lines-handler contract.
func (s *Store) MarkInitialFetchDone(bufferPtr Pointer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buffers[bufferPtr]; ok {
		b.InitialFetchDone = true
	}
}

// SetUnreadHighlight overwrites bufferPtr's unread/highlight counters, as
// used by the hotlist handler.
func (s *Store) SetUnreadHighlight(bufferPtr Pointer, unread, highlight int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buffers[bufferPtr]; ok {
		b.UnreadCount = unread
		b.HighlightCount = highlight
	}
}

// Counts returns the current number of buffers, lines, and nicks held by
// the store, for gauge reporting.
func (s *Store) Counts() (buffers, lines, nicks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buffers = len(s.buffers)
	lines = len(s.lines)
	for _, b := range s.buffers {
		nicks += len(b.nicks)
	}
	return buffers, lines, nicks
}

// BufferSnapshot is an immutable, presentation-thread-safe copy of one
// Buffer's state: scalar fields plus copies (not the live, shared slice
// and map) of its Lines and Nicks.
type BufferSnapshot struct {
	Ptr              Pointer
	Number           int32
	Name             string
	Title            string
	LocalVariables   map[string]string
	UnreadCount      int
	HighlightCount   int
	InitialFetchDone bool
	Lines            []Pointer
	Nicks            []*Nick
}

// Snapshot returns an immutable copy of every Buffer for presentation-
// thread-safe reads, mirroring the teacher's Cache.EndCycle pattern of
// swapping to fresh state rather than letting a consumer iterate over
// the live, concurrently-mutated store.
func (s *Store) Snapshot() []BufferSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BufferSnapshot, 0, len(s.buffers))
	for _, b := range s.buffers {
		lines := make([]Pointer, len(b.lines))
		copy(lines, b.lines)
		nicks := make([]*Nick, 0, len(b.nicks))
		for _, n := range b.nicks {
			cp := *n
			nicks = append(nicks, &cp)
		}
		out = append(out, BufferSnapshot{
			Ptr:              b.Ptr,
			Number:           b.Number,
			Name:             b.Name,
			Title:            b.Title,
			LocalVariables:   b.LocalVariables,
			UnreadCount:      b.UnreadCount,
			HighlightCount:   b.HighlightCount,
			InitialFetchDone: b.InitialFetchDone,
			Lines:            lines,
			Nicks:            nicks,
		})
	}
	return out
}

// ClearAllHotlistCounts zeroes unread/highlight counts on every buffer not
// present in a hotlist reply, per the hotlist handler contract ("buffers
// not present in the reply have counts cleared to zero").
func (s *Store) ClearAllHotlistCounts(except map[Pointer]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ptr, b := range s.buffers {
		if except[ptr] {
			continue
		}
		b.UnreadCount = 0
		b.HighlightCount = 0
	}
}
