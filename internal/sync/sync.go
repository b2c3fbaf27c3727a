// Package sync interprets decoded HData replies and asynchronous push
// events, applying them to the model Store. The package name shadows the
// standard library "sync" within this module only; callers import it
// under the conventional alias relaysync.
//
// Each handler mirrors the dispatch-by-outcome shape of the teacher's
// collector.appendAll / saver per-message-kind handling, generalized from
// "append parsed kernel messages to a slice" to "apply one HData row kind
// to the model".
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/lith-project/relay-client/internal/archive"
	"github.com/lith-project/relay-client/internal/model"
	"github.com/lith-project/relay-client/internal/wire"
	"github.com/lith-project/relay-client/metrics"
	"github.com/m-lab/go/logx"
)

// Engine routes decoded replies to the Store.
type Engine struct {
	Store *model.Store

	// ActiveBuffer is read by handleBufferLineAdded to decide whether to
	// bump unread count; it is a presentation hint source, not managed
	// here (see component design notes — unread bookkeeping only, no
	// view-focus tracking in core).
	ActiveBuffer func() model.Pointer

	// Archive, if set, receives a Record for every line applied to the
	// store. A nil Archive is the default (disabled) and costs nothing —
	// see archive.Sink's nil-receiver methods.
	Archive *archive.Sink

	unknownLog *logx.LogEvery
}

// unknownIDLogInterval rate-limits the "unknown request id" log line so a
// relay that spams unexpected ids can't flood the log.
const unknownIDLogInterval = 10 * time.Second

// NewEngine creates an Engine applying decoded replies to store.
func NewEngine(store *model.Store) *Engine {
	return &Engine{
		Store:      store,
		unknownLog: logx.NewLogEvery(nil, unknownIDLogInterval),
	}
}

// HandleFrame decodes body as an HData reply for requestID and applies it;
// a body with any other type tag is returned as a decode error. Unknown
// request ids are logged at debug rate and ignored, per
// forward-compatibility policy.
func (e *Engine) HandleFrame(ctx context.Context, requestID, typeTag string, body []byte) error {
	switch requestID {
	case "buffers":
		return e.handleBuffers(typeTag, body)
	case "lines":
		return e.handleLines(typeTag, body)
	case "hotlist":
		return e.handleHotlist(typeTag, body)
	case "nicklist":
		return e.handleNicklist(typeTag, body)
	case "_buffer_line_added":
		return e.handleBufferLineAdded(typeTag, body)
	case "_buffer_opened":
		return e.handleBufferOpened(typeTag, body)
	case "_buffer_closing":
		return e.handleBufferClosing(typeTag, body)
	case "_buffer_renamed":
		return e.handleBufferRenamed(typeTag, body)
	case "_buffer_title_changed":
		return e.handleBufferTitleChanged(typeTag, body)
	case "_nicklist_diff":
		return e.handleNicklistDiff(typeTag, body)
	default:
		e.unknownLog.Println("sync: ignoring unknown request id", requestID)
		return nil
	}
}

func readHData(typeTag string, body []byte) (*wire.HData, error) {
	if typeTag != "hda" {
		metrics.DecodeErrorsTotal.WithLabelValues("sync").Inc()
		return nil, fmt.Errorf("sync: expected hda, got %q", typeTag)
	}
	c := wire.NewCodec(body)
	hd, _, err := c.ReadHData()
	if err != nil {
		metrics.DecodeErrorsTotal.WithLabelValues("wire").Inc()
	}
	return hd, err
}

func fieldStr(row wire.Row, key string) string {
	v, ok := row.Fields[key]
	if !ok || v.Kind != wire.KindString || v.StrNull {
		return ""
	}
	return v.Str
}

func fieldInt(row wire.Row, key string) int32 {
	v, ok := row.Fields[key]
	if !ok || v.Kind != wire.KindInt {
		return 0
	}
	return v.Int
}

func fieldTime(row wire.Row, key string) int64 {
	v, ok := row.Fields[key]
	if !ok || v.Kind != wire.KindTime {
		return 0
	}
	return v.Time
}

func fieldBool(row wire.Row, key string) bool {
	return fieldInt(row, key) != 0
}

func fieldHashTable(row wire.Row, key string) map[string]string {
	v, ok := row.Fields[key]
	if !ok || v.Kind != wire.KindHashTable {
		return nil
	}
	return v.HashTable
}

// handleBuffers handles the "buffers" initial snapshot: hda path "buffer",
// keys number,name,hidden,title. Clears existing buffers, then upserts
// each row.
func (e *Engine) handleBuffers(typeTag string, body []byte) error {
	hd, err := readHData(typeTag, body)
	if err != nil {
		return err
	}
	e.Store.ClearAll()
	for _, row := range hd.Rows {
		if len(row.IDs) == 0 {
			continue
		}
		ptr := row.IDs[len(row.IDs)-1]
		e.Store.UpsertBuffer(ptr, model.BufferFields{
			Number:         fieldInt(row, "number"),
			Name:           fieldStr(row, "name"),
			Title:          fieldStr(row, "title"),
			LocalVariables: fieldHashTable(row, "local_variables"),
		})
	}
	return nil
}

// handleLines handles the initial and pagination "lines" reply: hda path
// buffer/lines/last_line/data. The identity tuple's last pointer is the
// line id; the first is the owning buffer.
func (e *Engine) handleLines(typeTag string, body []byte) error {
	hd, err := readHData(typeTag, body)
	if err != nil {
		return err
	}
	touched := map[model.Pointer]bool{}
	for _, row := range hd.Rows {
		if len(row.IDs) < 2 {
			continue
		}
		bufferPtr := row.IDs[0]
		linePtr := row.IDs[len(row.IDs)-1]
		e.Store.UpsertLine(linePtr, bufferPtr, model.LineFields{
			TimestampMS: fieldTime(row, "date"),
			Displayed:   fieldBool(row, "displayed"),
			Highlight:   fieldBool(row, "highlight"),
			Prefix:      fieldStr(row, "prefix"),
			Message:     fieldStr(row, "message"),
		})
		e.archiveLine(linePtr, bufferPtr)
		touched[bufferPtr] = true
	}
	for ptr := range touched {
		e.Store.MarkInitialFetchDone(ptr)
	}
	return nil
}

// hotlist count vector indices: low, message, private, highlight.
const (
	hotlistLow = iota
	hotlistMessage
	hotlistPrivate
	hotlistHighlight
)

// handleHotlist handles the "hotlist" reply: hda path hotlist. Resets
// hotlist counts; updates unread/highlight on referenced buffers; buffers
// not present in the reply have their counts cleared to zero.
func (e *Engine) handleHotlist(typeTag string, body []byte) error {
	hd, err := readHData(typeTag, body)
	if err != nil {
		return err
	}
	present := map[model.Pointer]bool{}
	for _, row := range hd.Rows {
		if len(row.IDs) == 0 {
			continue
		}
		bufferPtr := row.IDs[len(row.IDs)-1]
		present[bufferPtr] = true
		counts := countVector(row)
		unread := counts[hotlistLow] + counts[hotlistMessage] + counts[hotlistPrivate]
		e.Store.SetUnreadHighlight(bufferPtr, unread, counts[hotlistHighlight])
	}
	e.Store.ClearAllHotlistCounts(present)
	return nil
}

func countVector(row wire.Row) [4]int {
	var out [4]int
	v, ok := row.Fields["count"]
	if !ok || v.Kind != wire.KindArray {
		return out
	}
	for i, item := range v.Array {
		if i >= len(out) || item.Kind != wire.KindInt {
			continue
		}
		out[i] = int(item.Int)
	}
	return out
}

// handleNicklist handles the "nicklist" reply: hda path
// buffer/nicklist_item. Rebuilds the buffer's nick list from scratch.
func (e *Engine) handleNicklist(typeTag string, body []byte) error {
	hd, err := readHData(typeTag, body)
	if err != nil {
		return err
	}
	byBuffer := map[model.Pointer][]wire.Row{}
	for _, row := range hd.Rows {
		if len(row.IDs) < 2 {
			continue
		}
		bufferPtr := row.IDs[0]
		byBuffer[bufferPtr] = append(byBuffer[bufferPtr], row)
	}
	for bufferPtr, rows := range byBuffer {
		fields := make([]model.NickFields, 0, len(rows))
		ptrs := make([]model.Pointer, 0, len(rows))
		for _, row := range rows {
			fields = append(fields, nickFieldsFromRow(row))
			ptrs = append(ptrs, row.IDs[len(row.IDs)-1])
		}
		e.Store.ReplaceNicks(bufferPtr, fields, ptrs)
	}
	return nil
}

// archiveLine records the just-upserted line to e.Archive, if configured.
// It is a no-op if the line or its owning buffer has since been removed
// (e.g. a rapid buffer_closing push racing a pagination reply).
func (e *Engine) archiveLine(linePtr, bufferPtr model.Pointer) {
	if e.Archive == nil {
		return
	}
	line, ok := e.Store.Line(linePtr)
	if !ok {
		return
	}
	buf, ok := e.Store.Buffer(bufferPtr)
	if !ok {
		return
	}
	e.Archive.Record(archive.RecordLine(buf, line))
}

func nickFieldsFromRow(row wire.Row) model.NickFields {
	return model.NickFields{
		Visible:      fieldBool(row, "visible"),
		Group:        fieldBool(row, "group"),
		Level:        int(fieldInt(row, "level")),
		Name:         fieldStr(row, "name"),
		Colour:       fieldStr(row, "color"),
		Prefix:       fieldStr(row, "prefix"),
		PrefixColour: fieldStr(row, "prefix_color"),
	}
}

// handleBufferLineAdded handles a single-line push: append to its buffer,
// and bump unread if the buffer is not the active one (a presentation
// hint, not core state — see ActiveBuffer).
func (e *Engine) handleBufferLineAdded(typeTag string, body []byte) error {
	hd, err := readHData(typeTag, body)
	if err != nil {
		return err
	}
	for _, row := range hd.Rows {
		if len(row.IDs) < 2 {
			continue
		}
		bufferPtr := row.IDs[0]
		linePtr := row.IDs[len(row.IDs)-1]
		e.Store.UpsertLine(linePtr, bufferPtr, model.LineFields{
			TimestampMS: fieldTime(row, "date"),
			Displayed:   fieldBool(row, "displayed"),
			Highlight:   fieldBool(row, "highlight"),
			Prefix:      fieldStr(row, "prefix"),
			Message:     fieldStr(row, "message"),
		})
		e.archiveLine(linePtr, bufferPtr)
		if e.ActiveBuffer == nil || e.ActiveBuffer() != bufferPtr {
			if b, ok := e.Store.Buffer(bufferPtr); ok {
				e.Store.SetUnreadHighlight(bufferPtr, b.UnreadCount+1, b.HighlightCount)
			}
		}
	}
	return nil
}

// handleBufferOpened handles a new-buffer push event.
func (e *Engine) handleBufferOpened(typeTag string, body []byte) error {
	hd, err := readHData(typeTag, body)
	if err != nil {
		return err
	}
	for _, row := range hd.Rows {
		if len(row.IDs) == 0 {
			continue
		}
		ptr := row.IDs[len(row.IDs)-1]
		e.Store.UpsertBuffer(ptr, model.BufferFields{
			Number:         fieldInt(row, "number"),
			Name:           fieldStr(row, "name"),
			Title:          fieldStr(row, "title"),
			LocalVariables: fieldHashTable(row, "local_variables"),
		})
	}
	return nil
}

// handleBufferClosing handles a buffer-removed push event.
func (e *Engine) handleBufferClosing(typeTag string, body []byte) error {
	hd, err := readHData(typeTag, body)
	if err != nil {
		return err
	}
	for _, row := range hd.Rows {
		if len(row.IDs) == 0 {
			continue
		}
		e.Store.RemoveBuffer(row.IDs[len(row.IDs)-1])
	}
	return nil
}

// handleBufferRenamed handles a buffer-name-change push event.
func (e *Engine) handleBufferRenamed(typeTag string, body []byte) error {
	hd, err := readHData(typeTag, body)
	if err != nil {
		return err
	}
	for _, row := range hd.Rows {
		if len(row.IDs) == 0 {
			continue
		}
		ptr := row.IDs[len(row.IDs)-1]
		b, ok := e.Store.Buffer(ptr)
		if !ok {
			continue
		}
		e.Store.UpsertBuffer(ptr, model.BufferFields{
			Number:         b.Number,
			Name:           fieldStr(row, "name"),
			Title:          b.Title,
			LocalVariables: b.LocalVariables,
		})
	}
	return nil
}

// handleBufferTitleChanged handles a buffer-title-change push event.
func (e *Engine) handleBufferTitleChanged(typeTag string, body []byte) error {
	hd, err := readHData(typeTag, body)
	if err != nil {
		return err
	}
	for _, row := range hd.Rows {
		if len(row.IDs) == 0 {
			continue
		}
		ptr := row.IDs[len(row.IDs)-1]
		b, ok := e.Store.Buffer(ptr)
		if !ok {
			continue
		}
		e.Store.UpsertBuffer(ptr, model.BufferFields{
			Number:         b.Number,
			Name:           b.Name,
			Title:          fieldStr(row, "title"),
			LocalVariables: b.LocalVariables,
		})
	}
	return nil
}

// handleNicklistDiff handles an incremental nicklist change: per row, the
// _diff field is "+", "-", or "*" for add/remove/update.
func (e *Engine) handleNicklistDiff(typeTag string, body []byte) error {
	hd, err := readHData(typeTag, body)
	if err != nil {
		return err
	}
	for _, row := range hd.Rows {
		if len(row.IDs) < 2 {
			continue
		}
		bufferPtr := row.IDs[0]
		nickPtr := row.IDs[len(row.IDs)-1]
		switch fieldStr(row, "_diff") {
		case "+", "*":
			e.Store.UpsertNick(bufferPtr, nickPtr, nickFieldsFromRow(row))
		case "-":
			e.Store.RemoveNick(bufferPtr, nickPtr)
		}
	}
	return nil
}
