// Package wire decodes the relay's self-describing binary reply format.
//
// Every value on the wire is introduced by context (the field's declared
// type, or an explicit 3-byte type tag inside an array/hashtable/hdata), so
// the decoder never has to guess: Read* corresponds 1:1 to the type table in
// the protocol notes. Decoding is purely a function of the byte slice
// already buffered for the current frame; it never blocks on I/O.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
)

// Errors returned by the decoder. A protocol-decode error aborts the
// current frame but never the connection: the conn package logs it and
// discards that frame.
var (
	ErrShortRead      = errors.New("wire: short read")
	ErrUnknownTag     = errors.New("wire: unknown type tag")
	ErrBadHashTable   = errors.New("wire: unsupported hashtable key/value types")
	ErrBadPointer     = errors.New("wire: malformed pointer")
	ErrBadLongInteger = errors.New("wire: malformed long integer")
)

// Pointer is a 64-bit opaque identifier minted by the server. Zero is the
// null pointer. The client never dereferences it; it exists only as a map
// key.
type Pointer uint64

// NullPointer is the zero pointer, distinguishable from any real identity.
const NullPointer Pointer = 0

// Kind identifies which wire type a Value holds.
type Kind int

// Kinds of decoded values. Order matches the tag table in the protocol
// notes, Char first.
const (
	KindChar Kind = iota
	KindInt
	KindLongInt
	KindString
	KindBuffer
	KindPointer
	KindTime
	KindHashTable
	KindArray
	KindHData
)

// Value is a tagged union holding exactly one decoded wire value. Only the
// field matching Kind is meaningful.
type Value struct {
	Kind      Kind
	Char      byte
	Int       int32
	LongInt   int64
	Str       string
	StrNull   bool // true if Str is the null string, distinct from ""
	Buf       []byte
	Ptr       Pointer
	Time      int64 // milliseconds since epoch
	HashTable map[string]string
	Array     []Value
	HData     *HData
}

// KeySpec names one field of an HData row and the wire type used to decode
// it, e.g. "name:str".
type KeySpec struct {
	Name string
	Tag  string
}

// Row is one decoded HData entry: its identity tuple (one Pointer per
// hpath component) plus its named fields.
type Row struct {
	IDs    []Pointer
	Fields map[string]Value
}

// HData is the decoded form of an "hda" value: a path of identity-pointer
// tuples plus a list of rows, each carrying the fields named by Keys.
type HData struct {
	HPath string
	Keys  []KeySpec
	Rows  []Row
}

// Reader is a cursor over an in-memory, fully-buffered frame body. Reading
// past the end of the buffer is always a protocol error, never a panic.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for decoding. buf is not copied; callers must not
// mutate it while the Reader is in use.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Len returns the number of unread bytes remaining.
func (r *Reader) Len() int {
	return len(r.buf) - r.pos
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, ErrShortRead
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadChar reads a single raw byte.
func (r *Reader) ReadChar() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadInt reads a 4-byte big-endian signed integer.
func (r *Reader) ReadInt() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

// ReadLongInt reads a 1-byte length L followed by L ASCII decimal digits,
// parsed as a signed 64-bit integer.
func (r *Reader) ReadLongInt() (int64, error) {
	lb, err := r.take(1)
	if err != nil {
		return 0, err
	}
	digits, err := r.take(int(lb[0]))
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadLongInteger, err)
	}
	return v, nil
}

// nullStringLen is the sentinel 4-byte length meaning "null string",
// distinguishable from an empty string (length 0).
const nullStringLen uint32 = 0xFFFFFFFF

// ReadString reads a 4-byte length L followed by L bytes of text.
// L == 0xFFFFFFFF decodes to the null string (isNull true); L == 0 decodes
// to the empty, non-null string.
func (r *Reader) ReadString() (s string, isNull bool, err error) {
	lb, err := r.take(4)
	if err != nil {
		return "", false, err
	}
	l := binary.BigEndian.Uint32(lb)
	if l == nullStringLen {
		return "", true, nil
	}
	if l == 0 {
		return "", false, nil
	}
	data, err := r.take(int(l))
	if err != nil {
		return "", false, err
	}
	return string(data), false, nil
}

// ReadBuffer reads a 4-byte length L followed by L raw, opaque bytes.
// L == 0 decodes to an empty (non-nil) slice.
func (r *Reader) ReadBuffer() ([]byte, error) {
	lb, err := r.take(4)
	if err != nil {
		return nil, err
	}
	l := binary.BigEndian.Uint32(lb)
	if l == 0 {
		return []byte{}, nil
	}
	data, err := r.take(int(l))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// ReadPointer reads a 1-byte length L followed by L ASCII hex digits,
// parsed as an unsigned 64-bit integer. A length-1 payload of "0" decodes
// to NullPointer.
func (r *Reader) ReadPointer() (Pointer, error) {
	lb, err := r.take(1)
	if err != nil {
		return NullPointer, err
	}
	digits, err := r.take(int(lb[0]))
	if err != nil {
		return NullPointer, err
	}
	if len(digits) == 0 {
		return NullPointer, nil
	}
	v, err := strconv.ParseUint(string(digits), 16, 64)
	if err != nil {
		return NullPointer, fmt.Errorf("%w: %v", ErrBadPointer, err)
	}
	return Pointer(v), nil
}

// ReadTime reads a 1-byte length L followed by L ASCII digits of
// seconds-since-epoch, returned as milliseconds.
func (r *Reader) ReadTime() (int64, error) {
	lb, err := r.take(1)
	if err != nil {
		return 0, err
	}
	digits, err := r.take(int(lb[0]))
	if err != nil {
		return 0, err
	}
	secs, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("wire: malformed time: %v", err)
	}
	return secs * 1000, nil
}

// ReadTag reads a 3-byte ASCII type tag, e.g. "str" or "hda".
func (r *Reader) ReadTag() (string, error) {
	b, err := r.take(3)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadHashTable reads a htb: two 3-byte type tags (key, value), a 4-byte
// count, then that many key/value pairs. Only str/str is supported; any
// other tag pair is a protocol error.
func (r *Reader) ReadHashTable() (map[string]string, error) {
	keyTag, err := r.ReadTag()
	if err != nil {
		return nil, err
	}
	valTag, err := r.ReadTag()
	if err != nil {
		return nil, err
	}
	if keyTag != "str" || valTag != "str" {
		return nil, fmt.Errorf("%w: %s/%s", ErrBadHashTable, keyTag, valTag)
	}
	cb, err := r.take(4)
	if err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint32(cb)
	out := make(map[string]string, count)
	for i := uint32(0); i < count; i++ {
		k, _, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		v, _, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// ReadArray reads an arr: a 3-byte item-type tag, a 4-byte count, then that
// many items of that type.
func (r *Reader) ReadArray() ([]Value, error) {
	itemTag, err := r.ReadTag()
	if err != nil {
		return nil, err
	}
	cb, err := r.take(4)
	if err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint32(cb)
	out := make([]Value, 0, count)
	for i := uint32(0); i < count; i++ {
		v, err := r.ReadTyped(itemTag)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ReadHData reads an hda: hpath string, keys string, 4-byte row count, then
// for each row one Pointer per hpath component followed by one value per
// key spec.
func (r *Reader) ReadHData() (*HData, error) {
	hpath, _, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	keysStr, _, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	keys := parseKeySpecs(keysStr)
	idCount := pathComponentCount(hpath)

	cb, err := r.take(4)
	if err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint32(cb)

	rows := make([]Row, 0, count)
	for i := uint32(0); i < count; i++ {
		ids := make([]Pointer, idCount)
		for j := 0; j < idCount; j++ {
			ids[j], err = r.ReadPointer()
			if err != nil {
				return nil, err
			}
		}
		fields := make(map[string]Value, len(keys))
		for _, k := range keys {
			v, err := r.ReadTyped(k.Tag)
			if err != nil {
				return nil, err
			}
			fields[k.Name] = v
		}
		rows = append(rows, Row{IDs: ids, Fields: fields})
	}
	return &HData{HPath: hpath, Keys: keys, Rows: rows}, nil
}

// ReadTyped dispatches to the Read* method matching tag and wraps the
// result in a Value. tag must be one of the 3-character wire tags.
func (r *Reader) ReadTyped(tag string) (Value, error) {
	switch tag {
	case "chr":
		c, err := r.ReadChar()
		return Value{Kind: KindChar, Char: c}, err
	case "int":
		i, err := r.ReadInt()
		return Value{Kind: KindInt, Int: i}, err
	case "lon":
		l, err := r.ReadLongInt()
		return Value{Kind: KindLongInt, LongInt: l}, err
	case "str":
		s, isNull, err := r.ReadString()
		return Value{Kind: KindString, Str: s, StrNull: isNull}, err
	case "buf":
		b, err := r.ReadBuffer()
		return Value{Kind: KindBuffer, Buf: b}, err
	case "ptr":
		p, err := r.ReadPointer()
		return Value{Kind: KindPointer, Ptr: p}, err
	case "tim":
		t, err := r.ReadTime()
		return Value{Kind: KindTime, Time: t}, err
	case "htb":
		h, err := r.ReadHashTable()
		return Value{Kind: KindHashTable, HashTable: h}, err
	case "arr":
		a, err := r.ReadArray()
		return Value{Kind: KindArray, Array: a}, err
	case "hda":
		h, err := r.ReadHData()
		return Value{Kind: KindHData, HData: h}, err
	default:
		return Value{}, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
}

// parseKeySpecs splits a comma-separated "name:type,name:type" key spec
// string into KeySpecs. An empty input yields no specs.
func parseKeySpecs(keys string) []KeySpec {
	if keys == "" {
		return nil
	}
	var out []KeySpec
	start := 0
	for i := 0; i <= len(keys); i++ {
		if i == len(keys) || keys[i] == ',' {
			part := keys[start:i]
			start = i + 1
			if part == "" {
				continue
			}
			name, tag := splitNameType(part)
			out = append(out, KeySpec{Name: name, Tag: tag})
		}
	}
	return out
}

func splitNameType(part string) (name, tag string) {
	for i := 0; i < len(part); i++ {
		if part[i] == ':' {
			return part[:i], part[i+1:]
		}
	}
	return part, ""
}

// pathComponentCount counts the slash-separated components of an hpath;
// one Pointer is read per component, e.g. "buffer/lines/last_line/data"
// has 4 components and so 4 identity pointers per row.
func pathComponentCount(hpath string) int {
	if hpath == "" {
		return 0
	}
	count := 1
	for i := 0; i < len(hpath); i++ {
		if hpath[i] == '/' {
			count++
		}
	}
	return count
}
