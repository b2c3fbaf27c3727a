package wire

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-test/deep"
	"github.com/m-lab/go/rtx"
)

func TestReadInt(t *testing.T) {
	r := NewReader([]byte{0x00, 0x00, 0x00, 0x2A})
	v, err := r.ReadInt()
	rtx.Must(err, "ReadInt failed")
	if v != 42 {
		t.Errorf("ReadInt() = %d, want 42", v)
	}
}

func TestReadPointer(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want Pointer
	}{
		{"abc", []byte{0x03, 'a', 'b', 'c'}, 0x0abc},
		{"null", []byte{0x01, '0'}, NullPointer},
		{"zero length", []byte{0x00}, NullPointer},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewReader(tc.buf)
			got, err := r.ReadPointer()
			rtx.Must(err, "ReadPointer failed for %q", tc.name)
			if got != tc.want {
				t.Errorf("ReadPointer() = %#x, want %#x", got, tc.want)
			}
		})
	}
}

func TestReadStringNullVsEmpty(t *testing.T) {
	nullBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(nullBuf, nullStringLen)
	r := NewReader(nullBuf)
	s, isNull, err := r.ReadString()
	rtx.Must(err, "ReadString failed on a null-length string")
	if !isNull || s != "" {
		t.Errorf("null string decoded as (%q, %v), want (\"\", true)", s, isNull)
	}

	emptyBuf := []byte{0x00, 0x00, 0x00, 0x00}
	r = NewReader(emptyBuf)
	s, isNull, err = r.ReadString()
	rtx.Must(err, "ReadString failed on a zero-length string")
	if isNull || s != "" {
		t.Errorf("empty string decoded as (%q, %v), want (\"\", false)", s, isNull)
	}
}

func TestReadStringRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, 5)
	buf.Write(lenBuf)
	buf.WriteString("hello")

	r := NewReader(buf.Bytes())
	s, isNull, err := r.ReadString()
	rtx.Must(err, "ReadString failed")
	if isNull || s != "hello" {
		t.Errorf("ReadString() = (%q, %v), want (\"hello\", false)", s, isNull)
	}
}

func TestReadHDataEmpty(t *testing.T) {
	var buf bytes.Buffer
	writeString(&buf, "buffer")
	writeString(&buf, "")
	writeUint32(&buf, 0)

	r := NewReader(buf.Bytes())
	hd, err := r.ReadHData()
	rtx.Must(err, "ReadHData failed on an empty row list")
	if len(hd.Rows) != 0 {
		t.Errorf("expected an empty row list, got %d rows", len(hd.Rows))
	}
}

func TestReadHDataOneRow(t *testing.T) {
	var buf bytes.Buffer
	writeString(&buf, "buffer")
	writeString(&buf, "name:str,number:int")
	writeUint32(&buf, 1)
	writePointer(&buf, "1")
	writeString(&buf, "#test")
	writeInt(&buf, 3)

	r := NewReader(buf.Bytes())
	hd, err := r.ReadHData()
	rtx.Must(err, "ReadHData failed")
	want := &HData{
		HPath: "buffer",
		Keys:  []KeySpec{{Name: "name", Tag: "str"}, {Name: "number", Tag: "int"}},
		Rows: []Row{{
			IDs: []Pointer{0x1},
			Fields: map[string]Value{
				"name":   {Kind: KindString, Str: "#test"},
				"number": {Kind: KindInt, Int: 3},
			},
		}},
	}
	if diff := deep.Equal(hd, want); diff != nil {
		t.Error(diff)
	}
}

// writeString/writeUint32/writePointer/writeInt build the wire encodings
// this test file needs without depending on any encoder (the protocol is
// decode-only from this client's perspective).

func writeString(buf *bytes.Buffer, s string) {
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(s)))
	buf.Write(lenBuf)
	buf.WriteString(s)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	buf.Write(b)
}

func writeInt(buf *bytes.Buffer, v int32) {
	writeUint32(buf, uint32(v))
}

func writePointer(buf *bytes.Buffer, hex string) {
	buf.WriteByte(byte(len(hex)))
	buf.WriteString(hex)
}
