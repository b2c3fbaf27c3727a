package wire

import (
	"strconv"

	"github.com/lith-project/relay-client/internal/attr"
)

// Codec wraps Reader with the policy decision of which string fields get
// the attribute escape decoder run over them eagerly, rather than leaving
// every string raw for a caller to post-process. This is purely an
// optimization (see the component design notes): a Sync Engine that
// ignores AttrFields and runs attr.Decode itself on any field gets
// identical results.
type Codec struct {
	*Reader
	// AttrFields names the HData field keys that should have their string
	// value run through attr.Decode as soon as they are read. The
	// defaults match the protocol notes: message, title, prefix.
	AttrFields map[string]bool
}

// DefaultAttrFields is the declared set of field names that typically
// carry inline attribute escapes.
func DefaultAttrFields() map[string]bool {
	return map[string]bool{
		"message": true,
		"title":   true,
		"prefix":  true,
	}
}

// NewCodec wraps buf with the default attribute-field policy.
func NewCodec(buf []byte) *Codec {
	return &Codec{Reader: NewReader(buf), AttrFields: DefaultAttrFields()}
}

// ReadHData behaves like Reader.ReadHData, except that any field listed in
// AttrFields is attribute-decoded immediately, with its Str value replaced
// by the plain-text result. The structured runs are returned in the second
// result, keyed by "<row index>:<field name>" (see rowRunsKey).
func (c *Codec) ReadHData() (*HData, map[string][]attr.Run, error) {
	hd, err := c.Reader.ReadHData()
	if err != nil {
		return nil, nil, err
	}
	runsByKey := make(map[string][]attr.Run)
	for ri := range hd.Rows {
		for key, val := range hd.Rows[ri].Fields {
			if val.Kind != KindString || val.StrNull || !c.AttrFields[key] {
				continue
			}
			runs, decErr := attr.Decode([]byte(val.Str))
			if decErr != nil {
				continue
			}
			val.Str = attr.PlainText(runs)
			hd.Rows[ri].Fields[key] = val
			runsByKey[rowRunsKey(ri, key)] = runs
		}
	}
	return hd, runsByKey, nil
}

// rowRunsKey builds the lookup key used by ReadHData's returned runs map:
// "<row index>:<field name>".
func rowRunsKey(row int, field string) string {
	return strconv.Itoa(row) + ":" + field
}
