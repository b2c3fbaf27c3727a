// Package attr decodes the relay's inline colour/attribute escape
// mini-language embedded in message, title, and prefix strings into a
// structured list of styled text runs.
//
// The decoder is a small stateful byte-at-a-time parser: a handful of
// control bytes switch the current Style; everything else is copied
// through to the current run's text verbatim, so multibyte UTF-8 sequences
// are never split or reinterpreted.
package attr

import "strings"

// Control bytes. None of these ever appear in decoded output text.
const (
	ctrlColour    = 0x19
	ctrlSetAttr   = 0x1A
	ctrlClearAttr = 0x1B
	ctrlReset     = 0x1C
)

// Colour identifies a foreground or background colour, either from the
// 17-entry standard palette or (degraded, per the reference client) a
// single extended-palette fallback hue.
type Colour struct {
	// Code is the standard palette index (0-16), meaningful when Extended
	// is false.
	Code int
	// Extended is true if this colour came from a 5-digit extended
	// escape. The reference client degrades all such codes to one fixed
	// hue rather than decoding the real 256-colour value.
	Extended bool
	// Name is the resolved colour name, e.g. "dark-green" or
	// "ext-fallback-green".
	Name string
}

// Style is the set of attributes in effect for a Run.
type Style struct {
	FG        Colour
	BG        Colour
	Bold      bool
	Italic    bool
	Underline bool
	Reverse   bool
}

// Run is one contiguous span of text sharing a single Style.
type Run struct {
	Text  string
	Style Style
}

// StandardPalette maps a standard colour code (0-16) to its name. Codes
// outside this range are ignored by the decoder, leaving the current
// colour unchanged.
var StandardPalette = [...]string{
	0:  "default",
	1:  "black",
	2:  "dark-gray",
	3:  "dark-red",
	4:  "light-red",
	5:  "dark-green",
	6:  "light-green",
	7:  "brown",
	8:  "yellow",
	9:  "dark-blue",
	10: "light-blue",
	11: "dark-magenta",
	12: "light-magenta",
	13: "dark-cyan",
	14: "light-cyan",
	15: "gray",
	16: "white",
}

func standardColour(code int) Colour {
	if code < 0 || code >= len(StandardPalette) {
		// Out of range: caller must leave the current colour unchanged.
		return Colour{}
	}
	return Colour{Code: code, Name: StandardPalette[code]}
}

// Extended-palette fallback hues. The reference decoder maps every
// 5-digit extended code to one of these rather than the real 256-colour
// value; see the open question in the design notes.
var (
	extendedFGFallback = Colour{Extended: true, Name: "ext-fallback-green"}
	extendedBGFallback = Colour{Extended: true, Name: "ext-fallback-red"}
)

// decoder is the stateful cursor used while decoding one string.
type decoder struct {
	in      []byte
	pos     int
	style   Style
	defFG   Colour
	defBG   Colour
	runs    []Run
	builder strings.Builder
}

// Decode converts raw, UTF-8 text containing inline attribute escapes into
// a list of styled Runs. Stripping all control bytes from raw and
// concatenating the Text fields of the result must yield identical text
// (the plain-text round-trip property).
func Decode(raw []byte) ([]Run, error) {
	d := &decoder{in: raw, defFG: standardColour(0), defBG: standardColour(0)}
	for d.pos < len(d.in) {
		b := d.in[d.pos]
		switch b {
		case ctrlColour:
			d.pos++
			d.readColourEscape()
		case ctrlSetAttr:
			d.pos++
			d.readAttrEscape(true)
		case ctrlClearAttr:
			d.pos++
			d.readAttrEscape(false)
		case ctrlReset:
			d.pos++
			d.flushRun()
			d.style = Style{FG: d.defFG, BG: d.defBG}
		default:
			d.consumeText()
		}
	}
	d.flushRun()
	return d.runs, nil
}

// flushRun closes out the run accumulated in builder, if any, recording it
// with the current style.
func (d *decoder) flushRun() {
	if d.builder.Len() == 0 {
		return
	}
	d.runs = append(d.runs, Run{Text: d.builder.String(), Style: d.style})
	d.builder.Reset()
}

// consumeText copies one UTF-8 sequence (however many bytes it needs) into
// the current run without interpreting it.
func (d *decoder) consumeText() {
	b := d.in[d.pos]
	n := utf8SeqLen(b)
	end := d.pos + n
	if end > len(d.in) {
		end = len(d.in)
	}
	d.builder.Write(d.in[d.pos:end])
	d.pos = end
}

// utf8SeqLen returns how many bytes the UTF-8 sequence starting with lead
// occupies, defaulting to 1 for continuation/invalid leads so decoding
// always makes forward progress.
func utf8SeqLen(lead byte) int {
	switch {
	case lead&0x80 == 0x00:
		return 1
	case lead&0xE0 == 0xC0:
		return 2
	case lead&0xF0 == 0xE0:
		return 3
	case lead&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}

// readColourEscape decodes the sub-scheme following 0x19, per the escape
// table: F/B set one of foreground/background, * sets both, @ is
// shorthand for extended foreground, 0x1C resets colours only, and any
// other byte is treated as a bare standard foreground code.
func (d *decoder) readColourEscape() {
	if d.pos >= len(d.in) {
		return
	}
	d.flushRun()
	switch d.in[d.pos] {
	case 'F':
		d.pos++
		if fg, ok := d.readColourSpec(false); ok {
			d.style.FG = fg
		}
	case 'B':
		d.pos++
		if bg, ok := d.readColourSpec(true); ok {
			d.style.BG = bg
		}
	case '*':
		d.pos++
		if fg, ok := d.readColourSpec(false); ok {
			d.style.FG = fg
		}
		if d.pos < len(d.in) && (d.in[d.pos] == ',' || d.in[d.pos] == '~') {
			d.pos++
		}
		if bg, ok := d.readColourSpec(true); ok {
			d.style.BG = bg
		}
	case '@':
		d.pos++
		if fg, ok := d.readExtended(false); ok {
			d.style.FG = fg
		}
	case ctrlReset:
		d.pos++
		d.style.FG = d.defFG
		d.style.BG = d.defBG
	default:
		if fg, ok := d.readStandard(); ok {
			d.style.FG = fg
		}
	}
}

// readColourSpec decodes one F/B/*-side colour specification: an
// immediate leading '@' selects the 5-digit extended form over the
// 2-digit standard form, and any attribute modifier characters in between
// apply the same Bold/Italic/Underline/Reverse transitions that 0x1A (set
// attribute) would, not just a byte to skip over.
func (d *decoder) readColourSpec(background bool) (Colour, bool) {
	extended := false
	if d.pos < len(d.in) && d.in[d.pos] == '@' {
		extended = true
		d.pos++
	}
	d.readAttrEscape(true)
	if extended {
		return d.readExtended(background)
	}
	return d.readStandard()
}

func (d *decoder) readStandard() (Colour, bool) {
	digits, ok := d.takeDigits(2)
	if !ok {
		return Colour{}, false
	}
	code := 0
	for _, c := range digits {
		code = code*10 + int(c-'0')
	}
	col := standardColour(code)
	if col.Name == "" {
		return Colour{}, false
	}
	return col, true
}

func (d *decoder) readExtended(background bool) (Colour, bool) {
	_, ok := d.takeDigits(5)
	if !ok {
		return Colour{}, false
	}
	if background {
		return extendedBGFallback, true
	}
	return extendedFGFallback, true
}

func (d *decoder) takeDigits(n int) ([]byte, bool) {
	if d.pos+n > len(d.in) {
		return nil, false
	}
	for i := 0; i < n; i++ {
		c := d.in[d.pos+i]
		if c < '0' || c > '9' {
			return nil, false
		}
	}
	digits := d.in[d.pos : d.pos+n]
	d.pos += n
	return digits, true
}

// readAttrEscape decodes the attribute character(s) following 0x1A (set)
// or 0x1B (clear). An unrecognised byte terminates the sequence and is
// re-queued for normal decoding.
func (d *decoder) readAttrEscape(set bool) {
	for d.pos < len(d.in) {
		b := d.in[d.pos]
		switch b {
		case '*', 0x01:
			d.pos++
			d.style.Bold = set
		case '!':
			d.pos++
			d.style.Reverse = set
		case '/':
			d.pos++
			d.style.Italic = set
		case '_':
			d.pos++
			d.style.Underline = set
		case '|', '@':
			// "keep" and "ignore" carry no Style bit of their own.
			d.pos++
		case ctrlColour:
			d.pos++
			d.readColourEscape()
			return
		case ctrlSetAttr:
			d.pos++
			d.readAttrEscape(true)
			return
		case ctrlClearAttr:
			d.pos++
			d.readAttrEscape(false)
			return
		default:
			return
		}
	}
}

// htmlEscaper mirrors the exact escape set required when attribute output
// is rendered as HTML-compatible markup: < > & " '.
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// EscapeHTML applies the decoder's markup-compatibility escape set to s.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// RunsToHTML renders runs as a sequence of <span> elements carrying inline
// styles, for presentation layers that want markup instead of structured
// runs. Plain text content is escaped via EscapeHTML.
func RunsToHTML(runs []Run) string {
	var b strings.Builder
	for _, r := range runs {
		b.WriteString("<span style=\"")
		writeCSS(&b, r.Style)
		b.WriteString("\">")
		b.WriteString(EscapeHTML(r.Text))
		b.WriteString("</span>")
	}
	return b.String()
}

func writeCSS(b *strings.Builder, s Style) {
	if s.FG.Name != "" {
		b.WriteString("color:")
		b.WriteString(s.FG.Name)
		b.WriteString(";")
	}
	if s.BG.Name != "" {
		b.WriteString("background-color:")
		b.WriteString(s.BG.Name)
		b.WriteString(";")
	}
	if s.Bold {
		b.WriteString("font-weight:bold;")
	}
	if s.Italic {
		b.WriteString("font-style:italic;")
	}
	if s.Underline {
		b.WriteString("text-decoration:underline;")
	}
	if s.Reverse {
		b.WriteString("filter:invert(1);")
	}
}

// PlainText concatenates the Text field of every run, i.e. the decoded
// text content with all escapes and styling removed.
func PlainText(runs []Run) string {
	var b strings.Builder
	for _, r := range runs {
		b.WriteString(r.Text)
	}
	return b.String()
}
