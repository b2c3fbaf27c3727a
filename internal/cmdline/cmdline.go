// Package cmdline builds the outbound line-based command grammar the
// connection controller writes to the relay socket.
//
// Each function returns exactly one "\n"-terminated ASCII line, matching
// the grammar laid out in the protocol notes byte for byte; nothing here
// touches the socket itself, the same separation the teacher keeps between
// building an ArchiveRecord and writing it out.
package cmdline

import (
	"fmt"
	"strings"
)

// Init builds the "init" handshake line authenticating with passphrase.
// Compression is always advertised off; decompression is unimplemented.
func Init(passphrase string) string {
	return fmt.Sprintf("init password=%s,compression=off\n", passphrase)
}

// BuffersSnapshot builds the "hdata" line requesting every buffer's
// number, name, hidden flag, and title.
func BuffersSnapshot() string {
	return "hdata buffer:gui_buffers(*) number,name,hidden,title\n"
}

// LastLine builds the "hdata" line requesting, for every buffer, the single
// most recent line — the initial-snapshot lines fetch.
func LastLine() string {
	return "hdata buffer:gui_buffers(*)/lines/last_line(-1)/data\n"
}

// Hotlist builds the "hdata" line requesting the current hotlist snapshot.
func Hotlist() string {
	return "hdata hotlist:gui_hotlist(*)\n"
}

// MoreLines builds the "hdata" line requesting up to count of a buffer's
// most recent lines (last_line(-count)). ptr is the buffer's pointer,
// formatted as "0x" + lowercase hex per the grammar.
func MoreLines(ptr uint64, count int) string {
	return fmt.Sprintf("hdata buffer:0x%x/lines/last_line(-%d)/data\n", ptr, count)
}

// Sync builds the "sync" line switching the relay into push-event mode.
func Sync() string {
	return "sync\n"
}

// Nicklist builds the "nicklist" line requesting the current nicklist
// snapshot.
func Nicklist() string {
	return "nicklist\n"
}

// Input builds the "input" line sending text to a buffer on behalf of the
// user. ptr is the target buffer's pointer.
func Input(ptr uint64, text string) string {
	return fmt.Sprintf("input 0x%x %s\n", ptr, text)
}

// WithRequestID prefixes line with "(id) ", tagging its reply so the
// dispatcher can match the response to this specific request rather than
// to the bare command name. line must already be newline-terminated;
// the prefix is inserted before the command, after any leading
// spaces are trimmed.
func WithRequestID(id, line string) string {
	return "(" + id + ") " + strings.TrimLeft(line, " ")
}

// Handshake returns the exact sequence of commands the controller writes,
// in order, immediately after the socket reaches CONNECTED: init, the
// buffers snapshot, the initial lines fetch, the hotlist snapshot, sync,
// and nicklist.
func Handshake(passphrase string) []string {
	return []string{
		Init(passphrase),
		BuffersSnapshot(),
		LastLine(),
		Hotlist(),
		Sync(),
		Nicklist(),
	}
}
