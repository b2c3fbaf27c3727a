// Package segment post-processes decoded message text into a sequence of
// typed segments, splitting out URLs so a presentation layer can render
// links, embeds, and inline media differently from plain text.
//
// Classification is heuristic (extension/host based) by design; it is
// explicitly out of the hard core of the protocol (see the component
// design notes) and never blocks decoding.
package segment

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Kind identifies what a Segment represents to the presentation layer.
type Kind int

// Segment kinds, plain first so the zero value is the safe default.
const (
	KindPlain Kind = iota
	KindLink
	KindEmbed
	KindImage
	KindVideo
)

// Segment is one piece of a rendered message: either plain text or a URL
// classified by its apparent content type.
type Segment struct {
	Kind Kind
	Text string
	URL  string
}

// urlPattern is a permissive http(s) URL matcher; over-matching trailing
// punctuation is acceptable since link segments are advisory.
var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".bmp": true, ".svg": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".webm": true, ".mov": true, ".mkv": true,
}

var embedHosts = map[string]bool{
	"youtube.com": true, "youtu.be": true, "twitter.com": true, "x.com": true, "imgur.com": true,
}

// Segments splits text on URL patterns, classifying each URL by file
// extension (image/video) or known embeddable host, defaulting to a plain
// link. Non-URL spans become KindPlain segments.
func Segments(text string) []Segment {
	matches := urlPattern.FindAllStringIndex(text, -1)
	if matches == nil {
		return []Segment{{Kind: KindPlain, Text: text}}
	}

	var out []Segment
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if start > last {
			out = append(out, Segment{Kind: KindPlain, Text: text[last:start]})
		}
		url := text[start:end]
		out = append(out, Segment{Kind: classify(url), Text: url, URL: url})
		last = end
	}
	if last < len(text) {
		out = append(out, Segment{Kind: KindPlain, Text: text[last:]})
	}
	return out
}

func classify(rawURL string) Kind {
	u, err := url.Parse(rawURL)
	if err != nil {
		return KindLink
	}
	if ext := strings.ToLower(path.Ext(u.Path)); ext != "" {
		if imageExts[ext] {
			return KindImage
		}
		if videoExts[ext] {
			return KindVideo
		}
	}
	if embedHosts[hostOf(rawURL)] {
		return KindEmbed
	}
	return KindLink
}

// hostOf returns rawURL's host with any userinfo/port stripped (via
// net/url, rather than by hand) and a leading "www." removed, for
// embeddable-host matching.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
