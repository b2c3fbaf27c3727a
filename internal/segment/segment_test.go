package segment

import (
	"testing"

	"github.com/go-test/deep"
)

func TestSegmentsPlainOnly(t *testing.T) {
	got := Segments("no links here")
	want := []Segment{{Kind: KindPlain, Text: "no links here"}}
	if diff := deep.Equal(got, want); diff != nil {
		t.Error(diff)
	}
}

func TestSegmentsLinkSurroundedByText(t *testing.T) {
	got := Segments("see https://example.com/page for more")
	want := []Segment{
		{Kind: KindPlain, Text: "see "},
		{Kind: KindLink, Text: "https://example.com/page", URL: "https://example.com/page"},
		{Kind: KindPlain, Text: " for more"},
	}
	if diff := deep.Equal(got, want); diff != nil {
		t.Error(diff)
	}
}

func TestSegmentsImage(t *testing.T) {
	got := Segments("https://example.com/cat.PNG")
	if len(got) != 1 || got[0].Kind != KindImage {
		t.Errorf("got %+v, want single KindImage segment", got)
	}
}

func TestSegmentsImageWithQueryString(t *testing.T) {
	got := Segments("https://example.com/cat.png?size=large")
	if len(got) != 1 || got[0].Kind != KindImage {
		t.Errorf("got %+v, want single KindImage segment", got)
	}
}

func TestSegmentsVideo(t *testing.T) {
	got := Segments("https://example.com/clip.mp4")
	if len(got) != 1 || got[0].Kind != KindVideo {
		t.Errorf("got %+v, want single KindVideo segment", got)
	}
}

func TestSegmentsEmbedHost(t *testing.T) {
	got := Segments("https://www.youtube.com/watch?v=abc123")
	if len(got) != 1 || got[0].Kind != KindEmbed {
		t.Errorf("got %+v, want single KindEmbed segment", got)
	}
}

func TestSegmentsPlainLinkFallback(t *testing.T) {
	got := Segments("https://example.com/some/path")
	if len(got) != 1 || got[0].Kind != KindLink {
		t.Errorf("got %+v, want single KindLink segment", got)
	}
}

func TestSegmentsMultipleURLs(t *testing.T) {
	got := Segments("https://a.com/x.png and https://b.com/y.mp4")
	if len(got) != 3 {
		t.Fatalf("got %d segments, want 3: %+v", len(got), got)
	}
	if got[0].Kind != KindImage || got[2].Kind != KindVideo {
		t.Errorf("got %+v, want image then video", got)
	}
}

func TestHostOfStripsWWWAndPath(t *testing.T) {
	tests := map[string]string{
		"https://www.youtube.com/watch?v=x": "youtube.com",
		"https://youtu.be/x":                "youtu.be",
		"http://example.com":                "example.com",
	}
	for in, want := range tests {
		if got := hostOf(in); got != want {
			t.Errorf("hostOf(%q) = %q, want %q", in, got, want)
		}
	}
}
