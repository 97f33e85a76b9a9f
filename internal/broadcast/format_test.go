package broadcast

import (
	"strings"
	"testing"
	"time"

	"newsbot/internal/model"
	"newsbot/pkg/tgui"
)

func TestPlainText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "  ", ""},
		{"plain", "hello   world", "hello world"},
		{"breaks", "one<br>two<br/>three", "one\ntwo\nthree"},
		{"paragraphs", "<p>first</p><p>second</p>", "first\nsecond"},
		{"script dropped", "<p>x</p><script>alert(1)</script>", "x"},
		{"entities", "a &amp; b", "a & b"},
		{"blank runs", "a\n\n\n\n\nb", "a\n\nb"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := PlainText(tt.in); got != tt.want {
				t.Fatalf("PlainText(%q)=%q want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatLayout(t *testing.T) {
	t.Parallel()
	zone := time.FixedZone("UTC+8", 8*3600)
	a := model.Article{
		Title:     "Rates <up>",
		Body:      "<p>Markets & more</p>",
		Source:    "Wire",
		URL:       "https://example.com/a?x=1&y=2",
		PublishAt: time.Date(2025, 3, 1, 0, 30, 0, 0, time.UTC),
	}
	got := Formatter{Zone: zone}.Format(a)

	for _, want := range []string{
		"<b>Rates &lt;up&gt;</b>",
		"Markets &amp; more",
		"📰 Wire · 2025-03-01 08:30",
		`<a href="https://example.com/a?x=1&amp;y=2">Read more</a>`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, TruncationMarker) {
		t.Fatalf("short article truncated:\n%s", got)
	}
}

func TestFormatTruncatesBody(t *testing.T) {
	t.Parallel()
	a := model.Article{
		Title:  "Long read",
		Body:   strings.Repeat("news & views ", 800),
		Source: "wire",
		URL:    "https://example.com/long",
	}
	for _, limit := range []int{0, 500, 120} {
		f := Formatter{MaxLen: limit}
		got := f.Format(a)
		lim := f.maxLen()
		if n := tgui.VisibleLen(got); n > lim {
			t.Fatalf("limit %d: got %d units", lim, n)
		}
		if !strings.Contains(got, TruncationMarker) {
			t.Fatalf("limit %d: no marker in:\n%s", lim, got)
		}
		if !strings.Contains(got, "Read more</a>") {
			t.Fatalf("limit %d: footer cut:\n%s", lim, got)
		}
	}
}

func TestFormatCountsEmojiAsTelegramDoes(t *testing.T) {
	t.Parallel()
	// 3000 runes, 6000 UTF-16 units
	a := model.Article{
		Title: "Markets",
		Body:  strings.Repeat("📈", 3000),
		URL:   "https://example.com/e",
	}
	got := Formatter{}.Format(a)
	if n := tgui.VisibleLen(got); n > 4096 {
		t.Fatalf("visible length %d over the limit", n)
	}
	if !strings.Contains(got, TruncationMarker) {
		t.Fatalf("expected truncation")
	}
	if n := tgui.VisibleLen(got); n < 4000 {
		t.Fatalf("body cut too far: %d units", n)
	}
}
