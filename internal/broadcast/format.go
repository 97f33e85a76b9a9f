package broadcast

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"newsbot/internal/gateway"
	"newsbot/internal/model"
	"newsbot/pkg/tgui"
)

// TruncationMarker ends a body that was cut to fit the message limit.
const TruncationMarker = "…(truncated)"

const (
	maxTitleRunes  = 300
	maxSourceRunes = 64
	maxURLRunes    = 1024
)

var blankLinesRx = regexp.MustCompile(`\n{3,}`)

// Formatter renders one article as a Telegram HTML message.
type Formatter struct {
	Zone   *time.Location
	MaxLen int // tgui.VisibleLen units; 0 means gateway.MaxMessageLen
}

func (f Formatter) maxLen() int {
	if f.MaxLen > 0 {
		return f.MaxLen
	}
	return gateway.MaxMessageLen
}

// Format lays out title, body, source line and link. Length is measured as
// Telegram does (see tgui.VisibleLen). When the result would exceed MaxLen
// the body is shortened and ends with TruncationMarker; the
// markup around it is never cut.
func (f Formatter) Format(a model.Article) string {
	zone := f.Zone
	if zone == nil {
		zone = time.UTC
	}
	limit := f.maxLen()

	title := tgui.TruncRunes(strings.TrimSpace(a.Title), maxTitleRunes)
	body := PlainText(a.Body)
	source := tgui.TruncRunes(a.Source, maxSourceRunes)

	meta := make([]tgui.H, 0, 2)
	if source != "" {
		meta = append(meta, tgui.Esc("📰 "+source))
	}
	if !a.PublishAt.IsZero() {
		meta = append(meta, tgui.Esc(a.PublishAt.In(zone).Format("2006-01-02 15:04")))
	}
	footer := []tgui.H{tgui.JoinH(" · ", meta...)}
	if u := strings.TrimSpace(a.URL); u != "" && tgui.RuneLen(u) <= maxURLRunes {
		footer = append(footer, tgui.Link("Read more", u))
	}

	render := func(title, body string) string {
		parts := []tgui.H{}
		if title != "" {
			parts = append(parts, tgui.B(title))
		}
		if body != "" {
			parts = append(parts, tgui.Esc(body))
		}
		parts = append(parts, tgui.JoinH("\n", footer...))
		return tgui.JoinH("\n\n", parts...).String()
	}

	out := render(title, body)
	// Body and title are counted the same way inside the message, so cutting
	// them by the overflow usually fits in one round.
	for over := tgui.VisibleLen(out) - limit; over > 0; over = tgui.VisibleLen(out) - limit {
		switch {
		case body != "":
			keep := tgui.UTF16Len(body) - over
			if keep <= tgui.UTF16Len(TruncationMarker) {
				body = ""
			} else {
				body = tgui.TruncUTF16Marker(body, keep, TruncationMarker)
			}
		case title != "":
			keep := tgui.UTF16Len(title) - over
			if keep <= 1 {
				title = ""
			} else {
				title = tgui.TruncUTF16(title, keep)
			}
		default:
			footer = footer[:0]
			if out = render("", ""); tgui.VisibleLen(out) > limit {
				return ""
			}
			return out
		}
		out = render(title, body)
	}
	return out
}

// PlainText strips HTML from an article body. Line breaks and block
// elements become newlines; runs of blank lines collapse to one.
func PlainText(body string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}
	if !strings.ContainsAny(body, "<&") {
		return normalizeLines(body)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return normalizeLines(body)
	}
	doc.Find("script, style").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, h1, h2, h3, h4, h5, h6, blockquote, tr").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return normalizeLines(doc.Text())
}

func normalizeLines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, ln := range lines {
		lines[i] = strings.Join(strings.Fields(ln), " ")
	}
	s = strings.Join(lines, "\n")
	s = blankLinesRx.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
