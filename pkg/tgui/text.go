package tgui

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// TruncRunes truncates s to at most n runes, ending with "…" when cut.
func TruncRunes(s string, n int) string {
	return TruncRunesMarker(s, n, "…")
}

// TruncRunesMarker truncates s so the result, marker included, is at most n
// runes. s is returned unchanged when it already fits.
func TruncRunesMarker(s string, n int, marker string) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	keep := n - utf8.RuneCountInString(marker)
	if keep <= 0 {
		return string([]rune(marker)[:n])
	}
	count := 0
	for i := range s {
		if count == keep {
			return s[:i] + marker
		}
		count++
	}
	return s + marker
}

// RuneLen is utf8.RuneCountInString, named for call sites that bound by runes.
func RuneLen(s string) int { return utf8.RuneCountInString(s) }

// UTF16Len counts s in UTF-16 code units, the unit Telegram limits use.
// Characters outside the BMP, most emoji among them, count twice.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n += units(r)
	}
	return n
}

func units(r rune) int {
	if l := utf16.RuneLen(r); l > 0 {
		return l
	}
	return 1
}

// VisibleLen measures an HTML-mode message the way Telegram does: tags are
// dropped, entities decoded, and the remaining text counted in UTF-16 units.
func VisibleLen(h string) int {
	text := h
	if strings.ContainsAny(h, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(h)); err == nil {
			text = doc.Text()
		}
	}
	return UTF16Len(text)
}

// TruncUTF16 cuts s to at most n UTF-16 units, ending with "…" when cut.
func TruncUTF16(s string, n int) string {
	return TruncUTF16Marker(s, n, "…")
}

// TruncUTF16Marker is TruncRunesMarker with n counted in UTF-16 units. A
// rune is never split.
func TruncUTF16Marker(s string, n int, marker string) string {
	if n <= 0 {
		return ""
	}
	if UTF16Len(s) <= n {
		return s
	}
	budget := n - UTF16Len(marker)
	if budget <= 0 {
		return ""
	}
	used := 0
	for i, r := range s {
		if used+units(r) > budget {
			return s[:i] + marker
		}
		used += units(r)
	}
	return s + marker
}
