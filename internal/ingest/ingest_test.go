package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"newsbot/internal/storage"
	logx "newsbot/pkg/logx"
)

const rssTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Example Wire</title>
  <link>https://example.com/</link>
  <description>test feed</description>
  <item>
    <title>First</title>
    <link>https://example.com/first</link>
    <description>%s</description>
    <pubDate>Sat, 01 Mar 2025 07:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Second</title>
    <link>https://example.com/second</link>
    <description>second body</description>
    <pubDate>Sat, 01 Mar 2025 07:30:00 GMT</pubDate>
  </item>
  <item>
    <title>No link</title>
    <description>dropped</description>
  </item>
</channel>
</rss>`

func TestPollUpsertsFeedItems(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var body atomic.Value
	body.Store("first body")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rss" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, rssTemplate, body.Load().(string))
	}))
	t.Cleanup(srv.Close)

	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "ingest.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	p := New(Config{
		Feeds: []Feed{
			{Name: "wire", URL: srv.URL + "/rss"},
			{Name: "broken", URL: srv.URL + "/missing"},
		},
		Timeout:      5 * time.Second,
		PublishDelay: time.Minute,
	}, st, clock, logx.Nop())

	rep, err := p.Poll(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "feed broken")
	require.Len(t, rep.Feeds, 2)
	require.NoError(t, rep.Feeds[0].Err)
	require.Equal(t, 2, rep.Feeds[0].Created)
	require.Equal(t, 1, rep.Feeds[0].Skipped)
	require.Error(t, rep.Feeds[1].Err)

	a, err := st.GetArticleByURL(ctx, "https://example.com/first")
	require.NoError(t, err)
	require.Equal(t, "wire", a.Source)
	require.Equal(t, "first body", a.Body)
	require.Equal(t, time.Date(2025, 3, 1, 7, 1, 0, 0, time.UTC).Unix(), a.PublishAt.Unix())

	rep, _ = p.Poll(ctx)
	created, reopened, unchanged := rep.Totals()
	require.Equal(t, [3]int{0, 0, 2}, [3]int{created, reopened, unchanged})

	body.Store("first body, corrected")
	rep, _ = p.Poll(ctx)
	created, reopened, unchanged = rep.Totals()
	require.Equal(t, [3]int{0, 1, 1}, [3]int{created, reopened, unchanged})

	a, err = st.GetArticleByURL(ctx, "https://example.com/first")
	require.NoError(t, err)
	require.Equal(t, 2, a.Revision)
}

func TestPollWithoutFeeds(t *testing.T) {
	t.Parallel()
	p := New(Config{}, nil, nil, logx.Logger{})
	_, err := p.Poll(context.Background())
	require.ErrorIs(t, err, ErrNoFeeds)
}

func TestIsAbsURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want bool
	}{
		{"https://example.com/a", true},
		{" http://example.com ", true},
		{"urn:uuid:1234", false},
		{"/relative", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isAbsURL(tt.in); got != tt.want {
			t.Fatalf("isAbsURL(%q)=%v want %v", tt.in, got, tt.want)
		}
	}
}
