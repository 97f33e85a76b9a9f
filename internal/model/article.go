package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Article is one ingested unit of content. URL is the dedup key.
//
// Revision starts at 1 and is bumped whenever ingestion sees different content
// for the same URL; deliveries are tracked per revision so a reopened article
// is broadcast again.
type Article struct {
	ID          int64
	URL         string
	Title       string
	Body        string
	Source      string
	ContentHash string
	Revision    int

	PublishAt    time.Time
	Published    bool
	PublishedAt  time.Time
	AttemptCount int
	LastError    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ArticleCursor is a position in the pending-article order (publish time,
// then id). The zero cursor is the start.
type ArticleCursor struct {
	PublishAt time.Time
	ID        int64
}

func (c ArticleCursor) IsZero() bool { return c.ID == 0 }

// Cursor positions a scan just after a.
func (a Article) Cursor() ArticleCursor {
	return ArticleCursor{PublishAt: a.PublishAt, ID: a.ID}
}

// ArticleInput is what ingestion hands to storage.
type ArticleInput struct {
	URL       string
	Title     string
	Body      string
	Source    string
	PublishAt time.Time
	Now       time.Time
}

// ContentHash fingerprints the fields whose change re-opens an article.
func (in ArticleInput) ContentHash() string {
	h := sha256.New()
	for _, part := range []string{in.Title, in.Body, NormalizeSource(in.Source)} {
		h.Write([]byte(strings.TrimSpace(part)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// UpsertResult reports what an article upsert did.
type UpsertResult struct {
	ID       int64
	Revision int
	Created  bool
	Reopened bool
}

// Unchanged reports whether the upsert was a no-op.
func (r UpsertResult) Unchanged() bool { return !r.Created && !r.Reopened }

// NormalizeSource is the canonical form of a source tag used for filtering.
func NormalizeSource(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
