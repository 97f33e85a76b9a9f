// Package ingest polls RSS/Atom feeds and upserts their items as articles.
// Unchanged items are no-ops in storage; changed content re-opens an article.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mmcdole/gofeed"

	"newsbot/internal/model"
	logx "newsbot/pkg/logx"
)

var ErrNoFeeds = errors.New("ingest: no feeds configured")

type Feed struct {
	Name string
	URL  string
	// Source tags every article from this feed; defaults to Name.
	Source string
}

func (f Feed) source() string {
	if s := model.NormalizeSource(f.Source); s != "" {
		return s
	}
	return model.NormalizeSource(f.Name)
}

type Config struct {
	Feeds   []Feed
	Timeout time.Duration
	// MaxItems caps the items taken from one feed per poll (newest first as
	// the feed lists them); 0 means all.
	MaxItems int
	// PublishDelay holds new articles back after their feed timestamp.
	PublishDelay time.Duration
	UserAgent    string
}

// Store is the slice of storage ingestion writes to.
type Store interface {
	UpsertArticle(ctx context.Context, in model.ArticleInput) (model.UpsertResult, error)
}

type FeedReport struct {
	Feed      string
	Items     int
	Created   int
	Reopened  int
	Unchanged int
	Skipped   int
	Err       error
}

type Report struct {
	Feeds []FeedReport
}

func (r Report) Totals() (created, reopened, unchanged int) {
	for _, f := range r.Feeds {
		created += f.Created
		reopened += f.Reopened
		unchanged += f.Unchanged
	}
	return
}

type Poller struct {
	store Store
	clock clockwork.Clock
	log   logx.Logger

	mu     sync.RWMutex
	cfg    Config
	parser *gofeed.Parser
}

func New(cfg Config, store Store, clock clockwork.Clock, log logx.Logger) *Poller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Poller{store: store, clock: clock, log: log.With(logx.String("comp", "ingest"))}
	p.Apply(cfg)
	return p
}

func (p *Poller) Apply(cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: cfg.Timeout}
	if cfg.UserAgent != "" {
		parser.UserAgent = cfg.UserAgent
	}
	p.mu.Lock()
	p.cfg = cfg
	p.parser = parser
	p.mu.Unlock()
}

// Poll fetches every configured feed once. A failing feed does not stop the
// others; its error is in the report and joined into the returned error.
func (p *Poller) Poll(ctx context.Context) (Report, error) {
	p.mu.RLock()
	cfg, parser := p.cfg, p.parser
	p.mu.RUnlock()

	if len(cfg.Feeds) == 0 {
		return Report{}, ErrNoFeeds
	}

	var (
		rep  Report
		errs []error
	)
	for _, f := range cfg.Feeds {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		fr := p.pollFeed(ctx, parser, cfg, f)
		if fr.Err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", fr.Feed, fr.Err))
			p.log.Warn("feed poll failed", logx.String("feed", fr.Feed), logx.Err(fr.Err))
		} else {
			p.log.Debug("feed polled",
				logx.String("feed", fr.Feed),
				logx.Int("items", fr.Items),
				logx.Int("created", fr.Created),
				logx.Int("reopened", fr.Reopened),
			)
		}
		rep.Feeds = append(rep.Feeds, fr)
	}
	return rep, errors.Join(errs...)
}

func (p *Poller) pollFeed(ctx context.Context, parser *gofeed.Parser, cfg Config, f Feed) FeedReport {
	name := f.Name
	if name == "" {
		name = f.URL
	}
	fr := FeedReport{Feed: name}

	fctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	parsed, err := parser.ParseURLWithContext(f.URL, fctx)
	if err != nil {
		fr.Err = err
		return fr
	}

	source := f.source()
	if source == "" {
		source = model.NormalizeSource(parsed.Title)
	}
	items := parsed.Items
	if cfg.MaxItems > 0 && len(items) > cfg.MaxItems {
		items = items[:cfg.MaxItems]
	}

	now := p.clock.Now()
	for _, it := range items {
		in, ok := toInput(it, source, now, cfg.PublishDelay)
		if !ok {
			fr.Skipped++
			continue
		}
		fr.Items++
		res, err := p.store.UpsertArticle(ctx, in)
		if err != nil {
			fr.Err = fmt.Errorf("upsert %s: %w", in.URL, err)
			return fr
		}
		switch {
		case res.Created:
			fr.Created++
		case res.Reopened:
			fr.Reopened++
		default:
			fr.Unchanged++
		}
	}
	return fr
}

// toInput maps a feed item to an article. Items without a usable absolute
// link are skipped since the link is the dedup key.
func toInput(it *gofeed.Item, source string, now time.Time, delay time.Duration) (model.ArticleInput, bool) {
	if it == nil {
		return model.ArticleInput{}, false
	}
	link := strings.TrimSpace(it.Link)
	if link == "" && isAbsURL(it.GUID) {
		link = strings.TrimSpace(it.GUID)
	}
	if !isAbsURL(link) {
		return model.ArticleInput{}, false
	}

	body := it.Content
	if strings.TrimSpace(body) == "" {
		body = it.Description
	}
	title := strings.TrimSpace(it.Title)
	if title == "" && strings.TrimSpace(body) == "" {
		return model.ArticleInput{}, false
	}

	at := now
	switch {
	case it.PublishedParsed != nil:
		at = *it.PublishedParsed
	case it.UpdatedParsed != nil:
		at = *it.UpdatedParsed
	}
	return model.ArticleInput{
		URL:       link,
		Title:     title,
		Body:      strings.TrimSpace(body),
		Source:    source,
		PublishAt: at.Add(delay),
		Now:       now,
	}, true
}

func isAbsURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
