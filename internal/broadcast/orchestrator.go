package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"newsbot/internal/gateway"
	"newsbot/internal/ratelimit"
	"newsbot/internal/retry"
)

var (
	ErrPreconditionFailed = errors.New("broadcast: precondition failed")
	ErrPassRunning        = errors.New("broadcast: pass already running")
)

type Config struct {
	// MaxArticlesPerPass bounds candidate selection; 0 means no bound.
	MaxArticlesPerPass int
	// PassTimeout is the execution ceiling for one pass; 0 disables it.
	PassTimeout time.Duration
	// PreconditionTimeout bounds the storage and gateway health checks.
	PreconditionTimeout time.Duration

	Limiter     ratelimit.Config
	Retry       retry.Policy
	DisplayZone *time.Location
}

func DefaultConfig() Config {
	return Config{
		MaxArticlesPerPass:  50,
		PassTimeout:         10 * time.Minute,
		PreconditionTimeout: 10 * time.Second,
		Limiter:             ratelimit.DefaultConfig(),
		Retry:               retry.DefaultPolicy(),
	}
}

// ArticleReport summarizes one article in one pass.
type ArticleReport struct {
	ArticleID int64
	Revision  int
	Source    string
	Eligible  int
	Attempted int
	Sent      int
	Published bool
	Missing   []int64
	LastError string
}

// PassStats is everything one pass did. Deliveries holds one result per
// (article, subscriber) considered, in dispatch order.
type PassStats struct {
	StartedAt  time.Time
	FinishedAt time.Time

	Skipped    bool
	SkipReason string
	// Aborted is set when the pass stopped early: cancellation, timeout or
	// the gateway circuit opening mid-pass.
	Aborted bool

	ArticlesProcessed int
	// ArticlesStalled counts pending articles passed over because nothing is
	// left to send for them; see Selection.
	ArticlesStalled   int
	MessagesAttempted int
	Successes         int
	// Failures counts deliveries that ended this pass for good:
	// permanently_failed or subscription_disabled. A failure that will be
	// retried by a later pass is counted in Deferred only.
	Failures int
	// Deferred counts retries scheduled this pass plus earlier failures not
	// yet due.
	Deferred              int
	AlreadyDelivered      int
	SubscriptionsDisabled int
	ArticlesPublished     int
	StorageErrors         int

	LimiterWaits  int64
	LimiterWaited time.Duration

	Articles   []ArticleReport
	Deliveries []DeliveryResult
}

func (s PassStats) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Orchestrator runs broadcast passes. Passes never overlap; RunPass returns
// ErrPassRunning when one is in flight.
type Orchestrator struct {
	store Store
	gw    gateway.Gateway
	clock clockwork.Clock

	mu  sync.RWMutex
	cfg Config

	running sync.Mutex
}

func New(cfg Config, store Store, gw gateway.Gateway, clock clockwork.Clock) *Orchestrator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Orchestrator{store: store, gw: gw, clock: clock, cfg: cfg}
}

// Apply swaps tuning for the next pass. A running pass keeps its settings.
func (o *Orchestrator) Apply(cfg Config) {
	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()
}

func (o *Orchestrator) Config() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg
}

func (o *Orchestrator) RunPass(ctx context.Context) (PassStats, error) {
	if !o.running.TryLock() {
		return PassStats{Skipped: true, SkipReason: "already running", StartedAt: o.clock.Now()}, ErrPassRunning
	}
	defer o.running.Unlock()

	cfg := o.Config()
	stats := PassStats{StartedAt: o.clock.Now()}

	if cfg.PassTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.PassTimeout)
		defer cancel()
	}

	if err := o.preconditions(ctx, cfg); err != nil {
		stats.Skipped = true
		stats.SkipReason = err.Error()
		stats.FinishedAt = o.clock.Now()
		return stats, fmt.Errorf("%w: %w", ErrPreconditionFailed, err)
	}

	sel, err := NewSelector(o.store).Candidates(ctx, o.clock.Now(), cfg.MaxArticlesPerPass)
	if err != nil {
		stats.FinishedAt = o.clock.Now()
		return stats, fmt.Errorf("select candidates: %w", err)
	}

	limiter := ratelimit.NewRegistry(cfg.Limiter, o.clock)
	defer limiter.Close()

	disp := NewDispatcher(o.gw, limiter, o.store, cfg.Retry, Formatter{Zone: cfg.DisplayZone}, o.clock)
	res := NewResolver(o.store)
	durable := context.WithoutCancel(ctx)
	disabled := map[int64]struct{}{}

	stats.ArticlesStalled = len(sel.Stalled)
	for _, c := range sel.Stalled {
		// a subscriber that held it back may have left since
		if !c.AllSent || ctx.Err() != nil {
			continue
		}
		if _, published, err := res.Resolve(durable, c.Article, o.clock.Now()); err != nil {
			stats.StorageErrors++
		} else if published {
			stats.ArticlesPublished++
		}
	}

	for _, c := range sel.Candidates {
		if ctx.Err() != nil || stats.Aborted {
			stats.Aborted = true
			break
		}
		rep := o.runArticle(ctx, disp, c, disabled, &stats)

		if rep.Attempted > 0 {
			if err := o.store.NoteArticleAttempt(durable, c.Article.ID, rep.LastError, o.clock.Now()); err != nil {
				stats.StorageErrors++
			}
		}

		comp, published, err := res.Resolve(durable, c.Article, o.clock.Now())
		if err != nil {
			stats.StorageErrors++
		} else {
			rep.Eligible = comp.Eligible
			rep.Missing = comp.Missing
			rep.Published = published
			if published {
				stats.ArticlesPublished++
			}
		}
		stats.ArticlesProcessed++
		stats.Articles = append(stats.Articles, rep)
	}

	stats.LimiterWaits, stats.LimiterWaited = limiter.Waits()
	stats.FinishedAt = o.clock.Now()
	if stats.Aborted && ctx.Err() != nil {
		return stats, ctx.Err()
	}
	return stats, nil
}

func (o *Orchestrator) runArticle(ctx context.Context, disp *Dispatcher, c Candidate, disabled map[int64]struct{}, stats *PassStats) ArticleReport {
	rep := ArticleReport{
		ArticleID: c.Article.ID,
		Revision:  c.Article.Revision,
		Source:    c.Article.Source,
		Eligible:  len(c.Recipients),
	}
	for _, sub := range c.Recipients {
		if _, gone := disabled[sub.ID]; gone {
			continue
		}
		if ctx.Err() != nil {
			stats.Aborted = true
			return rep
		}

		r := disp.Send(ctx, c.Article, sub)
		stats.Deliveries = append(stats.Deliveries, r)
		stats.MessagesAttempted += r.Attempts
		rep.Attempted += r.Attempts

		switch r.Outcome {
		case OutcomeSent:
			stats.Successes++
			rep.Sent++
		case OutcomeSkipped:
			if r.SkipReason == SkipAlreadySent {
				stats.AlreadyDelivered++
			}
		case OutcomeDeferred, OutcomeRetryScheduled:
			stats.Deferred++
		case OutcomeFailed:
			stats.Failures++
		case OutcomeDisabled:
			stats.Failures++
			stats.SubscriptionsDisabled++
			disabled[sub.ID] = struct{}{}
		case OutcomeError:
			stats.StorageErrors++
		case OutcomeAborted:
			stats.Aborted = true
		}
		if r.Outcome != OutcomeSent && r.Err != nil {
			rep.LastError = r.Err.Error()
		}
		if stats.Aborted {
			return rep
		}
	}
	return rep
}

func (o *Orchestrator) preconditions(ctx context.Context, cfg Config) error {
	if cfg.PreconditionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.PreconditionTimeout)
		defer cancel()
	}
	if err := o.store.Ping(ctx); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := o.gw.Ping(ctx); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}
