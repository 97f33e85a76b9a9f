// Package ratelimit implements the outbound message limiter: one global token
// bucket shared by every send and one bucket per recipient.
//
// Buckets refill lazily from elapsed clock time (golang.org/x/time/rate), so
// there is no background goroutine. Per-recipient buckets live in a bounded
// cache and are dropped once idle past the retention window.
package ratelimit

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"newsbot/internal/cache"
)

var (
	ErrClosed   = errors.New("ratelimit: registry closed")
	ErrNoBudget = errors.New("ratelimit: request exceeds bucket capacity")
)

type Config struct {
	GlobalRate     float64 // tokens per second
	GlobalBurst    int
	RecipientRate  float64
	RecipientBurst int
	// IdleRetention is how long an unused recipient bucket is kept. It is
	// raised to at least the bucket's full refill time.
	IdleRetention time.Duration
	// MaxRecipients bounds the number of live recipient buckets (0 = unbounded).
	MaxRecipients int
}

func DefaultConfig() Config {
	return Config{
		GlobalRate:     25,
		GlobalBurst:    5,
		RecipientRate:  1,
		RecipientBurst: 1,
		IdleRetention:  5 * time.Minute,
		MaxRecipients:  100_000,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.GlobalRate <= 0 {
		c.GlobalRate = d.GlobalRate
	}
	if c.GlobalBurst <= 0 {
		c.GlobalBurst = d.GlobalBurst
	}
	if c.RecipientRate <= 0 {
		c.RecipientRate = d.RecipientRate
	}
	if c.RecipientBurst <= 0 {
		c.RecipientBurst = d.RecipientBurst
	}
	if c.IdleRetention <= 0 {
		c.IdleRetention = d.IdleRetention
	}
	if fill := c.refill(); c.IdleRetention < fill {
		c.IdleRetention = fill
	}
	return c
}

// refill is the time an empty recipient bucket needs to become full again.
// Dropping a bucket earlier would hand the recipient a fresh burst.
func (c Config) refill() time.Duration {
	return time.Duration(float64(c.RecipientBurst) / c.RecipientRate * float64(time.Second))
}

// Registry holds the buckets for one broadcast pass. It is safe for
// concurrent use, though a pass acquires sequentially.
type Registry struct {
	cfg        Config
	clock      clockwork.Clock
	global     *rate.Limiter
	recipients *cache.Cache[int64, *rate.Limiter]

	closed atomic.Bool
	waits  atomic.Int64
	waited atomic.Int64 // nanoseconds
}

func NewRegistry(cfg Config, clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	cfg = cfg.normalized()
	return &Registry{
		cfg:   cfg,
		clock: clock,
		global: rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		recipients: cache.New[int64, *rate.Limiter](cache.Options{
			TTL:        cfg.IdleRetention,
			MaxEntries: cfg.MaxRecipients,
			Clock:      clock,
		}),
	}
}

func (r *Registry) Config() Config { return r.cfg }

func (r *Registry) bucket(recipient int64) *rate.Limiter {
	return r.recipients.GetOrCreate(recipient, func() *rate.Limiter {
		return rate.NewLimiter(rate.Limit(r.cfg.RecipientRate), r.cfg.RecipientBurst)
	})
}

// Acquire takes one token from the global bucket and then from the
// recipient's bucket, waiting on the clock until both are available. On
// context cancellation the reservations are returned and ctx.Err() is
// reported. The returned duration is how long the caller waited.
func (r *Registry) Acquire(ctx context.Context, recipient int64) (time.Duration, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := r.clock.Now()
	g := r.global.ReserveN(now, 1)
	if !g.OK() {
		return 0, ErrNoBudget
	}
	p := r.bucket(recipient).ReserveN(now, 1)
	if !p.OK() {
		g.CancelAt(now)
		return 0, ErrNoBudget
	}

	delay := max(g.DelayFrom(now), p.DelayFrom(now))
	r.recipients.Extend(recipient, now.Add(delay+r.cfg.IdleRetention))
	if delay <= 0 {
		return 0, nil
	}

	t := r.clock.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.Chan():
		r.waits.Add(1)
		r.waited.Add(int64(delay))
		return delay, nil
	case <-ctx.Done():
		at := r.clock.Now()
		p.CancelAt(at)
		g.CancelAt(at)
		return 0, ctx.Err()
	}
}

// TryAcquire takes a token from both buckets only if both have one available
// right now. Nothing is consumed on failure.
func (r *Registry) TryAcquire(recipient int64) bool {
	if r.closed.Load() {
		return false
	}
	now := r.clock.Now()
	g := r.global.ReserveN(now, 1)
	if !g.OK() || g.DelayFrom(now) > 0 {
		g.CancelAt(now)
		return false
	}
	p := r.bucket(recipient).ReserveN(now, 1)
	if !p.OK() || p.DelayFrom(now) > 0 {
		p.CancelAt(now)
		g.CancelAt(now)
		return false
	}
	return true
}

// Len reports the number of tracked recipient buckets.
func (r *Registry) Len() int { return r.recipients.Len() }

// Prune drops idle recipient buckets.
func (r *Registry) Prune() int { return r.recipients.Prune() }

// Waits reports how many acquisitions had to wait and for how long in total.
func (r *Registry) Waits() (int64, time.Duration) {
	return r.waits.Load(), time.Duration(r.waited.Load())
}

// Close releases every bucket. Later acquisitions fail with ErrClosed.
func (r *Registry) Close() {
	if r.closed.Swap(true) {
		return
	}
	r.recipients.Purge()
}
