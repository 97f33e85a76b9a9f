package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	logx "newsbot/pkg/logx"
)

type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker. 0 means 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing. 0 means 1m.
	OpenTimeout time.Duration
	// HalfOpenRequests allowed while probing. 0 means 1.
	HalfOpenRequests uint32
}

// Breaker wraps a Gateway with a circuit breaker. Only transient and server
// failures count against it; a blocked recipient says nothing about the
// gateway's health.
type Breaker struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(next Gateway, cfg BreakerConfig, log logx.Logger) *Breaker {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	trip := cfg.ConsecutiveFailures
	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "gateway",
			MaxRequests: cfg.HalfOpenRequests,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= trip
			},
			IsSuccessful: func(err error) bool {
				f := Classify(err)
				return f == nil || (f.Class != ClassTransient && f.Class != ClassServer)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state changed",
					logx.String("breaker", name), logx.String("from", from.String()), logx.String("to", to.String()))
			},
		}),
	}
}

func (b *Breaker) call(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) { return nil, fn() })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &Failure{Class: ClassServer, Description: "circuit open", Err: ErrCircuitOpen}
	}
	return err
}

func (b *Breaker) SendMessage(ctx context.Context, recipientID int64, text string) error {
	return b.call(func() error { return b.next.SendMessage(ctx, recipientID, text) })
}

func (b *Breaker) Ping(ctx context.Context) error {
	return b.call(func() error { return b.next.Ping(ctx) })
}

// State reports "closed", "half-open" or "open".
func (b *Breaker) State() string { return b.cb.State().String() }

// Open reports whether calls are currently rejected.
func (b *Breaker) Open() bool { return b.cb.State() == gobreaker.StateOpen }
