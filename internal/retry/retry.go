// Package retry turns a classified gateway failure into the next step for a
// delivery: retry in this pass, defer to a later pass, disable the recipient,
// or give up.
package retry

import (
	"fmt"
	"time"

	"newsbot/internal/gateway"
	"newsbot/internal/model"
)

type Action int

const (
	ActionRetryNow Action = iota
	ActionRetryLater
	ActionDisable
	ActionGiveUp
)

func (a Action) String() string {
	switch a {
	case ActionRetryNow:
		return "retry_now"
	case ActionRetryLater:
		return "retry_later"
	case ActionDisable:
		return "disable"
	case ActionGiveUp:
		return "give_up"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

type Policy struct {
	// MaxAttempts bounds the failed attempts recorded per delivery.
	MaxAttempts int
	// ServerRetryInterval defers a delivery after a server-side error.
	ServerRetryInterval time.Duration
	// RateLimitCeiling is the longest resume delay honored; longer ones give up.
	RateLimitCeiling time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, ServerRetryInterval: 30 * time.Second, RateLimitCeiling: 10 * time.Minute}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.ServerRetryInterval <= 0 {
		p.ServerRetryInterval = d.ServerRetryInterval
	}
	if p.RateLimitCeiling <= 0 {
		p.RateLimitCeiling = d.RateLimitCeiling
	}
	return p
}

// Decision is what to do after one failed attempt.
type Decision struct {
	Action Action
	// Delay before the next attempt (ActionRetryLater only).
	Delay time.Duration
	// Status to record on the delivery row.
	Status model.DeliveryStatus
	// RetryCount to record, never above MaxAttempts.
	RetryCount int
	Class      gateway.Class
	Reason     string
}

// NextAttemptAt is the earliest time a deferred delivery may be retried.
func (d Decision) NextAttemptAt(now time.Time) time.Time {
	if d.Action != ActionRetryLater {
		return time.Time{}
	}
	return now.Add(d.Delay)
}

// Decide classifies the failure of attempt number prevRetries+1.
//
// Order matters: a recipient that is gone is disabled even on its last
// allowed attempt, and the attempt bound beats every retryable class.
func (p Policy) Decide(f *gateway.Failure, prevRetries int) Decision {
	p = p.normalized()
	if f == nil {
		f = &gateway.Failure{Class: gateway.ClassUnknown}
	}
	n := min(max(prevRetries, 0)+1, p.MaxAttempts)
	d := Decision{RetryCount: n, Class: f.Class, Reason: f.Error()}

	switch {
	case f.Class.DisablesRecipient():
		d.Action, d.Status = ActionDisable, model.StatusSubscriptionDisabled
	case n >= p.MaxAttempts:
		d.Action, d.Status = ActionGiveUp, model.StatusPermanentlyFailed
		d.Reason = fmt.Sprintf("max attempts (%d) reached: %s", p.MaxAttempts, d.Reason)
	case f.Class == gateway.ClassTransient:
		d.Action, d.Status = ActionRetryNow, model.StatusFailed
	case f.Class == gateway.ClassRateLimited:
		if f.RetryAfter > p.RateLimitCeiling {
			d.Action, d.Status = ActionGiveUp, model.StatusPermanentlyFailed
			d.Reason = fmt.Sprintf("retry_after %s exceeds ceiling %s: %s", f.RetryAfter, p.RateLimitCeiling, d.Reason)
			break
		}
		d.Action, d.Status = ActionRetryLater, model.StatusFailed
		d.Delay = max(f.RetryAfter, time.Second)
	case f.Class == gateway.ClassServer:
		d.Action, d.Status = ActionRetryLater, model.StatusFailed
		d.Delay = p.ServerRetryInterval
	default:
		d.Action, d.Status = ActionGiveUp, model.StatusPermanentlyFailed
	}
	return d
}
