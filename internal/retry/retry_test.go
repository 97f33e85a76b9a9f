package retry

import (
	"testing"
	"time"

	"newsbot/internal/gateway"
	"newsbot/internal/model"
)

func TestDecideTable(t *testing.T) {
	t.Parallel()
	p := Policy{MaxAttempts: 3, ServerRetryInterval: 30 * time.Second, RateLimitCeiling: time.Minute}

	tests := []struct {
		name   string
		f      *gateway.Failure
		prev   int
		action Action
		status model.DeliveryStatus
		count  int
		delay  time.Duration
	}{
		{"transient first", &gateway.Failure{Class: gateway.ClassTransient}, 0, ActionRetryNow, model.StatusFailed, 1, 0},
		{"transient last", &gateway.Failure{Class: gateway.ClassTransient}, 2, ActionGiveUp, model.StatusPermanentlyFailed, 3, 0},
		{"rate limited", &gateway.Failure{Class: gateway.ClassRateLimited, RetryAfter: 5 * time.Second}, 0, ActionRetryLater, model.StatusFailed, 1, 5 * time.Second},
		{"rate limited no delay", &gateway.Failure{Class: gateway.ClassRateLimited}, 0, ActionRetryLater, model.StatusFailed, 1, time.Second},
		{"rate limited over ceiling", &gateway.Failure{Class: gateway.ClassRateLimited, RetryAfter: time.Hour}, 0, ActionGiveUp, model.StatusPermanentlyFailed, 1, 0},
		{"server", &gateway.Failure{Class: gateway.ClassServer}, 1, ActionRetryLater, model.StatusFailed, 2, 30 * time.Second},
		{"blocked", &gateway.Failure{Class: gateway.ClassRecipientBlocked}, 0, ActionDisable, model.StatusSubscriptionDisabled, 1, 0},
		{"rejected at bound", &gateway.Failure{Class: gateway.ClassClientRejected}, 2, ActionDisable, model.StatusSubscriptionDisabled, 3, 0},
		{"unknown", &gateway.Failure{Class: gateway.ClassUnknown}, 0, ActionGiveUp, model.StatusPermanentlyFailed, 1, 0},
		{"nil failure", nil, 0, ActionGiveUp, model.StatusPermanentlyFailed, 1, 0},
		{"counter capped", &gateway.Failure{Class: gateway.ClassServer}, 7, ActionGiveUp, model.StatusPermanentlyFailed, 3, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := p.Decide(tt.f, tt.prev)
			if d.Action != tt.action || d.Status != tt.status || d.RetryCount != tt.count || d.Delay != tt.delay {
				t.Fatalf("got %s/%s count=%d delay=%v", d.Action, d.Status, d.RetryCount, d.Delay)
			}
			if d.Reason == "" {
				t.Fatalf("reason must be set")
			}
		})
	}
}

func TestRetryCounterNeverExceedsMax(t *testing.T) {
	t.Parallel()
	p := Policy{MaxAttempts: 4}
	prev := 0
	for i := 0; i < 10; i++ {
		d := p.Decide(&gateway.Failure{Class: gateway.ClassTransient}, prev)
		if d.RetryCount > 4 {
			t.Fatalf("retry count %d exceeds max", d.RetryCount)
		}
		prev = d.RetryCount
		if d.Action == ActionGiveUp {
			if i != 3 {
				t.Fatalf("gave up after %d attempts, want 4", i+1)
			}
			return
		}
	}
	t.Fatalf("never gave up")
}

func TestNextAttemptAt(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d := DefaultPolicy().Decide(&gateway.Failure{Class: gateway.ClassRateLimited, RetryAfter: 5 * time.Second}, 0)
	if got := d.NextAttemptAt(now); !got.Equal(now.Add(5 * time.Second)) {
		t.Fatalf("next=%v", got)
	}
	d = DefaultPolicy().Decide(&gateway.Failure{Class: gateway.ClassTransient}, 0)
	if !d.NextAttemptAt(now).IsZero() {
		t.Fatalf("retry-now must not defer")
	}
}
