package broadcast

import (
	"context"
	"time"

	"newsbot/internal/model"
	"newsbot/internal/retry"
)

type SkipReason string

const (
	SkipAlreadySent SkipReason = "already_sent"
	SkipTerminal    SkipReason = "terminal"
	SkipNotDue      SkipReason = "not_due"
	SkipStale       SkipReason = "stale_revision"
)

// LedgerState is what the ledger knows about one (article, subscriber) pair
// before an attempt.
type LedgerState struct {
	Delivery model.Delivery
	Exists   bool
	Skip     SkipReason // empty means send
	// PrevRetries is the retry count carried into the next attempt. A row for
	// an older revision starts over at zero.
	PrevRetries int
}

// Ledger wraps the delivery table. The (article, subscriber) uniqueness and
// the sent-is-final upsert guard live in storage; the ledger decides whether
// an attempt is due.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger { return &Ledger{store: store} }

func (l *Ledger) Check(ctx context.Context, a model.Article, sub model.Subscription, now time.Time) (LedgerState, error) {
	d, ok, err := l.store.GetDelivery(ctx, a.ID, sub.ID)
	if err != nil {
		return LedgerState{}, err
	}
	st := LedgerState{Delivery: d, Exists: ok}
	if !ok {
		return st, nil
	}
	switch {
	case d.Revision > a.Revision:
		st.Skip = SkipStale
	case d.Revision < a.Revision:
		// content changed since; the new revision is a fresh delivery
	case d.Status == model.StatusSent:
		st.Skip = SkipAlreadySent
	case d.Status == model.StatusPermanentlyFailed:
		st.Skip = SkipTerminal
	case d.Status == model.StatusSubscriptionDisabled:
		// The selector only hands out active subscriptions, so the recipient
		// has re-subscribed since it was disabled. Start over.
	case !d.NextAttemptAt.IsZero() && now.Before(d.NextAttemptAt):
		st.Skip = SkipNotDue
		st.PrevRetries = d.RetryCount
	default:
		st.PrevRetries = d.RetryCount
	}
	return st, nil
}

func (l *Ledger) RecordSent(ctx context.Context, a model.Article, sub model.Subscription, retries int, now time.Time) (bool, error) {
	return l.store.RecordDelivery(ctx, model.DeliveryAttempt{
		ArticleID:    a.ID,
		SubscriberID: sub.ID,
		Revision:     a.Revision,
		Status:       model.StatusSent,
		RetryCount:   retries,
		At:           now,
	})
}

func (l *Ledger) RecordFailure(ctx context.Context, a model.Article, sub model.Subscription, d retry.Decision, now time.Time) (bool, error) {
	return l.store.RecordDelivery(ctx, model.DeliveryAttempt{
		ArticleID:     a.ID,
		SubscriberID:  sub.ID,
		Revision:      a.Revision,
		Status:        d.Status,
		RetryCount:    d.RetryCount,
		LastError:     d.Reason,
		ErrorClass:    string(d.Class),
		NextAttemptAt: d.NextAttemptAt(now),
		At:            now,
	})
}
