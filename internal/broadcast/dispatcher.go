package broadcast

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"newsbot/internal/gateway"
	"newsbot/internal/model"
	"newsbot/internal/retry"
)

// Limiter is satisfied by *ratelimit.Registry.
type Limiter interface {
	Acquire(ctx context.Context, recipientID int64) (time.Duration, error)
}

type Outcome string

const (
	OutcomeSent           Outcome = "sent"
	OutcomeSkipped        Outcome = "skipped"  // already sent, terminal or stale
	OutcomeDeferred       Outcome = "deferred" // earlier failure not yet due for retry
	OutcomeRetryScheduled Outcome = "retry_scheduled"
	OutcomeFailed         Outcome = "failed" // permanently_failed
	OutcomeDisabled       Outcome = "subscription_disabled"
	OutcomeError          Outcome = "error"   // storage error for this recipient
	OutcomeAborted        Outcome = "aborted" // pass cancelled or circuit open
)

// DeliveryResult is the normalized outcome of one (article, subscriber) pair
// in one pass.
type DeliveryResult struct {
	ArticleID    int64
	Revision     int
	SubscriberID int64
	RecipientID  int64

	Outcome    Outcome
	SkipReason SkipReason
	Class      gateway.Class
	// Attempts counts gateway calls made in this pass.
	Attempts      int
	RetryCount    int
	NextAttemptAt time.Time
	Waited        time.Duration
	Err           error
}

type Dispatcher struct {
	gw      gateway.Gateway
	limiter Limiter
	ledger  *Ledger
	store   Store
	policy  retry.Policy
	format  Formatter
	clock   clockwork.Clock
}

func NewDispatcher(gw gateway.Gateway, limiter Limiter, store Store, policy retry.Policy, format Formatter, clock clockwork.Clock) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Dispatcher{
		gw:      gw,
		limiter: limiter,
		ledger:  NewLedger(store),
		store:   store,
		policy:  policy,
		format:  format,
		clock:   clock,
	}
}

// Send delivers article a to sub unless the ledger says it is done or not
// yet due. Every gateway call goes through the limiter first and every
// attempt is recorded, including in-pass retries. Ledger writes outlive ctx
// cancellation so an attempt that reached the gateway is never lost.
func (d *Dispatcher) Send(ctx context.Context, a model.Article, sub model.Subscription) DeliveryResult {
	res := DeliveryResult{ArticleID: a.ID, Revision: a.Revision, SubscriberID: sub.ID, RecipientID: sub.RecipientID}
	durable := context.WithoutCancel(ctx)

	st, err := d.ledger.Check(ctx, a, sub, d.clock.Now())
	if err != nil {
		res.Outcome, res.Err = OutcomeError, err
		return res
	}
	res.RetryCount = st.PrevRetries
	switch st.Skip {
	case "":
	case SkipNotDue:
		res.Outcome, res.SkipReason = OutcomeDeferred, st.Skip
		res.NextAttemptAt = st.Delivery.NextAttemptAt
		return res
	default:
		res.Outcome, res.SkipReason = OutcomeSkipped, st.Skip
		return res
	}

	text := d.format.Format(a)
	prev := st.PrevRetries
	for {
		waited, err := d.limiter.Acquire(ctx, sub.RecipientID)
		res.Waited += waited
		if err != nil {
			res.Outcome, res.Err = OutcomeAborted, err
			return res
		}

		res.Attempts++
		sendErr := d.gw.SendMessage(ctx, sub.RecipientID, text)
		now := d.clock.Now()

		if sendErr == nil {
			applied, err := d.ledger.RecordSent(durable, a, sub, prev, now)
			switch {
			case err != nil:
				res.Outcome, res.Err = OutcomeError, err
			case !applied:
				// an overlapping pass recorded it first
				res.Outcome, res.SkipReason = OutcomeSkipped, SkipAlreadySent
			default:
				res.Outcome = OutcomeSent
			}
			res.Class = ""
			return res
		}

		f := gateway.Classify(sendErr)
		res.Class = f.Class
		res.Err = f
		if errors.Is(f, gateway.ErrCircuitOpen) {
			// nothing reached the gateway
			res.Attempts--
			res.Outcome = OutcomeAborted
			return res
		}

		dec := d.policy.Decide(f, prev)
		prev = dec.RetryCount
		res.RetryCount = dec.RetryCount
		if _, err := d.ledger.RecordFailure(durable, a, sub, dec, now); err != nil {
			res.Outcome, res.Err = OutcomeError, err
			return res
		}

		switch dec.Action {
		case retry.ActionRetryNow:
			if ctx.Err() != nil {
				res.Outcome = OutcomeAborted
				return res
			}
			continue
		case retry.ActionRetryLater:
			res.Outcome = OutcomeRetryScheduled
			res.NextAttemptAt = dec.NextAttemptAt(now)
		case retry.ActionDisable:
			if err := d.store.DisableSubscription(durable, sub.ID, string(dec.Class), now); err != nil {
				res.Outcome, res.Err = OutcomeError, err
				return res
			}
			res.Outcome = OutcomeDisabled
		default:
			res.Outcome = OutcomeFailed
		}
		return res
	}
}
