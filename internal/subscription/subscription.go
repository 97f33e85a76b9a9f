// Package subscription implements the confirmation state machine:
//
//	none -> pending -> active
//	pending|active -> cancelled -> pending (re-subscribe)
//	pending -> expired (time based; re-subscribe issues a new token)
//
// Rows are never deleted. Every transition stamps updated_at.
package subscription

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"newsbot/internal/model"
	"newsbot/internal/storage"
)

var (
	ErrInvalidRecipient = errors.New("subscription: invalid recipient")
	ErrNotFound         = errors.New("subscription: not found")
	ErrNotPending       = errors.New("subscription: no confirmation pending")
	ErrTokenMismatch    = errors.New("subscription: token mismatch")
	ErrTokenExpired     = errors.New("subscription: token expired")
)

// Store is the slice of storage.Store the state machine needs.
type Store interface {
	GetSubscription(ctx context.Context, recipientID int64) (model.Subscription, error)
	SaveSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error)
	ActivateSubscription(ctx context.Context, id int64, token string, now time.Time) (bool, error)
	DisableSubscription(ctx context.Context, id int64, reason string, now time.Time) error
}

type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeReissued         Outcome = "reissued"
	OutcomeResubscribed     Outcome = "resubscribed"
	OutcomeAlreadyActive    Outcome = "already_active"
	OutcomeConfirmed        Outcome = "confirmed"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeAlreadyCancelled Outcome = "already_cancelled"
)

// ReasonUnsubscribed is stored as disabled_reason on a user-initiated cancel.
const ReasonUnsubscribed = "unsubscribed"

type Config struct {
	// TokenTTL is the confirmation window. 0 means 10 minutes.
	TokenTTL time.Duration
}

type Request struct {
	RecipientID int64
	ChatType    string
	// Filter replaces the stored filter when non-nil.
	Filter *model.Filter
}

type Result struct {
	Outcome      Outcome
	Subscription model.Subscription
	// Token and ExpiresAt are set when a new token was issued.
	Token     string
	ExpiresAt time.Time
}

type Service struct {
	store    Store
	clock    clockwork.Clock
	ttl      time.Duration
	newToken func() string
}

type Option func(*Service)

// WithTokenSource overrides token generation.
func WithTokenSource(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newToken = fn
		}
	}
}

func New(store Store, cfg Config, clock clockwork.Clock, opts ...Option) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	s := &Service{store: store, clock: clock, ttl: ttl, newToken: uuid.NewString}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply updates the token window for future requests.
func (s *Service) Apply(cfg Config) {
	if cfg.TokenTTL > 0 {
		s.ttl = cfg.TokenTTL
	}
}

func (s *Service) get(ctx context.Context, recipientID int64) (model.Subscription, bool, error) {
	sub, err := s.store.GetSubscription(ctx, recipientID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Subscription{}, false, nil
	}
	if err != nil {
		return model.Subscription{}, false, err
	}
	return sub, true, nil
}

// Subscribe creates a pending subscription or moves an existing one forward:
// pending/expired get a fresh token, cancelled goes back to pending, active
// is left as is (only the filter may change).
func (s *Service) Subscribe(ctx context.Context, req Request) (Result, error) {
	if req.RecipientID == 0 {
		return Result{}, ErrInvalidRecipient
	}
	now := s.clock.Now()
	sub, found, err := s.get(ctx, req.RecipientID)
	if err != nil {
		return Result{}, err
	}

	var outcome Outcome
	switch {
	case !found:
		outcome = OutcomeCreated
		sub = model.Subscription{RecipientID: req.RecipientID, Enabled: true, CreatedAt: now}
		sub.SubscribedAt = now
	case sub.State(now) == model.StateActive:
		if req.Filter == nil || filterEqual(*req.Filter, sub.Filter) {
			return Result{Outcome: OutcomeAlreadyActive, Subscription: sub}, nil
		}
		sub.Filter = *req.Filter
		sub.UpdatedAt = now
		saved, err := s.store.SaveSubscription(ctx, sub)
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeAlreadyActive, Subscription: saved}, nil
	case sub.State(now) == model.StateCancelled:
		outcome = OutcomeResubscribed
		sub.Enabled = true
		sub.Confirmed = false
		sub.DisabledReason = ""
		sub.CancelledAt = time.Time{}
		sub.ConfirmedAt = time.Time{}
		sub.SubscribedAt = now
	default:
		outcome = OutcomeReissued
	}

	if strings.TrimSpace(req.ChatType) != "" {
		sub.ChatType = req.ChatType
	}
	if req.Filter != nil {
		sub.Filter = *req.Filter
	}
	sub.ConfirmToken = s.newToken()
	sub.TokenExpiresAt = now.Add(s.ttl)
	sub.UpdatedAt = now

	saved, err := s.store.SaveSubscription(ctx, sub)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: outcome, Subscription: saved, Token: sub.ConfirmToken, ExpiresAt: sub.TokenExpiresAt}, nil
}

// Confirm activates a pending subscription. Confirming an active one reports
// OutcomeAlreadyActive without error. A rejected token leaves the row as is.
func (s *Service) Confirm(ctx context.Context, recipientID int64, token string) (Result, error) {
	if recipientID == 0 {
		return Result{}, ErrInvalidRecipient
	}
	now := s.clock.Now()
	sub, found, err := s.get(ctx, recipientID)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{}, ErrNotFound
	}

	switch sub.State(now) {
	case model.StateActive:
		return Result{Outcome: OutcomeAlreadyActive, Subscription: sub}, nil
	case model.StateCancelled:
		return Result{Subscription: sub}, ErrNotPending
	case model.StateExpired:
		return Result{Subscription: sub}, ErrTokenExpired
	}

	token = strings.TrimSpace(token)
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(sub.ConfirmToken)) != 1 {
		return Result{Subscription: sub}, ErrTokenMismatch
	}
	ok, err := s.store.ActivateSubscription(ctx, sub.ID, token, now)
	if err != nil {
		return Result{}, err
	}
	cur, _, err := s.get(ctx, recipientID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		// Lost a race with another confirm, a reissue or the expiry.
		if cur.State(now) == model.StateActive {
			return Result{Outcome: OutcomeAlreadyActive, Subscription: cur}, nil
		}
		return Result{Subscription: cur}, ErrTokenExpired
	}
	return Result{Outcome: OutcomeConfirmed, Subscription: cur}, nil
}

// Unsubscribe cancels the subscription in any state. The row is kept.
func (s *Service) Unsubscribe(ctx context.Context, recipientID int64) (Result, error) {
	if recipientID == 0 {
		return Result{}, ErrInvalidRecipient
	}
	now := s.clock.Now()
	sub, found, err := s.get(ctx, recipientID)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{}, ErrNotFound
	}
	if !sub.Enabled {
		return Result{Outcome: OutcomeAlreadyCancelled, Subscription: sub}, nil
	}
	if err := s.store.DisableSubscription(ctx, sub.ID, ReasonUnsubscribed, now); err != nil {
		return Result{}, err
	}
	cur, _, err := s.get(ctx, recipientID)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeCancelled, Subscription: cur}, nil
}

// Status returns the stored subscription and its state at the current time.
// An unknown recipient is StateNone with no error.
func (s *Service) Status(ctx context.Context, recipientID int64) (model.Subscription, model.SubscriptionState, error) {
	sub, found, err := s.get(ctx, recipientID)
	if err != nil {
		return model.Subscription{}, model.StateNone, err
	}
	if !found {
		return model.Subscription{}, model.StateNone, nil
	}
	return sub, sub.State(s.clock.Now()), nil
}

func filterEqual(a, b model.Filter) bool {
	if len(a.Sources) != len(b.Sources) {
		return false
	}
	for i := range a.Sources {
		if a.Sources[i] != b.Sources[i] {
			return false
		}
	}
	return true
}
