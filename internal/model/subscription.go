package model

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// SubscriptionState is the derived lifecycle state of a subscription.
type SubscriptionState string

const (
	StateNone      SubscriptionState = "none"
	StatePending   SubscriptionState = "pending"
	StateExpired   SubscriptionState = "expired"
	StateActive    SubscriptionState = "active"
	StateCancelled SubscriptionState = "cancelled"
)

// Subscription is one recipient (user or group chat) of broadcasts.
//
// Enabled is the soft-delete flag and Confirmed the activation flag. Rows
// are never deleted; unsubscribing or a gateway-side rejection only clears
// Enabled.
type Subscription struct {
	ID          int64
	RecipientID int64
	ChatType    string
	Enabled     bool
	Confirmed   bool

	ConfirmToken   string
	TokenExpiresAt time.Time

	Filter         Filter
	DisabledReason string

	SubscribedAt time.Time
	ConfirmedAt  time.Time
	CancelledAt  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// State derives the lifecycle state at now.
func (s Subscription) State(now time.Time) SubscriptionState {
	switch {
	case s.ID == 0 && s.RecipientID == 0:
		return StateNone
	case !s.Enabled:
		return StateCancelled
	case s.Confirmed:
		return StateActive
	case s.ConfirmToken == "" || !now.Before(s.TokenExpiresAt):
		return StateExpired
	default:
		return StatePending
	}
}

// Eligible reports whether the subscription may receive an article from source.
func (s Subscription) Eligible(source string) bool {
	return s.Enabled && s.Confirmed && s.Filter.Match(source)
}

// Filter restricts which articles a subscription receives.
// An empty filter accepts everything.
type Filter struct {
	Sources []string `json:"sources,omitempty"`
}

// NewFilter builds a normalized filter from raw source tags.
func NewFilter(sources ...string) Filter {
	seen := make(map[string]struct{}, len(sources))
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		for _, part := range strings.Split(s, ",") {
			n := NormalizeSource(part)
			if n == "" {
				continue
			}
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return Filter{Sources: out}
}

func (f Filter) IsEmpty() bool { return len(f.Sources) == 0 }

// Match reports whether source passes the filter. Comparison ignores case
// and surrounding whitespace.
func (f Filter) Match(source string) bool {
	if f.IsEmpty() {
		return true
	}
	src := NormalizeSource(source)
	for _, s := range f.Sources {
		if NormalizeSource(s) == src {
			return true
		}
	}
	return false
}

func (f Filter) String() string {
	if f.IsEmpty() {
		return "*"
	}
	return strings.Join(f.Sources, ",")
}

// MarshalFilter encodes f for storage. Empty filters are stored as "".
func MarshalFilter(f Filter) (string, error) {
	if f.IsEmpty() {
		return "", nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalFilter decodes a stored filter. "" and "null" mean accept-all.
func UnmarshalFilter(raw string) (Filter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" || raw == "{}" {
		return Filter{}, nil
	}
	var f Filter
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return Filter{}, err
	}
	return NewFilter(f.Sources...), nil
}
