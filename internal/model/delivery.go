package model

import "time"

type DeliveryStatus string

const (
	StatusSent                 DeliveryStatus = "sent"
	StatusFailed               DeliveryStatus = "failed"
	StatusPermanentlyFailed    DeliveryStatus = "permanently_failed"
	StatusSubscriptionDisabled DeliveryStatus = "subscription_disabled"
)

// Terminal reports whether no further attempts are made for the row's revision.
func (s DeliveryStatus) Terminal() bool {
	switch s {
	case StatusSent, StatusPermanentlyFailed, StatusSubscriptionDisabled:
		return true
	default:
		return false
	}
}

// Delivery is the ledger row for one (article, subscriber) pair.
type Delivery struct {
	ID           int64
	ArticleID    int64
	SubscriberID int64
	Revision     int
	Status       DeliveryStatus
	RetryCount   int
	LastError    string
	ErrorClass   string

	NextAttemptAt time.Time
	CreatedAt     time.Time
	LastAttemptAt time.Time
	SentAt        time.Time
}

// DeliveryAttempt is one recorded outcome written to the ledger.
type DeliveryAttempt struct {
	ArticleID     int64
	SubscriberID  int64
	Revision      int
	Status        DeliveryStatus
	RetryCount    int
	LastError     string
	ErrorClass    string
	NextAttemptAt time.Time
	At            time.Time
}
