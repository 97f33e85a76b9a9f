// Package broadcast runs delivery passes: it selects unpublished articles and
// their eligible subscribers, sends one message per (article, subscriber)
// through the rate limiter and gateway, records every attempt in the delivery
// ledger, and publishes an article once every eligible subscriber has it.
//
// The package does not log. RunPass returns PassStats with one
// DeliveryResult per recipient considered; callers decide what to record.
package broadcast

import (
	"context"
	"time"

	"newsbot/internal/model"
)

// Store is the persistence the engine needs. storage.Store satisfies it.
type Store interface {
	ListPendingArticles(ctx context.Context, now time.Time, after model.ArticleCursor, limit int) ([]model.Article, error)
	NoteArticleAttempt(ctx context.Context, id int64, lastError string, now time.Time) error
	MarkArticlePublished(ctx context.Context, id int64, revision int, now time.Time) (bool, error)

	ListActiveSubscriptions(ctx context.Context) ([]model.Subscription, error)
	DisableSubscription(ctx context.Context, id int64, reason string, now time.Time) error

	GetDelivery(ctx context.Context, articleID, subscriberID int64) (model.Delivery, bool, error)
	RecordDelivery(ctx context.Context, a model.DeliveryAttempt) (bool, error)
	SentSubscriberIDs(ctx context.Context, articleID int64, revision int) (map[int64]struct{}, error)
	DeliveryStatuses(ctx context.Context, articleID int64, revision int) (map[int64]model.DeliveryStatus, error)

	Ping(ctx context.Context) error
}
