package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"newsbot/internal/model"
	logx "newsbot/pkg/logx"
)

// Store is the persistence API used by the broadcast engine, the subscription
// state machine, ingestion and the maintenance CLI.
type Store interface {
	// articles
	UpsertArticle(ctx context.Context, in model.ArticleInput) (model.UpsertResult, error)
	GetArticle(ctx context.Context, id int64) (model.Article, error)
	GetArticleByURL(ctx context.Context, url string) (model.Article, error)
	ListPendingArticles(ctx context.Context, now time.Time, after model.ArticleCursor, limit int) ([]model.Article, error)
	NoteArticleAttempt(ctx context.Context, id int64, lastError string, now time.Time) error
	MarkArticlePublished(ctx context.Context, id int64, revision int, now time.Time) (bool, error)

	// subscriptions
	GetSubscription(ctx context.Context, recipientID int64) (model.Subscription, error)
	SaveSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error)
	ActivateSubscription(ctx context.Context, id int64, token string, now time.Time) (bool, error)
	DisableSubscription(ctx context.Context, id int64, reason string, now time.Time) error
	ListActiveSubscriptions(ctx context.Context) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, limit int) ([]model.Subscription, error)

	// delivery ledger
	GetDelivery(ctx context.Context, articleID, subscriberID int64) (model.Delivery, bool, error)
	RecordDelivery(ctx context.Context, a model.DeliveryAttempt) (bool, error)
	SentSubscriberIDs(ctx context.Context, articleID int64, revision int) (map[int64]struct{}, error)
	DeliveryStatuses(ctx context.Context, articleID int64, revision int) (map[int64]model.DeliveryStatus, error)
	ListDeliveries(ctx context.Context, articleID int64) ([]model.Delivery, error)

	// maintenance
	Stats(ctx context.Context) (Stats, error)
	Truncate(ctx context.Context, tables []Table, resetSequences bool) (map[Table]int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open initializes the configured store.
// It returns ErrDisabled if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, ErrDisabled
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
