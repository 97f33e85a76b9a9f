package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"newsbot/internal/model"
)

var deliveryColumns = []string{
	"id", "article_id", "subscriber_id", "revision", "status", "retry_count", "last_error", "error_class",
	"next_attempt_at", "created_at", "last_attempt_at", "sent_at",
}

// A stored row is only overwritten by a newer revision, or by the same
// revision while it is not yet sent. This keeps "sent" sticky per revision.
const deliveryUpsertSuffix = `ON CONFLICT(article_id, subscriber_id) DO UPDATE SET
  revision = excluded.revision,
  status = excluded.status,
  retry_count = excluded.retry_count,
  last_error = excluded.last_error,
  error_class = excluded.error_class,
  next_attempt_at = excluded.next_attempt_at,
  last_attempt_at = excluded.last_attempt_at,
  sent_at = excluded.sent_at,
  sent_date = excluded.sent_date
WHERE deliveries.revision < excluded.revision
   OR (deliveries.revision = excluded.revision AND deliveries.status <> 'sent')`

func scanDelivery(r rowScanner) (model.Delivery, error) {
	var (
		d                       model.Delivery
		status                  string
		lastErr, class          sql.NullString
		next, lastAttempt, sent sql.NullInt64
		created                 int64
	)
	if err := r.Scan(&d.ID, &d.ArticleID, &d.SubscriberID, &d.Revision, &status, &d.RetryCount, &lastErr, &class,
		&next, &created, &lastAttempt, &sent); err != nil {
		return model.Delivery{}, err
	}
	d.Status = model.DeliveryStatus(status)
	d.LastError = lastErr.String
	d.ErrorClass = class.String
	d.NextAttemptAt = fromUnix(next)
	d.CreatedAt = time.Unix(created, 0).UTC()
	d.LastAttemptAt = fromUnix(lastAttempt)
	d.SentAt = fromUnix(sent)
	return d, nil
}

func (s *sqliteStore) GetDelivery(ctx context.Context, articleID, subscriberID int64) (model.Delivery, bool, error) {
	if s == nil || s.db == nil {
		return model.Delivery{}, false, ErrDisabled
	}
	q, args, err := sb.Select(deliveryColumns...).From("deliveries").
		Where(sq.Eq{"article_id": articleID, "subscriber_id": subscriberID}).ToSql()
	if err != nil {
		return model.Delivery{}, false, err
	}
	d, err := scanDelivery(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Delivery{}, false, nil
	}
	if err != nil {
		return model.Delivery{}, false, err
	}
	return d, true, nil
}

// RecordDelivery upserts the ledger row for (article, subscriber). It reports
// false when the stored row was left untouched (already sent at this or a
// newer revision).
func (s *sqliteStore) RecordDelivery(ctx context.Context, a model.DeliveryAttempt) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	switch a.Status {
	case model.StatusSent, model.StatusFailed, model.StatusPermanentlyFailed, model.StatusSubscriptionDisabled:
	default:
		return false, fmt.Errorf("invalid delivery status %q", a.Status)
	}
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}
	rev := a.Revision
	if rev <= 0 {
		rev = 1
	}

	var (
		sentAt, sentDate, next any
		lastErr, class         any
	)
	if a.Status == model.StatusSent {
		sentAt, sentDate = at.Unix(), s.date(at)
	} else {
		lastErr, class = nullStr(a.LastError), nullStr(a.ErrorClass)
		next = unixOrNull(a.NextAttemptAt)
	}

	q, args, err := sb.Insert("deliveries").
		Columns("article_id", "subscriber_id", "revision", "status", "retry_count", "last_error", "error_class",
			"next_attempt_at", "created_at", "created_date", "last_attempt_at", "sent_at", "sent_date").
		Values(a.ArticleID, a.SubscriberID, rev, string(a.Status), a.RetryCount, lastErr, class,
			next, at.Unix(), s.date(at), at.Unix(), sentAt, sentDate).
		Suffix(deliveryUpsertSuffix).
		ToSql()
	if err != nil {
		return false, err
	}
	r, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := r.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) SentSubscriberIDs(ctx context.Context, articleID int64, revision int) (map[int64]struct{}, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q, args, err := sb.Select("subscriber_id").From("deliveries").
		Where(sq.Eq{"article_id": articleID, "revision": revision, "status": string(model.StatusSent)}).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]struct{}{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// DeliveryStatuses maps subscriber id to delivery status for one article
// revision. Rows left over from older revisions are not included.
func (s *sqliteStore) DeliveryStatuses(ctx context.Context, articleID int64, revision int) (map[int64]model.DeliveryStatus, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q, args, err := sb.Select("subscriber_id", "status").From("deliveries").
		Where(sq.Eq{"article_id": articleID, "revision": revision}).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]model.DeliveryStatus{}
	for rows.Next() {
		var (
			id     int64
			status string
		)
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		out[id] = model.DeliveryStatus(status)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListDeliveries(ctx context.Context, articleID int64) ([]model.Delivery, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q, args, err := sb.Select(deliveryColumns...).From("deliveries").
		Where(sq.Eq{"article_id": articleID}).OrderBy("subscriber_id ASC").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
