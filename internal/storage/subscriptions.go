package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"newsbot/internal/model"
	logx "newsbot/pkg/logx"
)

var subscriptionColumns = []string{
	"id", "recipient_id", "chat_type", "enabled", "confirmed", "confirm_token", "token_expires_at",
	"filter", "disabled_reason", "subscribed_at", "confirmed_at", "cancelled_at", "created_at", "updated_at",
}

func scanSubscription(r rowScanner) (model.Subscription, error) {
	var (
		sub                                  model.Subscription
		enabled, confirmed                   int
		token, reason                        sql.NullString
		filter                               string
		expires, subscribed, confirmedAt, cx sql.NullInt64
		created, upd                         int64
	)
	if err := r.Scan(&sub.ID, &sub.RecipientID, &sub.ChatType, &enabled, &confirmed, &token, &expires,
		&filter, &reason, &subscribed, &confirmedAt, &cx, &created, &upd); err != nil {
		return model.Subscription{}, err
	}
	f, err := model.UnmarshalFilter(filter)
	if err != nil {
		return model.Subscription{ID: sub.ID, RecipientID: sub.RecipientID},
			fmt.Errorf("%w: subscription %d: %v", ErrBadFilter, sub.ID, err)
	}
	sub.Enabled = enabled != 0
	sub.Confirmed = confirmed != 0
	sub.ConfirmToken = token.String
	sub.TokenExpiresAt = fromUnix(expires)
	sub.Filter = f
	sub.DisabledReason = reason.String
	sub.SubscribedAt = fromUnix(subscribed)
	sub.ConfirmedAt = fromUnix(confirmedAt)
	sub.CancelledAt = fromUnix(cx)
	sub.CreatedAt = time.Unix(created, 0).UTC()
	sub.UpdatedAt = time.Unix(upd, 0).UTC()
	return sub, nil
}

func (s *sqliteStore) GetSubscription(ctx context.Context, recipientID int64) (model.Subscription, error) {
	if s == nil || s.db == nil {
		return model.Subscription{}, ErrDisabled
	}
	q, args, err := sb.Select(subscriptionColumns...).From("subscriptions").
		Where(sq.Eq{"recipient_id": recipientID}).ToSql()
	if err != nil {
		return model.Subscription{}, err
	}
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Subscription{}, ErrNotFound
	}
	return sub, err
}

// SaveSubscription inserts sub when ID is zero, otherwise overwrites the
// mutable columns of the existing row. The stored row is returned.
func (s *sqliteStore) SaveSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error) {
	if s == nil || s.db == nil {
		return model.Subscription{}, ErrDisabled
	}
	filter, err := model.MarshalFilter(sub.Filter)
	if err != nil {
		return model.Subscription{}, err
	}
	now := sub.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}

	if sub.ID == 0 {
		created := sub.CreatedAt
		if created.IsZero() {
			created = now
		}
		q, args, err := sb.Insert("subscriptions").
			Columns("recipient_id", "chat_type", "enabled", "confirmed", "confirm_token", "token_expires_at",
				"filter", "disabled_reason", "subscribed_at", "subscribed_date", "confirmed_at", "confirmed_date",
				"cancelled_at", "created_at", "created_date", "updated_at").
			Values(sub.RecipientID, sub.ChatType, boolInt(sub.Enabled), boolInt(sub.Confirmed), nullStr(sub.ConfirmToken),
				unixOrNull(sub.TokenExpiresAt), filter, nullStr(sub.DisabledReason),
				unixOrNull(sub.SubscribedAt), s.date(sub.SubscribedAt), unixOrNull(sub.ConfirmedAt), s.date(sub.ConfirmedAt),
				unixOrNull(sub.CancelledAt), created.Unix(), s.date(created), now.Unix()).
			ToSql()
		if err != nil {
			return model.Subscription{}, err
		}
		r, err := s.db.ExecContext(ctx, q, args...)
		if err != nil {
			if isUniqueViolation(err) {
				return model.Subscription{}, ErrConflict
			}
			return model.Subscription{}, err
		}
		if sub.ID, err = r.LastInsertId(); err != nil {
			return model.Subscription{}, err
		}
		return s.GetSubscription(ctx, sub.RecipientID)
	}

	q, args, err := sb.Update("subscriptions").
		Set("chat_type", sub.ChatType).
		Set("enabled", boolInt(sub.Enabled)).
		Set("confirmed", boolInt(sub.Confirmed)).
		Set("confirm_token", nullStr(sub.ConfirmToken)).
		Set("token_expires_at", unixOrNull(sub.TokenExpiresAt)).
		Set("filter", filter).
		Set("disabled_reason", nullStr(sub.DisabledReason)).
		Set("subscribed_at", unixOrNull(sub.SubscribedAt)).
		Set("subscribed_date", s.date(sub.SubscribedAt)).
		Set("confirmed_at", unixOrNull(sub.ConfirmedAt)).
		Set("confirmed_date", s.date(sub.ConfirmedAt)).
		Set("cancelled_at", unixOrNull(sub.CancelledAt)).
		Set("updated_at", now.Unix()).
		Where(sq.Eq{"id": sub.ID}).
		ToSql()
	if err != nil {
		return model.Subscription{}, err
	}
	r, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return model.Subscription{}, err
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return model.Subscription{}, ErrNotFound
	}
	return s.GetSubscription(ctx, sub.RecipientID)
}

// ActivateSubscription confirms a pending subscription if token still matches
// and has not expired at now. It reports whether the row changed.
func (s *sqliteStore) ActivateSubscription(ctx context.Context, id int64, token string, now time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	q, args, err := sb.Update("subscriptions").
		Set("confirmed", 1).
		Set("confirm_token", nil).
		Set("token_expires_at", nil).
		Set("confirmed_at", now.Unix()).
		Set("confirmed_date", s.date(now)).
		Set("disabled_reason", nil).
		Set("updated_at", now.Unix()).
		Where(sq.Eq{"id": id, "enabled": 1, "confirmed": 0, "confirm_token": token}).
		Where(sq.Gt{"token_expires_at": now.Unix()}).
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

// DisableSubscription is idempotent: an already disabled row keeps its
// original reason and timestamp.
func (s *sqliteStore) DisableSubscription(ctx context.Context, id int64, reason string, now time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	q, args, err := sb.Update("subscriptions").
		Set("enabled", 0).
		Set("disabled_reason", nullStr(reason)).
		Set("confirm_token", nil).
		Set("token_expires_at", nil).
		Set("cancelled_at", now.Unix()).
		Set("updated_at", now.Unix()).
		Where(sq.Eq{"id": id, "enabled": 1}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

func (s *sqliteStore) ListActiveSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	return s.listSubscriptions(ctx, sq.Eq{"enabled": 1, "confirmed": 1}, 0)
}

func (s *sqliteStore) ListSubscriptions(ctx context.Context, limit int) ([]model.Subscription, error) {
	return s.listSubscriptions(ctx, nil, limit)
}

func (s *sqliteStore) listSubscriptions(ctx context.Context, pred any, limit int) ([]model.Subscription, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	b := sb.Select(subscriptionColumns...).From("subscriptions").OrderBy("id ASC")
	if pred != nil {
		b = b.Where(pred)
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if errors.Is(err, ErrBadFilter) {
			// one broken row must not hide every other subscriber
			s.log.Warn("skipping subscription with bad filter",
				logx.Int64("subscription_id", sub.ID),
				logx.Int64("recipient_id", sub.RecipientID),
				logx.Err(err),
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
