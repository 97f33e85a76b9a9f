package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	logx "newsbot/pkg/logx"
)

func (s *sqliteStore) Stats(ctx context.Context) (Stats, error) {
	if s == nil || s.db == nil {
		return Stats{}, ErrDisabled
	}
	st := Stats{DeliveriesStatus: map[string]int64{}}

	counts := []struct {
		dst *int64
		b   sq.SelectBuilder
	}{
		{&st.Articles, sb.Select("COUNT(*)").From("articles")},
		{&st.PendingArticles, sb.Select("COUNT(*)").From("articles").Where(sq.Eq{"published": 0})},
		{&st.PublishedArticles, sb.Select("COUNT(*)").From("articles").Where(sq.Eq{"published": 1})},
		{&st.Subscriptions, sb.Select("COUNT(*)").From("subscriptions")},
		{&st.ActiveSubs, sb.Select("COUNT(*)").From("subscriptions").Where(sq.Eq{"enabled": 1, "confirmed": 1})},
		{&st.PendingSubs, sb.Select("COUNT(*)").From("subscriptions").Where(sq.Eq{"enabled": 1, "confirmed": 0})},
		{&st.DisabledSubs, sb.Select("COUNT(*)").From("subscriptions").Where(sq.Eq{"enabled": 0})},
		{&st.Deliveries, sb.Select("COUNT(*)").From("deliveries")},
	}
	for _, c := range counts {
		q, args, err := c.b.ToSql()
		if err != nil {
			return Stats{}, err
		}
		if err := s.db.QueryRowContext(ctx, q, args...).Scan(c.dst); err != nil {
			return Stats{}, err
		}
	}

	q, args, err := sb.Select("status", "COUNT(*)").From("deliveries").GroupBy("status").ToSql()
	if err != nil {
		return Stats{}, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, err
		}
		st.DeliveriesStatus[status] = n
	}
	return st, rows.Err()
}

// Truncate deletes every row of the given tables in one transaction.
// Deliveries are always cleared before their parents. With resetSequences the
// AUTOINCREMENT counters restart at 1.
func (s *sqliteStore) Truncate(ctx context.Context, tables []Table, resetSequences bool) (map[Table]int64, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	want := map[Table]bool{}
	for _, t := range tables {
		want[t] = true
	}
	out := map[Table]int64{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range AllTables {
			if !want[t] {
				continue
			}
			r, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", t))
			if err != nil {
				return fmt.Errorf("truncate %s: %w", t, err)
			}
			n, _ := r.RowsAffected()
			out[t] = n
			if resetSequences {
				q, args, err := sb.Delete("sqlite_sequence").Where(sq.Eq{"name": string(t)}).ToSql()
				if err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx, q, args...); err != nil {
					return fmt.Errorf("reset sequence %s: %w", t, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for t, n := range out {
		s.log.Info("table truncated", logx.String("table", string(t)), logx.Int64("rows", n), logx.Bool("reset_seq", resetSequences))
	}
	return out, nil
}
