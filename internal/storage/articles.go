package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"newsbot/internal/model"
)

var articleColumns = []string{
	"id", "url", "title", "body", "source", "content_hash", "revision",
	"publish_at", "published", "published_at", "attempt_count", "last_error",
	"created_at", "updated_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(r rowScanner) (model.Article, error) {
	var (
		a                       model.Article
		publishAt, created, upd int64
		published               int
		publishedAt             sql.NullInt64
		lastErr                 sql.NullString
	)
	if err := r.Scan(&a.ID, &a.URL, &a.Title, &a.Body, &a.Source, &a.ContentHash, &a.Revision,
		&publishAt, &published, &publishedAt, &a.AttemptCount, &lastErr, &created, &upd); err != nil {
		return model.Article{}, err
	}
	a.PublishAt = time.Unix(publishAt, 0).UTC()
	a.Published = published != 0
	a.PublishedAt = fromUnix(publishedAt)
	a.LastError = lastErr.String
	a.CreatedAt = time.Unix(created, 0).UTC()
	a.UpdatedAt = time.Unix(upd, 0).UTC()
	return a, nil
}

// UpsertArticle inserts a new article or, when the content hash differs from
// the stored one, bumps the revision and reopens it for delivery.
func (s *sqliteStore) UpsertArticle(ctx context.Context, in model.ArticleInput) (model.UpsertResult, error) {
	if s == nil || s.db == nil {
		return model.UpsertResult{}, ErrDisabled
	}
	url := strings.TrimSpace(in.URL)
	if url == "" {
		return model.UpsertResult{}, errors.New("article url is required")
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	publishAt := in.PublishAt
	if publishAt.IsZero() {
		publishAt = now
	}
	hash := in.ContentHash()
	source := model.NormalizeSource(in.Source)

	var res model.UpsertResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		q, args, err := sb.Select("id", "content_hash", "revision").From("articles").Where(sq.Eq{"url": url}).ToSql()
		if err != nil {
			return err
		}
		var (
			id      int64
			oldHash string
			rev     int
		)
		err = tx.QueryRowContext(ctx, q, args...).Scan(&id, &oldHash, &rev)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			q, args, err = sb.Insert("articles").
				Columns("url", "title", "body", "source", "content_hash", "revision",
					"publish_at", "publish_date", "published", "created_at", "created_date", "updated_at").
				Values(url, in.Title, in.Body, source, hash, 1,
					publishAt.Unix(), s.date(publishAt), 0, now.Unix(), s.date(now), now.Unix()).
				ToSql()
			if err != nil {
				return err
			}
			r, err := tx.ExecContext(ctx, q, args...)
			if err != nil {
				return err
			}
			if res.ID, err = r.LastInsertId(); err != nil {
				return err
			}
			res.Revision = 1
			res.Created = true
			return nil
		case err != nil:
			return err
		}

		res.ID = id
		res.Revision = rev
		if oldHash == hash {
			return nil
		}
		q, args, err = sb.Update("articles").
			Set("title", in.Title).
			Set("body", in.Body).
			Set("source", source).
			Set("content_hash", hash).
			Set("revision", sq.Expr("revision + 1")).
			Set("published", 0).
			Set("published_at", nil).
			Set("published_date", nil).
			Set("attempt_count", 0).
			Set("last_error", nil).
			Set("updated_at", now.Unix()).
			Where(sq.Eq{"id": id}).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return err
		}
		res.Revision = rev + 1
		res.Reopened = true
		return nil
	})
	if err != nil {
		return model.UpsertResult{}, err
	}
	return res, nil
}

func (s *sqliteStore) getArticleWhere(ctx context.Context, pred any) (model.Article, error) {
	if s == nil || s.db == nil {
		return model.Article{}, ErrDisabled
	}
	q, args, err := sb.Select(articleColumns...).From("articles").Where(pred).ToSql()
	if err != nil {
		return model.Article{}, err
	}
	a, err := scanArticle(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Article{}, ErrNotFound
	}
	return a, err
}

func (s *sqliteStore) GetArticle(ctx context.Context, id int64) (model.Article, error) {
	return s.getArticleWhere(ctx, sq.Eq{"id": id})
}

func (s *sqliteStore) GetArticleByURL(ctx context.Context, url string) (model.Article, error) {
	return s.getArticleWhere(ctx, sq.Eq{"url": strings.TrimSpace(url)})
}

// ListPendingArticles returns unpublished articles whose publish time has
// passed, oldest first, starting after the cursor.
func (s *sqliteStore) ListPendingArticles(ctx context.Context, now time.Time, after model.ArticleCursor, limit int) ([]model.Article, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	b := sb.Select(articleColumns...).From("articles").
		Where(sq.Eq{"published": 0}).
		Where(sq.LtOrEq{"publish_at": now.Unix()}).
		OrderBy("publish_at ASC", "id ASC")
	if !after.IsZero() {
		at := after.PublishAt.Unix()
		b = b.Where(sq.Or{
			sq.Gt{"publish_at": at},
			sq.And{sq.Eq{"publish_at": at}, sq.Gt{"id": after.ID}},
		})
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

	var out []model.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) NoteArticleAttempt(ctx context.Context, id int64, lastError string, now time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	q, args, err := sb.Update("articles").
		Set("attempt_count", sq.Expr("attempt_count + 1")).
		Set("last_error", nullStr(lastError)).
		Set("updated_at", now.Unix()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

// MarkArticlePublished flips published for the given revision only. It
// reports false when the article was already published or has moved on to a
// newer revision.
func (s *sqliteStore) MarkArticlePublished(ctx context.Context, id int64, revision int, now time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	q, args, err := sb.Update("articles").
		Set("published", 1).
		Set("published_at", now.Unix()).
		Set("published_date", s.date(now)).
		Set("last_error", nil).
		Set("updated_at", now.Unix()).
		Where(sq.Eq{"id": id, "revision": revision, "published": 0}).
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
