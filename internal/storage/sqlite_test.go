package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"newsbot/internal/model"
	logx "newsbot/pkg/logx"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "news.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedActive(t *testing.T, st Store, recipient int64, filter model.Filter) model.Subscription {
	t.Helper()
	sub, err := st.SaveSubscription(context.Background(), model.Subscription{
		RecipientID:  recipient,
		ChatType:     "private",
		Enabled:      true,
		Confirmed:    true,
		Filter:       filter,
		SubscribedAt: t0,
		ConfirmedAt:  t0,
		UpdatedAt:    t0,
	})
	require.NoError(t, err)
	return sub
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "none"}, logx.Nop())
	require.ErrorIs(t, err, ErrDisabled)
	_, err = Open(Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err)
}

func TestUpsertArticleRevisions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	in := model.ArticleInput{URL: "https://example.com/a", Title: "A", Body: "body", Source: "Wire", PublishAt: t0, Now: t0}
	res, err := st.UpsertArticle(ctx, in)
	require.NoError(t, err)
	require.True(t, res.Created)
	require.Equal(t, 1, res.Revision)

	res, err = st.UpsertArticle(ctx, in)
	require.NoError(t, err)
	require.True(t, res.Unchanged())
	require.Equal(t, 1, res.Revision)

	ok, err := st.MarkArticlePublished(ctx, res.ID, 1, t0)
	require.NoError(t, err)
	require.True(t, ok)

	in.Body = "corrected body"
	in.Now = t0.Add(time.Hour)
	res, err = st.UpsertArticle(ctx, in)
	require.NoError(t, err)
	require.True(t, res.Reopened)
	require.Equal(t, 2, res.Revision)

	a, err := st.GetArticle(ctx, res.ID)
	require.NoError(t, err)
	require.False(t, a.Published)
	require.Equal(t, "wire", a.Source)
	require.Equal(t, "corrected body", a.Body)
	require.True(t, a.PublishAt.Equal(t0))

	ok, err = st.MarkArticlePublished(ctx, res.ID, 1, t0)
	require.NoError(t, err)
	require.False(t, ok, "stale revision must not publish")
}

func TestListPendingArticlesOrderAndSchedule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	for i, off := range []time.Duration{2 * time.Minute, 0, time.Hour} {
		_, err := st.UpsertArticle(ctx, model.ArticleInput{
			URL:       "https://example.com/" + string(rune('a'+i)),
			Title:     "t",
			PublishAt: t0.Add(off),
			Now:       t0,
		})
		require.NoError(t, err)
	}
	got, err := st.ListPendingArticles(ctx, t0.Add(5*time.Minute), model.ArticleCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "https://example.com/b", got[0].URL)
	require.Equal(t, "https://example.com/a", got[1].URL)

	require.NoError(t, st.NoteArticleAttempt(ctx, got[0].ID, "2 failed", t0))
	a, err := st.GetArticle(ctx, got[0].ID)
	require.NoError(t, err)
	require.Equal(t, 1, a.AttemptCount)
	require.Equal(t, "2 failed", a.LastError)
}

func TestSubscriptionLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	_, err := st.GetSubscription(ctx, 100)
	require.ErrorIs(t, err, ErrNotFound)

	sub, err := st.SaveSubscription(ctx, model.Subscription{
		RecipientID:    100,
		ChatType:       "private",
		Enabled:        true,
		ConfirmToken:   "tok",
		TokenExpiresAt: t0.Add(10 * time.Minute),
		Filter:         model.NewFilter("wire, Desk"),
		SubscribedAt:   t0,
		UpdatedAt:      t0,
	})
	require.NoError(t, err)
	require.NotZero(t, sub.ID)
	require.Equal(t, model.StatePending, sub.State(t0))
	require.Equal(t, []string{"desk", "wire"}, sub.Filter.Sources)

	_, err = st.SaveSubscription(ctx, model.Subscription{RecipientID: 100, Enabled: true, UpdatedAt: t0})
	require.ErrorIs(t, err, ErrConflict)

	ok, err := st.ActivateSubscription(ctx, sub.ID, "wrong", t0)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = st.ActivateSubscription(ctx, sub.ID, "tok", t0.Add(10*time.Minute))
	require.NoError(t, err)
	require.False(t, ok, "expired token must not activate")
	ok, err = st.ActivateSubscription(ctx, sub.ID, "tok", t0.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	active, err := st.ListActiveSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Empty(t, active[0].ConfirmToken)

	require.NoError(t, st.DisableSubscription(ctx, sub.ID, "blocked", t0.Add(time.Hour)))
	require.NoError(t, st.DisableSubscription(ctx, sub.ID, "again", t0.Add(2*time.Hour)))
	got, err := st.GetSubscription(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, model.StateCancelled, got.State(t0))
	require.Equal(t, "blocked", got.DisabledReason)

	active, err = st.ListActiveSubscriptions(ctx)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestListActiveSubscriptionsSkipsBadFilter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	good := seedActive(t, st, 1, model.Filter{})
	bad := seedActive(t, st, 2, model.NewFilter("wire"))

	_, err := st.(*sqliteStore).db.ExecContext(ctx, "UPDATE subscriptions SET filter = '{not json' WHERE id = ?", bad.ID)
	require.NoError(t, err)

	active, err := st.ListActiveSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, good.ID, active[0].ID)

	all, err := st.ListSubscriptions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)

	_, err = st.GetSubscription(ctx, 2)
	require.ErrorIs(t, err, ErrBadFilter)
}

func TestListPendingArticlesAfterCursor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	for _, u := range []string{"a", "b", "c"} {
		_, err := st.UpsertArticle(ctx, model.ArticleInput{URL: "https://example.com/" + u, Title: u, PublishAt: t0, Now: t0})
		require.NoError(t, err)
	}

	first, err := st.ListPendingArticles(ctx, t0, model.ArticleCursor{}, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	rest, err := st.ListPendingArticles(ctx, t0, first[1].Cursor(), 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, "https://example.com/c", rest[0].URL)
}

func TestDeliveryStatusesByRevision(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	res, err := st.UpsertArticle(ctx, model.ArticleInput{URL: "https://example.com/s", Title: "s", Now: t0})
	require.NoError(t, err)
	s1 := seedActive(t, st, 1, model.Filter{})
	s2 := seedActive(t, st, 2, model.Filter{})

	_, err = st.RecordDelivery(ctx, model.DeliveryAttempt{ArticleID: res.ID, SubscriberID: s1.ID, Revision: 1, Status: model.StatusSent, At: t0})
	require.NoError(t, err)
	_, err = st.RecordDelivery(ctx, model.DeliveryAttempt{ArticleID: res.ID, SubscriberID: s2.ID, Revision: 1, Status: model.StatusPermanentlyFailed, RetryCount: 3, At: t0})
	require.NoError(t, err)

	got, err := st.DeliveryStatuses(ctx, res.ID, 1)
	require.NoError(t, err)
	require.Equal(t, map[int64]model.DeliveryStatus{
		s1.ID: model.StatusSent,
		s2.ID: model.StatusPermanentlyFailed,
	}, got)

	got, err = st.DeliveryStatuses(ctx, res.ID, 2)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestRecordDeliveryKeepsSentSticky(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	res, err := st.UpsertArticle(ctx, model.ArticleInput{URL: "https://example.com/x", Title: "x", Now: t0})
	require.NoError(t, err)
	sub := seedActive(t, st, 7, model.Filter{})

	applied, err := st.RecordDelivery(ctx, model.DeliveryAttempt{
		ArticleID: res.ID, SubscriberID: sub.ID, Revision: 1,
		Status: model.StatusFailed, RetryCount: 1, LastError: "timeout", ErrorClass: "transient", At: t0,
	})
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = st.RecordDelivery(ctx, model.DeliveryAttempt{
		ArticleID: res.ID, SubscriberID: sub.ID, Revision: 1, Status: model.StatusSent, RetryCount: 1, At: t0.Add(time.Second),
	})
	require.NoError(t, err)
	require.True(t, applied)

	d, ok, err := st.GetDelivery(ctx, res.ID, sub.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, model.StatusSent, d.Status)
	require.Empty(t, d.LastError)
	require.True(t, d.CreatedAt.Equal(t0))

	applied, err = st.RecordDelivery(ctx, model.DeliveryAttempt{
		ArticleID: res.ID, SubscriberID: sub.ID, Revision: 1, Status: model.StatusFailed, LastError: "late", At: t0.Add(2 * time.Second),
	})
	require.NoError(t, err)
	require.False(t, applied, "sent row must not regress")

	applied, err = st.RecordDelivery(ctx, model.DeliveryAttempt{
		ArticleID: res.ID, SubscriberID: sub.ID, Revision: 2, Status: model.StatusFailed, RetryCount: 1, LastError: "boom", At: t0.Add(3 * time.Second),
	})
	require.NoError(t, err)
	require.True(t, applied, "new revision reopens the row")

	sent, err := st.SentSubscriberIDs(ctx, res.ID, 1)
	require.NoError(t, err)
	require.Empty(t, sent)

	rows, err := st.ListDeliveries(ctx, res.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 2, rows[0].Revision)

	_, err = st.RecordDelivery(ctx, model.DeliveryAttempt{ArticleID: res.ID, SubscriberID: sub.ID, Status: "bogus"})
	require.Error(t, err)
}

func TestStatsAndTruncate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	res, err := st.UpsertArticle(ctx, model.ArticleInput{URL: "https://example.com/y", Title: "y", Now: t0})
	require.NoError(t, err)
	sub := seedActive(t, st, 9, model.Filter{})
	_, err = st.RecordDelivery(ctx, model.DeliveryAttempt{ArticleID: res.ID, SubscriberID: sub.ID, Revision: 1, Status: model.StatusSent, At: t0})
	require.NoError(t, err)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Articles)
	require.EqualValues(t, 1, stats.PendingArticles)
	require.EqualValues(t, 1, stats.ActiveSubs)
	require.EqualValues(t, 1, stats.DeliveriesStatus["sent"])

	tables, err := ParseTables("deliveries", "posts")
	require.NoError(t, err)
	n, err := st.Truncate(ctx, tables, true)
	require.NoError(t, err)
	require.EqualValues(t, 1, n[TableDeliveries])
	require.EqualValues(t, 1, n[TableArticles])

	res, err = st.UpsertArticle(ctx, model.ArticleInput{URL: "https://example.com/z", Title: "z", Now: t0})
	require.NoError(t, err)
	require.EqualValues(t, 1, res.ID, "sequence reset")

	stats, err = st.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Subscriptions)
	require.Zero(t, stats.Deliveries)
}

func TestParseTablesAndOffset(t *testing.T) {
	t.Parallel()

	all, err := ParseTables("all")
	require.NoError(t, err)
	require.Equal(t, AllTables, all)
	_, err = ParseTables("users")
	require.Error(t, err)

	loc, err := ParseUTCOffset("+08:00")
	require.NoError(t, err)
	_, off := t0.In(loc).Zone()
	require.Equal(t, 8*3600, off)

	loc, err = ParseUTCOffset("UTC-0530")
	require.NoError(t, err)
	_, off = t0.In(loc).Zone()
	require.Equal(t, -(5*3600 + 30*60), off)

	_, err = ParseUTCOffset("+99")
	require.Error(t, err)
}
