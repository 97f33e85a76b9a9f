package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsbot/internal/broadcast"
	"newsbot/internal/gateway"
	"newsbot/internal/ingest"
)

func TestObservePass(t *testing.T) {
	t.Parallel()
	m := New(prometheus.NewRegistry())

	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	m.ObservePass(broadcast.PassStats{
		StartedAt:             start,
		FinishedAt:            start.Add(2 * time.Second),
		ArticlesProcessed:     3,
		ArticlesPublished:     2,
		SubscriptionsDisabled: 1,
		LimiterWaited:         1500 * time.Millisecond,
		Deliveries: []broadcast.DeliveryResult{
			{Outcome: broadcast.OutcomeSent},
			{Outcome: broadcast.OutcomeSent},
			{Outcome: broadcast.OutcomeDisabled, Class: gateway.ClassRecipientBlocked},
		},
	}, nil)
	m.ObservePass(broadcast.PassStats{Skipped: true}, errors.New("precondition"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Passes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Passes.WithLabelValues("skipped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("sent", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("subscription_disabled", "recipient_blocked")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ArticlesPublished))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubsDisabled))
	assert.Equal(t, 1.5, testutil.ToFloat64(m.LimiterWaitSeconds))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PendingArticles))
	require.Equal(t, 1, testutil.CollectAndCount(m.PassDuration))
}

func TestObserveIngestAndBreaker(t *testing.T) {
	t.Parallel()
	m := New(prometheus.NewRegistry())
	m.ObserveIngest(ingest.Report{Feeds: []ingest.FeedReport{
		{Feed: "wire", Created: 2, Unchanged: 5},
		{Feed: "down", Err: errors.New("404")},
	}})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IngestItems.WithLabelValues("wire", "created")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.IngestItems.WithLabelValues("wire", "unchanged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestErrors.WithLabelValues("down")))

	m.ObserveBreaker("open")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState))
	m.ObserveBreaker("closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BreakerState))
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.ObservePass(broadcast.PassStats{}, nil)
	m.ObserveIngest(ingest.Report{})
	m.ObserveBreaker("open")
}
