// Package metrics holds the Prometheus collectors fed from pass statistics
// and ingestion reports.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"newsbot/internal/broadcast"
	"newsbot/internal/ingest"
)

type Metrics struct {
	Passes             *prometheus.CounterVec
	PassDuration       prometheus.Histogram
	Deliveries         *prometheus.CounterVec
	ArticlesPublished  prometheus.Counter
	SubsDisabled       prometheus.Counter
	LimiterWaitSeconds prometheus.Counter
	PendingArticles    prometheus.Gauge

	IngestItems  *prometheus.CounterVec
	IngestErrors *prometheus.CounterVec

	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState prometheus.Gauge
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests to avoid clashing with the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Passes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "newsbot_broadcast_passes_total",
			Help: "Broadcast passes by result (ok, skipped, aborted, error)",
		}, []string{"result"}),
		PassDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "newsbot_broadcast_pass_duration_seconds",
			Help:    "Wall time of one broadcast pass",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "newsbot_deliveries_total",
			Help: "Delivery results by outcome and failure class",
		}, []string{"outcome", "class"}),
		ArticlesPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "newsbot_articles_published_total",
			Help: "Articles marked published after full delivery",
		}),
		SubsDisabled: f.NewCounter(prometheus.CounterOpts{
			Name: "newsbot_subscriptions_disabled_total",
			Help: "Subscriptions disabled after the gateway rejected the recipient",
		}),
		LimiterWaitSeconds: f.NewCounter(prometheus.CounterOpts{
			Name: "newsbot_limiter_wait_seconds_total",
			Help: "Time spent waiting on the send rate limiter",
		}),
		PendingArticles: f.NewGauge(prometheus.GaugeOpts{
			Name: "newsbot_articles_pending",
			Help: "Unpublished articles left after the last pass",
		}),
		IngestItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "newsbot_ingest_items_total",
			Help: "Feed items upserted by result (created, reopened, unchanged, skipped)",
		}, []string{"feed", "result"}),
		IngestErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "newsbot_ingest_errors_total",
			Help: "Feed polls that failed",
		}, []string{"feed"}),
		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "newsbot_gateway_breaker_state",
			Help: "Gateway circuit breaker state (0=closed, 1=half-open, 2=open)",
		}),
	}
}

func PassResult(s broadcast.PassStats, err error) string {
	switch {
	case s.Skipped:
		return "skipped"
	case s.Aborted:
		return "aborted"
	case err != nil:
		return "error"
	default:
		return "ok"
	}
}

func (m *Metrics) ObservePass(s broadcast.PassStats, err error) {
	if m == nil {
		return
	}
	m.Passes.WithLabelValues(PassResult(s, err)).Inc()
	if s.Skipped {
		return
	}
	m.PassDuration.Observe(s.Duration().Seconds())
	for _, d := range s.Deliveries {
		m.Deliveries.WithLabelValues(string(d.Outcome), string(d.Class)).Inc()
	}
	m.ArticlesPublished.Add(float64(s.ArticlesPublished))
	m.SubsDisabled.Add(float64(s.SubscriptionsDisabled))
	m.LimiterWaitSeconds.Add(s.LimiterWaited.Seconds())
	m.PendingArticles.Set(float64(s.ArticlesProcessed + s.ArticlesStalled - s.ArticlesPublished))
}

func (m *Metrics) ObserveIngest(r ingest.Report) {
	if m == nil {
		return
	}
	for _, f := range r.Feeds {
		if f.Err != nil {
			m.IngestErrors.WithLabelValues(f.Feed).Inc()
		}
		m.IngestItems.WithLabelValues(f.Feed, "created").Add(float64(f.Created))
		m.IngestItems.WithLabelValues(f.Feed, "reopened").Add(float64(f.Reopened))
		m.IngestItems.WithLabelValues(f.Feed, "unchanged").Add(float64(f.Unchanged))
		m.IngestItems.WithLabelValues(f.Feed, "skipped").Add(float64(f.Skipped))
	}
}

// ObserveBreaker maps a gobreaker state name onto BreakerState.
func (m *Metrics) ObserveBreaker(state string) {
	if m == nil {
		return
	}
	switch state {
	case "open":
		m.BreakerState.Set(2)
	case "half-open":
		m.BreakerState.Set(1)
	default:
		m.BreakerState.Set(0)
	}
}
