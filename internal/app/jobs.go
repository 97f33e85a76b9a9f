package app

import (
	"context"
	"errors"

	"newsbot/internal/broadcast"
	"newsbot/internal/ingest"
	logx "newsbot/pkg/logx"
)

const (
	jobBroadcast = "broadcast.pass"
	jobIngest    = "ingest.poll"
)

// runBroadcast is the scheduled broadcast job. The engine returns structured
// results; logging and metrics happen here.
func (a *App) runBroadcast(ctx context.Context) error {
	stats, err := a.engine.RunPass(ctx)
	a.metrics.ObservePass(stats, err)
	if a.engine.Breaker != nil {
		a.metrics.ObserveBreaker(a.engine.Breaker.State())
	}
	a.logPass(stats, err)
	if errors.Is(err, broadcast.ErrPassRunning) || errors.Is(err, broadcast.ErrPreconditionFailed) {
		// not a job failure; the next trigger retries
		return nil
	}
	return err
}

func (a *App) logPass(s broadcast.PassStats, err error) {
	log := a.log.With(logx.String("job", jobBroadcast))
	switch {
	case errors.Is(err, broadcast.ErrPassRunning):
		log.Debug("pass skipped; previous pass still running")
		return
	case s.Skipped:
		log.Warn("pass skipped", logx.String("reason", s.SkipReason), logx.Err(err))
		return
	}

	for _, d := range s.Deliveries {
		switch d.Outcome {
		case broadcast.OutcomeFailed, broadcast.OutcomeDisabled, broadcast.OutcomeError:
			log.Warn("delivery failed",
				logx.Int64("article_id", d.ArticleID),
				logx.Int64("recipient_id", d.RecipientID),
				logx.String("outcome", string(d.Outcome)),
				logx.String("class", string(d.Class)),
				logx.Int("retry_count", d.RetryCount),
				logx.Err(d.Err),
			)
		case broadcast.OutcomeRetryScheduled:
			log.Debug("delivery deferred",
				logx.Int64("article_id", d.ArticleID),
				logx.Int64("recipient_id", d.RecipientID),
				logx.String("class", string(d.Class)),
				logx.Time("next_attempt_at", d.NextAttemptAt),
			)
		}
	}

	fields := []logx.Field{
		logx.Int("articles", s.ArticlesProcessed),
		logx.Int("stalled", s.ArticlesStalled),
		logx.Int("attempted", s.MessagesAttempted),
		logx.Int("sent", s.Successes),
		logx.Int("failed", s.Failures),
		logx.Int("deferred", s.Deferred),
		logx.Int("already_delivered", s.AlreadyDelivered),
		logx.Int("disabled", s.SubscriptionsDisabled),
		logx.Int("published", s.ArticlesPublished),
		logx.Int("storage_errors", s.StorageErrors),
		logx.Duration("limiter_waited", s.LimiterWaited),
		logx.Duration("took", s.Duration()),
	}
	switch {
	case s.Aborted:
		log.Warn("pass aborted", append(fields, logx.Err(err))...)
	case err != nil:
		log.Error("pass failed", append(fields, logx.Err(err))...)
	case s.ArticlesProcessed == 0:
		log.Debug("pass finished; nothing pending")
	default:
		log.Info("pass finished", fields...)
	}
}

func (a *App) runIngest(ctx context.Context) error {
	rep, err := a.engine.Ingest.Poll(ctx)
	a.metrics.ObserveIngest(rep)
	log := a.log.With(logx.String("job", jobIngest))
	if errors.Is(err, ingest.ErrNoFeeds) {
		log.Debug("no feeds configured")
		return nil
	}
	for _, f := range rep.Feeds {
		if f.Err != nil {
			log.Warn("feed poll failed", logx.String("feed", f.Feed), logx.Err(f.Err))
		}
	}
	created, reopened, unchanged := rep.Totals()
	if created+reopened > 0 {
		log.Info("feeds polled",
			logx.Int("feeds", len(rep.Feeds)),
			logx.Int("created", created),
			logx.Int("reopened", reopened),
			logx.Int("unchanged", unchanged),
		)
	}
	return err
}
