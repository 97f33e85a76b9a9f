package config

import (
	"strings"

	logx "newsbot/pkg/logx"
)

// Restart-only sections; a change is applied on the next start.
var restartSections = map[string]bool{
	"telegram": true,
	"storage":  true,
}

// SummarizeConfigChange returns the changed section names, safe log fields
// describing the new values (tokens are reported as set/unset only) and
// the subset of changed sections that need a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		restart []string
		attrs   = make([]logx.Field, 0, 16)
	)
	section := func(name string, o, n any, fields ...logx.Field) {
		if hashJSON(o) == hashJSON(n) {
			return
		}
		changed = append(changed, name)
		if restartSections[name] {
			restart = append(restart, name)
		}
		attrs = append(attrs, fields...)
	}

	section("telegram", oldCfg.Telegram, newCfg.Telegram,
		logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
		logx.String("telegram.poll_timeout", newCfg.Telegram.PollTimeout),
	)
	section("logging", oldCfg.Logging, newCfg.Logging,
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		logx.Bool("logging.alerts_enabled", newCfg.Logging.Alerts.Enabled),
	)
	section("storage", oldCfg.Storage, newCfg.Storage,
		logx.String("storage.driver", newCfg.Storage.Driver),
	)
	section("broadcast", oldCfg.Broadcast, newCfg.Broadcast,
		logx.Bool("broadcast.enabled", newCfg.Broadcast.Enabled),
		logx.String("broadcast.schedule", newCfg.Broadcast.Schedule),
		logx.Int("broadcast.max_articles_per_pass", newCfg.Broadcast.MaxArticlesPerPass),
	)
	section("limiter", oldCfg.Limiter, newCfg.Limiter,
		logx.Float64("limiter.global_rate", newCfg.Limiter.GlobalRate),
		logx.Float64("limiter.recipient_rate", newCfg.Limiter.RecipientRate),
	)
	section("retry", oldCfg.Retry, newCfg.Retry,
		logx.Int("retry.max_attempts", newCfg.Retry.MaxAttempts),
	)
	section("confirmation", oldCfg.Confirmation, newCfg.Confirmation,
		logx.String("confirmation.token_ttl", newCfg.Confirmation.TokenTTL),
	)
	section("scheduler", oldCfg.Scheduler, newCfg.Scheduler,
		logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
		logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
	)
	section("ingest", oldCfg.Ingest, newCfg.Ingest,
		logx.Bool("ingest.enabled", newCfg.Ingest.Enabled),
		logx.Int("ingest.feeds", len(newCfg.Ingest.Feeds)),
	)
	section("bot", oldCfg.Bot, newCfg.Bot,
		logx.Bool("bot.enabled", newCfg.Bot.Enabled),
	)

	section("ops", oldCfg.Ops, newCfg.Ops,
		logx.Bool("ops.enabled", newCfg.Ops.Enabled),
		logx.String("ops.addr", newCfg.Ops.Addr),
		logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
	)

	return changed, attrs, restart
}
