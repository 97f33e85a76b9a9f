package app

import (
	"fmt"
	"strings"
	"time"

	"newsbot/internal/bot"
	"newsbot/internal/broadcast"
	"newsbot/internal/config"
	"newsbot/internal/gateway"
	"newsbot/internal/ingest"
	"newsbot/internal/ops"
	"newsbot/internal/ratelimit"
	"newsbot/internal/retry"
	"newsbot/internal/storage"
	"newsbot/internal/subscription"
	"newsbot/internal/task/scheduler"
	logx "newsbot/pkg/logx"
)

const (
	defaultBroadcastSchedule = "@every 5m"
	defaultIngestSchedule    = "@every 10m"
	defaultUTCOffset         = "+08:00"
)

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		JSON:    l.JSON,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alerts: logx.AlertConfig{
			Enabled:    l.Alerts.Enabled,
			ChatID:     l.Alerts.ChatID,
			MinLevel:   l.Alerts.MinLevel,
			RatePerSec: l.Alerts.RatePerSec,
		},
	}
}

func displayZone(cfg *config.Config) (*time.Location, error) {
	raw := strings.TrimSpace(cfg.Storage.DisplayUTCOffset)
	if raw == "" {
		raw = defaultUTCOffset
	}
	loc, err := storage.ParseUTCOffset(raw)
	if err != nil {
		return nil, fmt.Errorf("storage.display_utc_offset: %w", err)
	}
	return loc, nil
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	loc, err := displayZone(cfg)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, DisplayZone: loc}, nil
}

func mapTelegram(cfg *config.Config) (gateway.TelegramConfig, error) {
	tc := cfg.Telegram
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", tc.PollTimeout, 10*time.Second)
	if err != nil {
		return gateway.TelegramConfig{}, err
	}
	req, err := config.ParseDurationOrDefault("telegram.request_timeout", tc.RequestTimeout, 15*time.Second)
	if err != nil {
		return gateway.TelegramConfig{}, err
	}
	return gateway.TelegramConfig{
		Token:          strings.TrimSpace(tc.Token),
		APIURL:         strings.TrimSpace(tc.APIURL),
		PollTimeout:    poll,
		RequestTimeout: req,
	}, nil
}

func mapBreaker(cfg *config.Config) (gateway.BreakerConfig, error) {
	bc := cfg.Telegram.Breaker
	open, err := config.ParseDurationField("telegram.breaker.open_timeout", bc.OpenTimeout)
	if err != nil {
		return gateway.BreakerConfig{}, err
	}
	return gateway.BreakerConfig{
		ConsecutiveFailures: bc.ConsecutiveFailures,
		OpenTimeout:         open,
		HalfOpenRequests:    bc.HalfOpenRequests,
	}, nil
}

func mapLimiter(cfg *config.Config) (ratelimit.Config, error) {
	lc := cfg.Limiter
	idle, err := config.ParseDurationField("limiter.idle_retention", lc.IdleRetention)
	if err != nil {
		return ratelimit.Config{}, err
	}
	return ratelimit.Config{
		GlobalRate:     lc.GlobalRate,
		GlobalBurst:    lc.GlobalBurst,
		RecipientRate:  lc.RecipientRate,
		RecipientBurst: lc.RecipientBurst,
		IdleRetention:  idle,
		MaxRecipients:  lc.MaxRecipients,
	}, nil
}

func mapRetry(cfg *config.Config) (retry.Policy, error) {
	rc := cfg.Retry
	server, err := config.ParseDurationField("retry.server_retry_interval", rc.ServerRetryInterval)
	if err != nil {
		return retry.Policy{}, err
	}
	ceiling, err := config.ParseDurationField("retry.rate_limit_ceiling", rc.RateLimitCeiling)
	if err != nil {
		return retry.Policy{}, err
	}
	return retry.Policy{MaxAttempts: rc.MaxAttempts, ServerRetryInterval: server, RateLimitCeiling: ceiling}, nil
}

// mapBroadcast builds the orchestrator config; zero values fall back to
// broadcast.DefaultConfig.
func mapBroadcast(cfg *config.Config) (broadcast.Config, error) {
	bc := cfg.Broadcast
	def := broadcast.DefaultConfig()
	out := def
	if bc.MaxArticlesPerPass > 0 {
		out.MaxArticlesPerPass = bc.MaxArticlesPerPass
	}
	var err error
	if out.PassTimeout, err = config.ParseDurationOrDefault("broadcast.pass_timeout", bc.PassTimeout, def.PassTimeout); err != nil {
		return broadcast.Config{}, err
	}
	if out.PreconditionTimeout, err = config.ParseDurationOrDefault("broadcast.precondition_timeout", bc.PreconditionTimeout, def.PreconditionTimeout); err != nil {
		return broadcast.Config{}, err
	}
	if out.Limiter, err = mapLimiter(cfg); err != nil {
		return broadcast.Config{}, err
	}
	if out.Retry, err = mapRetry(cfg); err != nil {
		return broadcast.Config{}, err
	}
	if out.DisplayZone, err = displayZone(cfg); err != nil {
		return broadcast.Config{}, err
	}
	return out, nil
}

func mapSubscription(cfg *config.Config) (subscription.Config, error) {
	ttl, err := config.ParseDurationField("confirmation.token_ttl", cfg.Confirmation.TokenTTL)
	if err != nil {
		return subscription.Config{}, err
	}
	return subscription.Config{TokenTTL: ttl}, nil
}

func mapIngest(cfg *config.Config) (ingest.Config, error) {
	ic := cfg.Ingest
	timeout, err := config.ParseDurationOrDefault("ingest.timeout", ic.Timeout, 20*time.Second)
	if err != nil {
		return ingest.Config{}, err
	}
	delay, err := config.ParseDurationField("ingest.publish_delay", ic.PublishDelay)
	if err != nil {
		return ingest.Config{}, err
	}
	feeds := make([]ingest.Feed, 0, len(ic.Feeds))
	for _, f := range ic.Feeds {
		feeds = append(feeds, ingest.Feed{Name: f.Name, URL: f.URL, Source: f.Source})
	}
	return ingest.Config{
		Feeds:        feeds,
		Timeout:      timeout,
		MaxItems:     ic.MaxItems,
		PublishDelay: delay,
		UserAgent:    ic.UserAgent,
	}, nil
}

func mapBot(cfg *config.Config) (bot.Config, error) {
	timeout, err := config.ParseDurationOrDefault("bot.command_timeout", cfg.Bot.CommandTimeout, 15*time.Second)
	if err != nil {
		return bot.Config{}, err
	}
	cooldown, err := config.ParseDurationOrDefault("bot.cooldown", cfg.Bot.Cooldown, 2*time.Second)
	if err != nil {
		return bot.Config{}, err
	}
	loc, err := displayZone(cfg)
	if err != nil {
		return bot.Config{}, err
	}
	return bot.Config{CommandTimeout: timeout, Cooldown: cooldown, DisplayZone: loc}, nil
}

func mapOps(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	read, err := config.ParseDurationOrDefault("ops.read_timeout", oc.ReadTimeout, 10*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	// pprof profiles run for 30s+; no write timeout unless asked for
	write, err := config.ParseDurationField("ops.write_timeout", oc.WriteTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	addr := strings.TrimSpace(oc.Addr)
	if addr == "" {
		addr = "127.0.0.1:9090"
	}
	return ops.Config{
		Enabled:       oc.Enabled,
		Addr:          addr,
		Token:         strings.TrimSpace(oc.Token),
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
	}, nil
}

func mapScheduler(cfg *config.Config) (scheduler.Config, error) {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: tz}, nil
}

func scheduleOrDefault(raw, def string) string {
	if s := strings.TrimSpace(raw); s != "" {
		return s
	}
	return def
}

// validate runs every mapping so a reload is rejected before anything is
// applied.
func validate(cfg *config.Config) error {
	if _, err := mapStorage(cfg); err != nil {
		return err
	}
	if _, err := mapTelegram(cfg); err != nil {
		return err
	}
	if _, err := mapBreaker(cfg); err != nil {
		return err
	}
	if _, err := mapBroadcast(cfg); err != nil {
		return err
	}
	if _, err := mapSubscription(cfg); err != nil {
		return err
	}
	if _, err := mapIngest(cfg); err != nil {
		return err
	}
	if _, err := mapBot(cfg); err != nil {
		return err
	}
	if _, err := mapOps(cfg); err != nil {
		return err
	}
	if _, err := mapScheduler(cfg); err != nil {
		return err
	}
	for name, spec := range map[string]string{
		"broadcast.schedule": scheduleOrDefault(cfg.Broadcast.Schedule, defaultBroadcastSchedule),
		"ingest.schedule":    scheduleOrDefault(cfg.Ingest.Schedule, defaultIngestSchedule),
	} {
		if err := scheduler.ValidateSchedule(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
