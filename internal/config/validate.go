package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	logx "newsbot/pkg/logx"
)

// Validate checks values that can be checked without touching the outside
// world. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	dur("telegram.poll_timeout", c.Telegram.PollTimeout)
	dur("telegram.request_timeout", c.Telegram.RequestTimeout)
	dur("telegram.breaker.open_timeout", c.Telegram.Breaker.OpenTimeout)
	if u := strings.TrimSpace(c.Telegram.APIURL); u != "" {
		if _, err := url.ParseRequestURI(u); err != nil {
			add(fmt.Errorf("telegram.api_url: %w", err))
		}
	}

	if lv := strings.TrimSpace(c.Logging.Level); lv != "" && !logx.ValidLevel(lv) {
		add(fmt.Errorf("logging.level: unknown level %q", lv))
	}
	if lv := strings.TrimSpace(c.Logging.Alerts.MinLevel); lv != "" && !logx.ValidLevel(lv) {
		add(fmt.Errorf("logging.alerts.min_level: unknown level %q", lv))
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		add(errors.New("logging.file.path is required when logging.file.enabled=true"))
	}
	if c.Logging.Alerts.Enabled && c.Logging.Alerts.ChatID == 0 {
		add(errors.New("logging.alerts.chat_id is required when logging.alerts.enabled=true"))
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	dur("storage.busy_timeout", c.Storage.BusyTimeout)

	if c.Broadcast.MaxArticlesPerPass < 0 {
		add(errors.New("broadcast.max_articles_per_pass must be >= 0"))
	}
	dur("broadcast.pass_timeout", c.Broadcast.PassTimeout)
	dur("broadcast.precondition_timeout", c.Broadcast.PreconditionTimeout)

	if c.Limiter.GlobalRate < 0 || c.Limiter.RecipientRate < 0 {
		add(errors.New("limiter rates must be >= 0"))
	}
	if c.Limiter.GlobalBurst < 0 || c.Limiter.RecipientBurst < 0 || c.Limiter.MaxRecipients < 0 {
		add(errors.New("limiter bursts and max_recipients must be >= 0"))
	}
	dur("limiter.idle_retention", c.Limiter.IdleRetention)

	if c.Retry.MaxAttempts < 0 {
		add(errors.New("retry.max_attempts must be >= 0"))
	}
	dur("retry.server_retry_interval", c.Retry.ServerRetryInterval)
	dur("retry.rate_limit_ceiling", c.Retry.RateLimitCeiling)

	dur("confirmation.token_ttl", c.Confirmation.TokenTTL)

	dur("ingest.timeout", c.Ingest.Timeout)
	dur("ingest.publish_delay", c.Ingest.PublishDelay)
	if c.Ingest.MaxItems < 0 {
		add(errors.New("ingest.max_items must be >= 0"))
	}
	seen := make(map[string]bool, len(c.Ingest.Feeds))
	for i, f := range c.Ingest.Feeds {
		path := fmt.Sprintf("ingest.feeds[%d]", i)
		if strings.TrimSpace(f.Name) == "" {
			add(fmt.Errorf("%s.name is required", path))
		} else if seen[f.Name] {
			add(fmt.Errorf("%s.name %q is duplicated", path, f.Name))
		}
		seen[f.Name] = true
		u, err := url.Parse(strings.TrimSpace(f.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add(fmt.Errorf("%s.url must be an absolute http(s) URL", path))
		}
	}

	dur("bot.command_timeout", c.Bot.CommandTimeout)
	dur("bot.cooldown", c.Bot.Cooldown)

	dur("ops.read_timeout", c.Ops.ReadTimeout)
	dur("ops.write_timeout", c.Ops.WriteTimeout)

	return errors.Join(errs...)
}
