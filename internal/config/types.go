package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "1m"); an empty string selects the component default.
type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Logging      LoggingConfig      `json:"logging"`
	Storage      StorageConfig      `json:"storage"`
	Broadcast    BroadcastConfig    `json:"broadcast"`
	Limiter      LimiterConfig      `json:"limiter"`
	Retry        RetryConfig        `json:"retry"`
	Confirmation ConfirmationConfig `json:"confirmation"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
	Ingest       IngestConfig       `json:"ingest"`
	Bot          BotConfig          `json:"bot"`
	Ops          OpsConfig          `json:"ops"`
}

type TelegramConfig struct {
	// Token may be supplied through NEWSBOT_TELEGRAM_TOKEN instead.
	Token          string        `json:"token" env:"NEWSBOT_TELEGRAM_TOKEN"`
	APIURL         string        `json:"api_url,omitempty"`
	PollTimeout    string        `json:"poll_timeout,omitempty"`
	RequestTimeout string        `json:"request_timeout,omitempty"`
	Breaker        BreakerConfig `json:"breaker"`
}

// BreakerConfig guards the gateway. Only transient and server failures trip it.
type BreakerConfig struct {
	ConsecutiveFailures uint32 `json:"consecutive_failures,omitempty"`
	OpenTimeout         string `json:"open_timeout,omitempty"`
	HalfOpenRequests    uint32 `json:"half_open_requests,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level" env:"NEWSBOT_LOG_LEVEL"`
	Console bool          `json:"console"`
	JSON    bool          `json:"json,omitempty"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts forwards warnings and errors to an operator chat.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig is read once at startup; changes need a restart.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/newsbot.db", "display_utc_offset": "+08:00" }
type StorageConfig struct {
	Driver           string `json:"driver"`
	Path             string `json:"path" env:"NEWSBOT_STORAGE_PATH"`
	BusyTimeout      string `json:"busy_timeout,omitempty"`
	DisplayUTCOffset string `json:"display_utc_offset,omitempty"`
}

type BroadcastConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron expression or descriptor ("@every 5m").
	Schedule            string `json:"schedule,omitempty"`
	MaxArticlesPerPass  int    `json:"max_articles_per_pass,omitempty"`
	PassTimeout         string `json:"pass_timeout,omitempty"`
	PreconditionTimeout string `json:"precondition_timeout,omitempty"`
}

type LimiterConfig struct {
	GlobalRate     float64 `json:"global_rate,omitempty"`
	GlobalBurst    int     `json:"global_burst,omitempty"`
	RecipientRate  float64 `json:"recipient_rate,omitempty"`
	RecipientBurst int     `json:"recipient_burst,omitempty"`
	IdleRetention  string  `json:"idle_retention,omitempty"`
	MaxRecipients  int     `json:"max_recipients,omitempty"`
}

type RetryConfig struct {
	MaxAttempts         int    `json:"max_attempts,omitempty"`
	ServerRetryInterval string `json:"server_retry_interval,omitempty"`
	RateLimitCeiling    string `json:"rate_limit_ceiling,omitempty"`
}

type ConfirmationConfig struct {
	TokenTTL string `json:"token_ttl,omitempty"`
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
}

type IngestConfig struct {
	Enabled      bool         `json:"enabled"`
	Schedule     string       `json:"schedule,omitempty"`
	Timeout      string       `json:"timeout,omitempty"`
	MaxItems     int          `json:"max_items,omitempty"`
	PublishDelay string       `json:"publish_delay,omitempty"`
	UserAgent    string       `json:"user_agent,omitempty"`
	Feeds        []FeedConfig `json:"feeds"`
}

type FeedConfig struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Source string `json:"source,omitempty"`
}

type BotConfig struct {
	Enabled        bool   `json:"enabled"`
	CommandTimeout string `json:"command_timeout,omitempty"`
	Cooldown       string `json:"cooldown,omitempty"`
}

// OpsConfig controls the ops HTTP server (/metrics, /healthz, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
}
