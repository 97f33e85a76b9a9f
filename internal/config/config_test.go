package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

const sampleJSON = `{
  "telegram": {"token": "123:abc", "poll_timeout": "10s"},
  "logging": {"level": "info", "console": true},
  "storage": {"driver": "sqlite", "path": "./data/newsbot.db", "display_utc_offset": "+08:00"},
  "broadcast": {"enabled": true, "schedule": "@every 5m", "max_articles_per_pass": 20},
  "limiter": {"global_rate": 25, "global_burst": 5, "recipient_rate": 1, "recipient_burst": 1},
  "retry": {"max_attempts": 3, "server_retry_interval": "1m"},
  "confirmation": {"token_ttl": "10m"},
  "scheduler": {"enabled": true, "timezone": "Asia/Jakarta"},
  "ingest": {"enabled": true, "schedule": "@every 10m", "feeds": [{"name": "wire", "url": "https://example.com/rss"}]},
  "bot": {"enabled": true, "cooldown": "2s"},
  "ops": {"enabled": false}
}`

const sampleYAML = `
telegram:
  token: "123:abc"
storage:
  driver: sqlite
  path: ./data/newsbot.db
broadcast:
  enabled: true
  schedule: "*/5 * * * *"
ingest:
  feeds:
    - name: wire
      url: https://example.com/rss
      source: Wire
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.json", []byte(sampleJSON))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Broadcast.MaxArticlesPerPass != 20 || cfg.Limiter.GlobalRate != 25 {
		t.Fatalf("unexpected broadcast/limiter: %+v %+v", cfg.Broadcast, cfg.Limiter)
	}
	if len(cfg.Ingest.Feeds) != 1 || cfg.Ingest.Feeds[0].Name != "wire" {
		t.Fatalf("feeds=%+v", cfg.Ingest.Feeds)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Broadcast.Schedule != "*/5 * * * *" || cfg.Ingest.Feeds[0].Source != "Wire" {
		t.Fatalf("unexpected: %+v", cfg)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		file string
		body string
	}{
		{"unknown field", "c.json", `{"telegram": {"token": "x", "owner_user_ids": [1]}}`},
		{"unknown yaml field", "c.yml", "plugins:\n  foo: {}\n"},
		{"trailing data", "c.json", `{} {}`},
		{"bad yaml", "c.yaml", "telegram: [unclosed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tc.file, []byte(tc.body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestValidateReportsPaths(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Logging:   LoggingConfig{Level: "loud"},
		Storage:   StorageConfig{Driver: "postgres"},
		Broadcast: BroadcastConfig{PassTimeout: "ten minutes"},
		Retry:     RetryConfig{ServerRetryInterval: "-1s"},
		Ingest: IngestConfig{Feeds: []FeedConfig{
			{Name: "a", URL: "ftp://example.com/feed"},
			{Name: "a", URL: "https://example.com/feed"},
		}},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{
		"logging.level",
		"storage.driver",
		"broadcast.pass_timeout",
		"retry.server_retry_interval",
		"ingest.feeds[0].url",
		"ingest.feeds[1].name",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", time.Minute, false},
		{"0s", time.Minute, false},
		{"90s", 90 * time.Second, false},
		{"-5s", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationOrDefault("x.y", tc.raw, time.Minute)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%q: err=%v wantErr=%v", tc.raw, err, tc.wantErr)
		}
		if err == nil && got != tc.want {
			t.Fatalf("%q: got %v want %v", tc.raw, got, tc.want)
		}
		if err != nil && !strings.HasPrefix(err.Error(), "x.y:") {
			t.Fatalf("%q: error not path-qualified: %v", tc.raw, err)
		}
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("NEWSBOT_TELEGRAM_TOKEN", "999:env")
	t.Setenv("NEWSBOT_STORAGE_PATH", "/var/lib/newsbot/news.db")
	t.Setenv("NEWSBOT_LOG_LEVEL", "debug")

	m := NewConfigManager(writeFile(t, "config.json", sampleJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "999:env" {
		t.Fatalf("token=%q", cfg.Telegram.Token)
	}
	if cfg.Storage.Path != "/var/lib/newsbot/news.db" || cfg.Logging.Level != "debug" {
		t.Fatalf("overrides not applied: %+v %+v", cfg.Storage, cfg.Logging)
	}
	if cfg.Broadcast.Schedule != "@every 5m" {
		t.Fatalf("untagged field changed: %q", cfg.Broadcast.Schedule)
	}
	if m.Get() != cfg {
		t.Fatalf("Load did not commit")
	}
}

func TestReloadPublishesChangedConfig(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", sampleJSON)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)
	ctx := context.Background()

	if m.reload(ctx) {
		t.Fatalf("unchanged file must not publish")
	}

	updated := strings.Replace(sampleJSON, `"max_articles_per_pass": 20`, `"max_articles_per_pass": 5`, 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !m.reload(ctx) {
		t.Fatalf("changed file must publish")
	}
	select {
	case got := <-ch:
		if got.Broadcast.MaxArticlesPerPass != 5 {
			t.Fatalf("published stale config: %d", got.Broadcast.MaxArticlesPerPass)
		}
	default:
		t.Fatalf("subscriber got nothing")
	}
}

func TestReloadHonorsValidator(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", sampleJSON)
	m := NewConfigManager(path)
	first, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	m.SetValidator(func(context.Context, *Config) error { return errors.New("nope") })

	updated := strings.Replace(sampleJSON, `"level": "info"`, `"level": "warn"`, 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m.reload(context.Background()) {
		t.Fatalf("rejected config must not publish")
	}
	if m.Get() != first {
		t.Fatalf("rejected config was committed")
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatalf("expected newest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg, err := Decode("c.json", []byte(sampleJSON))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	newCfg, _ := Decode("c.json", []byte(sampleJSON))
	newCfg.Limiter.GlobalRate = 10
	newCfg.Storage.Path = "/tmp/other.db"
	newCfg.Ops.Token = "secret"

	changed, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)
	for _, want := range []string{"limiter", "storage", "ops"} {
		if !slices.Contains(changed, want) {
			t.Fatalf("changed=%v missing %s", changed, want)
		}
	}
	if slices.Contains(changed, "broadcast") {
		t.Fatalf("broadcast reported as changed")
	}
	if !slices.Equal(restart, []string{"storage"}) {
		t.Fatalf("restart=%v", restart)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected log fields")
	}
}
