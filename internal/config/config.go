// Package config defines the orderdesk configuration and its validation.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration. Fields are populated from a TOML file and
// then optionally overridden by ORDERDESK_* environment variables.
type Config struct {
	API      APIConfig     `toml:"api"`
	Session  SessionConfig `toml:"session"`
	Poll     PollConfig    `toml:"poll"`
	Submit   SubmitConfig  `toml:"submit"`
	Redis    RedisConfig   `toml:"redis"`
	Archive  ArchiveConfig `toml:"archive"`
	Server   ServerConfig  `toml:"server"`
	Notify   NotifyConfig  `toml:"notify"`
	Mode     string        `toml:"mode"`
	LogLevel string        `toml:"log_level"`
}

// APIConfig locates the remote matching service.
type APIConfig struct {
	BaseURL string   `toml:"base_url"`
	Timeout duration `toml:"timeout"`
}

// SessionConfig selects where the bearer token is persisted.
type SessionConfig struct {
	// Store is one of file, redis, pebble or memory.
	Store      string `toml:"store"`
	Path       string `toml:"path"`
	PebbleDir  string `toml:"pebble_dir"`
	Passphrase string `toml:"passphrase"`
	RedisKey   string `toml:"redis_key"`
	// Username and Password let watch mode sign in when no token is stored.
	Username   string `toml:"username"`
	Password   string `toml:"password"`
	// LogoutOnAuthError clears the session when a protected call is rejected.
	LogoutOnAuthError bool `toml:"logout_on_auth_error"`
}

// PollConfig holds per-feed poll intervals.
type PollConfig struct {
	BookInterval   duration `toml:"book_interval"`
	OrdersInterval duration `toml:"orders_interval"`
	TradesInterval duration `toml:"trades_interval"`
	// RequestTimeout bounds one fetch; zero falls back to api.timeout.
	RequestTimeout duration `toml:"request_timeout"`
}

// SubmitConfig tunes the order form.
type SubmitConfig struct {
	SuccessClear duration `toml:"success_clear"`
}

// RedisConfig holds Redis connection parameters. Redis is dialled only when
// the session store is redis or PublishUpdates is set.
type RedisConfig struct {
	Addr           string `toml:"addr"`
	Password       string `toml:"password"`
	DB             int    `toml:"db"`
	PoolSize       int    `toml:"pool_size"`
	MaxRetries     int    `toml:"max_retries"`
	TLSEnabled     bool   `toml:"tls_enabled"`
	PublishUpdates bool   `toml:"publish_updates"`
	ChannelPrefix  string `toml:"channel_prefix"`
}

// ArchiveConfig enables the optional trade tape archive.
type ArchiveConfig struct {
	PostgresDSN   string   `toml:"postgres_dsn"`
	PoolMaxConns  int      `toml:"pool_max_conns"`
	PoolMinConns  int      `toml:"pool_min_conns"`
	RunMigrations bool     `toml:"run_migrations"`
	HistoryLimit  int      `toml:"history_limit"`
	Interval      duration `toml:"interval"`
	S3            S3Config `toml:"s3"`
}

// S3Config holds S3-compatible object storage parameters for tape snapshots.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration wraps time.Duration so it can be decoded from TOML strings like
// "10s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig configures the local HTTP + WebSocket API.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey, when set, is required in the X-API-Key header on /api routes.
	APIKey string `toml:"api_key"`
}

// NotifyConfig configures chat alerts.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramAPI       string   `toml:"telegram_api"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config with sensible defaults for local development.
func Defaults() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:8000/api",
			Timeout: duration{30 * time.Second},
		},
		Session: SessionConfig{
			Store:             "file",
			Path:              ".orderdesk/token",
			PebbleDir:         ".orderdesk/session",
			RedisKey:          "orderdesk:session:token",
			LogoutOnAuthError: true,
		},
		Poll: PollConfig{
			BookInterval:   duration{10 * time.Second},
			OrdersInterval: duration{10 * time.Second},
			TradesInterval: duration{10 * time.Second},
		},
		Submit: SubmitConfig{
			SuccessClear: duration{3 * time.Second},
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			PoolSize:      10,
			MaxRetries:    3,
			ChannelPrefix: "orderdesk:",
		},
		Archive: ArchiveConfig{
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
			HistoryLimit:  200,
			Interval:      duration{time.Minute},
			S3: S3Config{
				Region:         "us-east-1",
				Bucket:         "orderdesk-tape",
				Prefix:         "tape",
				ForcePathStyle: true,
			},
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"order_placed", "order_failed", "session_expired"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server": true,
	"watch":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validStores = map[string]bool{
	"file":   true,
	"redis":  true,
	"pebble": true,
	"memory": true,
}

// NeedsRedis reports whether any component uses Redis.
func (c *Config) NeedsRedis() bool {
	return c.Session.Store == "redis" || c.Redis.PublishUpdates
}

// Validate checks the configuration for internal consistency. Every problem
// is reported, not just the first.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, watch)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// API
	if u, err := url.Parse(c.API.BaseURL); c.API.BaseURL == "" || err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("api: base_url %q must be an absolute URL", c.API.BaseURL))
	}
	if c.API.Timeout.Duration <= 0 {
		errs = append(errs, "api: timeout must be > 0")
	}

	// Session
	switch {
	case !validStores[c.Session.Store]:
		errs = append(errs, fmt.Sprintf("session: unknown store %q (valid: file, redis, pebble, memory)", c.Session.Store))
	case c.Session.Store == "file" && c.Session.Path == "":
		errs = append(errs, "session: path must be set for the file store")
	case c.Session.Store == "pebble" && c.Session.PebbleDir == "":
		errs = append(errs, "session: pebble_dir must be set for the pebble store")
	}

	// Poll
	for _, iv := range []struct {
		name string
		d    duration
	}{
		{"book_interval", c.Poll.BookInterval},
		{"orders_interval", c.Poll.OrdersInterval},
		{"trades_interval", c.Poll.TradesInterval},
	} {
		if iv.d.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("poll: %s must be > 0", iv.name))
		}
	}
	if c.Poll.RequestTimeout.Duration < 0 {
		errs = append(errs, "poll: request_timeout must be >= 0")
	}

	if c.Submit.SuccessClear.Duration <= 0 {
		errs = append(errs, "submit: success_clear must be > 0")
	}

	// Redis
	if c.NeedsRedis() {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Archive
	if c.Archive.PostgresDSN != "" || c.Archive.S3.Enabled {
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.HistoryLimit < 1 {
			errs = append(errs, "archive: history_limit must be >= 1")
		}
	}
	if c.Archive.PostgresDSN != "" && c.Archive.PoolMaxConns < 1 {
		errs = append(errs, "archive: pool_max_conns must be >= 1")
	}
	if c.Archive.S3.Enabled && c.Archive.S3.Bucket == "" {
		errs = append(errs, "archive.s3: bucket must not be empty when enabled")
	}

	// Server
	if strings.ToLower(c.Mode) == "server" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
