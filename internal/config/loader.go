package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults and applies ORDERDESK_*
// environment overrides. An empty path skips the file. The result is not
// validated; call Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose ORDERDESK_* variable is set and
// non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── API ──
	setStr(&cfg.API.BaseURL, "ORDERDESK_API_BASE_URL")
	setDuration(&cfg.API.Timeout, "ORDERDESK_API_TIMEOUT")

	// ── Session ──
	setStr(&cfg.Session.Store, "ORDERDESK_SESSION_STORE")
	setStr(&cfg.Session.Path, "ORDERDESK_SESSION_PATH")
	setStr(&cfg.Session.PebbleDir, "ORDERDESK_SESSION_PEBBLE_DIR")
	setStr(&cfg.Session.Passphrase, "ORDERDESK_SESSION_PASSPHRASE")
	setStr(&cfg.Session.RedisKey, "ORDERDESK_SESSION_REDIS_KEY")
	setStr(&cfg.Session.Username, "ORDERDESK_SESSION_USERNAME")
	setStr(&cfg.Session.Password, "ORDERDESK_SESSION_PASSWORD")
	setBool(&cfg.Session.LogoutOnAuthError, "ORDERDESK_SESSION_LOGOUT_ON_AUTH_ERROR")

	// ── Poll ──
	setDuration(&cfg.Poll.BookInterval, "ORDERDESK_POLL_BOOK_INTERVAL")
	setDuration(&cfg.Poll.OrdersInterval, "ORDERDESK_POLL_ORDERS_INTERVAL")
	setDuration(&cfg.Poll.TradesInterval, "ORDERDESK_POLL_TRADES_INTERVAL")
	setDuration(&cfg.Poll.RequestTimeout, "ORDERDESK_POLL_REQUEST_TIMEOUT")

	// ── Submit ──
	setDuration(&cfg.Submit.SuccessClear, "ORDERDESK_SUBMIT_SUCCESS_CLEAR")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ORDERDESK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ORDERDESK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ORDERDESK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ORDERDESK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ORDERDESK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ORDERDESK_REDIS_TLS_ENABLED")
	setBool(&cfg.Redis.PublishUpdates, "ORDERDESK_REDIS_PUBLISH_UPDATES")
	setStr(&cfg.Redis.ChannelPrefix, "ORDERDESK_REDIS_CHANNEL_PREFIX")

	// ── Archive ──
	setStr(&cfg.Archive.PostgresDSN, "ORDERDESK_ARCHIVE_POSTGRES_DSN")
	setInt(&cfg.Archive.PoolMaxConns, "ORDERDESK_ARCHIVE_POOL_MAX_CONNS")
	setInt(&cfg.Archive.PoolMinConns, "ORDERDESK_ARCHIVE_POOL_MIN_CONNS")
	setBool(&cfg.Archive.RunMigrations, "ORDERDESK_ARCHIVE_RUN_MIGRATIONS")
	setInt(&cfg.Archive.HistoryLimit, "ORDERDESK_ARCHIVE_HISTORY_LIMIT")
	setDuration(&cfg.Archive.Interval, "ORDERDESK_ARCHIVE_INTERVAL")
	setBool(&cfg.Archive.S3.Enabled, "ORDERDESK_ARCHIVE_S3_ENABLED")
	setStr(&cfg.Archive.S3.Endpoint, "ORDERDESK_ARCHIVE_S3_ENDPOINT")
	setStr(&cfg.Archive.S3.Region, "ORDERDESK_ARCHIVE_S3_REGION")
	setStr(&cfg.Archive.S3.Bucket, "ORDERDESK_ARCHIVE_S3_BUCKET")
	setStr(&cfg.Archive.S3.Prefix, "ORDERDESK_ARCHIVE_S3_PREFIX")
	setStr(&cfg.Archive.S3.AccessKey, "ORDERDESK_ARCHIVE_S3_ACCESS_KEY")
	setStr(&cfg.Archive.S3.SecretKey, "ORDERDESK_ARCHIVE_S3_SECRET_KEY")
	setBool(&cfg.Archive.S3.ForcePathStyle, "ORDERDESK_ARCHIVE_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "ORDERDESK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ORDERDESK_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ORDERDESK_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ORDERDESK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ORDERDESK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramAPI, "ORDERDESK_NOTIFY_TELEGRAM_API")
	setStr(&cfg.Notify.DiscordWebhookURL, "ORDERDESK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ORDERDESK_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ORDERDESK_MODE")
	setStr(&cfg.LogLevel, "ORDERDESK_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the variable is
// present and parses.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
