package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/orderdesk/internal/archive"
	s3blob "github.com/alanyoungcy/orderdesk/internal/blob/s3"
	"github.com/alanyoungcy/orderdesk/internal/cache/redis"
	"github.com/alanyoungcy/orderdesk/internal/config"
	"github.com/alanyoungcy/orderdesk/internal/domain"
	"github.com/alanyoungcy/orderdesk/internal/gate"
	"github.com/alanyoungcy/orderdesk/internal/metrics"
	"github.com/alanyoungcy/orderdesk/internal/notify"
	"github.com/alanyoungcy/orderdesk/internal/platform/exchange"
	"github.com/alanyoungcy/orderdesk/internal/session"
	pebblestore "github.com/alanyoungcy/orderdesk/internal/store/pebble"
	"github.com/alanyoungcy/orderdesk/internal/store/postgres"
)

// Dependencies bundles what the modes need. SignalBus is nil unless
// redis.publish_updates is set; Recorder is always non-nil but may have no
// backends.
type Dependencies struct {
	Sessions  *session.Store
	Exchange  *exchange.Client
	Gate      *gate.Gate
	SignalBus domain.SignalBus
	Recorder  *archive.Recorder
	Notifier  *notify.Notifier
	Metrics   *metrics.Metrics
}

// Wire builds every component from cfg. The returned cleanup releases
// connections in reverse order and must be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Metrics: metrics.New()}

	// --- Redis (token store and/or signal bus) ---
	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		c, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = c.Close() })
		redisClient = c
		if cfg.Redis.PublishUpdates {
			deps.SignalBus = redis.NewSignalBus(c, cfg.Redis.ChannelPrefix)
		}
	}

	// --- Session ---
	var tokens domain.TokenStore
	switch cfg.Session.Store {
	case "file":
		tokens = session.NewFileTokenStore(cfg.Session.Path, cfg.Session.Passphrase)
	case "redis":
		tokens = redis.NewTokenStore(redisClient, cfg.Session.RedisKey)
	case "pebble":
		ps, err := pebblestore.Open(cfg.Session.PebbleDir)
		if err != nil {
			return fail(fmt.Errorf("wire: pebble: %w", err))
		}
		closers = append(closers, func() { _ = ps.Close() })
		tokens = ps
	case "memory":
		tokens = session.NewMemoryTokenStore()
	default:
		return fail(fmt.Errorf("wire: unknown session store %q", cfg.Session.Store))
	}

	deps.Sessions = session.New(tokens, logger)
	if err := deps.Sessions.Rehydrate(ctx); err != nil {
		return fail(fmt.Errorf("wire: rehydrate session: %w", err))
	}

	deps.Exchange = exchange.NewClient(cfg.API.BaseURL, cfg.API.Timeout.Duration, deps.Sessions, logger)
	deps.Gate = gate.New(deps.Exchange, deps.Sessions, logger)

	// --- Archive ---
	var (
		tape  domain.TapeArchive
		blobs domain.BlobWriter
	)
	if cfg.Archive.PostgresDSN != "" {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Archive.PostgresDSN,
			MaxConns: cfg.Archive.PoolMaxConns,
			MinConns: cfg.Archive.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)
		if cfg.Archive.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		tape = postgres.NewTapeStore(pg.Pool())
	}
	if cfg.Archive.S3.Enabled {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.S3.Endpoint,
			Region:         cfg.Archive.S3.Region,
			Bucket:         cfg.Archive.S3.Bucket,
			Prefix:         cfg.Archive.S3.Prefix,
			AccessKey:      cfg.Archive.S3.AccessKey,
			SecretKey:      cfg.Archive.S3.SecretKey,
			ForcePathStyle: cfg.Archive.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := s3c.Health(ctx); err != nil {
			logger.WarnContext(ctx, "tape bucket not reachable, uploads will be retried",
				slog.String("error", err.Error()),
			)
		}
		blobs = s3blob.NewWriter(s3c)
	}
	deps.Recorder = archive.NewRecorder(tape, blobs, cfg.Archive.Interval.Duration, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPI,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
