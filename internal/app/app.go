// Package app wires configuration into concrete stores, locks and event
// publishers for the binaries under cmd/.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"tycoon/internal/config"
	"tycoon/internal/db"
	"tycoon/internal/events"
	"tycoon/internal/game"
	"tycoon/internal/lock"
	"tycoon/internal/store/memory"
	"tycoon/internal/store/postgres"
	"tycoon/internal/store/sqlite"
)

// Backend is a game.Store that can create its own schema.
type Backend interface {
	game.Store
	Migrate(ctx context.Context) error
}

type memoryBackend struct {
	*memory.Store
}

func (memoryBackend) Migrate(context.Context) error { return nil }

// OpenStore opens the backend named by cfg.Store and applies its schema. The
// returned closer releases the underlying connections.
func OpenStore(ctx context.Context, cfg config.APIConfig, logger *slog.Logger) (Backend, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL, db.DefaultPoolOptions())
		if err != nil {
			return nil, nil, err
		}
		st := postgres.New(pool, logger)
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, pool.Close, nil
	case config.StoreSQLite:
		st, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {
			if err := st.Close(); err != nil {
				logger.Warn("close sqlite failed", "err", err)
			}
		}, nil
	case config.StoreMemory:
		return memoryBackend{memory.New()}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// SeedCatalog loads the configured catalog file (or the built-in one) and
// installs it when the store has no businesses yet.
func SeedCatalog(ctx context.Context, svc *game.Service, cfg config.APIConfig) error {
	defs, err := game.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return err
	}
	return svc.SeedDefaults(ctx, defs)
}

// NewLocker returns a Redis lock when REDIS_ADDR is set, otherwise an
// in-process one.
func NewLocker(ctx context.Context, cfg config.APIConfig, logger *slog.Logger) (game.Locker, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RedisAddr == "" {
		return lock.NewLocal(), func() {}, nil
	}
	rdb, err := lock.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using redis save lock", "addr", cfg.RedisAddr)
	return lock.NewRedis(rdb, logger, cfg.LockTTL, cfg.LockWait), func() { _ = rdb.Close() }, nil
}

// NewNotifier returns a RabbitMQ publisher when TYCOON_AMQP_URL is set.
func NewNotifier(cfg config.APIConfig, logger *slog.Logger) (game.Notifier, func()) {
	if cfg.AMQPURL == "" {
		return nil, func() {}
	}
	p := events.NewAMQPPublisher(cfg.AMQPURL, logger)
	return p, func() { _ = p.Close() }
}
