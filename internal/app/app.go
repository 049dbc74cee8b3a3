package app

import (
	"context"
	"errors"
	"time"

	"dispatchsync/internal/config"
	"dispatchsync/internal/database"
	"dispatchsync/internal/domain"
	"dispatchsync/internal/events"
	"dispatchsync/internal/logging"
	"dispatchsync/internal/ordersync"
	"dispatchsync/internal/repository"
	"dispatchsync/internal/upstream"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App holds the long-lived components shared by the API server and the CLI.
type App struct {
	Config       *config.Config
	DB           *database.DB
	Redis        *redis.Client
	Cache        domain.DetailCache
	Events       *events.EventBus
	Orchestrator *ordersync.Orchestrator
	Backup       *database.BackupService
}

// New opens the store, builds the detail cache and wires the orchestrator.
// Missing upstream credentials do not fail New: status and reset still work,
// and every sync entry point reports config.ErrConfig.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}

	db, err := database.NewDB(cfg.Database.Path, &l)
	if err != nil {
		l.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	a := &App{
		Config: cfg,
		DB:     db,
		Events: events.NewEventBus(),
		Backup: database.NewBackupService(db, cfg.Backup, &l),
	}
	a.Redis, a.Cache = initCache(ctx, cfg.Redis, &l)
	events.LogSyncEvents(a.Events, logging.Component(&l, "events"))

	a.Orchestrator = ordersync.NewOrchestrator(cfg.Sync, ordersync.Deps{
		Client:   newUpstreamClient(cfg.Sync, &l),
		Tasks:    db,
		Failures: db,
		Status:   db,
		Cache:    a.Cache,
		Events:   a.Events,
		Logger:   &l,
	})
	return a, nil
}

// newUpstreamClient returns nil when the sync config is incomplete. The
// orchestrator validates the config before any client call.
func newUpstreamClient(cfg config.SyncConfig, logger *zerolog.Logger) ordersync.UpstreamClient {
	client, err := upstream.NewClient(cfg, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("upstream client disabled, syncs will be refused")
		return nil
	}
	return client
}

// initCache prefers Redis with an in-memory fallback. Without a Redis address
// the memory cache is used alone.
func initCache(ctx context.Context, cfg config.RedisConfig, logger *zerolog.Logger) (*redis.Client, domain.DetailCache) {
	memory := repository.NewMemoryDetailCache()
	if cfg.Address == "" {
		return nil, memory
	}

	client := repository.NewRedisClient(cfg)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, detail cache will fall back to memory")
	} else {
		logger.Info().Str("addr", cfg.Address).Msg("redis connected")
	}

	cacheLogger := logging.Component(logger, "detail_cache")
	return client, repository.NewFailoverDetailCache(repository.NewRedisDetailCache(client), memory, &cacheLogger)
}

func (a *App) Close() error {
	var errs []error
	if err := repository.Close(a.Redis); err != nil {
		errs = append(errs, err)
	}
	if err := a.DB.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
