// Package app assembles the queue store, record source, dispatcher and
// administration service from configuration. The server and the operator
// CLI share it so both act on the same store the same way.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/searchsync/indexqueue/internal/auth"
	"github.com/searchsync/indexqueue/internal/config"
	"github.com/searchsync/indexqueue/internal/db"
	"github.com/searchsync/indexqueue/internal/dispatch"
	"github.com/searchsync/indexqueue/internal/indexer"
	"github.com/searchsync/indexqueue/internal/repository"
	"github.com/searchsync/indexqueue/internal/service"
	"github.com/searchsync/indexqueue/internal/source"
)

// Options tune how New prepares the store.
type Options struct {
	// Migrate applies pending schema migrations before use.
	Migrate       bool
	MigrationsDir string
}

type App struct {
	Config  *config.Config
	Repo    repository.QueueRepository
	Records source.RecordSource
	Client  *dispatch.Client
	Indexer *indexer.Indexer
	Service *service.IndexQueueService
	// Ping checks the store; nil for the memory backend.
	Ping func(ctx context.Context) error

	closers []func()
}

// New connects to the configured backend and wires the components on top.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg}

	switch cfg.QueueBackend {
	case config.BackendPostgres:
		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		if opts.Migrate {
			if err := db.Migrate(cfg.DatabaseURL, opts.MigrationsDir); err != nil {
				a.Close()
				return nil, err
			}
			logger.Info("database migrations applied")
		}
		a.Repo = repository.NewPgQueueRepository(pool)
		a.Records = source.NewPgRecordSource(pool)
		a.Ping = pool.Ping
	case config.BackendMemory:
		logger.Warn("using in-memory queue store: state is lost on exit")
		a.Repo = repository.NewMemoryQueueRepository()
		a.Records = source.NewStaticRecordSource()
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}

	a.Client = dispatch.NewClient(
		dispatch.NewHTTPFetcher(cfg.DispatchInsecureTLS),
		dispatch.Options{Secret: cfg.Secret, UserAgent: cfg.DispatchUserAgent},
		logger.Named("dispatch"),
	)
	a.Indexer = indexer.New(a.Repo, a.Client, indexer.Config{
		BaseURL:  cfg.RenderBaseURL,
		Actions:  cfg.DispatchActions,
		Username: cfg.BasicAuthUser,
		Password: cfg.BasicAuthPassword,
		Timeout:  cfg.DispatchTimeout,
	}, logger.Named("indexer"))
	a.Service = service.NewIndexQueueService(
		a.Repo, a.Records, a.Indexer,
		cfg.IndexingConfigurations, cfg.LeaseDuration,
		logger.Named("service"),
	)
	return a, nil
}

// ReplayGuard returns a redis-backed guard when REDIS_ADDR is set, shared by
// every instance behind the same frontend, and a process-local one otherwise.
func (a *App) ReplayGuard(ctx context.Context, logger *zap.Logger) (auth.ReplayGuard, error) {
	if a.Config.RedisAddr == "" {
		logger.Info("replay guard is process-local")
		return auth.NewMemoryReplayGuard(a.Config.ReplayTTL), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.RedisAddr,
		Password: a.Config.RedisPassword,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	logger.Info("replay guard uses redis", zap.String("addr", a.Config.RedisAddr))
	return auth.NewRedisReplayGuard(client, a.Config.ReplayTTL), nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
