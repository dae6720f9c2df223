package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/searchsync/indexqueue/internal/api"
	"github.com/searchsync/indexqueue/internal/app"
	"github.com/searchsync/indexqueue/internal/auth"
	"github.com/searchsync/indexqueue/internal/config"
	"github.com/searchsync/indexqueue/internal/endpoint"
	"github.com/searchsync/indexqueue/internal/metrics"
	"github.com/searchsync/indexqueue/internal/queue"
	"github.com/searchsync/indexqueue/internal/ratelimiter"
	"github.com/searchsync/indexqueue/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- store and core dependencies ----
	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger, app.Options{
		Migrate:       true,
		MigrationsDir: os.Getenv("MIGRATIONS_DIR"),
	})
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer a.Close()

	guard, err := a.ReplayGuard(ctx, logger)
	if err != nil {
		logger.Fatal("failed to set up replay guard", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	q := queue.New(cfg.WorkQueueCapacity/4, cfg.WorkQueueCapacity)
	limiter := ratelimiter.New(cfg.RateLimitPerSite)
	instanceID := instanceOwner()

	// ---- background processing ----
	// Context for all background goroutines; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	onIndexed, onFailed := m.WorkerHooks()
	pool := worker.NewPool(cfg.Workers, q, a.Indexer, a.Repo, limiter, logger, worker.MetricHooks{
		OnIndexed: onIndexed,
		OnFailed:  onFailed,
	})
	pool.SetLeaseMargin(cfg.DispatchTimeout)
	pool.Start(workerCtx)

	scheduler := worker.NewSchedulerWorker(a.Repo, q, instanceID,
		cfg.SchedulerBatchSize, cfg.LeaseDuration, cfg.SchedulerInterval, logger)
	scheduler.OnPoll = func(claimed int) {
		m.ItemsClaimed.Add(float64(claimed))
		m.SetWorkQueueDepths(q.Depths())
	}
	go scheduler.Run(workerCtx)

	reaper := worker.NewLeaseReaper(a.Repo, cfg.ReaperInterval, logger)
	reaper.OnReleased = func(n int) { m.LeasesReleased.Add(float64(n)) }
	go reaper.Run(workerCtx)

	// ---- HTTP server ----
	eh := endpoint.NewHandler(logger.Named("endpoint"))
	eh.Register("ping", endpoint.PingAction())

	router := api.NewRouter(api.RouterDeps{
		Service:  a.Service,
		Queue:    q,
		Gatherer: reg,
		Endpoint: endpoint.Routes(auth.NewVerifier(cfg.Secret, guard, logger.Named("auth")), eh, logger),
		Ping:     a.Ping,
	}, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("instance", instanceID),
			zap.String("backend", cfg.QueueBackend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop claiming and stop workers from taking new items.
	cancelWorkers()

	// 3. In-flight dispatches run to completion and record their outcome.
	pool.Wait()

	// 4. Items still on the work queue keep their lease until it expires;
	// release them now so another instance can pick them up.
	drainQueue(q, a.Repo, logger)

	logger.Info("server stopped cleanly")
}

// instanceOwner identifies this process. Each scheduler poll derives its own
// lease token from it.
func instanceOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "indexqueue"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func drainQueue(q *queue.WorkQueue, releaser worker.LeaseReleaser, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	released := 0
	for {
		item, ok := q.TryDequeue()
		if !ok {
			break
		}
		if err := releaser.Release(ctx, item.QueueItem.ID, item.Owner); err != nil {
			logger.Warn("failed to release queued item", zap.Int64("item_id", item.QueueItem.ID), zap.Error(err))
			continue
		}
		released++
	}
	if released > 0 {
		logger.Info("released queued items", zap.Int("count", released))
	}
}
