package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/searchsync/indexqueue/internal/dispatch"
	"github.com/searchsync/indexqueue/internal/domain"
	"github.com/searchsync/indexqueue/internal/indexer"
	"github.com/searchsync/indexqueue/internal/queue"
	"github.com/searchsync/indexqueue/internal/ratelimiter"
)

// Failure reasons reported to metrics in addition to the dispatch reasons.
const (
	ReasonAction = "action"
	ReasonStore  = "store"
)

// Worker pulls claimed items from the work queue, waits for the site's rate
// limiter and drives each item through the indexer.
type Worker struct {
	id       int
	q        *queue.WorkQueue
	ix       ItemIndexer
	releaser LeaseReleaser
	limiter  *ratelimiter.SiteLimiters
	logger   *zap.Logger
	now      func() time.Time

	// leaseMargin is the lease time an item must have left to be dispatched.
	leaseMargin time.Duration

	onIndexed func(string, time.Duration)
	onFailed  func(string, string, time.Duration)
}

// NewWorker constructs a worker. Nil hooks are no-ops.
func NewWorker(
	id int,
	q *queue.WorkQueue,
	ix ItemIndexer,
	releaser LeaseReleaser,
	limiter *ratelimiter.SiteLimiters,
	logger *zap.Logger,
	hooks MetricHooks,
) *Worker {
	w := &Worker{
		id: id, q: q, ix: ix, releaser: releaser, limiter: limiter, logger: logger,
		now:       time.Now,
		onIndexed: hooks.OnIndexed,
		onFailed:  hooks.OnFailed,
	}
	if w.onIndexed == nil {
		w.onIndexed = func(string, time.Duration) {}
	}
	if w.onFailed == nil {
		w.onFailed = func(string, string, time.Duration) {}
	}
	return w
}

// Run blocks until ctx is cancelled, processing one item per iteration.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started")
	for {
		item, ok := w.q.Dequeue(ctx)
		if !ok {
			w.logger.Info("worker stopping")
			return
		}
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item queue.Item) {
	qi := item.QueueItem
	log := w.logger.With(
		zap.Int64("item_id", qi.ID),
		zap.String("site", qi.Site),
	)

	if err := w.limiter.Wait(ctx, qi.Site); err != nil {
		// Shutting down: hand the lease back so another instance can pick the
		// item up without waiting for the reaper.
		w.release(item, log)
		return
	}

	if !w.leaseHeld(qi) {
		log.Warn("lease expired before dispatch, skipping item", zap.Timep("lease_until", qi.LeaseUntil))
		w.release(item, log)
		return
	}

	// Once sent, a dispatch runs to completion even if the pool is stopping.
	start := time.Now()
	err := w.ix.Index(context.WithoutCancel(ctx), qi, item.Owner)
	elapsed := time.Since(start)

	if errors.Is(err, domain.ErrDispatchInterrupted) {
		log.Info("dispatch interrupted", zap.Error(err))
		return
	}
	if err != nil {
		w.onFailed(qi.IndexingConfiguration, failureReason(err), elapsed)
		return
	}
	w.onIndexed(qi.IndexingConfiguration, elapsed)
	log.Info("item indexed", zap.Duration("latency", elapsed))
}

// leaseHeld reports whether the claim behind qi is still valid for at least
// the lease margin. An expired claim may already have been handed to another
// worker under a new token.
func (w *Worker) leaseHeld(qi *domain.QueueItem) bool {
	if qi.LeaseUntil == nil {
		return false
	}
	return qi.LeaseUntil.After(w.now().Add(w.leaseMargin))
}

func (w *Worker) release(item queue.Item, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := w.releaser.Release(ctx, item.QueueItem.ID, item.Owner)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrItemNotClaimed):
		log.Debug("lease already taken over", zap.Error(err))
	default:
		log.Warn("failed to release lease", zap.Error(err))
	}
}

func failureReason(err error) string {
	if r := dispatch.ReasonOf(err); r != "" {
		return string(r)
	}
	if errors.Is(err, indexer.ErrActionFailed) {
		return ReasonAction
	}
	return ReasonStore
}
