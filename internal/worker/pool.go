package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/searchsync/indexqueue/internal/domain"
	"github.com/searchsync/indexqueue/internal/queue"
	"github.com/searchsync/indexqueue/internal/ratelimiter"
)

// ItemIndexer is satisfied by *indexer.Indexer.
type ItemIndexer interface {
	Index(ctx context.Context, item *domain.QueueItem, owner string) error
}

// LeaseReleaser hands a lease back without recording an outcome.
type LeaseReleaser interface {
	Release(ctx context.Context, id int64, owner string) error
}

// MetricHooks carries the metric callbacks injected by main.
type MetricHooks struct {
	OnIndexed func(configuration string, latency time.Duration)
	OnFailed  func(configuration, reason string, latency time.Duration)
}

// Pool manages the lifecycle of all workers. All workers share the same work
// queue; the queue serves never-indexed items first.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewPool creates size identical workers.
func NewPool(
	size int,
	q *queue.WorkQueue,
	ix ItemIndexer,
	releaser LeaseReleaser,
	limiter *ratelimiter.SiteLimiters,
	logger *zap.Logger,
	hooks MetricHooks,
) *Pool {
	if size <= 0 {
		size = 1
	}
	workers := make([]*Worker, size)
	for i := range workers {
		workers[i] = NewWorker(
			i, q, ix, releaser, limiter,
			logger.With(zap.Int("worker_id", i)),
			hooks,
		)
	}
	return &Pool{workers: workers}
}

// SetLeaseMargin makes workers skip and release items whose lease ends
// within d. Use the dispatch timeout so an exchange cannot outlive its lease.
// Call before Start.
func (p *Pool) SetLeaseMargin(d time.Duration) {
	for _, w := range p.workers {
		w.leaseMargin = d
	}
}

// Start launches all workers. Cancelling ctx stops them from taking new items;
// dispatches already in flight finish first.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has returned after ctx is cancelled, which
// takes at most one dispatch timeout.
func (p *Pool) Wait() {
	p.wg.Wait()
}
