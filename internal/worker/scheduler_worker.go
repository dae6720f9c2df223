package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/searchsync/indexqueue/internal/domain"
	"github.com/searchsync/indexqueue/internal/queue"
	"github.com/searchsync/indexqueue/internal/repository"
)

// SchedulerWorker claims pending items from the store on every tick and puts
// them on the work queue. Every poll leases under its own token derived from
// the instance owner, so an item that is claimed again after its lease ran
// out can no longer be recorded through the earlier claim.
type SchedulerWorker struct {
	repo      repository.QueueRepository
	q         *queue.WorkQueue
	owner     string
	batchSize int
	leaseFor  time.Duration
	interval  time.Duration
	logger    *zap.Logger

	// OnPoll is called after every poll with the number of claimed items.
	OnPoll func(claimed int)
}

func NewSchedulerWorker(
	repo repository.QueueRepository,
	q *queue.WorkQueue,
	owner string,
	batchSize int,
	leaseFor time.Duration,
	interval time.Duration,
	logger *zap.Logger,
) *SchedulerWorker {
	return &SchedulerWorker{
		repo: repo, q: q, owner: owner, batchSize: batchSize,
		leaseFor: leaseFor, interval: interval, logger: logger,
	}
}

// Run ticks every interval until ctx is cancelled.
func (sw *SchedulerWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.logger.Info("scheduler worker started",
		zap.Duration("interval", sw.interval),
		zap.Int("batch_size", sw.batchSize),
	)

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("scheduler worker stopping")
			return
		case <-ticker.C:
			sw.Poll(ctx)
		}
	}
}

// Poll claims at most as many items as the work queue can still take and
// enqueues them. Items that do not fit their tier are released immediately.
func (sw *SchedulerWorker) Poll(ctx context.Context) int {
	limit := min(sw.batchSize, sw.q.Free())
	if limit <= 0 {
		sw.logger.Debug("work queue full, skipping claim")
		if sw.OnPoll != nil {
			sw.OnPoll(0)
		}
		return 0
	}

	token := sw.owner + "/" + uuid.NewString()
	items, err := sw.repo.Claim(ctx, domain.ClaimFilter{Limit: limit}, token, sw.leaseFor)
	if err != nil {
		sw.logger.Error("claim error", zap.Error(err))
		return 0
	}

	enqueued := 0
	for _, it := range items {
		err := sw.q.Enqueue(queue.Item{QueueItem: it, Owner: token})
		if err == nil {
			enqueued++
			continue
		}
		if !errors.Is(err, domain.ErrQueueFull) {
			sw.logger.Error("enqueue error", zap.Int64("item_id", it.ID), zap.Error(err))
		}
		if err := sw.repo.Release(ctx, it.ID, token); err != nil {
			sw.logger.Warn("failed to release unqueued item", zap.Int64("item_id", it.ID), zap.Error(err))
		}
	}

	if sw.OnPoll != nil {
		sw.OnPoll(len(items))
	}
	if len(items) > 0 {
		sw.logger.Info("enqueued claimed items",
			zap.Int("claimed", len(items)),
			zap.Int("enqueued", enqueued),
		)
	}
	return enqueued
}
