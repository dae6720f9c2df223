package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/searchsync/indexqueue/internal/repository"
)

// LeaseReaper clears leases whose holder crashed or stalled so the items
// become claimable again. Leases live in the store, so recovery survives
// restarts of every instance.
type LeaseReaper struct {
	repo     repository.QueueRepository
	interval time.Duration
	logger   *zap.Logger

	// OnReleased is called with the number of leases cleared on each tick.
	OnReleased func(n int)
}

func NewLeaseReaper(repo repository.QueueRepository, interval time.Duration, logger *zap.Logger) *LeaseReaper {
	return &LeaseReaper{
		repo: repo, interval: interval, logger: logger,
	}
}

// Run ticks every interval until ctx is cancelled.
func (lr *LeaseReaper) Run(ctx context.Context) {
	ticker := time.NewTicker(lr.interval)
	defer ticker.Stop()

	lr.logger.Info("lease reaper started", zap.Duration("interval", lr.interval))

	for {
		select {
		case <-ctx.Done():
			lr.logger.Info("lease reaper stopping")
			return
		case <-ticker.C:
			lr.Reap(ctx)
		}
	}
}

// Reap releases every expired lease once and returns how many were cleared.
func (lr *LeaseReaper) Reap(ctx context.Context) int {
	n, err := lr.repo.ReleaseExpiredLeases(ctx)
	if err != nil {
		lr.logger.Error("release expired leases", zap.Error(err))
		return 0
	}
	if n > 0 {
		lr.logger.Warn("released expired leases", zap.Int("count", n))
		if lr.OnReleased != nil {
			lr.OnReleased(n)
		}
	}
	return n
}
