package repository

import (
	"context"
	"time"

	"github.com/searchsync/indexqueue/internal/domain"
)

// QueueRepository defines all persistence operations for index queue items.
// The pgx implementation is in pg_queue_repo.go; an in-memory implementation
// (memory_queue_repo.go) backs tests and local runs.
type QueueRepository interface {
	// Initialize inserts an item for every record not already queued for the
	// same site and configuration and returns how many were inserted.
	Initialize(ctx context.Context, site, configuration string, records []domain.SourceRecord) (int, error)

	// Statistics aggregates the items of a site; configuration "" means all.
	Statistics(ctx context.Context, site, configuration string) (*domain.Statistics, error)
	StatisticsByConfiguration(ctx context.Context, site string) (map[string]*domain.Statistics, error)
	Errors(ctx context.Context, site string) ([]*domain.QueueItem, error)
	GetByID(ctx context.Context, id int64) (*domain.QueueItem, error)
	DeleteBySite(ctx context.Context, site string) (int, error)
	ResetAllErrors(ctx context.Context) (int, error)

	// Claim leases up to filter.Limit eligible items to owner until now+leaseFor.
	Claim(ctx context.Context, filter domain.ClaimFilter, owner string, leaseFor time.Duration) ([]*domain.QueueItem, error)
	MarkIndexed(ctx context.Context, id int64, owner string, at time.Time) error
	MarkFailed(ctx context.Context, id int64, owner, errMsg string) error
	Release(ctx context.Context, id int64, owner string) error
	// ReleaseExpiredLeases clears leases that ran out. Expiry is judged by the
	// store's clock, the same one Claim uses.
	ReleaseExpiredLeases(ctx context.Context) (int, error)
}
