package queue

import (
	"context"

	"github.com/searchsync/indexqueue/internal/domain"
)

const (
	DefaultFirstCapacity   = 500
	DefaultRefreshCapacity = 2000
)

// WorkQueue hands claimed items to workers through two buffered channels.
// Items that were never indexed are always served before refreshes so a newly
// initialized site becomes searchable before existing pages are re-rendered.
type WorkQueue struct {
	first   chan Item
	refresh chan Item
}

// New returns a queue with the given capacities. Non-positive values fall
// back to the defaults.
func New(firstCap, refreshCap int) *WorkQueue {
	if firstCap <= 0 {
		firstCap = DefaultFirstCapacity
	}
	if refreshCap <= 0 {
		refreshCap = DefaultRefreshCapacity
	}
	return &WorkQueue{
		first:   make(chan Item, firstCap),
		refresh: make(chan Item, refreshCap),
	}
}

// Enqueue never blocks. When the target channel is full domain.ErrQueueFull
// is returned and the caller keeps ownership of the item's lease.
func (q *WorkQueue) Enqueue(item Item) error {
	ch := q.refresh
	if item.Tier() == TierFirst {
		ch = q.first
	}
	select {
	case ch <- item:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Dequeue blocks until an item is available or ctx is cancelled, in which
// case it returns (Item{}, false).
func (q *WorkQueue) Dequeue(ctx context.Context) (Item, bool) {
	select {
	case item := <-q.first:
		return item, true
	default:
	}

	select {
	case item := <-q.first:
		return item, true
	case item := <-q.refresh:
		return item, true
	case <-ctx.Done():
		return Item{}, false
	}
}

// Depths returns the number of items waiting in each tier.
func (q *WorkQueue) Depths() (first, refresh int) {
	return len(q.first), len(q.refresh)
}

// Free returns the number of items both tiers can still accept.
func (q *WorkQueue) Free() int {
	return cap(q.first) - len(q.first) + cap(q.refresh) - len(q.refresh)
}

// TryDequeue returns the next waiting item without blocking.
func (q *WorkQueue) TryDequeue() (Item, bool) {
	select {
	case item := <-q.first:
		return item, true
	default:
	}
	select {
	case item := <-q.refresh:
		return item, true
	default:
		return Item{}, false
	}
}
