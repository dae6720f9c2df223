package queue

import "github.com/searchsync/indexqueue/internal/domain"

// Tier selects the channel an item waits on.
type Tier int

const (
	// TierFirst holds items that were never indexed.
	TierFirst Tier = iota
	// TierRefresh holds items whose record changed since the last run.
	TierRefresh
)

// Item is a claimed queue item together with the lease owner that must be
// presented when its outcome is recorded.
type Item struct {
	QueueItem *domain.QueueItem
	Owner     string
}

// Tier reports which channel the item belongs on.
func (i Item) Tier() Tier {
	if i.QueueItem != nil && i.QueueItem.NeverIndexed() {
		return TierFirst
	}
	return TierRefresh
}
