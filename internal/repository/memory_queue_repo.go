package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/searchsync/indexqueue/internal/domain"
)

// MemoryQueueRepository is an in-memory QueueRepository. It serializes every
// mutation behind one mutex, which gives the same per-item guarantees as the
// row-level locking of the postgres implementation.
type MemoryQueueRepository struct {
	mu     sync.RWMutex
	items  map[int64]*domain.QueueItem
	nextID int64
	now    func() time.Time

	// Optional error overrides, set in tests to simulate failure paths.
	ClaimErr       error
	MarkErr        error
	ResetErrorsErr error
}

func NewMemoryQueueRepository() *MemoryQueueRepository {
	return &MemoryQueueRepository{
		items: make(map[int64]*domain.QueueItem),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for lease bookkeeping.
func (m *MemoryQueueRepository) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Put stores a copy of item as-is, assigning an id when it has none.
// Tests use it to seed arbitrary states.
func (m *MemoryQueueRepository) Put(item *domain.QueueItem) *domain.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *item
	if clone.ID == 0 {
		m.nextID++
		clone.ID = m.nextID
	} else if clone.ID > m.nextID {
		m.nextID = clone.ID
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = m.now()
	}
	m.items[clone.ID] = &clone
	out := clone
	return &out
}

func (m *MemoryQueueRepository) Initialize(_ context.Context, site, configuration string, records []domain.SourceRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type key struct {
		table string
		uid   int64
	}
	existing := make(map[key]bool)
	for _, it := range m.items {
		if it.Site == site && it.IndexingConfiguration == configuration {
			existing[key{it.RecordTable, it.RecordUID}] = true
		}
	}

	inserted := 0
	now := m.now()
	for _, rec := range records {
		k := key{rec.Table, rec.UID}
		if existing[k] {
			continue
		}
		existing[k] = true
		changed := rec.Changed
		if changed.IsZero() {
			changed = now
		}
		m.nextID++
		m.items[m.nextID] = &domain.QueueItem{
			ID:                    m.nextID,
			Site:                  site,
			RecordTable:           rec.Table,
			RecordUID:             rec.UID,
			RecordPageID:          rec.PageID,
			IndexingConfiguration: configuration,
			Changed:               changed,
			CreatedAt:             now,
		}
		inserted++
	}
	return inserted, nil
}

func (m *MemoryQueueRepository) Statistics(_ context.Context, site, configuration string) (*domain.Statistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := &domain.Statistics{}
	for _, it := range m.items {
		if it.Site != site {
			continue
		}
		if configuration != "" && it.IndexingConfiguration != configuration {
			continue
		}
		stats.Add(it)
	}
	return stats, nil
}

func (m *MemoryQueueRepository) StatisticsByConfiguration(_ context.Context, site string) (map[string]*domain.Statistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]*domain.Statistics)
	for _, it := range m.items {
		if it.Site != site {
			continue
		}
		stats, ok := result[it.IndexingConfiguration]
		if !ok {
			stats = &domain.Statistics{}
			result[it.IndexingConfiguration] = stats
		}
		stats.Add(it)
	}
	return result, nil
}

func (m *MemoryQueueRepository) Errors(_ context.Context, site string) ([]*domain.QueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.QueueItem
	for _, it := range m.items {
		if it.Site == site && it.HasErrors() {
			clone := *it
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryQueueRepository) GetByID(_ context.Context, id int64) (*domain.QueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *it
	return &clone, nil
}

func (m *MemoryQueueRepository) DeleteBySite(_ context.Context, site string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for id, it := range m.items {
		if it.Site == site {
			delete(m.items, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemoryQueueRepository) ResetAllErrors(_ context.Context) (int, error) {
	if m.ResetErrorsErr != nil {
		return 0, m.ResetErrorsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	reset := 0
	for _, it := range m.items {
		if it.HasErrors() {
			it.Errors = ""
			reset++
		}
	}
	return reset, nil
}

func (m *MemoryQueueRepository) Claim(_ context.Context, filter domain.ClaimFilter, owner string, leaseFor time.Duration) ([]*domain.QueueItem, error) {
	if m.ClaimErr != nil {
		return nil, m.ClaimErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var eligible []*domain.QueueItem
	for _, it := range m.items {
		if filter.Site != "" && it.Site != filter.Site {
			continue
		}
		if !it.IsPending() || it.IsLeased(now) {
			continue
		}
		eligible = append(eligible, it)
	}
	sortForDispatch(eligible)
	if filter.Limit > 0 && len(eligible) > filter.Limit {
		eligible = eligible[:filter.Limit]
	}

	until := now.Add(leaseFor)
	claimed := make([]*domain.QueueItem, 0, len(eligible))
	for _, it := range eligible {
		o, u := owner, until
		it.LeaseOwner = &o
		it.LeaseUntil = &u
		clone := *it
		claimed = append(claimed, &clone)
	}
	return claimed, nil
}

// sortForDispatch orders never-indexed items first, then oldest change first.
func sortForDispatch(items []*domain.QueueItem) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.NeverIndexed() != b.NeverIndexed() {
			return a.NeverIndexed()
		}
		if !a.Changed.Equal(b.Changed) {
			return a.Changed.Before(b.Changed)
		}
		return a.ID < b.ID
	})
}

// owned returns the item if owner currently holds its lease. Caller holds m.mu.
func (m *MemoryQueueRepository) owned(id int64, owner string) (*domain.QueueItem, error) {
	it, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if it.LeaseOwner == nil || *it.LeaseOwner != owner {
		return nil, domain.ErrItemNotClaimed
	}
	return it, nil
}

func (m *MemoryQueueRepository) MarkIndexed(_ context.Context, id int64, owner string, at time.Time) error {
	if m.MarkErr != nil {
		return m.MarkErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, err := m.owned(id, owner)
	if err != nil {
		return err
	}
	indexed := at
	it.Indexed = &indexed
	it.Errors = ""
	it.LeaseOwner = nil
	it.LeaseUntil = nil
	return nil
}

func (m *MemoryQueueRepository) MarkFailed(_ context.Context, id int64, owner, errMsg string) error {
	if m.MarkErr != nil {
		return m.MarkErr
	}
	if errMsg == "" {
		errMsg = "unknown error"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, err := m.owned(id, owner)
	if err != nil {
		return err
	}
	it.Errors = errMsg
	it.ErrorCount++
	it.LeaseOwner = nil
	it.LeaseUntil = nil
	return nil
}

func (m *MemoryQueueRepository) Release(_ context.Context, id int64, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, err := m.owned(id, owner)
	if err != nil {
		return err
	}
	it.LeaseOwner = nil
	it.LeaseUntil = nil
	return nil
}

func (m *MemoryQueueRepository) ReleaseExpiredLeases(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	released := 0
	for _, it := range m.items {
		if it.LeaseOwner != nil && it.LeaseUntil != nil && !it.LeaseUntil.After(now) {
			it.LeaseOwner = nil
			it.LeaseUntil = nil
			released++
		}
	}
	return released, nil
}

// compile-time check that MemoryQueueRepository implements QueueRepository
var _ QueueRepository = (*MemoryQueueRepository)(nil)
