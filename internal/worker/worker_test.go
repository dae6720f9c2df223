package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/searchsync/indexqueue/internal/dispatch"
	"github.com/searchsync/indexqueue/internal/domain"
	"github.com/searchsync/indexqueue/internal/queue"
	"github.com/searchsync/indexqueue/internal/ratelimiter"
	"github.com/searchsync/indexqueue/internal/repository"
	"github.com/searchsync/indexqueue/internal/worker"
)

const owner = "instance-1"

// fakeIndexer records outcomes on the repository like the real indexer and
// fails every item whose page id is listed in failPages.
type fakeIndexer struct {
	repo      *repository.MemoryQueueRepository
	failPages map[int64]bool

	mu   sync.Mutex
	seen []int64
}

func (f *fakeIndexer) Index(ctx context.Context, item *domain.QueueItem, owner string) error {
	f.mu.Lock()
	f.seen = append(f.seen, item.ID)
	f.mu.Unlock()

	if f.failPages[item.RecordPageID] {
		err := &dispatch.Failure{Reason: dispatch.ReasonTransport, Err: errors.New("connection refused")}
		_ = f.repo.MarkFailed(ctx, item.ID, owner, err.Error())
		return err
	}
	return f.repo.MarkIndexed(ctx, item.ID, owner, time.Now())
}

func (f *fakeIndexer) Seen() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.seen...)
}

func seed(repo *repository.MemoryQueueRepository, pages ...int64) {
	for _, p := range pages {
		repo.Put(&domain.QueueItem{
			Site: "site-a", RecordTable: "pages", RecordUID: p, RecordPageID: p,
			IndexingConfiguration: "pages", Changed: time.Now().Add(-time.Hour),
		})
	}
}

func TestScheduler_PollEnqueuesClaimedItems(t *testing.T) {
	repo := repository.NewMemoryQueueRepository()
	seed(repo, 1, 2, 3)
	q := queue.New(0, 0)

	sw := worker.NewSchedulerWorker(repo, q, owner, 2, time.Minute, time.Hour, zap.NewNop())
	var polled int
	sw.OnPoll = func(n int) { polled = n }

	assert.Equal(t, 2, sw.Poll(context.Background()))
	assert.Equal(t, 2, polled)

	first, refresh := q.Depths()
	assert.Equal(t, 2, first, "never-indexed items go to the first tier")
	assert.Equal(t, 0, refresh)

	assert.Equal(t, 1, sw.Poll(context.Background()), "leased items are not claimed twice")
	assert.Equal(t, 0, sw.Poll(context.Background()))
}

func TestScheduler_ReleasesWhenQueueFull(t *testing.T) {
	repo := repository.NewMemoryQueueRepository()
	seed(repo, 1, 2, 3)
	q := queue.New(1, 1)

	sw := worker.NewSchedulerWorker(repo, q, owner, 10, time.Minute, time.Hour, zap.NewNop())
	assert.Equal(t, 1, sw.Poll(context.Background()))

	item, ok := q.Dequeue(context.Background())
	require.True(t, ok)

	for id := int64(1); id <= 3; id++ {
		got, err := repo.GetByID(context.Background(), id)
		require.NoError(t, err)
		if id == item.QueueItem.ID {
			assert.NotNil(t, got.LeaseOwner)
		} else {
			assert.Nil(t, got.LeaseOwner, "item %d should have been released", id)
		}
	}
}

func TestScheduler_ClaimErrorIsLogged(t *testing.T) {
	repo := repository.NewMemoryQueueRepository()
	repo.ClaimErr = errors.New("db down")
	sw := worker.NewSchedulerWorker(repo, queue.New(0, 0), owner, 10, time.Minute, time.Hour, zap.NewNop())

	assert.Equal(t, 0, sw.Poll(context.Background()))
}

func TestLeaseReaper_ReleasesExpiredLeases(t *testing.T) {
	repo := repository.NewMemoryQueueRepository()
	seed(repo, 1, 2)
	_, err := repo.Claim(context.Background(), domain.ClaimFilter{Limit: 1}, "crashed", time.Millisecond)
	require.NoError(t, err)
	_, err = repo.Claim(context.Background(), domain.ClaimFilter{Limit: 1}, "alive", time.Hour)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	lr := worker.NewLeaseReaper(repo, time.Hour, zap.NewNop())
	var released int
	lr.OnReleased = func(n int) { released = n }

	assert.Equal(t, 1, lr.Reap(context.Background()))
	assert.Equal(t, 1, released)
	assert.Equal(t, 0, lr.Reap(context.Background()))
}

func TestPool_ProcessesQueueAndReportsMetrics(t *testing.T) {
	repo := repository.NewMemoryQueueRepository()
	seed(repo, 1, 2, 3, 4)
	q := queue.New(0, 0)
	ix := &fakeIndexer{repo: repo, failPages: map[int64]bool{3: true}}

	var (
		mu      sync.Mutex
		indexed int
		reasons []string
		done    = make(chan struct{}, 4)
	)
	hooks := worker.MetricHooks{
		OnIndexed: func(cfg string, _ time.Duration) {
			mu.Lock()
			indexed++
			mu.Unlock()
			done <- struct{}{}
		},
		OnFailed: func(cfg, reason string, _ time.Duration) {
			mu.Lock()
			reasons = append(reasons, reason)
			mu.Unlock()
			done <- struct{}{}
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool := worker.NewPool(2, q, ix, repo, ratelimiter.New(0), zap.NewNop(), hooks)
	pool.Start(ctx)

	sw := worker.NewSchedulerWorker(repo, q, owner, 10, time.Minute, time.Hour, zap.NewNop())
	require.Equal(t, 4, sw.Poll(ctx))

	for i := 0; i < 4; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d/4 items processed", i)
		}
	}
	cancel()
	pool.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, indexed)
	assert.Equal(t, []string{"transport"}, reasons)
	assert.Len(t, ix.Seen(), 4)

	stats, err := repo.Statistics(context.Background(), "site-a", "")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 3, stats.Indexed)
}

func TestWorker_ReleasesLeaseOnShutdown(t *testing.T) {
	repo := repository.NewMemoryQueueRepository()
	seed(repo, 1, 2)
	q := queue.New(0, 0)
	ix := &fakeIndexer{repo: repo}

	sw := worker.NewSchedulerWorker(repo, q, owner, 10, time.Minute, time.Hour, zap.NewNop())
	require.Equal(t, 2, sw.Poll(context.Background()))

	// One token per second: the second item has to wait and sees the shutdown.
	limiter := ratelimiter.New(1)
	ctx, cancel := context.WithCancel(context.Background())
	pool := worker.NewPool(1, q, ix, repo, limiter, zap.NewNop(), worker.MetricHooks{})
	pool.Start(ctx)

	require.Eventually(t, func() bool {
		first, refresh := q.Depths()
		return len(ix.Seen()) == 1 && first+refresh == 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	pool.Wait()

	leased := 0
	for id := int64(1); id <= 2; id++ {
		got, err := repo.GetByID(context.Background(), id)
		require.NoError(t, err)
		if got.LeaseOwner != nil {
			leased++
		}
	}
	assert.Equal(t, 0, leased)
	assert.Len(t, ix.Seen(), 1)
}

func TestScheduler_ReclaimUsesFreshToken(t *testing.T) {
	repo := repository.NewMemoryQueueRepository()
	seed(repo, 1)
	q := queue.New(0, 0)
	start := time.Now().UTC()
	repo.SetClock(func() time.Time { return start })

	sw := worker.NewSchedulerWorker(repo, q, owner, 10, time.Minute, time.Hour, zap.NewNop())
	require.Equal(t, 1, sw.Poll(context.Background()))

	repo.SetClock(func() time.Time { return start.Add(2 * time.Minute) })
	require.Equal(t, 1, sw.Poll(context.Background()), "expired lease is claimed again")

	stale, ok := q.TryDequeue()
	require.True(t, ok)
	fresh, ok := q.TryDequeue()
	require.True(t, ok)
	require.Equal(t, stale.QueueItem.ID, fresh.QueueItem.ID)

	assert.NotEqual(t, stale.Owner, fresh.Owner)
	assert.Contains(t, stale.Owner, owner+"/")
	assert.Contains(t, fresh.Owner, owner+"/")

	err := repo.MarkIndexed(context.Background(), stale.QueueItem.ID, stale.Owner, time.Now())
	assert.ErrorIs(t, err, domain.ErrItemNotClaimed, "the earlier claim can no longer record an outcome")
	assert.NoError(t, repo.MarkIndexed(context.Background(), fresh.QueueItem.ID, fresh.Owner, time.Now()))
}

func TestScheduler_ClaimsOnlyFreeSlots(t *testing.T) {
	repo := repository.NewMemoryQueueRepository()
	seed(repo, 1, 2, 3, 4, 5)
	q := queue.New(2, 1)
	require.NoError(t, q.Enqueue(queue.Item{QueueItem: &domain.QueueItem{ID: 100, Indexed: ptrTime(time.Now())}}))

	sw := worker.NewSchedulerWorker(repo, q, owner, 10, time.Minute, time.Hour, zap.NewNop())
	var claimed int
	sw.OnPoll = func(n int) { claimed = n }

	assert.Equal(t, 2, sw.Poll(context.Background()))
	assert.Equal(t, 2, claimed, "claim is limited to the free slots, not the batch size")
	assert.Equal(t, 0, q.Free())

	assert.Equal(t, 0, sw.Poll(context.Background()))
	assert.Equal(t, 0, claimed)

	leased := 0
	for id := int64(1); id <= 5; id++ {
		got, err := repo.GetByID(context.Background(), id)
		require.NoError(t, err)
		if got.LeaseOwner != nil {
			leased++
		}
	}
	assert.Equal(t, 2, leased)
}

func TestWorker_SkipsItemsWithExpiredLease(t *testing.T) {
	repo := repository.NewMemoryQueueRepository()
	seed(repo, 1)
	q := queue.New(0, 0)
	ix := &fakeIndexer{repo: repo}

	// First claim expires 30s ago in wall-clock time, the second is current.
	repo.SetClock(func() time.Time { return time.Now().UTC().Add(-90 * time.Second) })
	sw := worker.NewSchedulerWorker(repo, q, owner, 10, time.Minute, time.Hour, zap.NewNop())
	require.Equal(t, 1, sw.Poll(context.Background()))
	repo.SetClock(func() time.Time { return time.Now().UTC() })
	require.Equal(t, 1, sw.Poll(context.Background()))
	first, _ := q.Depths()
	require.Equal(t, 2, first, "the same item waits twice")

	ctx, cancel := context.WithCancel(context.Background())
	pool := worker.NewPool(2, q, ix, repo, ratelimiter.New(0), zap.NewNop(), worker.MetricHooks{})
	pool.SetLeaseMargin(time.Second)
	pool.Start(ctx)

	require.Eventually(t, func() bool {
		got, err := repo.GetByID(context.Background(), 1)
		first, refresh := q.Depths()
		return err == nil && got.Indexed != nil && got.LeaseOwner == nil && first+refresh == 0
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	pool.Wait()

	assert.Equal(t, []int64{1}, ix.Seen(), "only the current claim is dispatched")
}

func TestWorker_LeaseMarginReleasesShortLeases(t *testing.T) {
	repo := repository.NewMemoryQueueRepository()
	seed(repo, 1)
	q := queue.New(0, 0)
	ix := &fakeIndexer{repo: repo}

	sw := worker.NewSchedulerWorker(repo, q, owner, 10, 30*time.Second, time.Hour, zap.NewNop())
	require.Equal(t, 1, sw.Poll(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	pool := worker.NewPool(1, q, ix, repo, ratelimiter.New(0), zap.NewNop(), worker.MetricHooks{})
	pool.SetLeaseMargin(time.Minute)
	pool.Start(ctx)

	require.Eventually(t, func() bool {
		got, err := repo.GetByID(context.Background(), 1)
		return err == nil && got.LeaseOwner == nil
	}, time.Second, 5*time.Millisecond)
	cancel()
	pool.Wait()

	assert.Empty(t, ix.Seen())
	got, err := repo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, got.IsPending(), "released item stays pending")
}

func ptrTime(t time.Time) *time.Time { return &t }
