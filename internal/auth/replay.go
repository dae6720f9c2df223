package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard remembers accepted request ids for a while so the same request
// cannot be accepted twice. Remember returns true the first time an id is seen.
type ReplayGuard interface {
	Remember(ctx context.Context, requestID string) (bool, error)
}

// RedisReplayGuard shares seen request ids between endpoint instances.
type RedisReplayGuard struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisReplayGuard(client *redis.Client, ttl time.Duration) *RedisReplayGuard {
	return &RedisReplayGuard{client: client, ttl: ttl, prefix: "indexqueue:request:"}
}

func (g *RedisReplayGuard) Remember(ctx context.Context, requestID string) (bool, error) {
	return g.client.SetNX(ctx, g.prefix+requestID, 1, g.ttl).Result()
}

// MemoryReplayGuard keeps seen ids in process memory. Suitable for a single
// endpoint instance and for tests.
type MemoryReplayGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryReplayGuard(ttl time.Duration) *MemoryReplayGuard {
	return &MemoryReplayGuard{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (g *MemoryReplayGuard) Remember(_ context.Context, requestID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for id, expires := range g.seen {
		if !expires.After(now) {
			delete(g.seen, id)
		}
	}
	if _, ok := g.seen[requestID]; ok {
		return false, nil
	}
	g.seen[requestID] = now.Add(g.ttl)
	return true, nil
}

var (
	_ ReplayGuard = (*RedisReplayGuard)(nil)
	_ ReplayGuard = (*MemoryReplayGuard)(nil)
)
