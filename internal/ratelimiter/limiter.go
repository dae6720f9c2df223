package ratelimiter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// SiteLimiters holds one token bucket limiter per site so a large site cannot
// saturate the rendering frontend shared with other sites. Limiters are
// created on first use. Burst equals the rate, so no extra burst builds up
// beyond the configured per-second maximum.
type SiteLimiters struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// New creates SiteLimiters granting ratePerSec requests per second per site.
// A non-positive rate disables limiting.
func New(ratePerSec int) *SiteLimiters {
	sl := &SiteLimiters{limiters: make(map[string]*rate.Limiter)}
	if ratePerSec <= 0 {
		sl.limit = rate.Inf
		return sl
	}
	sl.limit = rate.Limit(ratePerSec)
	sl.burst = ratePerSec
	return sl
}

func (sl *SiteLimiters) limiter(site string) *rate.Limiter {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	l, ok := sl.limiters[site]
	if !ok {
		l = rate.NewLimiter(sl.limit, sl.burst)
		sl.limiters[site] = l
	}
	return l
}

// Wait blocks until the site's limiter grants a token. It returns a non-nil
// error only if ctx is cancelled while waiting.
func (sl *SiteLimiters) Wait(ctx context.Context, site string) error {
	return sl.limiter(site).Wait(ctx)
}
