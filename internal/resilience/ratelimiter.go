package resilience

import (
	"sync"
	"time"
)

// RateLimiterConfig configures a bucket's capacity and refill rate.
type RateLimiterConfig struct {
	Capacity   float64 // max burst
	RefillRate float64 // tokens/sec
}

// bucket is one key's token bucket state.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// RateLimiter is a per-key token bucket limiter (spec §4.5 C2). Every
// Check call is atomic under the limiter's lock; no third-party
// rate-limiting library appears anywhere in the retrieved corpus, so this
// is implemented directly on stdlib sync/time (documented in DESIGN.md).
type RateLimiter struct {
	cfg     RateLimiterConfig
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewRateLimiter builds a RateLimiter using cfg for every key.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return &RateLimiter{cfg: cfg, buckets: make(map[string]*bucket)}
}

// Check atomically consumes cost tokens from key's bucket.
func (r *RateLimiter) Check(key string, cost int) (allowed bool, retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{tokens: r.cfg.Capacity, lastRefill: now}
		r.buckets[key] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * r.cfg.RefillRate
	if b.tokens > r.cfg.Capacity {
		b.tokens = r.cfg.Capacity
	}
	b.lastRefill = now

	need := float64(cost)
	if b.tokens >= need {
		b.tokens -= need
		return true, 0
	}

	deficit := need - b.tokens
	wait := time.Duration(deficit/r.cfg.RefillRate*1000) * time.Millisecond
	return false, wait
}
