package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsWithinCapacity(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Capacity: 5, RefillRate: 1})
	for i := 0; i < 5; i++ {
		allowed, _ := rl.Check("k", 1)
		assert.True(t, allowed)
	}
	allowed, retryAfter := rl.Check("k", 1)
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestRateLimiterIndependentKeys(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Capacity: 1, RefillRate: 1})
	a1, _ := rl.Check("a", 1)
	b1, _ := rl.Check("b", 1)
	assert.True(t, a1)
	assert.True(t, b1)
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Capacity: 1, RefillRate: 100})
	allowed, _ := rl.Check("k", 1)
	assert.True(t, allowed)
	allowed, _ = rl.Check("k", 1)
	assert.False(t, allowed)
	time.Sleep(15 * time.Millisecond)
	allowed, _ = rl.Check("k", 1)
	assert.True(t, allowed)
}
