package resilience

import (
	"testing"
	"time"

	"github.com/agentcoredev/runtime/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensOnConsecutiveFailures(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.Cooldown = 30 * time.Second
	b := New("dep-d", cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		require.True(t, b.Allow())
		b.RecordFailure()
	}
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerHalfOpenAllowsSingleProbe(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.Cooldown = 10 * time.Millisecond
	b := New("dep-d", cfg)
	for i := 0; i < cfg.FailureThreshold; i++ {
		b.Allow()
		b.RecordFailure()
	}
	require.Equal(t, Open, b.State())
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, HalfOpen, b.State())
	assert.True(t, b.Allow())
	assert.False(t, b.Allow(), "only one concurrent probe allowed in HALF_OPEN")
}

func TestBreakerHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.Cooldown = 10 * time.Millisecond
	b := New("dep-d", cfg)
	for i := 0; i < cfg.FailureThreshold; i++ {
		b.Allow()
		b.RecordFailure()
	}
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, HalfOpen, b.State())

	for i := 0; i < cfg.SuccessThreshold; i++ {
		require.True(t, b.Allow())
		b.RecordSuccess()
	}
	assert.Equal(t, Closed, b.State())
}

func TestBreakerHalfOpenReopensOnFailure(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.Cooldown = 10 * time.Millisecond
	b := New("dep-d", cfg)
	for i := 0; i < cfg.FailureThreshold; i++ {
		b.Allow()
		b.RecordFailure()
	}
	time.Sleep(20 * time.Millisecond)
	require.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, Open, b.State())
}

func TestRegistryCallReturnsCircuitOpen(t *testing.T) {
	reg := NewRegistry(DefaultBreakerConfig())
	failing := func() error { return assert.AnError }
	for i := 0; i < DefaultBreakerConfig().FailureThreshold; i++ {
		_ = reg.Call("dep", failing)
	}
	err := reg.Call("dep", func() error { return nil })
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindCircuitOpen))
}

func TestBreakerTripsOnFailureRate(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.FailureThreshold = 1000 // disable the consecutive trigger
	cfg.Window = 20
	cfg.MinSamples = 10
	cfg.FailureRate = 0.5
	b := New("dep-d", cfg)

	// 10 successes, then 10 failures => 50% failure rate over the window.
	for i := 0; i < 10; i++ {
		b.Allow()
		b.RecordSuccess()
	}
	for i := 0; i < 9; i++ {
		b.Allow()
		b.RecordFailure()
	}
	require.Equal(t, Closed, b.State())
	b.Allow()
	b.RecordFailure()
	assert.Equal(t, Open, b.State())
}
