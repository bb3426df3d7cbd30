package router

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/agentcoredev/runtime/core"
	"github.com/agentcoredev/runtime/internal/metrics"
	"github.com/agentcoredev/runtime/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyBackend fails its first N invocations then succeeds.
type flakyBackend struct {
	id        string
	failTimes int
	calls     int32
	tier      core.Tier
}

func (b *flakyBackend) ID() string { return b.id }
func (b *flakyBackend) Invoke(ctx context.Context, capability string, input []byte, maxTokens int) (core.InvokeResult, error) {
	n := atomic.AddInt32(&b.calls, 1)
	if int(n) <= b.failTimes {
		return core.InvokeResult{}, assertErr{}
	}
	return core.InvokeResult{Content: []byte("ok"), TokensOut: 10}, nil
}
func (b *flakyBackend) Probe(ctx context.Context) error { return nil }

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestLocalPreferredRouting(t *testing.T) {
	reg := registry.New()
	reg.Register(core.BackendConfig{ID: "local-A", Tier: core.TierLocal, Capabilities: []string{"chat"}, Priority: 1}, NewLocalBackend("local-A", []string{"chat"}, nil))
	reg.Register(core.BackendConfig{ID: "remote-B", Tier: core.TierRemote, Capabilities: []string{"chat"}, Priority: 1, UnitCost: 0.002}, &flakyBackend{id: "remote-B"})

	r := New(reg, metrics.New(), DefaultConfig())
	resp, err := r.Generate(context.Background(), core.GenerationRequest{Capability: "chat", Input: []byte("hi"), AllowRemote: true})
	require.NoError(t, err)
	assert.Equal(t, "local-A", resp.BackendID)
	assert.Equal(t, 0.0, resp.Cost)
}

func TestFallbackToRemoteAfterLocalFailure(t *testing.T) {
	// The selection algorithm (spec §4.1) walks distinct candidates in
	// sorted order, at most once each, up to MaxAttempts total — it does
	// not retry a backend that already failed within the same call.
	reg := registry.New()
	reg.Register(core.BackendConfig{ID: "local-A", Tier: core.TierLocal, Capabilities: []string{"chat"}, Priority: 1}, &flakyBackend{id: "local-A", failTimes: 1})
	reg.Register(core.BackendConfig{ID: "remote-B", Tier: core.TierRemote, Capabilities: []string{"chat"}, Priority: 1, UnitCost: 2.0}, &flakyBackend{id: "remote-B"})

	cfg := DefaultConfig()
	r := New(reg, metrics.New(), cfg)
	resp, err := r.Generate(context.Background(), core.GenerationRequest{Capability: "chat", Input: []byte("hi"), AllowRemote: true})
	require.NoError(t, err)
	assert.Equal(t, "remote-B", resp.BackendID)
	assert.Equal(t, 2, resp.Attempts)
}

func TestBackendDegradesAfterConsecutiveFailures(t *testing.T) {
	reg := registry.New()
	backend := &flakyBackend{id: "local-A", failTimes: 1000}
	reg.Register(core.BackendConfig{ID: "local-A", Tier: core.TierLocal, Capabilities: []string{"chat"}, Priority: 1}, backend)
	r := New(reg, metrics.New(), DefaultConfig())

	for i := 0; i < 3; i++ {
		_, _ = r.Generate(context.Background(), core.GenerationRequest{Capability: "chat"})
	}
	assert.Equal(t, core.HealthDegraded, reg.Health("local-A"))

	for i := 0; i < 2; i++ {
		_, _ = r.Generate(context.Background(), core.GenerationRequest{Capability: "chat"})
	}
	assert.Equal(t, core.HealthDown, reg.Health("local-A"))
}

func TestNoBackendAvailable(t *testing.T) {
	reg := registry.New()
	r := New(reg, metrics.New(), DefaultConfig())
	_, err := r.Generate(context.Background(), core.GenerationRequest{Capability: "chat"})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindNoBackendAvailable))
}

func TestRemoteDroppedWhenNotAllowed(t *testing.T) {
	reg := registry.New()
	reg.Register(core.BackendConfig{ID: "remote-B", Tier: core.TierRemote, Capabilities: []string{"chat"}, Priority: 1}, &flakyBackend{id: "remote-B"})
	r := New(reg, metrics.New(), DefaultConfig())
	_, err := r.Generate(context.Background(), core.GenerationRequest{Capability: "chat", AllowRemote: false})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindNoBackendAvailable))
}
