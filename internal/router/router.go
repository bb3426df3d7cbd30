// Package router implements the Model Router (C6, spec §4.1): given a
// GenerationRequest it selects a backend from the Backend Registry,
// invokes it with a deadline, retries/falls back as needed, and accounts
// cost.
package router

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/agentcoredev/runtime/core"
	"github.com/agentcoredev/runtime/internal/metrics"
	"github.com/agentcoredev/runtime/internal/registry"
	"github.com/agentcoredev/runtime/internal/resilience"
)

// Config tunes the router beyond its hardwired defaults (spec §4.1/§6.6).
type Config struct {
	MaxAttempts        int           // default 3
	ProbeInterval      time.Duration // default 30s
	DegradeAfter       int           // consecutive failures -> DEGRADED, default 3
	DownAfter          int           // consecutive failures -> DOWN, default 5
	HealthyAfterProbes int           // consecutive successful probes DEGRADED -> HEALTHY, default 2
	DownRecoveryWindow time.Duration // DOWN backend eligible for a probe again, default 60s
}

// DefaultConfig matches spec §4.1/§4.5's stated numbers.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:        3,
		ProbeInterval:      30 * time.Second,
		DegradeAfter:       3,
		DownAfter:          5,
		HealthyAfterProbes: 2,
		DownRecoveryWindow: 60 * time.Second,
	}
}

// Router is the Model Router.
type Router struct {
	reg       *registry.Registry
	breakers  *resilience.Registry
	healthBrk *resilience.Registry
	metrics   *metrics.Sink
	cfg       Config

	mu            sync.Mutex
	consecFail    map[string]int
	probeStreak   map[string]int
	stop          chan struct{}
}

// New builds a Router over an already-populated Backend Registry.
func New(reg *registry.Registry, m *metrics.Sink, cfg Config) *Router {
	return &Router{
		reg:      reg,
		breakers: resilience.NewRegistry(resilience.DefaultBreakerConfig()),
		healthBrk: resilience.NewRegistry(resilience.BreakerConfig{
			FailureThreshold: 1, SuccessThreshold: 1, Window: 1, MinSamples: 1,
			FailureRate: 1, Cooldown: cfg.DownRecoveryWindow,
		}),
		metrics: m,
		cfg:     cfg,
		consecFail:  make(map[string]int),
		probeStreak: make(map[string]int),
		stop:        make(chan struct{}),
	}
}

// Generate executes the selection algorithm and fallback chain of spec
// §4.1 steps 1-5 plus the Fallback paragraph.
func (r *Router) Generate(ctx context.Context, req core.GenerationRequest) (*core.GenerationResponse, error) {
	ctx, span := core.Tracer().Start(ctx, "router.invoke")
	defer span.End()

	candidates := r.reg.Candidates(req.Capability, req.AllowRemote)
	if len(candidates) == 0 {
		return nil, core.Errorf(core.KindNoBackendAvailable, "no healthy backend for capability %q", req.Capability)
	}
	candidates = tieBreak(candidates, tieBreakSeed(req.SessionID))

	attempts := 0
	var lastErr error
	for _, c := range candidates {
		if attempts >= r.cfg.MaxAttempts {
			break
		}
		attempts++
		resp, err := r.invokeOne(ctx, c, req)
		if err == nil {
			resp.Attempts = attempts
			return resp, nil
		}
		lastErr = err
		if _, permanent := err.(*core.PermanentError); permanent {
			continue
		}
	}
	if lastErr == nil {
		lastErr = core.Errorf(core.KindNoBackendAvailable, "all candidates exhausted for capability %q", req.Capability)
	}
	return nil, core.Wrap(core.KindNoBackendAvailable, lastErr, "router exhausted %d attempt(s)", attempts)
}

func (r *Router) invokeOne(ctx context.Context, c registry.Candidate, req core.GenerationRequest) (*core.GenerationResponse, error) {
	r.reg.IncrInFlight(c.ID, 1)
	defer r.reg.IncrInFlight(c.ID, -1)

	start := time.Now()
	var result core.InvokeResult
	err := r.breakers.Call(c.ID, func() error {
		var invokeErr error
		result, invokeErr = c.Backend.Invoke(ctx, req.Capability, req.Input, req.MaxTokens)
		return invokeErr
	})
	elapsed := time.Since(start)
	if r.metrics != nil {
		r.metrics.ObserveBackendLatency(c.ID, float64(elapsed.Milliseconds()))
	}

	if err != nil {
		if core.IsKind(err, core.KindCircuitOpen) {
			if r.metrics != nil {
				r.metrics.BackendInvocation(c.ID, "circuit_open")
			}
			return nil, err
		}
		if _, permanent := err.(*core.PermanentError); permanent {
			if r.metrics != nil {
				r.metrics.BackendInvocation(c.ID, "permanent_error")
			}
			return nil, err
		}
		r.recordFailure(c.ID)
		if r.metrics != nil {
			r.metrics.BackendInvocation(c.ID, "error")
		}
		return nil, err
	}

	r.recordSuccess(c.ID)
	if r.metrics != nil {
		r.metrics.BackendInvocation(c.ID, "ok")
	}
	cost := 0.0
	if c.Tier == core.TierRemote {
		cost = (float64(result.TokensOut) / 1000.0) * c.UnitCost
	}
	return &core.GenerationResponse{
		Content: result.Content, TokensIn: result.TokensIn, TokensOut: result.TokensOut,
		BackendID: c.ID, Cost: cost, FinishKind: result.FinishReason,
	}, nil
}

func (r *Router) recordFailure(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consecFail[id]++
	switch {
	case r.consecFail[id] >= r.cfg.DownAfter:
		r.reg.SetHealth(id, core.HealthDown)
		// Trip the recovery breaker so the prober waits DownRecoveryWindow
		// before its first HALF_OPEN probe of this backend.
		r.healthBrk.Get("health:" + id).RecordFailure()
	case r.consecFail[id] >= r.cfg.DegradeAfter:
		r.reg.SetHealth(id, core.HealthDegraded)
	}
}

func (r *Router) recordSuccess(id string) {
	r.mu.Lock()
	r.consecFail[id] = 0
	r.mu.Unlock()
}

// StartProber launches the background health prober (spec §4.1 "Health
// probing"). It runs until ctx is cancelled or Stop is called.
func (r *Router) StartProber(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.cfg.ProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				r.probeAll(ctx)
			}
		}
	}()
}

// Stop halts the background prober.
func (r *Router) Stop() { close(r.stop) }

func (r *Router) probeAll(ctx context.Context) {
	for _, id := range r.reg.All() {
		backend, ok := r.reg.Backend(id)
		if !ok {
			continue
		}
		health := r.reg.Health(id)
		if health == core.HealthDown {
			hb := r.healthBrk.Get("health:" + id)
			if !hb.Allow() {
				continue
			}
			if err := backend.Probe(ctx); err != nil {
				hb.RecordFailure()
				continue
			}
			hb.RecordSuccess()
			r.reg.SetHealth(id, core.HealthDegraded)
			r.mu.Lock()
			r.probeStreak[id] = 0
			r.consecFail[id] = 0
			r.mu.Unlock()
			continue
		}

		err := backend.Probe(ctx)
		r.mu.Lock()
		if err != nil {
			r.probeStreak[id] = 0
		} else if health == core.HealthDegraded {
			r.probeStreak[id]++
			if r.probeStreak[id] >= r.cfg.HealthyAfterProbes {
				r.reg.SetHealth(id, core.HealthHealthy)
				r.probeStreak[id] = 0
			}
		}
		r.mu.Unlock()
	}
}

// tieBreakSeed derives a stable hash seed from a session id (or a fixed
// fallback when absent), per spec §4.1 step 5.
func tieBreakSeed(sessionID string) uint32 {
	h := fnv.New32a()
	if sessionID == "" {
		_, _ = h.Write([]byte("no-session"))
	} else {
		_, _ = h.Write([]byte(sessionID))
	}
	return h.Sum32()
}

// tieBreak rotates groups of candidates that share an identical sort key
// using seed, so repeated calls with the same session id consistently land
// on the same member of the tied group (spec §4.1 step 5).
func tieBreak(candidates []registry.Candidate, seed uint32) []registry.Candidate {
	out := make([]registry.Candidate, len(candidates))
	copy(out, candidates)
	i := 0
	for i < len(out) {
		j := i + 1
		for j < len(out) && sameKey(out[i], out[j]) {
			j++
		}
		if j-i > 1 {
			offset := int(seed) % (j - i)
			rotate(out[i:j], offset)
		}
		i = j
	}
	return out
}

func sameKey(a, b registry.Candidate) bool {
	return a.Tier == b.Tier && a.Priority == b.Priority && a.InFlight == b.InFlight && a.UnitCost == b.UnitCost
}

func rotate(s []registry.Candidate, offset int) {
	if offset <= 0 || offset >= len(s) {
		return
	}
	tmp := append([]registry.Candidate(nil), s[offset:]...)
	tmp = append(tmp, s[:offset]...)
	copy(s, tmp)
}
