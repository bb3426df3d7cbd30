// Package agentpool implements the Agent Pool (C7): a fixed catalog of
// agents, each bound to a capability set and a preferred backend tier
// (spec §3 Agent, ownership summary: "Agent Pool exclusively owns Agents").
package agentpool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentcoredev/runtime/core"
)

// record is the pool-owned mutable state layered over a caller-supplied
// core.Agent implementation and its static core.AgentConfig.
type record struct {
	cfg      core.AgentConfig
	agent    core.Agent
	state    atomic.Value // core.AgentState
	inFlight int64        // atomic

	mu              sync.Mutex
	completedCount  int64
	failedCount     int64
	totalLatencyMs  int64
	lastActivityAt  time.Time
}

// Pool is the Agent Pool.
type Pool struct {
	mu      sync.RWMutex
	records map[string]*record
	capIdx  map[string][]string // capability -> agent ids, insertion order
}

// New builds an empty Pool.
func New() *Pool {
	return &Pool{records: make(map[string]*record), capIdx: make(map[string][]string)}
}

// Register adds an agent to the pool. Panics on duplicate id — a startup
// wiring error, not a runtime condition.
func (p *Pool) Register(cfg core.AgentConfig, agent core.Agent) {
	if cfg.MaxConcurrentTasks == 0 {
		cfg.MaxConcurrentTasks = 3
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.records[cfg.ID]; exists {
		panic("agentpool: duplicate agent id " + cfg.ID)
	}
	r := &record{cfg: cfg, agent: agent}
	r.state.Store(core.AgentIdle)
	p.records[cfg.ID] = r
	for _, c := range cfg.Capabilities {
		p.capIdx[c] = append(p.capIdx[c], cfg.ID)
	}
}

// Candidate is a snapshot of one agent's dispatch-relevant state.
type Candidate struct {
	ID                 string
	MaxConcurrentTasks int
	InFlight           int
	State              core.AgentState
	Agent              core.Agent
}

// Eligible returns agents that declare capability, are neither PAUSED nor
// ERROR, and have spare concurrency (spec §4.2 step 1 and §3 Agent
// invariant: "an agent in PAUSED or ERROR is skipped by the coordinator").
func (p *Pool) Eligible(capability string) []Candidate {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := p.capIdx[capability]
	out := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		r := p.records[id]
		st := r.state.Load().(core.AgentState)
		if st == core.AgentPaused || st == core.AgentError {
			continue
		}
		inFlight := int(atomic.LoadInt64(&r.inFlight))
		if inFlight >= r.cfg.MaxConcurrentTasks {
			continue
		}
		out = append(out, Candidate{ID: id, MaxConcurrentTasks: r.cfg.MaxConcurrentTasks, InFlight: inFlight, State: st, Agent: r.agent})
	}
	return out
}

// Get returns the agent record for id, for target-agent dispatch.
func (p *Pool) Get(id string) (Candidate, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.records[id]
	if !ok {
		return Candidate{}, false
	}
	st := r.state.Load().(core.AgentState)
	return Candidate{ID: id, MaxConcurrentTasks: r.cfg.MaxConcurrentTasks, InFlight: int(atomic.LoadInt64(&r.inFlight)), State: st, Agent: r.agent}, true
}

// Exists reports whether id is a registered agent. The Session Hub uses it
// to validate activate_agent frames. Collaboration participants are not
// checked against it up front; an unknown participant fails its own turn
// with NO_AGENT when the Collaboration Engine runs it.
func (p *Pool) Exists(id string) bool {
	_, ok := p.Get(id)
	return ok
}

// HasCapability reports whether any agent declares capability.
func (p *Pool) HasCapability(capability string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.capIdx[capability]) > 0
}

// AcquireSlot reserves one concurrency slot on agent id, updating its
// state to BUSY if that reaches the cap, else leaving it IDLE (spec §4.2
// step 3). The coordinator is the single writer of in-flight/state per
// agent (spec §3 ownership summary).
func (p *Pool) AcquireSlot(id string) {
	p.mu.RLock()
	r, ok := p.records[id]
	p.mu.RUnlock()
	if !ok {
		return
	}
	n := atomic.AddInt64(&r.inFlight, 1)
	if int(n) >= r.cfg.MaxConcurrentTasks {
		r.state.Store(core.AgentBusy)
	}
}

// ReleaseSlot releases a concurrency slot and recomputes state.
func (p *Pool) ReleaseSlot(id string, failed bool, latency time.Duration) {
	p.mu.RLock()
	r, ok := p.records[id]
	p.mu.RUnlock()
	if !ok {
		return
	}
	n := atomic.AddInt64(&r.inFlight, -1)
	if int(n) < r.cfg.MaxConcurrentTasks {
		if st := r.state.Load().(core.AgentState); st != core.AgentError {
			r.state.Store(core.AgentIdle)
		}
	}
	r.mu.Lock()
	if failed {
		r.failedCount++
	} else {
		r.completedCount++
	}
	r.totalLatencyMs += latency.Milliseconds()
	r.lastActivityAt = time.Now()
	r.mu.Unlock()
}

// SetState forcibly sets an agent's state, used for PAUSE/resume control
// operations outside the normal dispatch lifecycle.
func (p *Pool) SetState(id string, state core.AgentState) {
	p.mu.RLock()
	r, ok := p.records[id]
	p.mu.RUnlock()
	if ok {
		r.state.Store(state)
	}
}

// Metrics is a read-only per-agent metrics snapshot (spec §4.2 "Metrics
// per agent").
type Metrics struct {
	CompletedCount int64
	FailedCount    int64
	TotalLatencyMs int64
	InFlight       int
	LastActivityAt time.Time
}

// Snapshot returns the current metrics for agent id.
func (p *Pool) Snapshot(id string) (Metrics, bool) {
	p.mu.RLock()
	r, ok := p.records[id]
	p.mu.RUnlock()
	if !ok {
		return Metrics{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return Metrics{
		CompletedCount: r.completedCount,
		FailedCount:    r.failedCount,
		TotalLatencyMs: r.totalLatencyMs,
		InFlight:       int(atomic.LoadInt64(&r.inFlight)),
		LastActivityAt: r.lastActivityAt,
	}, true
}

// All returns every registered agent id.
func (p *Pool) All() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.records))
	for id := range p.records {
		ids = append(ids, id)
	}
	return ids
}
