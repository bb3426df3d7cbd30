// Package registry implements the Backend Registry (C5): the catalog of
// inference backends with declared capabilities, unit cost and health
// (spec §3 Backend, ownership summary: "Backend Registry exclusively owns
// Backends and their health").
package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/agentcoredev/runtime/core"
)

// entry is one registered backend plus the registry-owned mutable state
// (health, in-flight count) layered on top of the caller-supplied
// core.Backend implementation and its static core.BackendConfig.
type entry struct {
	cfg      core.BackendConfig
	backend  core.Backend
	health   atomic.Value // core.Health
	inFlight int64        // atomic
}

// Registry is the Backend Registry. Registration happens once at startup;
// health and in-flight counters are mutated continuously by the Model
// Router (spec §3 Backend lifecycle).
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	capIndex map[string][]string // capability -> backend ids, insertion order
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		entries:  make(map[string]*entry),
		capIndex: make(map[string][]string),
	}
}

// Register adds a backend. Panics if id is already registered — this only
// happens during startup wiring, a programmer error, not a runtime
// condition the caller should need to branch on.
func (r *Registry) Register(cfg core.BackendConfig, backend core.Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[cfg.ID]; exists {
		panic("registry: duplicate backend id " + cfg.ID)
	}
	e := &entry{cfg: cfg, backend: backend}
	e.health.Store(core.HealthHealthy)
	r.entries[cfg.ID] = e
	for _, cap := range cfg.Capabilities {
		r.capIndex[cap] = append(r.capIndex[cap], cfg.ID)
	}
}

// Candidate is a snapshot of one backend's routing-relevant state, taken
// without holding the registry lock across the caller's invocation (spec
// §4.1: "the sorted-candidate materialization is snapshot-per-call").
type Candidate struct {
	ID       string
	Tier     core.Tier
	UnitCost float64
	Priority int
	Health   core.Health
	InFlight int
	Backend  core.Backend
}

// Candidates returns a snapshot of every non-DOWN backend supporting
// capability, partitioned and sorted per spec §4.1 steps 2-3: LOCAL first,
// then REMOTE, each ordered by (priority asc, queue_depth asc, unit_cost asc).
func (r *Registry) Candidates(capability string, allowRemote bool) []Candidate {
	r.mu.RLock()
	ids := append([]string(nil), r.capIndex[capability]...)
	var local, remote []Candidate
	for _, id := range ids {
		e := r.entries[id]
		h := e.health.Load().(core.Health)
		if h == core.HealthDown {
			continue
		}
		c := Candidate{
			ID: e.cfg.ID, Tier: e.cfg.Tier, UnitCost: e.cfg.UnitCost,
			Priority: e.cfg.Priority, Health: h,
			InFlight: int(atomic.LoadInt64(&e.inFlight)), Backend: e.backend,
		}
		if e.cfg.Tier == core.TierLocal {
			local = append(local, c)
		} else if allowRemote {
			remote = append(remote, c)
		}
	}
	r.mu.RUnlock()

	sortCandidates(local)
	sortCandidates(remote)
	return append(local, remote...)
}

func sortCandidates(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Priority != c[j].Priority {
			return c[i].Priority < c[j].Priority
		}
		if c[i].InFlight != c[j].InFlight {
			return c[i].InFlight < c[j].InFlight
		}
		return c[i].UnitCost < c[j].UnitCost
	})
}

// IncrInFlight adjusts the in-flight counter for a backend by delta.
func (r *Registry) IncrInFlight(id string, delta int64) {
	r.mu.RLock()
	e := r.entries[id]
	r.mu.RUnlock()
	if e != nil {
		atomic.AddInt64(&e.inFlight, delta)
	}
}

// SetHealth mutates a backend's health; only the Model Router calls this
// (spec §3 Backend lifecycle).
func (r *Registry) SetHealth(id string, h core.Health) {
	r.mu.RLock()
	e := r.entries[id]
	r.mu.RUnlock()
	if e != nil {
		e.health.Store(h)
	}
}

// Health returns a backend's current health.
func (r *Registry) Health(id string) core.Health {
	r.mu.RLock()
	e := r.entries[id]
	r.mu.RUnlock()
	if e == nil {
		return core.HealthDown
	}
	return e.health.Load().(core.Health)
}

// All returns every registered backend id, for the health prober.
func (r *Registry) All() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Backend returns the core.Backend implementation for id, if registered.
func (r *Registry) Backend(id string) (core.Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.backend, true
}

// HasCapability reports whether any registered backend declares capability
// cap, used at startup to enforce spec §3's invariant that at least one
// "chat"-capable backend exists.
func (r *Registry) HasCapability(cap string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.capIndex[cap]) > 0
}
