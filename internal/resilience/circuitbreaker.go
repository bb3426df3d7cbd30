// Package resilience implements the Circuit Breaker Registry (C3) and the
// Rate Limiter (C2) shared across the rest of the runtime (spec §4.5).
package resilience

import (
	"sync"
	"time"

	"github.com/agentcoredev/runtime/core"
)

// State is a breaker's current position in the state machine (spec §3 BreakerState).
type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

// BreakerConfig configures one dependency's breaker (spec §4.5 defaults).
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures to trip; default 5
	SuccessThreshold int           // consecutive half-open successes to close; default 2
	Window           int           // failure-rate window size; default 20
	MinSamples       int           // minimum samples before rate trips; default 10
	FailureRate      float64       // trip threshold; default 0.5
	Cooldown         time.Duration // OPEN -> HALF_OPEN; default 30s
}

// DefaultBreakerConfig matches spec §4.5's stated defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Window:           20,
		MinSamples:       10,
		FailureRate:      0.5,
		Cooldown:         30 * time.Second,
	}
}

// Breaker is a single named dependency's circuit breaker. Grounded on
// core/circuit_breaker.go's state machine, generalized with the
// failure-rate-over-window trip condition spec §4.5 adds.
type Breaker struct {
	name   string
	cfg    BreakerConfig
	mu     sync.Mutex
	state  State
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
	probeInFlight        bool
	// window is a ring of recent outcomes, true = success.
	window    []bool
	windowPos int

	fallback func() (any, error)
}

// New constructs a Breaker named after the dependency it guards.
func New(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{name: name, cfg: cfg, state: Closed, window: make([]bool, 0, cfg.Window)}
}

// SetFallback registers an optional fallback invoked while OPEN, matching
// spec §4.5 ("an optional fallback is invoked if registered").
func (b *Breaker) SetFallback(fn func() (any, error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fallback = fn
}

// State snapshots the breaker's current state, advancing OPEN to HALF_OPEN
// if the cooldown has elapsed. It takes the breaker's mutex, so it is not a
// wait-free read.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentStateLocked()
}

// currentStateLocked advances OPEN -> HALF_OPEN if cooldown elapsed.
func (b *Breaker) currentStateLocked() State {
	if b.state == Open && time.Since(b.openedAt) >= b.cfg.Cooldown {
		b.state = HalfOpen
		b.probeInFlight = false
		b.consecutiveSuccesses = 0
	}
	return b.state
}

// Allow reports whether a call may proceed. In HALF_OPEN exactly one
// concurrent call is allowed through (spec §4.5).
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.currentStateLocked() {
	case Closed:
		return true
	case HalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default: // Open
		return false
	}
}

// RecordSuccess reports a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pushOutcome(true)
	switch b.state {
	case HalfOpen:
		b.consecutiveSuccesses++
		b.probeInFlight = false
		if b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.consecutiveFailures = 0
			b.window = b.window[:0]
			b.windowPos = 0
		}
	case Closed:
		b.consecutiveFailures = 0
	}
}

// RecordFailure reports a failed call outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pushOutcome(false)
	switch b.state {
	case HalfOpen:
		b.trip()
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold || b.rateTrippedLocked() {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = time.Now()
	b.probeInFlight = false
	b.consecutiveSuccesses = 0
}

func (b *Breaker) pushOutcome(ok bool) {
	if len(b.window) < b.cfg.Window {
		b.window = append(b.window, ok)
		return
	}
	b.window[b.windowPos%b.cfg.Window] = ok
	b.windowPos++
}

func (b *Breaker) rateTrippedLocked() bool {
	if len(b.window) < b.cfg.MinSamples {
		return false
	}
	failures := 0
	for _, ok := range b.window {
		if !ok {
			failures++
		}
	}
	return float64(failures)/float64(len(b.window)) >= b.cfg.FailureRate
}

// Fallback invokes the registered fallback, if any.
func (b *Breaker) Fallback() (any, error, bool) {
	b.mu.Lock()
	fn := b.fallback
	b.mu.Unlock()
	if fn == nil {
		return nil, nil, false
	}
	v, err := fn()
	return v, err, true
}

// Registry owns one Breaker per dependency name (C3: "shared read,
// single-writer per name").
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	defaults BreakerConfig
}

// NewRegistry builds an empty registry using cfg as the default for any
// dependency name first seen via Get.
func NewRegistry(cfg BreakerConfig) *Registry {
	return &Registry{breakers: make(map[string]*Breaker), defaults: cfg}
}

// Get returns the Breaker for name, creating it with the registry defaults
// if this is the first reference.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = New(name, r.defaults)
		r.breakers[name] = b
	}
	return b
}

// Call runs fn through the named breaker, returning core.KindCircuitOpen if
// the breaker refuses the call.
func (r *Registry) Call(name string, fn func() error) error {
	b := r.Get(name)
	if !b.Allow() {
		if _, ferr, had := b.Fallback(); had {
			return ferr
		}
		return core.Errorf(core.KindCircuitOpen, "breaker %q is open", name)
	}
	err := fn()
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}
