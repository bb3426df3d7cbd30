// Package core holds the shared data model, error taxonomy, logging and
// tracing accessors used by every component of the runtime (spec §3).
package core

import (
	"context"
	"time"
)

// Tier governs cost and Model Router preference (spec GLOSSARY).
type Tier string

const (
	TierLocal  Tier = "LOCAL"
	TierRemote Tier = "REMOTE"
)

// Health is a Backend's current reachability.
type Health string

const (
	HealthHealthy  Health = "HEALTHY"
	HealthDegraded Health = "DEGRADED"
	HealthDown     Health = "DOWN"
)

// AgentState is an Agent's current dispatch eligibility.
type AgentState string

const (
	AgentIdle   AgentState = "IDLE"
	AgentBusy   AgentState = "BUSY"
	AgentPaused AgentState = "PAUSED"
	AgentError  AgentState = "ERROR"
)

// TaskStatus is a Task's position in its lifecycle.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "QUEUED"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	TaskCancelled TaskStatus = "CANCELLED"
)

// IsTerminal reports whether s is one of the final states (spec §3 Task
// invariants: terminal states are final).
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// AnyAgent is the sentinel Task.AgentID meaning "dispatch to any capable agent".
const AnyAgent = "ANY"

// BackendConfig declares one addressable inference provider (spec §3 Backend).
type BackendConfig struct {
	ID            string
	Tier          Tier
	Capabilities  []string
	UnitCost      float64 // cost per 1K output tokens; must be 0 for TierLocal
	MaxConcurrent int
	Priority      int // lower = preferred, total-ordered within tier
}

// AgentConfig declares one typed worker (spec §3 Agent).
type AgentConfig struct {
	ID                         string
	DisplayName                string
	Capabilities               []string
	MaxConcurrentTasks         int // default 3
	PreferredBackendCapability string
	SystemPreamble             string
}

// Task is one unit of work (spec §3 Task).
type Task struct {
	ID         string
	SessionID  string // empty if not session-bound
	AgentID    string // target agent id, or AnyAgent
	Kind       string
	Priority   int // 0=critical .. 3=low
	Payload    []byte
	CreatedAt  time.Time
	Deadline   time.Time // zero value = no deadline
	Status     TaskStatus
	Capability string // required capability, derived from Kind at submission
}

// HasDeadline reports whether a deadline was set.
func (t *Task) HasDeadline() bool { return !t.Deadline.IsZero() }

// TaskResult is the outcome of a Task (spec §3 TaskResult).
type TaskResult struct {
	TaskID     string
	AgentID    string
	Status     TaskStatus
	Content    []byte
	Reasoning  []string
	Confidence float64 // [0,1], derived from the backend's finish reason; consumed by PolicyConfidenceWeighted
	TokensIn   int
	TokensOut  int
	Cost       float64
	BackendID  string
	StartedAt  time.Time
	FinishedAt time.Time
	ErrKind    Kind // populated when Status == TaskFailed
	ErrMessage string
}

// Strategy is a named Collaboration Engine coordination strategy (spec §4.3).
type Strategy string

const (
	StrategySequential Strategy = "SEQUENTIAL"
	StrategyParallel   Strategy = "PARALLEL"
	StrategyCascade    Strategy = "CASCADE"
	StrategySwarm      Strategy = "SWARM"
)

// ResolutionPolicy reconciles divergent participant outputs (spec §4.3).
type ResolutionPolicy string

const (
	PolicyVoting             ResolutionPolicy = "VOTING"
	PolicyConfidenceWeighted ResolutionPolicy = "CONFIDENCE_WEIGHTED"
	PolicyExpertiseWeighted  ResolutionPolicy = "EXPERTISE_WEIGHTED"
	PolicyConsensus          ResolutionPolicy = "CONSENSUS"
	PolicyArbitration        ResolutionPolicy = "ARBITRATION"
	PolicyHuman              ResolutionPolicy = "HUMAN"
)

// CollaborationRequest is a multi-agent job (spec §3 CollaborationRequest).
type CollaborationRequest struct {
	ID               string
	SessionID        string
	Prompt           string
	Participants     []string // ordered list of agent ids, len >= 2
	Strategy         Strategy
	ResolutionPolicy ResolutionPolicy
	Deadline         time.Time
	// EquivalenceFn, if set, decides whether two outputs "agree" (spec
	// §4.3's per-request equivalence_fn). Nil means byte-identical after
	// normalization (trim + lowercase).
	EquivalenceFn func(a, b []byte) bool
}

// ParticipantResult is one participant's sub-result within a collaboration.
type ParticipantResult struct {
	AgentID    string
	Content    []byte
	Confidence float64 // [0,1], used by PolicyConfidenceWeighted
	Err        error
}

// CollaborationResult is the terminal outcome of a CollaborationRequest.
type CollaborationResult struct {
	RequestID        string
	Terminal         []byte
	Participants     []ParticipantResult
	ResolutionPolicy ResolutionPolicy
	Chosen           string // participant agent id or "ARBITRATION"
	Err              error
}

// GenerationRequest is what the Model Router consumes per dispatch (spec §4.1).
type GenerationRequest struct {
	Capability  string
	Input       []byte
	MaxTokens   int
	AllowRemote bool
	SessionID   string
}

// GenerationResponse is the Model Router's reply (spec §4.1).
type GenerationResponse struct {
	Content    []byte
	TokensIn   int
	TokensOut  int
	BackendID  string
	Cost       float64
	Attempts   int
	FinishKind string
}

// InvokeResult is what a Backend.Invoke returns (spec §6.2).
type InvokeResult struct {
	Content      []byte
	TokensIn     int
	TokensOut    int
	FinishReason string
}

// Backend is the consumed invocation interface every inference provider
// implements (spec §6.2). Implementations must distinguish transient errors
// from permanent ones by returning a *PermanentError for the latter, so the
// Model Router does not penalize
// health for e.g. capability mismatches.
type Backend interface {
	ID() string
	Invoke(ctx context.Context, capability string, input []byte, maxTokens int) (InvokeResult, error)
	Probe(ctx context.Context) error
}

// PermanentError marks a Backend error that must not affect health tracking
// (spec §6.2, "permanent" errors like capability mismatch).
type PermanentError struct{ Cause error }

func (e *PermanentError) Error() string { return e.Cause.Error() }
func (e *PermanentError) Unwrap() error { return e.Cause }

// Agent is the single contract every typed worker implements (spec §9:
// "Agents are not subclasses; they are values implementing a single Agent
// contract"). Specializations live in AgentConfig data, not in Go types.
type Agent interface {
	ID() string
	Capabilities() []string
	MaxConcurrentTasks() int
	Handle(ctx context.Context, task *Task) (*TaskResult, error)
}

// Storage is the narrow persistence interface consumed by the core
// (spec §6.3). A conformant no-op implementation is sufficient; no
// Memory/RAG surface is implemented here (spec §9 open question).
type Storage interface {
	PutTaskResult(ctx context.Context, r *TaskResult) error
	GetTaskResult(ctx context.Context, taskID string) (*TaskResult, bool, error)
	PutCollabResult(ctx context.Context, r *CollaborationResult) error
	GetCollabResult(ctx context.Context, collabID string) (*CollaborationResult, bool, error)
}

// Authorizer is the consumed authorization interface (spec §6.4).
type Authorizer interface {
	Authorize(ctx context.Context, principal, action, resource string) bool
}

// RateLimiter is the consumed rate-limit interface (spec §6.4 / §4.5 C2).
type RateLimiter interface {
	Check(key string, cost int) (allowed bool, retryAfter time.Duration)
}

// SecretStore is the consumed secret interface (spec §6.4 C1).
type SecretStore interface {
	SecretGet(ctx context.Context, name string) ([]byte, bool, error)
}
