// Package store implements the in-memory Result Store that sits in front
// of the narrow §6.3 Storage interface, plus a concrete Postgres-backed
// Storage implementation.
package store

import (
	"context"
	"time"

	"github.com/agentcoredev/runtime/core"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// ResultStore is the bounded in-memory LRU named in spec §3 Task lifecycle
// ("final result retained by the Result Store (in-memory, bounded LRU) for
// at least 5 minutes after completion") and §6.3 ("default 4096 entries,
// TTL 5 min"). It is read-through: a cache miss falls back to the external
// core.Storage, which remains the source of truth for longer-lived reads.
type ResultStore struct {
	tasks   *lru.LRU[string, *core.TaskResult]
	collabs *lru.LRU[string, *core.CollaborationResult]
	backing core.Storage
}

// DefaultCapacity and DefaultTTL match spec §6.3's stated defaults.
const (
	DefaultCapacity = 4096
	DefaultTTL      = 5 * time.Minute
)

// New builds a ResultStore in front of backing. backing may be a NoopStorage
// for deployments with no external persistence (spec §9 open question on
// memory/knowledge-graph: "a conformant implementation may operate
// correctly with the no-op storage").
func New(backing core.Storage, capacity int, ttl time.Duration) *ResultStore {
	return &ResultStore{
		tasks:   lru.NewLRU[string, *core.TaskResult](capacity, nil, ttl),
		collabs: lru.NewLRU[string, *core.CollaborationResult](capacity, nil, ttl),
		backing: backing,
	}
}

// PutTaskResult caches r and writes it through to the backing store.
func (s *ResultStore) PutTaskResult(ctx context.Context, r *core.TaskResult) error {
	s.tasks.Add(r.TaskID, r)
	return s.backing.PutTaskResult(ctx, r)
}

// GetTaskResult checks the cache first, then falls back to the backing store.
func (s *ResultStore) GetTaskResult(ctx context.Context, taskID string) (*core.TaskResult, bool, error) {
	if r, ok := s.tasks.Get(taskID); ok {
		return r, true, nil
	}
	r, ok, err := s.backing.GetTaskResult(ctx, taskID)
	if err != nil || !ok {
		return nil, ok, err
	}
	s.tasks.Add(taskID, r)
	return r, true, nil
}

// PutCollabResult caches r and writes it through to the backing store.
func (s *ResultStore) PutCollabResult(ctx context.Context, r *core.CollaborationResult) error {
	s.collabs.Add(r.RequestID, r)
	return s.backing.PutCollabResult(ctx, r)
}

// GetCollabResult checks the cache first, then falls back to the backing store.
func (s *ResultStore) GetCollabResult(ctx context.Context, collabID string) (*core.CollaborationResult, bool, error) {
	if r, ok := s.collabs.Get(collabID); ok {
		return r, true, nil
	}
	r, ok, err := s.backing.GetCollabResult(ctx, collabID)
	if err != nil || !ok {
		return nil, ok, err
	}
	s.collabs.Add(collabID, r)
	return r, true, nil
}

var _ core.Storage = (*ResultStore)(nil)
