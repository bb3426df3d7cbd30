package store

import (
	"context"

	"github.com/agentcoredev/runtime/core"
)

// NoopStorage is the default core.Storage when no external persistence is
// configured (spec §9 open question: "a conformant implementation may
// operate correctly with the no-op storage"). Every put succeeds and is
// discarded; every get misses. The in-front ResultStore's own LRU still
// serves recent reads, so task/collab results remain retrievable for the
// 5 minute window spec §3 requires even with NoopStorage backing it.
type NoopStorage struct{}

func (NoopStorage) PutTaskResult(context.Context, *core.TaskResult) error { return nil }

func (NoopStorage) GetTaskResult(context.Context, string) (*core.TaskResult, bool, error) {
	return nil, false, nil
}

func (NoopStorage) PutCollabResult(context.Context, *core.CollaborationResult) error { return nil }

func (NoopStorage) GetCollabResult(context.Context, string) (*core.CollaborationResult, bool, error) {
	return nil, false, nil
}

var _ core.Storage = NoopStorage{}
