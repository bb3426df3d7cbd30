package store

import (
	"context"
	"testing"
	"time"

	"github.com/agentcoredev/runtime/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultStoreRoundTripsThroughBacking(t *testing.T) {
	s := New(NoopStorage{}, 10, time.Minute)
	ctx := context.Background()
	r := &core.TaskResult{TaskID: "T1", AgentID: "A1", Status: core.TaskCompleted, Content: []byte("ok")}
	require.NoError(t, s.PutTaskResult(ctx, r))

	got, ok, err := s.GetTaskResult(ctx, "T1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A1", got.AgentID)
}

func TestResultStoreMissOnUnknown(t *testing.T) {
	s := New(NoopStorage{}, 10, time.Minute)
	_, ok, err := s.GetTaskResult(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResultStoreCollabRoundTrip(t *testing.T) {
	s := New(NoopStorage{}, 10, time.Minute)
	ctx := context.Background()
	r := &core.CollaborationResult{RequestID: "C1", Chosen: "A1", ResolutionPolicy: core.PolicyVoting}
	require.NoError(t, s.PutCollabResult(ctx, r))

	got, ok, err := s.GetCollabResult(ctx, "C1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A1", got.Chosen)
}
