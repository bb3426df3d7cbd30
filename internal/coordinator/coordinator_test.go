package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agentcoredev/runtime/core"
	"github.com/agentcoredev/runtime/internal/agentpool"
	"github.com/agentcoredev/runtime/internal/metrics"
	"github.com/agentcoredev/runtime/internal/queue"
	"github.com/agentcoredev/runtime/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgent struct {
	id    string
	caps  []string
	max   int
	fn    func(ctx context.Context, task *core.Task) (*core.TaskResult, error)
}

func (a *fakeAgent) ID() string             { return a.id }
func (a *fakeAgent) Capabilities() []string { return a.caps }
func (a *fakeAgent) MaxConcurrentTasks() int { return a.max }
func (a *fakeAgent) Handle(ctx context.Context, task *core.Task) (*core.TaskResult, error) {
	return a.fn(ctx, task)
}

func newHarness(t *testing.T, agent *fakeAgent) (*Coordinator, *queue.Queue) {
	t.Helper()
	q := queue.New(16)
	pool := agentpool.New()
	pool.Register(core.AgentConfig{ID: agent.id, Capabilities: agent.caps, MaxConcurrentTasks: agent.max}, agent)
	results := store.New(store.NoopStorage{}, 64, time.Minute)
	c := New(q, pool, results, metrics.New())
	return c, q
}

func TestDispatchWritesCompletedResult(t *testing.T) {
	var mu sync.Mutex
	var events []core.Event
	agent := &fakeAgent{id: "A1", caps: []string{"chat"}, max: 1, fn: func(ctx context.Context, task *core.Task) (*core.TaskResult, error) {
		return &core.TaskResult{Status: core.TaskCompleted, Content: []byte("done")}, nil
	}}
	c, q := newHarness(t, agent)
	c.OnEvent(func(ev core.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	require.NoError(t, q.Submit(&core.Task{ID: "T1", SessionID: "s1", Capability: "chat", Priority: 1}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "task_completed", events[0].Kind)
}

func TestDispatchRecoversFromPanic(t *testing.T) {
	agent := &fakeAgent{id: "A1", caps: []string{"chat"}, max: 1, fn: func(ctx context.Context, task *core.Task) (*core.TaskResult, error) {
		panic("boom")
	}}
	c, q := newHarness(t, agent)

	var mu sync.Mutex
	var events []core.Event
	c.OnEvent(func(ev core.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	require.NoError(t, q.Submit(&core.Task{ID: "T1", SessionID: "s1", Capability: "chat"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "task_failed", events[0].Kind)
	res := events[0].Payload.(*core.TaskResult)
	assert.Equal(t, core.TaskFailed, res.Status)
}

func TestDispatchNoEligibleAgentRequeues(t *testing.T) {
	agent := &fakeAgent{id: "A1", caps: []string{"chat"}, max: 1, fn: func(ctx context.Context, task *core.Task) (*core.TaskResult, error) {
		return &core.TaskResult{Status: core.TaskCompleted}, nil
	}}
	c, q := newHarness(t, agent)
	require.NoError(t, q.Submit(&core.Task{ID: "T1", Capability: "unknown-capability"}))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	c.Start(ctx)
	c.Stop()

	assert.Equal(t, 1, q.Depth(0))
}

func TestHandleErrorBecomesFailedResult(t *testing.T) {
	agent := &fakeAgent{id: "A1", caps: []string{"chat"}, max: 1, fn: func(ctx context.Context, task *core.Task) (*core.TaskResult, error) {
		return nil, errors.New("backend unreachable")
	}}
	c, q := newHarness(t, agent)

	var mu sync.Mutex
	var events []core.Event
	c.OnEvent(func(ev core.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	require.NoError(t, q.Submit(&core.Task{ID: "T1", SessionID: "s1", Capability: "chat"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "task_failed", events[0].Kind)
}
