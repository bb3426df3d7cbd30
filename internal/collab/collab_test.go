package collab

import (
	"context"
	"testing"
	"time"

	"github.com/agentcoredev/runtime/core"
	"github.com/agentcoredev/runtime/internal/agentpool"
	"github.com/agentcoredev/runtime/internal/metrics"
	"github.com/agentcoredev/runtime/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedAgent struct {
	id  string
	fn  func(ctx context.Context, task *core.Task) (*core.TaskResult, error)
}

func (a *scriptedAgent) ID() string              { return a.id }
func (a *scriptedAgent) Capabilities() []string  { return []string{"collab"} }
func (a *scriptedAgent) MaxConcurrentTasks() int { return 4 }
func (a *scriptedAgent) Handle(ctx context.Context, task *core.Task) (*core.TaskResult, error) {
	return a.fn(ctx, task)
}

func echoAgent(id, reply string) *scriptedAgent {
	return &scriptedAgent{id: id, fn: func(ctx context.Context, task *core.Task) (*core.TaskResult, error) {
		return &core.TaskResult{Status: core.TaskCompleted, Content: []byte(reply)}, nil
	}}
}

func newEngine(t *testing.T, agents ...*scriptedAgent) *Engine {
	t.Helper()
	pool := agentpool.New()
	for _, a := range agents {
		pool.Register(core.AgentConfig{ID: a.id, Capabilities: a.Capabilities(), MaxConcurrentTasks: 4}, a)
	}
	results := store.New(store.NoopStorage{}, 64, time.Minute)
	return New(pool, results, metrics.New())
}

func TestSequentialThreadsPriorOutput(t *testing.T) {
	var seenPrompt string
	a1 := echoAgent("A1", "first")
	a2 := &scriptedAgent{id: "A2", fn: func(ctx context.Context, task *core.Task) (*core.TaskResult, error) {
		seenPrompt = string(task.Payload)
		return &core.TaskResult{Status: core.TaskCompleted, Content: []byte("second")}, nil
	}}
	e := newEngine(t, a1, a2)
	req := &core.CollaborationRequest{ID: "R1", Participants: []string{"A1", "A2"}, Strategy: core.StrategySequential, Prompt: "start"}

	res, err := e.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "second", string(res.Terminal))
	assert.Equal(t, "A2", res.Chosen)
	assert.Contains(t, seenPrompt, "first")
}

func TestCascadeStopsEarly(t *testing.T) {
	a1 := echoAgent("A1", "STOP")
	a2 := &scriptedAgent{id: "A2", fn: func(ctx context.Context, task *core.Task) (*core.TaskResult, error) {
		t.Fatal("A2 should not run after STOP")
		return nil, nil
	}}
	e := newEngine(t, a1, a2)
	req := &core.CollaborationRequest{ID: "R2", Participants: []string{"A1", "A2"}, Strategy: core.StrategyCascade, Prompt: "start"}

	res, err := e.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "A1", res.Chosen)
}

func TestParallelVotingPicksPlurality(t *testing.T) {
	a1 := echoAgent("A1", "yes")
	a2 := echoAgent("A2", "yes")
	a3 := echoAgent("A3", "no")
	e := newEngine(t, a1, a2, a3)
	req := &core.CollaborationRequest{
		ID: "R3", Participants: []string{"A1", "A2", "A3"},
		Strategy: core.StrategyParallel, ResolutionPolicy: core.PolicyVoting, Prompt: "vote",
	}

	res, err := e.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "yes", string(res.Terminal))
}

func TestParallelPartialFailureContinuesWithSurvivors(t *testing.T) {
	a1 := echoAgent("A1", "ok")
	a2 := &scriptedAgent{id: "A2", fn: func(ctx context.Context, task *core.Task) (*core.TaskResult, error) {
		return nil, core.Errorf(core.KindInternal, "boom")
	}}
	e := newEngine(t, a1, a2)
	req := &core.CollaborationRequest{
		ID: "R4", Participants: []string{"A1", "A2"},
		Strategy: core.StrategyParallel, ResolutionPolicy: core.PolicyVoting, Prompt: "vote",
	}

	res, err := e.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(res.Terminal))
}

func TestParallelAllFailuresFailsRequest(t *testing.T) {
	failing := func(id string) *scriptedAgent {
		return &scriptedAgent{id: id, fn: func(ctx context.Context, task *core.Task) (*core.TaskResult, error) {
			return nil, core.Errorf(core.KindInternal, "boom")
		}}
	}
	a1, a2 := failing("A1"), failing("A2")
	e := newEngine(t, a1, a2)
	req := &core.CollaborationRequest{ID: "R5", Participants: []string{"A1", "A2"}, Strategy: core.StrategyParallel, Prompt: "x"}

	_, err := e.Run(context.Background(), req)
	assert.Error(t, err)
}

func TestSwarmInvokesCoordinator(t *testing.T) {
	a1 := echoAgent("A1", "opt-a")
	a2 := echoAgent("A2", "opt-b")
	coord := &scriptedAgent{id: "COORDINATOR", fn: func(ctx context.Context, task *core.Task) (*core.TaskResult, error) {
		return &core.TaskResult{Status: core.TaskCompleted, Content: []byte("merged")}, nil
	}}
	e := newEngine(t, a1, a2, coord)
	req := &core.CollaborationRequest{ID: "R6", Participants: []string{"A1", "A2"}, Strategy: core.StrategySwarm, Prompt: "x"}

	res, err := e.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "merged", string(res.Terminal))
	assert.Equal(t, "COORDINATOR", res.Chosen)
}

func TestSwarmWithConsensusPolicyBypassesCoordinator(t *testing.T) {
	a1 := echoAgent("A1", "x")
	a2 := echoAgent("A2", "x")
	a3 := echoAgent("A3", "y")
	coord := &scriptedAgent{id: "COORDINATOR", fn: func(ctx context.Context, task *core.Task) (*core.TaskResult, error) {
		t.Fatal("COORDINATOR should not run when CONSENSUS can resolve directly")
		return nil, nil
	}}
	e := newEngine(t, a1, a2, a3, coord)

	var events []core.Event
	e.OnEvent(func(ev core.Event) { events = append(events, ev) })

	req := &core.CollaborationRequest{
		ID: "R9", SessionID: "S9", Participants: []string{"A1", "A2", "A3"},
		Strategy: core.StrategySwarm, ResolutionPolicy: core.PolicyConsensus, Prompt: "x",
	}

	res, err := e.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "x", string(res.Terminal))
	assert.NotEqual(t, "COORDINATOR", res.Chosen)

	var found bool
	for _, ev := range events {
		if ev.Kind != "resolution_chosen" {
			continue
		}
		payload, ok := ev.Payload.(map[string]string)
		require.True(t, ok)
		assert.Equal(t, string(core.PolicyConsensus), payload["policy"])
		found = true
	}
	assert.True(t, found, "expected a resolution_chosen event")
}

func TestVotingPluralityEmitsResolutionChosen(t *testing.T) {
	a1 := echoAgent("A1", "yes")
	a2 := echoAgent("A2", "yes")
	a3 := echoAgent("A3", "no")
	e := newEngine(t, a1, a2, a3)

	var events []core.Event
	e.OnEvent(func(ev core.Event) { events = append(events, ev) })

	req := &core.CollaborationRequest{
		ID: "R10", SessionID: "S10", Participants: []string{"A1", "A2", "A3"},
		Strategy: core.StrategyParallel, ResolutionPolicy: core.PolicyVoting, Prompt: "vote",
	}

	res, err := e.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "yes", string(res.Terminal))

	var found bool
	for _, ev := range events {
		if ev.Kind != "resolution_chosen" {
			continue
		}
		payload, ok := ev.Payload.(map[string]string)
		require.True(t, ok)
		assert.Equal(t, string(core.PolicyVoting), payload["policy"])
		assert.Equal(t, res.Chosen, payload["chosen"])
		found = true
	}
	assert.True(t, found, "expected a resolution_chosen event for the plurality winner")
}

func TestDuplicateRequestRejected(t *testing.T) {
	block := make(chan struct{})
	a1 := &scriptedAgent{id: "A1", fn: func(ctx context.Context, task *core.Task) (*core.TaskResult, error) {
		<-block
		return &core.TaskResult{Status: core.TaskCompleted, Content: []byte("done")}, nil
	}}
	e := newEngine(t, a1)
	req := &core.CollaborationRequest{ID: "R7", Participants: []string{"A1"}, Strategy: core.StrategySequential, Prompt: "x"}

	go e.Run(context.Background(), req)
	require.Eventually(t, func() bool {
		e.liveMu.Lock()
		_, live := e.live[req.ID]
		e.liveMu.Unlock()
		return live
	}, time.Second, 5*time.Millisecond)

	_, err := e.Run(context.Background(), req)
	assert.True(t, core.IsKind(err, core.KindDuplicate))
	close(block)
}

func TestHumanPolicyUsesInjectedDecision(t *testing.T) {
	a1 := echoAgent("A1", "opt-a")
	a2 := echoAgent("A2", "opt-b")
	e := newEngine(t, a1, a2)
	req := &core.CollaborationRequest{
		ID: "R8", Participants: []string{"A1", "A2"},
		Strategy: core.StrategyParallel, ResolutionPolicy: core.PolicyHuman, Prompt: "x",
		Deadline: time.Now().Add(time.Second),
	}

	done := make(chan *core.CollaborationResult, 1)
	go func() {
		res, _ := e.Run(context.Background(), req)
		done <- res
	}()

	require.Eventually(t, func() bool {
		return e.ResolveHuman(req.ID, []byte("human-pick"))
	}, time.Second, 5*time.Millisecond)

	res := <-done
	assert.Equal(t, "human-pick", string(res.Terminal))
	assert.Equal(t, "HUMAN", res.Chosen)
}
