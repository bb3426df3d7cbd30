package agentpool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcoredev/runtime/core"
)

type fakeGenerator struct {
	lastReq core.GenerationRequest
	resp    *core.GenerationResponse
	err     error
}

func (g *fakeGenerator) Generate(ctx context.Context, req core.GenerationRequest) (*core.GenerationResponse, error) {
	g.lastReq = req
	return g.resp, g.err
}

func TestRoutedAgentPrependsPreambleAndUsesPreferredCapability(t *testing.T) {
	gen := &fakeGenerator{resp: &core.GenerationResponse{Content: []byte("ok")}}
	cfg := core.AgentConfig{ID: "A1", Capabilities: []string{"chat"}, MaxConcurrentTasks: 2, PreferredBackendCapability: "chat", SystemPreamble: "You are terse."}
	agent := NewRoutedAgent(cfg, gen)

	result, err := agent.Handle(context.Background(), &core.Task{ID: "t1", Capability: "chat", Payload: []byte("hello")})
	require.NoError(t, err)
	assert.Equal(t, core.TaskCompleted, result.Status)
	assert.Equal(t, []byte("ok"), result.Content)
	assert.Equal(t, "chat", gen.lastReq.Capability)
	assert.Contains(t, string(gen.lastReq.Input), "You are terse.")
	assert.Contains(t, string(gen.lastReq.Input), "hello")
}

func TestRoutedAgentFallsBackToTaskCapability(t *testing.T) {
	gen := &fakeGenerator{resp: &core.GenerationResponse{Content: []byte("ok")}}
	cfg := core.AgentConfig{ID: "A1", Capabilities: []string{"summarize"}, MaxConcurrentTasks: 1}
	agent := NewRoutedAgent(cfg, gen)

	_, err := agent.Handle(context.Background(), &core.Task{ID: "t1", Capability: "summarize", Payload: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "summarize", gen.lastReq.Capability)
}

func TestRoutedAgentPropagatesGeneratorError(t *testing.T) {
	gen := &fakeGenerator{err: assert.AnError}
	agent := NewRoutedAgent(core.AgentConfig{ID: "A1"}, gen)
	_, err := agent.Handle(context.Background(), &core.Task{ID: "t1"})
	assert.Error(t, err)
}

func TestRoutedAgentDerivesConfidenceFromFinishKind(t *testing.T) {
	cases := []struct {
		finishKind string
		want       float64
	}{
		{"stop", 1.0},
		{"", 1.0},
		{"length", 0.5},
		{"content_filter", 0.75},
	}
	for _, tc := range cases {
		gen := &fakeGenerator{resp: &core.GenerationResponse{Content: []byte("ok"), FinishKind: tc.finishKind}}
		agent := NewRoutedAgent(core.AgentConfig{ID: "A1"}, gen)
		result, err := agent.Handle(context.Background(), &core.Task{ID: "t1", Capability: "chat"})
		require.NoError(t, err)
		assert.Equal(t, tc.want, result.Confidence, "finish kind %q", tc.finishKind)
	}
}
