package agentpool

import (
	"context"

	"github.com/agentcoredev/runtime/core"
)

// generator is the narrow slice of the Model Router a RoutedAgent needs:
// an agent handler does not need the whole router, only a way to turn a
// capability and a payload into a response.
type generator interface {
	Generate(ctx context.Context, req core.GenerationRequest) (*core.GenerationResponse, error)
}

// RoutedAgent is the default core.Agent implementation: it forwards a
// Task's payload straight to the Model Router under the agent's preferred
// capability, preamble prepended, and translates the router's response
// into a TaskResult. Declarative agents configured with no bespoke handler
// (spec §3 Agent: "a handler that processes a task") get this by default.
type RoutedAgent struct {
	id                 string
	capabilities       []string
	maxConcurrentTasks int
	capability         string
	preamble           string
	router             generator
}

// NewRoutedAgent builds a RoutedAgent from a declared AgentConfig and a
// Model Router. Requests are routed under cfg.PreferredBackendCapability;
// when that is empty, Handle uses the task's own Capability instead.
func NewRoutedAgent(cfg core.AgentConfig, router generator) *RoutedAgent {
	return &RoutedAgent{
		id:                 cfg.ID,
		capabilities:       cfg.Capabilities,
		maxConcurrentTasks: cfg.MaxConcurrentTasks,
		capability:         cfg.PreferredBackendCapability,
		preamble:           cfg.SystemPreamble,
		router:             router,
	}
}

func (a *RoutedAgent) ID() string              { return a.id }
func (a *RoutedAgent) Capabilities() []string   { return a.capabilities }
func (a *RoutedAgent) MaxConcurrentTasks() int  { return a.maxConcurrentTasks }

func (a *RoutedAgent) Handle(ctx context.Context, task *core.Task) (*core.TaskResult, error) {
	input := task.Payload
	if a.preamble != "" {
		input = append([]byte(a.preamble+"\n\n"), task.Payload...)
	}
	capability := a.capability
	if capability == "" {
		capability = task.Capability
	}
	resp, err := a.router.Generate(ctx, core.GenerationRequest{
		Capability:  capability,
		Input:       input,
		AllowRemote: true,
		SessionID:   task.SessionID,
	})
	if err != nil {
		return nil, err
	}
	return &core.TaskResult{
		TaskID:     task.ID,
		AgentID:    a.id,
		Status:     core.TaskCompleted,
		Content:    resp.Content,
		Confidence: confidenceFromFinish(resp.FinishKind),
	}, nil
}

// confidenceFromFinish derives a [0,1] confidence score from a backend's
// finish reason, the only per-response signal a Backend.Invoke result
// carries (core.InvokeResult has no logprob/score field). A clean "stop",
// or an empty finish reason, is full confidence; a response cut short by
// the token budget is the
// backend saying it didn't finish, so it is scored lower; anything else
// is a partial signal in between.
func confidenceFromFinish(finishKind string) float64 {
	switch finishKind {
	case "stop", "":
		return 1.0
	case "length":
		return 0.5
	default:
		return 0.75
	}
}
