// Package collab implements the Multi-Agent Collaboration Engine (C10):
// running a CollaborationRequest to completion under a named Strategy and
// reconciling participant outputs with a ResolutionPolicy.
package collab

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/agentcoredev/runtime/core"
	"github.com/agentcoredev/runtime/internal/agentpool"
	"github.com/agentcoredev/runtime/internal/metrics"
	"github.com/agentcoredev/runtime/internal/store"
)

// coordinatorAgentID is the well-known role name spec §4.3 reserves for
// SWARM reconciliation and ARBITRATION re-dispatch.
const coordinatorAgentID = "COORDINATOR"

// Engine runs CollaborationRequests using a goroutine-per-participant,
// WaitGroup fan-out pattern in which each participant writes its own
// result slot, generalized to the strategy table in spec §4.3.
type Engine struct {
	pool    *agentpool.Pool
	results *store.ResultStore
	metrics *metrics.Sink

	mu       sync.Mutex
	handlers []core.EventFunc

	liveMu sync.Mutex
	live   map[string]struct{} // request ids currently running, for DUPLICATE detection

	humanMu   sync.Mutex
	humanWait map[string]chan []byte // request id -> channel for an injected human decision
}

// New builds an Engine over pool, persisting final results to results.
func New(pool *agentpool.Pool, results *store.ResultStore, m *metrics.Sink) *Engine {
	return &Engine{
		pool:      pool,
		results:   results,
		metrics:   m,
		live:      make(map[string]struct{}),
		humanWait: make(map[string]chan []byte),
	}
}

// OnEvent registers fn to receive every lifecycle event this Engine emits.
func (e *Engine) OnEvent(fn core.EventFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, fn)
}

func (e *Engine) emit(sessionID, kind string, payload any) {
	if sessionID == "" {
		return
	}
	e.mu.Lock()
	handlers := append([]core.EventFunc(nil), e.handlers...)
	e.mu.Unlock()
	for _, h := range handlers {
		h(core.Event{SessionID: sessionID, Kind: kind, Payload: payload})
	}
}

// ResolveHuman delivers a human decision for a request awaiting one under
// PolicyHuman (spec §4.3 "on decision event, use that").
func (e *Engine) ResolveHuman(requestID string, decision []byte) bool {
	e.humanMu.Lock()
	ch, ok := e.humanWait[requestID]
	e.humanMu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- decision:
		return true
	default:
		return false
	}
}

// Run executes req to completion. It returns KindDuplicate if req.ID is
// already live (spec §4.3 "Idempotence & replay").
func (e *Engine) Run(ctx context.Context, req *core.CollaborationRequest) (*core.CollaborationResult, error) {
	e.liveMu.Lock()
	if _, running := e.live[req.ID]; running {
		e.liveMu.Unlock()
		return nil, core.Errorf(core.KindDuplicate, "collaboration %s already in progress", req.ID)
	}
	e.live[req.ID] = struct{}{}
	e.liveMu.Unlock()
	defer func() {
		e.liveMu.Lock()
		delete(e.live, req.ID)
		e.liveMu.Unlock()
	}()

	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	start := time.Now()
	e.metrics.CollabStarted(string(req.Strategy))
	e.emit(req.SessionID, "collab_started", req)

	ctx, span := core.Tracer().Start(ctx, "collab.run")
	defer span.End()

	var participants []core.ParticipantResult
	var err error
	switch req.Strategy {
	case core.StrategySequential:
		participants, err = e.runSequential(ctx, req, false)
	case core.StrategyCascade:
		participants, err = e.runSequential(ctx, req, true)
	case core.StrategyParallel:
		participants, err = e.runParallel(ctx, req)
	case core.StrategySwarm:
		participants, err = e.runParallel(ctx, req)
	default:
		err = core.Errorf(core.KindInternal, "collab: unknown strategy %q", req.Strategy)
	}

	result := &core.CollaborationResult{RequestID: req.ID, Participants: participants, ResolutionPolicy: req.ResolutionPolicy}
	if err != nil {
		result.Err = err
	} else {
		if err := e.resolve(ctx, req, result); err != nil {
			result.Err = err
		}
	}

	e.metrics.ObserveCollabLatency(string(req.Strategy), float64(time.Since(start).Milliseconds()))
	if persistErr := e.results.PutCollabResult(ctx, result); persistErr != nil {
		core.Logger().Error().Err(persistErr).Str("request_id", req.ID).Msg("collab: failed to persist result")
	}
	e.emit(req.SessionID, "collab_finished", result)

	if result.Err != nil {
		return result, result.Err
	}
	return result, nil
}

// runOne dispatches a single participant turn, grounded on the coordinator's
// invoke-and-recover pattern so a panicking agent never aborts the request.
func (e *Engine) runOne(ctx context.Context, req *core.CollaborationRequest, agentID string, prompt string) (result core.ParticipantResult) {
	result.AgentID = agentID
	defer func() {
		if r := recover(); r != nil {
			result.Err = core.Errorf(core.KindInternal, "participant %s panicked: %v", agentID, r)
		}
	}()

	cand, ok := e.pool.Get(agentID)
	if !ok {
		result.Err = core.Errorf(core.KindNoAgent, "collab: unknown participant %s", agentID)
		return result
	}
	task := &core.Task{
		ID:        req.ID + ":" + agentID,
		SessionID: req.SessionID,
		AgentID:   agentID,
		Kind:      "collaboration_turn",
		Payload:   []byte(prompt),
		Deadline:  req.Deadline,
	}
	e.pool.AcquireSlot(agentID)
	r, err := cand.Agent.Handle(ctx, task)
	e.pool.ReleaseSlot(agentID, err != nil, 0)
	e.emit(req.SessionID, "participant_progress", core.ParticipantResult{AgentID: agentID})
	if err != nil {
		result.Err = err
		return result
	}
	result.Content = r.Content
	result.Confidence = confidenceOf(r)
	e.emit(req.SessionID, "participant_completed", result)
	return result
}

// confidenceOf reads the [0,1] confidence a TaskResult carries (spec §4.3
// PolicyConfidenceWeighted), defaulting to full confidence when the agent
// left it unset.
func confidenceOf(r *core.TaskResult) float64 {
	if r == nil || r.Confidence == 0 {
		return 1.0
	}
	return r.Confidence
}

// runSequential implements SEQUENTIAL and, when cascade is true, CASCADE
// (spec §4.3): each participant receives the prior output appended to the
// prompt; a participant may STOP the cascade early.
func (e *Engine) runSequential(ctx context.Context, req *core.CollaborationRequest, cascade bool) ([]core.ParticipantResult, error) {
	out := make([]core.ParticipantResult, 0, len(req.Participants))
	prompt := req.Prompt
	for _, agentID := range req.Participants {
		if ctx.Err() != nil {
			return out, core.Wrap(core.KindDeadlineExceeded, ctx.Err(), "collab: sequential run exceeded deadline")
		}
		pr := e.runOne(ctx, req, agentID, prompt)
		out = append(out, pr)
		if pr.Err != nil {
			continue
		}
		prompt = prompt + "\n" + string(pr.Content)
		if cascade && isStopSignal(pr.Content) {
			break
		}
	}
	return out, nil
}

func isStopSignal(content []byte) bool {
	return strings.TrimSpace(strings.ToUpper(string(content))) == "STOP" ||
		bytes.HasPrefix(bytes.TrimSpace(content), []byte("STOP:"))
}

// runParallel implements PARALLEL and the fan-out half of SWARM (spec
// §4.3): one task per participant, concurrently, within the deadline.
// Continues with survivors per the partial-failure rule as long as at
// least one participant completed.
func (e *Engine) runParallel(ctx context.Context, req *core.CollaborationRequest) ([]core.ParticipantResult, error) {
	n := len(req.Participants)
	out := make([]core.ParticipantResult, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i, agentID := range req.Participants {
		go func(i int, agentID string) {
			defer wg.Done()
			out[i] = e.runOne(ctx, req, agentID, req.Prompt)
		}(i, agentID)
	}
	wg.Wait()

	completed := 0
	for _, pr := range out {
		if pr.Err == nil {
			completed++
		}
	}
	if completed == 0 {
		return out, core.Errorf(core.KindInternal, "collab: all %d participants failed", n)
	}
	return out, nil
}

// equivalenceFn resolves whether two outputs agree for the request,
// defaulting to byte-identical after trim+lowercase normalization (spec
// §4.3 resolution policies header).
func (e *Engine) equivalenceFn(req *core.CollaborationRequest) func(a, b []byte) bool {
	if req.EquivalenceFn != nil {
		return req.EquivalenceFn
	}
	return func(a, b []byte) bool {
		return strings.EqualFold(strings.TrimSpace(string(a)), strings.TrimSpace(string(b)))
	}
}

// equivalenceClass groups survivors that agree with each other.
type equivalenceClass struct {
	members []int // indices into the survivors slice
	weight  float64
}

func (e *Engine) classify(req *core.CollaborationRequest, survivors []core.ParticipantResult) []equivalenceClass {
	eq := e.equivalenceFn(req)
	var classes []equivalenceClass
	for i, pr := range survivors {
		placed := false
		for ci := range classes {
			rep := survivors[classes[ci].members[0]]
			if eq(rep.Content, pr.Content) {
				classes[ci].members = append(classes[ci].members, i)
				placed = true
				break
			}
		}
		if !placed {
			classes = append(classes, equivalenceClass{members: []int{i}})
		}
	}
	return classes
}

// resolve applies req.ResolutionPolicy to the collected participant
// results and sets result.Terminal/Chosen (spec §4.3).
func (e *Engine) resolve(ctx context.Context, req *core.CollaborationRequest, result *core.CollaborationResult) error {
	if req.Strategy == core.StrategySequential || req.Strategy == core.StrategyCascade {
		return e.resolveSequentialTerminal(result)
	}

	survivors := survivingResults(result.Participants)
	if len(survivors) == 0 {
		return core.Errorf(core.KindInternal, "collab: no surviving participants to resolve")
	}

	if req.Strategy == core.StrategySwarm {
		// A resolution policy that can actually differentiate the
		// survivors (VOTING, CONFIDENCE_WEIGHTED, EXPERTISE_WEIGHTED,
		// CONSENSUS, HUMAN) resolves SWARM the same way PARALLEL does
		// (spec §8 scenario 4: SWARM+CONSENSUS resolves via the class
		// weight vote, no COORDINATOR call). Only with no policy, or an
		// explicit ARBITRATION, does SWARM fall back to its own
		// COORDINATOR reconciliation step.
		if req.ResolutionPolicy == "" || req.ResolutionPolicy == core.PolicyArbitration {
			return e.resolveSwarm(ctx, req, result, survivors)
		}
		return e.resolveByPolicy(ctx, req, result, survivors)
	}
	return e.resolveByPolicy(ctx, req, result, survivors)
}

func (e *Engine) resolveSequentialTerminal(result *core.CollaborationResult) error {
	for i := len(result.Participants) - 1; i >= 0; i-- {
		if result.Participants[i].Err == nil {
			result.Terminal = result.Participants[i].Content
			result.Chosen = result.Participants[i].AgentID
			return nil
		}
	}
	return core.Errorf(core.KindInternal, "collab: every sequential participant failed")
}

// resolveSwarm invokes the COORDINATOR agent with every survivor's output
// as input; its reply is terminal (spec §4.3 SWARM).
func (e *Engine) resolveSwarm(ctx context.Context, req *core.CollaborationRequest, result *core.CollaborationResult, survivors []core.ParticipantResult) error {
	prompt := mergePrompt(req.Prompt, survivors)
	pr := e.runOne(ctx, req, coordinatorAgentID, prompt)
	if pr.Err != nil {
		return core.Wrap(core.KindInternal, pr.Err, "collab: swarm reconciler failed")
	}
	result.Terminal = pr.Content
	result.Chosen = coordinatorAgentID
	e.emit(req.SessionID, "resolution_chosen", map[string]string{"policy": string(req.ResolutionPolicy), "chosen": coordinatorAgentID})
	return nil
}

// resolveByPolicy applies VOTING / CONFIDENCE_WEIGHTED / EXPERTISE_WEIGHTED
// / CONSENSUS / ARBITRATION / HUMAN per spec §4.3's resolution table.
func (e *Engine) resolveByPolicy(ctx context.Context, req *core.CollaborationRequest, result *core.CollaborationResult, survivors []core.ParticipantResult) error {
	classes := e.classify(req, survivors)
	if len(classes) == 1 {
		return e.choose(req, result, survivors, classes[0].members[0], string(req.ResolutionPolicy))
	}

	switch req.ResolutionPolicy {
	case core.PolicyVoting:
		best, tie := plurality(classes)
		if tie {
			return e.arbitrate(ctx, req, result, survivors)
		}
		return e.choose(req, result, survivors, classes[best].members[0], string(core.PolicyVoting))

	case core.PolicyConfidenceWeighted:
		idx, tie := argmaxConfidence(survivors)
		if tie {
			return e.arbitrate(ctx, req, result, survivors)
		}
		return e.choose(req, result, survivors, idx, string(core.PolicyConfidenceWeighted))

	case core.PolicyExpertiseWeighted:
		idx, tie := argmaxExpertise(req, survivors)
		if tie {
			return e.arbitrate(ctx, req, result, survivors)
		}
		return e.choose(req, result, survivors, idx, string(core.PolicyExpertiseWeighted))

	case core.PolicyConsensus:
		total := float64(len(survivors))
		for _, class := range classes {
			if float64(len(class.members))/total >= 0.66 {
				return e.choose(req, result, survivors, class.members[0], string(core.PolicyConsensus))
			}
		}
		return e.arbitrate(ctx, req, result, survivors)

	case core.PolicyHuman:
		return e.resolveHuman(ctx, req, result, survivors)

	default: // PolicyArbitration or unset
		return e.arbitrate(ctx, req, result, survivors)
	}
}

// choose commits the winning survivor as terminal and emits
// resolution_chosen (spec §4.3 "Event emission"): every resolution path,
// not just ARBITRATION/SWARM/HUMAN, must report the policy and the id it
// picked.
func (e *Engine) choose(req *core.CollaborationRequest, result *core.CollaborationResult, survivors []core.ParticipantResult, idx int, policy string) error {
	result.Terminal = survivors[idx].Content
	result.Chosen = survivors[idx].AgentID
	e.emit(req.SessionID, "resolution_chosen", map[string]string{"policy": policy, "chosen": result.Chosen})
	return nil
}

// arbitrate re-dispatches to the COORDINATOR agent with all candidates
// (spec §4.3 ARBITRATION).
func (e *Engine) arbitrate(ctx context.Context, req *core.CollaborationRequest, result *core.CollaborationResult, survivors []core.ParticipantResult) error {
	prompt := mergePrompt(req.Prompt, survivors)
	pr := e.runOne(ctx, req, coordinatorAgentID, prompt)
	if pr.Err != nil {
		return core.Wrap(core.KindInternal, pr.Err, "collab: arbitration failed")
	}
	result.Terminal = pr.Content
	result.Chosen = "ARBITRATION"
	e.emit(req.SessionID, "resolution_chosen", map[string]string{"policy": "ARBITRATION", "chosen": "ARBITRATION"})
	return nil
}

// resolveHuman emits awaiting_human and blocks for up to the request
// deadline for an injected decision (spec §4.3 HUMAN); on timeout it falls
// back to ARBITRATION.
func (e *Engine) resolveHuman(ctx context.Context, req *core.CollaborationRequest, result *core.CollaborationResult, survivors []core.ParticipantResult) error {
	ch := make(chan []byte, 1)
	e.humanMu.Lock()
	e.humanWait[req.ID] = ch
	e.humanMu.Unlock()
	defer func() {
		e.humanMu.Lock()
		delete(e.humanWait, req.ID)
		e.humanMu.Unlock()
	}()

	e.emit(req.SessionID, "awaiting_human", map[string]string{"request_id": req.ID})

	select {
	case decision := <-ch:
		result.Terminal = decision
		result.Chosen = "HUMAN"
		e.emit(req.SessionID, "resolution_chosen", map[string]string{"policy": string(core.PolicyHuman), "chosen": "HUMAN"})
		return nil
	case <-ctx.Done():
		return e.arbitrate(ctx, req, result, survivors)
	}
}

func survivingResults(participants []core.ParticipantResult) []core.ParticipantResult {
	out := make([]core.ParticipantResult, 0, len(participants))
	for _, pr := range participants {
		if pr.Err == nil {
			out = append(out, pr)
		}
	}
	return out
}

func mergePrompt(base string, survivors []core.ParticipantResult) string {
	var b strings.Builder
	b.WriteString(base)
	for _, pr := range survivors {
		b.WriteString("\n---\n")
		b.WriteString(pr.AgentID)
		b.WriteString(": ")
		b.Write(pr.Content)
	}
	return b.String()
}

func plurality(classes []equivalenceClass) (best int, tie bool) {
	max := -1
	for i, c := range classes {
		if len(c.members) > max {
			max = len(c.members)
			best = i
			tie = false
		} else if len(c.members) == max {
			tie = true
		}
	}
	return best, tie
}

func argmaxConfidence(survivors []core.ParticipantResult) (idx int, tie bool) {
	max := -1.0
	for i, pr := range survivors {
		if pr.Confidence > max {
			max = pr.Confidence
			idx = i
			tie = false
		} else if pr.Confidence == max {
			tie = true
		}
	}
	return idx, tie
}

// argmaxExpertise resolves EXPERTISE_WEIGHTED. AgentConfig carries no
// per-capability expertise weight, so no such weight is applied: the
// policy picks the survivor with the highest confidence, exactly as
// argmaxConfidence does for CONFIDENCE_WEIGHTED, and reports a tie the
// same way.
func argmaxExpertise(req *core.CollaborationRequest, survivors []core.ParticipantResult) (idx int, tie bool) {
	return argmaxConfidence(survivors)
}
