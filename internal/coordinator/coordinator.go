// Package coordinator implements the Agent Coordinator (C9): the dispatch
// loop that pops Tasks off the Task Queue, hands them to an eligible Agent,
// and writes back a TaskResult.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentcoredev/runtime/core"
	"github.com/agentcoredev/runtime/internal/agentpool"
	"github.com/agentcoredev/runtime/internal/metrics"
	"github.com/agentcoredev/runtime/internal/queue"
	"github.com/agentcoredev/runtime/internal/store"
)

// wakeupInterval bounds how long a worker sleeps with no eligible agent
// before re-checking the queue (spec §4.2 step 2: "bounded 50ms wakeup").
const wakeupInterval = 50 * time.Millisecond

// Coordinator runs the dispatch loop against a shared Task Queue and Agent
// Pool. N worker goroutines are started, matching spec §4.2's "N worker
// slots; N is sum(agent.max_concurrent_tasks)".
type Coordinator struct {
	q       *queue.Queue
	pool    *agentpool.Pool
	results *store.ResultStore
	metrics *metrics.Sink

	mu       sync.Mutex
	handlers []core.EventFunc

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc // taskID -> cancel, for in-flight RUNNING tasks

	wg   sync.WaitGroup
	stop chan struct{}
}

// New builds a Coordinator over q and pool, writing results to results and
// recording metrics to m.
func New(q *queue.Queue, pool *agentpool.Pool, results *store.ResultStore, m *metrics.Sink) *Coordinator {
	return &Coordinator{
		q:       q,
		pool:    pool,
		results: results,
		metrics: m,
		cancels: make(map[string]context.CancelFunc),
		stop:    make(chan struct{}),
	}
}

// OnEvent registers fn to receive every lifecycle event this Coordinator
// emits, so a session transport can subscribe without the Coordinator
// holding a Session reference (spec §9).
func (c *Coordinator) OnEvent(fn core.EventFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, fn)
}

func (c *Coordinator) emit(ev core.Event) {
	c.mu.Lock()
	handlers := append([]core.EventFunc(nil), c.handlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// slotCount returns N worker goroutines, the sum of every registered
// agent's max concurrency (spec §4.2 dispatch loop header).
func (c *Coordinator) slotCount() int {
	total := 0
	for _, id := range c.pool.All() {
		if cand, ok := c.pool.Get(id); ok {
			total += cand.MaxConcurrentTasks
		}
	}
	if total == 0 {
		return 1
	}
	return total
}

// Start launches the dispatch loop's worker goroutines. ctx governs the
// lifetime of the whole coordinator, not any individual task.
func (c *Coordinator) Start(ctx context.Context) {
	n := c.slotCount()
	for i := 0; i < n; i++ {
		c.wg.Add(1)
		go c.worker(ctx)
	}
}

// Stop signals every worker to exit and waits for in-flight dispatch to
// drain. It does not cancel RUNNING tasks; callers that need that should
// cancel ctx passed to Start instead.
func (c *Coordinator) Stop() {
	close(c.stop)
	c.wg.Wait()
}

func (c *Coordinator) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		default:
		}

		task, ok := c.q.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-c.q.Wait():
			case <-time.After(wakeupInterval):
			}
			continue
		}

		agent, eligible := c.pickAgent(task)
		if !eligible {
			// spec §4.2 step 2: requeue at the head, then back off.
			c.q.RequeueHead(task)
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-c.q.Wait():
			case <-time.After(wakeupInterval):
			}
			continue
		}

		c.dispatch(ctx, task, agent)
	}
}

// pickAgent implements spec §4.2 step 1: a specific target agent if named,
// else any eligible agent for the task's required capability.
func (c *Coordinator) pickAgent(task *core.Task) (agentpool.Candidate, bool) {
	if task.AgentID != "" && task.AgentID != core.AnyAgent {
		cand, ok := c.pool.Get(task.AgentID)
		if !ok || cand.State == core.AgentPaused || cand.State == core.AgentError || cand.InFlight >= cand.MaxConcurrentTasks {
			return agentpool.Candidate{}, false
		}
		return cand, true
	}
	candidates := c.pool.Eligible(task.Capability)
	if len(candidates) == 0 {
		return agentpool.Candidate{}, false
	}
	return candidates[0], true
}

func (c *Coordinator) dispatch(ctx context.Context, task *core.Task, agent agentpool.Candidate) {
	task.Status = core.TaskRunning
	c.pool.AcquireSlot(agent.ID)

	taskCtx := ctx
	var cancel context.CancelFunc
	if task.HasDeadline() {
		taskCtx, cancel = context.WithDeadline(ctx, task.Deadline)
	} else {
		taskCtx, cancel = context.WithCancel(ctx)
	}
	c.cancelMu.Lock()
	c.cancels[task.ID] = cancel
	c.cancelMu.Unlock()
	defer func() {
		c.cancelMu.Lock()
		delete(c.cancels, task.ID)
		c.cancelMu.Unlock()
		cancel()
	}()

	start := time.Now()
	result := c.invoke(taskCtx, task, agent)
	latency := time.Since(start)

	failed := result.Status == core.TaskFailed
	c.pool.ReleaseSlot(agent.ID, failed, latency)
	c.metrics.ObserveTaskLatency(agent.ID, task.Capability, float64(latency.Milliseconds()))
	c.metrics.TaskCompleted(agent.ID, string(result.Status))

	if err := c.results.PutTaskResult(ctx, result); err != nil {
		core.Logger().Error().Err(err).Str("task_id", task.ID).Msg("coordinator: failed to persist task result")
	}

	if task.SessionID != "" {
		kind := "task_completed"
		if failed {
			kind = "task_failed"
		}
		c.emit(core.Event{SessionID: task.SessionID, Kind: kind, Payload: result})
	}
}

// invoke runs the agent handler, converting panics and unhandled errors
// into a FAILED TaskResult rather than letting them reach the caller
// (spec §4.2 step 6: "the coordinator never crashes on agent-level errors").
func (c *Coordinator) invoke(ctx context.Context, task *core.Task, agent agentpool.Candidate) (result *core.TaskResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = &core.TaskResult{
				TaskID:     task.ID,
				AgentID:    agent.ID,
				Status:     core.TaskFailed,
				ErrKind:    core.KindInternal,
				ErrMessage: fmt.Sprintf("agent panic: %v", r),
				StartedAt:  start,
				FinishedAt: time.Now(),
			}
		}
	}()

	tctx, span := core.Tracer().Start(ctx, "coordinator.dispatch")
	defer span.End()

	r, err := agent.Agent.Handle(tctx, task)
	if err != nil {
		kind := core.KindOf(err)
		if ctx.Err() == context.DeadlineExceeded {
			kind = core.KindDeadlineExceeded
		} else if ctx.Err() == context.Canceled {
			kind = core.KindCancelled
		}
		return &core.TaskResult{
			TaskID:     task.ID,
			AgentID:    agent.ID,
			Status:     core.TaskFailed,
			ErrKind:    kind,
			ErrMessage: err.Error(),
			StartedAt:  start,
			FinishedAt: time.Now(),
		}
	}
	if r == nil {
		r = &core.TaskResult{TaskID: task.ID, AgentID: agent.ID}
	}
	r.TaskID = task.ID
	r.AgentID = agent.ID
	if r.Status == "" {
		r.Status = core.TaskCompleted
	}
	r.StartedAt = start
	r.FinishedAt = time.Now()
	return r
}

// Cancel trips the context of a RUNNING task, or removes it from the queue
// if it is still QUEUED (spec §4.2 "Cancellation").
func (c *Coordinator) Cancel(taskID string) bool {
	c.cancelMu.Lock()
	cancel, running := c.cancels[taskID]
	c.cancelMu.Unlock()
	if running {
		cancel()
		return true
	}
	return c.q.Cancel(taskID)
}
