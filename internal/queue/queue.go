// Package queue implements the Task Queue (C8): a bounded priority FIFO of
// work items awaiting an agent (spec §4.2 "Queue semantics"). No
// third-party priority-queue library appears anywhere in the retrieved
// corpus, so this is built on stdlib container/heap (documented in
// DESIGN.md) — the idiomatic choice for ordered work in Go services.
package queue

import (
	"container/heap"
	"sync"

	"github.com/agentcoredev/runtime/core"
)

const bands = 4 // priority 0 (critical) .. 3 (low), spec §3 Task.Priority

// item is one queued task plus the monotonic sequence number that
// preserves FIFO order within a priority band.
type item struct {
	task *core.Task
	seq  int64
	idx  int // heap index, maintained by container/heap
}

type bandHeap []*item

func (h bandHeap) Len() int { return len(h) }
func (h bandHeap) Less(i, j int) bool { return h[i].seq < h[j].seq }
func (h bandHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx, h[j].idx = i, j
}
func (h *bandHeap) Push(x any) {
	it := x.(*item)
	it.idx = len(*h)
	*h = append(*h, it)
}
func (h *bandHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is the Task Queue: 4 priority bands, each capacity-bounded, each
// internally FIFO.
type Queue struct {
	mu          sync.Mutex
	bands       [bands]bandHeap
	byID        map[string]*item // task id -> queued item, for O(log n) cancel
	capacity    int              // per band
	nextSeq     int64
	headSeq     int64
	notEmpty    chan struct{}
}

// New builds a Queue with capacityPerBand slots in each of the 4 bands.
func New(capacityPerBand int) *Queue {
	q := &Queue{capacity: capacityPerBand, byID: make(map[string]*item), notEmpty: make(chan struct{}, 1), headSeq: -1}
	for i := range q.bands {
		heap.Init(&q.bands[i])
	}
	return q
}

func clampBand(p int) int {
	if p < 0 {
		return 0
	}
	if p > bands-1 {
		return bands - 1
	}
	return p
}

// Submit enqueues task, returning KindQueueFull if its band is at capacity
// (spec §4.2, §8 "Queue at capacity: next submission returns QUEUE_FULL and
// the existing queue is untouched").
func (q *Queue) Submit(task *core.Task) error {
	band := clampBand(task.Priority)
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.bands[band]) >= q.capacity {
		return core.Errorf(core.KindQueueFull, "priority band %d is at capacity %d", band, q.capacity)
	}
	it := &item{task: task, seq: q.nextSeq}
	q.nextSeq++
	heap.Push(&q.bands[band], it)
	q.byID[task.ID] = it
	q.signal()
	return nil
}

// RequeueHead puts task back at the head of its priority band, used when no
// agent is eligible for it right now (spec §4.2 step 2).
func (q *Queue) RequeueHead(task *core.Task) {
	band := clampBand(task.Priority)
	q.mu.Lock()
	defer q.mu.Unlock()
	it := &item{task: task, seq: q.headSeq}
	q.headSeq--
	heap.Push(&q.bands[band], it)
	q.byID[task.ID] = it
}

// Pop removes and returns the highest-priority, oldest-within-band task, or
// ok=false if every band is empty.
func (q *Queue) Pop() (*core.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for b := 0; b < bands; b++ {
		if len(q.bands[b]) > 0 {
			it := heap.Pop(&q.bands[b]).(*item)
			delete(q.byID, it.task.ID)
			return it.task, true
		}
	}
	return nil, false
}

// Cancel removes a still-queued task by id in O(log n) (spec §4.2
// "Cancellation"). Returns false if the task is not currently queued
// (already dispatched or unknown).
func (q *Queue) Cancel(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.byID[taskID]
	if !ok {
		return false
	}
	band := clampBand(it.task.Priority)
	heap.Remove(&q.bands[band], it.idx)
	delete(q.byID, taskID)
	return true
}

// CancelForSession removes every still-queued task bound to sessionID
// (spec §4.4 close semantics: "cancel all Tasks bound to this session that
// are QUEUED"). Returns the cancelled task ids.
func (q *Queue) CancelForSession(sessionID string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var cancelled []string
	for id, it := range q.byID {
		if it.task.SessionID == sessionID {
			band := clampBand(it.task.Priority)
			heap.Remove(&q.bands[band], it.idx)
			delete(q.byID, id)
			cancelled = append(cancelled, id)
		}
	}
	return cancelled
}

// Depth returns the current length of priority band p (0..3), for the
// queue_depth{priority} gauge (spec §6.5).
func (q *Queue) Depth(band int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.bands[clampBand(band)])
}

// Wait returns a channel that receives a value when Submit adds a task, for
// the coordinator's wakeup. RequeueHead and task completion do not signal
// it, so a worker waiting for an agent to free up wakes on its bounded 50ms
// timer instead.
func (q *Queue) Wait() <-chan struct{} { return q.notEmpty }

func (q *Queue) signal() {
	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
}
