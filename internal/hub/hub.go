// Package hub implements the Real-Time Session Hub (C11): accepting
// durable bidirectional connections, routing inbound frames to the Agent
// Coordinator and Collaboration Engine, and delivering outbound frames in
// order with bounded, back-pressure-aware buffering.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agentcoredev/runtime/core"
	"github.com/agentcoredev/runtime/internal/agentpool"
	"github.com/agentcoredev/runtime/internal/coordinator"
	"github.com/agentcoredev/runtime/internal/collab"
	"github.com/agentcoredev/runtime/internal/metrics"
	"github.com/agentcoredev/runtime/internal/queue"
)

// Hub is the Session Hub. It owns every open Session and the routing of
// lifecycle events from the Coordinator/Collaboration Engine back onto the
// right session's mailbox (spec §9: the Coordinator never holds a Session
// reference, so this is the only place that needs one).
type Hub struct {
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*Session

	q     *queue.Queue
	coord *coordinator.Coordinator
	col   *collab.Engine
	pool  *agentpool.Pool
	auth  core.Authorizer
	limit core.RateLimiter
	m     *metrics.Sink
}

// New builds a Hub wired to the runtime's shared components. auth/limit may
// be nil to disable the respective checkpoint (used by tests and
// deployments with no external authz/rate-limit provider).
func New(q *queue.Queue, coord *coordinator.Coordinator, col *collab.Engine, pool *agentpool.Pool, auth core.Authorizer, limit core.RateLimiter, m *metrics.Sink) *Hub {
	h := &Hub{
		sessions: make(map[string]*Session),
		q:        q,
		coord:    coord,
		col:      col,
		pool:     pool,
		auth:     auth,
		limit:    limit,
		m:        m,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(r *http.Request) bool { return true }},
	}
	coord.OnEvent(h.route)
	col.OnEvent(h.route)
	return h
}

// route delivers a lifecycle event onto its session's mailbox, honoring
// per-topic subscriptions (spec §4.4 outbound kinds).
func (h *Hub) route(ev core.Event) {
	h.mu.RLock()
	sess, ok := h.sessions[ev.SessionID]
	h.mu.RUnlock()
	if !ok || !sess.subscribed(ev.Kind) {
		return
	}
	body, err := json.Marshal(ev.Payload)
	if err != nil {
		return
	}
	if sess.send(ev.Kind, uuid.NewString(), body) == pushClosedSlowConsumer {
		h.closeSession(sess, "SLOW_CONSUMER")
	}
}

// ServeHTTP upgrades the connection and runs the session's lifecycle.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal := r.Header.Get("X-Principal")
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		core.Logger().Warn().Err(err).Msg("hub: websocket upgrade failed")
		return
	}

	sess := newSession(uuid.NewString(), principal, conn)
	h.mu.Lock()
	h.sessions[sess.ID] = sess
	h.mu.Unlock()
	h.m.SessionOpened()
	h.m.SetOpenSessions(h.openCount())

	go sess.writePump()
	h.readLoop(sess)

	h.closeSession(sess, "CLIENT_DISCONNECT")
}

func (h *Hub) openCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// readLoop consumes inbound frames until the connection drops.
func (h *Hub) readLoop(sess *Session) {
	sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleFrame(sess, data)
	}
}

func (h *Hub) handleFrame(sess *Session, data []byte) {
	env, err := decode(data)
	if err != nil {
		sess.send(FrameError, "", mustJSON(map[string]string{"code": string(core.KindUnknownFrame)}))
		return
	}
	if env.V != ProtocolVersion {
		sess.send(FrameError, env.ID, mustJSON(map[string]string{"code": string(core.KindUnsupportedProtocol)}))
		h.closeSession(sess, "UNSUPPORTED_PROTOCOL")
		return
	}

	ctx := context.Background()
	if h.auth != nil && !h.auth.Authorize(ctx, sess.Principal, env.Type, sess.ID) {
		sess.send(FrameError, env.ID, mustJSON(map[string]string{"code": string(core.KindForbidden)}))
		return
	}
	if h.limit != nil {
		if allowed, retryAfter := h.limit.Check(sess.Principal, 1); !allowed {
			sess.send(FrameError, env.ID, mustJSON(map[string]string{
				"code": string(core.KindRateLimited), "retry_after_ms": itoa64(retryAfter.Milliseconds()),
			}))
			return
		}
	}

	switch env.Type {
	case FrameSubmitTask:
		h.handleSubmitTask(sess, env)
	case FrameSubmitCollab:
		h.handleSubmitCollab(sess, env)
	case FrameCancel:
		h.handleCancel(sess, env)
	case FrameSubscribe:
		h.handleSubscribe(sess, env, true)
	case FrameUnsubscribe:
		h.handleSubscribe(sess, env, false)
	case FrameActivateAgent:
		h.handleActivateAgent(sess, env)
	case FrameHeartbeat:
		sess.send(FrameHeartbeat, env.ID, nil)
	default:
		sess.send(FrameError, env.ID, mustJSON(map[string]string{"code": string(core.KindUnknownFrame)}))
	}
}

type submitTaskBody struct {
	Kind           string `json:"kind"`
	Payload        []byte `json:"payload"`
	TargetAgentID  string `json:"target_agent_id,omitempty"`
	Priority       int    `json:"priority,omitempty"`
	DeadlineMillis int64  `json:"deadline_ms,omitempty"`
}

func (h *Hub) handleSubmitTask(sess *Session, env Envelope) {
	var body submitTaskBody
	if err := json.Unmarshal(env.Body, &body); err != nil {
		sess.send(FrameError, env.ID, mustJSON(map[string]string{"code": string(core.KindUnknownFrame)}))
		return
	}
	agentID := body.TargetAgentID
	if agentID == "" {
		agentID = core.AnyAgent
	}
	task := &core.Task{
		ID:         uuid.NewString(),
		SessionID:  sess.ID,
		AgentID:    agentID,
		Kind:       body.Kind,
		Capability: body.Kind,
		Priority:   body.Priority,
		Payload:    body.Payload,
		CreatedAt:  time.Now(),
		Status:     core.TaskQueued,
	}
	if body.DeadlineMillis > 0 {
		task.Deadline = time.UnixMilli(body.DeadlineMillis)
	}
	if err := h.q.Submit(task); err != nil {
		sess.send(FrameError, env.ID, mustJSON(map[string]string{"code": string(core.KindOf(err))}))
		return
	}
	h.m.TaskSubmitted(agentID, body.Kind)
	sess.trackQueued(task.ID)
	sess.send(FrameAck, env.ID, mustJSON(map[string]string{"task_id": task.ID}))
}

type submitCollabBody struct {
	Participants     []string `json:"participants"`
	Strategy         string   `json:"strategy"`
	ResolutionPolicy string   `json:"resolution_policy"`
	Prompt           string   `json:"prompt"`
	DeadlineMillis   int64    `json:"deadline_ms,omitempty"`
}

func (h *Hub) handleSubmitCollab(sess *Session, env Envelope) {
	var body submitCollabBody
	if err := json.Unmarshal(env.Body, &body); err != nil {
		sess.send(FrameError, env.ID, mustJSON(map[string]string{"code": string(core.KindUnknownFrame)}))
		return
	}
	req := &core.CollaborationRequest{
		ID:               uuid.NewString(),
		SessionID:        sess.ID,
		Prompt:           body.Prompt,
		Participants:     body.Participants,
		Strategy:         core.Strategy(body.Strategy),
		ResolutionPolicy: core.ResolutionPolicy(body.ResolutionPolicy),
	}
	if body.DeadlineMillis > 0 {
		req.Deadline = time.UnixMilli(body.DeadlineMillis)
	}
	sess.send(FrameAck, env.ID, mustJSON(map[string]string{"collab_id": req.ID}))
	go func() {
		if _, err := h.col.Run(context.Background(), req); err != nil && !core.IsKind(err, core.KindDuplicate) {
			core.Logger().Warn().Err(err).Str("request_id", req.ID).Msg("hub: collaboration finished with error")
		}
	}()
}

type cancelBody struct {
	TaskID   string `json:"task_id,omitempty"`
	CollabID string `json:"collab_id,omitempty"`
}

func (h *Hub) handleCancel(sess *Session, env Envelope) {
	var body cancelBody
	if err := json.Unmarshal(env.Body, &body); err != nil {
		sess.send(FrameError, env.ID, mustJSON(map[string]string{"code": string(core.KindUnknownFrame)}))
		return
	}
	if body.TaskID != "" {
		h.coord.Cancel(body.TaskID)
		sess.untrackQueued(body.TaskID)
	}
	sess.send(FrameAck, env.ID, nil)
}

type subscribeBody struct {
	Topic string `json:"topic"`
}

func (h *Hub) handleSubscribe(sess *Session, env Envelope, subscribe bool) {
	var body subscribeBody
	if err := json.Unmarshal(env.Body, &body); err != nil {
		sess.send(FrameError, env.ID, mustJSON(map[string]string{"code": string(core.KindUnknownFrame)}))
		return
	}
	if subscribe {
		sess.subscribe(body.Topic)
	} else {
		sess.unsubscribe(body.Topic)
	}
	sess.send(FrameAck, env.ID, nil)
}

type activateAgentBody struct {
	AgentID string `json:"agent_id"`
}

func (h *Hub) handleActivateAgent(sess *Session, env Envelope) {
	var body activateAgentBody
	if err := json.Unmarshal(env.Body, &body); err != nil {
		sess.send(FrameError, env.ID, mustJSON(map[string]string{"code": string(core.KindUnknownFrame)}))
		return
	}
	if !h.pool.Exists(body.AgentID) {
		sess.send(FrameError, env.ID, mustJSON(map[string]string{"code": string(core.KindNoAgent)}))
		return
	}
	sess.activateAgent(body.AgentID)
	sess.send(FrameAgentActivated, env.ID, mustJSON(map[string]string{"agent_id": body.AgentID}))
}

// closeSession implements spec §4.4's close semantics: cancel every QUEUED
// task bound to the session, leave RUNNING tasks alone, drop the session.
func (h *Hub) closeSession(sess *Session, reason string) {
	h.mu.Lock()
	_, ok := h.sessions[sess.ID]
	delete(h.sessions, sess.ID)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.q.CancelForSession(sess.ID)
	for _, id := range sess.queuedTaskIDs() {
		h.q.Cancel(id)
	}
	sess.close()
	h.m.SetOpenSessions(h.openCount())
	core.Logger().Debug().Str("session_id", sess.ID).Str("reason", reason).Msg("hub: session closed")
}

func mustJSON(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

func itoa64(n int64) string {
	return strconv.FormatInt(n, 10)
}
