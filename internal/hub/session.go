package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// pongWait/pingPeriod set the websocket keep-alive cadence.
const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Session is one open Session Hub connection (spec §4.4 "Connection
// lifecycle"). It owns exactly one websocket connection, one outbound
// mailbox, and the session-scoped bookkeeping the Hub needs at close time.
type Session struct {
	ID        string
	Principal string

	conn *websocket.Conn
	mb   *mailbox

	mu            sync.Mutex
	subscriptions map[string]struct{}
	activeAgents  map[string]struct{}
	queuedTasks   map[string]struct{} // task ids submitted on this session and not cancelled by it; some may since have been dispatched

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(id, principal string, conn *websocket.Conn) *Session {
	return &Session{
		ID:            id,
		Principal:     principal,
		conn:          conn,
		mb:            newMailbox(),
		subscriptions: make(map[string]struct{}),
		activeAgents:  make(map[string]struct{}),
		queuedTasks:   make(map[string]struct{}),
		done:          make(chan struct{}),
	}
}

// subscribed reports whether the session currently subscribes to topic, or
// true for every topic when no subscriptions have been made (default: all
// outbound events are delivered until the client narrows with subscribe).
func (s *Session) subscribed(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subscriptions) == 0 {
		return true
	}
	_, ok := s.subscriptions[topic]
	return ok
}

func (s *Session) subscribe(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[topic] = struct{}{}
}

func (s *Session) unsubscribe(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, topic)
}

func (s *Session) activateAgent(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeAgents[agentID] = struct{}{}
}

func (s *Session) trackQueued(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queuedTasks[taskID] = struct{}{}
}

func (s *Session) untrackQueued(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queuedTasks, taskID)
}

func (s *Session) queuedTaskIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.queuedTasks))
	for id := range s.queuedTasks {
		ids = append(ids, id)
	}
	return ids
}

// writePump flushes the outbound mailbox to the websocket connection in
// order (spec §4.4: "deliver outbound frames in order") and drives the
// ping/keepalive ticker.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.conn.Close()

	for {
		select {
		case <-s.done:
			return
		case <-s.mb.wait():
			for _, item := range s.mb.drain() {
				if err := s.conn.WriteMessage(websocket.TextMessage, item.data); err != nil {
					return
				}
			}
		case <-ticker.C:
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// send queues an outbound envelope, applying back-pressure per spec §4.4.
// A SLOW_CONSUMER close is reported back to the caller (the Hub), which is
// responsible for tearing the session down.
func (s *Session) send(kind string, id string, body []byte) pushResult {
	data, err := encode(Envelope{V: ProtocolVersion, Type: kind, ID: id, TS: time.Now().UnixMilli(), Body: body})
	if err != nil {
		return pushed
	}
	return s.mb.push(kind, data)
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}
