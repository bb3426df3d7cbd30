package hub

import "sync"

// mailboxCapacity is the per-session outbound mailbox size (spec §4.4:
// "Each session has an outbound mailbox of capacity 256").
const mailboxCapacity = 256

type outboundItem struct {
	kind string
	data []byte
}

// mailbox is a bounded, ordered outbound queue implementing spec §4.4's
// back-pressure algorithm. It is not a plain buffered channel because the
// eviction order depends on the *kind* of the frames already queued, not
// just arrival order.
type mailbox struct {
	mu     sync.Mutex
	items  []outboundItem
	notify chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

// pushResult reports what happened when pushing kind/data onto the mailbox.
type pushResult int

const (
	pushed pushResult = iota
	pushedAfterEviction
	pushClosedSlowConsumer
)

// push applies spec §4.4's back-pressure order: (1) drop the oldest
// participant_progress frame, (2) drop the oldest heartbeat frame, (3)
// close the session with SLOW_CONSUMER. Terminal frames are always queued;
// the caller never calls push for one expecting a drop.
func (m *mailbox) push(kind string, data []byte) pushResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.items) < mailboxCapacity {
		m.items = append(m.items, outboundItem{kind, data})
		m.signal()
		return pushed
	}

	if m.evictOldest(FrameParticipantProgress) {
		m.items = append(m.items, outboundItem{kind, data})
		m.signal()
		return pushedAfterEviction
	}
	if m.evictOldest(FrameHeartbeat) {
		m.items = append(m.items, outboundItem{kind, data})
		m.signal()
		return pushedAfterEviction
	}

	if isTerminal(kind) {
		// Never drop a terminal frame outright: force it in even over
		// capacity rather than silently losing a *_completed/_failed/error.
		m.items = append(m.items, outboundItem{kind, data})
		m.signal()
		return pushedAfterEviction
	}

	m.closed = true
	return pushClosedSlowConsumer
}

func (m *mailbox) evictOldest(kind string) bool {
	for i, it := range m.items {
		if it.kind == kind {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return true
		}
	}
	return false
}

func (m *mailbox) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// drain removes and returns every currently queued item, for the writer
// pump to flush in order.
func (m *mailbox) drain() []outboundItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return nil
	}
	out := m.items
	m.items = nil
	return out
}

func (m *mailbox) wait() <-chan struct{} { return m.notify }
