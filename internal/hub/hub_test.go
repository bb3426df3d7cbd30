package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcoredev/runtime/core"
	"github.com/agentcoredev/runtime/internal/agentpool"
	"github.com/agentcoredev/runtime/internal/collab"
	"github.com/agentcoredev/runtime/internal/coordinator"
	"github.com/agentcoredev/runtime/internal/metrics"
	"github.com/agentcoredev/runtime/internal/queue"
	"github.com/agentcoredev/runtime/internal/store"
)

type echoAgent struct{ id string }

func (a *echoAgent) ID() string              { return a.id }
func (a *echoAgent) Capabilities() []string  { return []string{"chat"} }
func (a *echoAgent) MaxConcurrentTasks() int { return 2 }
func (a *echoAgent) Handle(ctx context.Context, task *core.Task) (*core.TaskResult, error) {
	return &core.TaskResult{Status: core.TaskCompleted, Content: task.Payload}, nil
}

func newTestHub(t *testing.T) (*Hub, func()) {
	t.Helper()
	q := queue.New(64)
	pool := agentpool.New()
	pool.Register(core.AgentConfig{ID: "A1", Capabilities: []string{"chat"}, MaxConcurrentTasks: 2}, &echoAgent{id: "A1"})
	results := store.New(store.NoopStorage{}, 64, time.Minute)
	m := metrics.New()
	coord := coordinator.New(q, pool, results, m)
	col := collab.New(pool, results, m)

	ctx, cancel := context.WithCancel(context.Background())
	coord.Start(ctx)

	h := New(q, coord, col, pool, nil, nil, m)
	return h, cancel
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestSubmitTaskAcksThenCompletes(t *testing.T) {
	h, cancel := newTestHub(t)
	defer cancel()
	server := httptest.NewServer(http.HandlerFunc(h.ServeHTTP))
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	env := Envelope{V: 1, Type: FrameSubmitTask, ID: "req-1", Body: mustJSON(map[string]any{"kind": "chat", "payload": []byte("hi")})}
	data, _ := json.Marshal(env)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	_, ackData, err := conn.ReadMessage()
	require.NoError(t, err)
	ack, err := decode(ackData)
	require.NoError(t, err)
	assert.Equal(t, FrameAck, ack.Type)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, doneData, err := conn.ReadMessage()
	require.NoError(t, err)
	done, err := decode(doneData)
	require.NoError(t, err)
	assert.Equal(t, FrameTaskCompleted, done.Type)
}

func TestUnsupportedProtocolClosesConnection(t *testing.T) {
	h, cancel := newTestHub(t)
	defer cancel()
	server := httptest.NewServer(http.HandlerFunc(h.ServeHTTP))
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	env := Envelope{V: 2, Type: FrameHeartbeat, ID: "req-1"}
	data, _ := json.Marshal(env)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	_, errData, err := conn.ReadMessage()
	require.NoError(t, err)
	got, err := decode(errData)
	require.NoError(t, err)
	assert.Equal(t, FrameError, got.Type)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseAbnormalClosure), "server should drop the connection, got %v", err)
}

func TestForbiddenFrameDoesNotReachQueue(t *testing.T) {
	h, cancel := newTestHub(t)
	defer cancel()
	h.auth = denyAll{}
	server := httptest.NewServer(http.HandlerFunc(h.ServeHTTP))
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	env := Envelope{V: 1, Type: FrameSubmitTask, ID: "req-1", Body: mustJSON(map[string]any{"kind": "chat"})}
	data, _ := json.Marshal(env)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	_, respData, err := conn.ReadMessage()
	require.NoError(t, err)
	got, err := decode(respData)
	require.NoError(t, err)
	assert.Equal(t, FrameError, got.Type)
	assert.Equal(t, 0, h.q.Depth(0))
}

type denyAll struct{}

func (denyAll) Authorize(ctx context.Context, principal, action, resource string) bool { return false }

func TestMailboxDropsOldestProgressUnderPressure(t *testing.T) {
	mb := newMailbox()
	for i := 0; i < mailboxCapacity; i++ {
		mb.push(FrameParticipantProgress, []byte("p"))
	}
	res := mb.push(FrameParticipantProgress, []byte("new"))
	assert.Equal(t, pushedAfterEviction, res)
	assert.Len(t, mb.drain(), mailboxCapacity)
}

func TestMailboxNeverDropsTerminal(t *testing.T) {
	mb := newMailbox()
	for i := 0; i < mailboxCapacity; i++ {
		mb.push(FrameHeartbeat, []byte("h"))
	}
	res := mb.push(FrameTaskCompleted, []byte("done"))
	assert.Equal(t, pushedAfterEviction, res)
	items := mb.drain()
	found := false
	for _, it := range items {
		if it.kind == FrameTaskCompleted {
			found = true
		}
	}
	assert.True(t, found)
}
