package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/ripple/pkg/errors"
	"github.com/odvcencio/ripple/pkg/telemetry"
)

// wsTestServer accepts websocket upgrades on /ws and hands each
// connection to the test through a channel. Connections stay open until
// the server shuts down.
type wsTestServer struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	upgrades atomic.Int32
	refuse   atomic.Bool
	quit     chan struct{}
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()
	ts := &wsTestServer{
		conns: make(chan *websocket.Conn, 8),
		quit:  make(chan struct{}),
	}
	upgrader := websocket.Upgrader{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ts.refuse.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.upgrades.Add(1)
		ts.conns <- conn
		<-ts.quit
	}))
	t.Cleanup(func() {
		close(ts.quit)
		for {
			select {
			case conn := <-ts.conns:
				conn.Close()
			default:
				ts.srv.Close()
				return
			}
		}
	})
	return ts
}

// accept returns the next server-side connection.
func (ts *wsTestServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ts.conns:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for websocket upgrade")
		return nil
	}
}

// stateRecorder collects connection-state transitions.
type stateRecorder struct {
	mu     sync.Mutex
	states []ConnectionState
}

func (r *stateRecorder) record(s ConnectionState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) snapshot() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnectionState, len(r.states))
	copy(out, r.states)
	return out
}

func TestClient_WebSocketConnectAndDispatch(t *testing.T) {
	ts := newWSTestServer(t)

	client, err := New(Options{BaseURL: ts.srv.URL})
	require.NoError(t, err)

	received := make(chan Event, 1)
	client.On(EventNotification, func(evt Event) { received <- evt })

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	assert.Equal(t, StateConnected, client.State())
	assert.Equal(t, TransportWebSocket, client.Transport())
	assert.True(t, client.CanSend())

	conn := ts.accept(t)
	require.NoError(t, conn.WriteJSON(Event{
		ID:   "evt-1",
		Type: EventNotification,
		Data: []byte(`{"title": "deploy finished"}`),
	}))

	select {
	case evt := <-received:
		assert.Equal(t, "evt-1", evt.ID)
		note, err := evt.Notification()
		require.NoError(t, err)
		assert.Equal(t, "deploy finished", note.Title)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dispatched event")
	}

	queued := client.QueuedEvents()
	require.Len(t, queued, 1)
	assert.Equal(t, "evt-1", queued[0].ID)
}

func TestClient_ConnectIsIdempotent(t *testing.T) {
	ts := newWSTestServer(t)

	client, err := New(Options{BaseURL: ts.srv.URL})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))
	defer client.Disconnect()

	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.Connect(ctx))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), ts.upgrades.Load(), "repeated Connect must not open extra connections")
}

func TestClient_ControlEventsSuppressed(t *testing.T) {
	ts := newWSTestServer(t)

	client, err := New(Options{BaseURL: ts.srv.URL})
	require.NoError(t, err)

	received := make(chan Event, 4)
	client.On(Wildcard, func(evt Event) { received <- evt })

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	conn := ts.accept(t)
	for _, typ := range []EventType{EventPong, EventHeartbeat, EventNotification} {
		require.NoError(t, conn.WriteJSON(Event{Type: typ, Data: []byte(`{}`)}))
	}

	select {
	case evt := <-received:
		assert.Equal(t, EventNotification, evt.Type, "control events must not reach listeners")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dispatched event")
	}

	queued := client.QueuedEvents()
	require.Len(t, queued, 1)
	assert.Equal(t, EventNotification, queued[0].Type)
}

func TestClient_SendsAuthFrameAfterOpen(t *testing.T) {
	ts := newWSTestServer(t)

	client, err := New(Options{
		BaseURL:       ts.srv.URL,
		TokenProvider: BearerToken("secret-token"),
	})
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	conn := ts.accept(t)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var frame authFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "auth", frame.Type)
	assert.Equal(t, "Bearer secret-token", frame.Data["Authorization"])
}

func TestClient_SendRoundTrip(t *testing.T) {
	ts := newWSTestServer(t)

	client, err := New(Options{BaseURL: ts.srv.URL})
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	conn := ts.accept(t)
	require.NoError(t, client.Send(context.Background(), map[string]string{"type": "chat.message", "content": "hi"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got map[string]string
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "hi", got["content"])
}

func TestClient_SendWithoutConnection(t *testing.T) {
	client, err := New(Options{BaseURL: "http://localhost:1"})
	require.NoError(t, err)

	err = client.Send(context.Background(), "payload")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotConnected))
}

func TestClient_CleanDisconnectNeverReconnects(t *testing.T) {
	ts := newWSTestServer(t)

	client, err := New(Options{
		BaseURL:          ts.srv.URL,
		ReconnectOnError: true,
		Retry:            RetryConfig{MaxAttempts: 5, BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, BackoffFactor: 2},
	})
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))
	ts.accept(t)

	client.Disconnect()
	assert.Equal(t, StateDisconnected, client.State())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), ts.upgrades.Load(), "explicit disconnect must not trigger reconnection")
}

func TestClient_ReconnectsAfterUnexpectedClose(t *testing.T) {
	ts := newWSTestServer(t)

	rec := &stateRecorder{}
	client, err := New(Options{
		BaseURL:          ts.srv.URL,
		ReconnectOnError: true,
		Retry:            RetryConfig{MaxAttempts: 5, BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, BackoffFactor: 2},
	})
	require.NoError(t, err)
	client.OnStateChange(rec.record)

	received := make(chan Event, 2)
	client.On(EventNotification, func(evt Event) { received <- evt })

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	conn1 := ts.accept(t)
	conn1.Close()

	conn2 := ts.accept(t)
	assert.Eventually(t, func() bool {
		return client.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	// Listener registrations survive the reconnect.
	require.NoError(t, conn2.WriteJSON(Event{Type: EventNotification, Data: []byte(`{"title": "back"}`)}))
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("listener not re-attached after reconnect")
	}

	states := rec.snapshot()
	assert.Equal(t, []ConnectionState{
		StateConnecting,
		StateConnected,
		StateReconnecting,
		StateConnecting,
		StateConnected,
	}, states[:5])
}

func TestClient_RetryExhaustionEntersErrorState(t *testing.T) {
	ts := newWSTestServer(t)

	hub := telemetry.NewHub()
	defer hub.Close()
	events, unsub := hub.Subscribe()
	defer unsub()

	client, err := New(Options{
		BaseURL:          ts.srv.URL,
		ReconnectOnError: true,
		Retry:            RetryConfig{MaxAttempts: 2, BaseDelay: 5 * time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2},
		Telemetry:        hub,
	})
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	conn := ts.accept(t)
	ts.refuse.Store(true)
	conn.Close()

	assert.Eventually(t, func() bool {
		return client.State() == StateError
	}, 2*time.Second, 5*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-events:
			if evt.Type == telemetry.EventConnectionRetryExhausted {
				return
			}
		case <-deadline:
			t.Fatal("no retry-exhausted telemetry event")
		}
	}
}

func TestClient_HeartbeatTimeoutClosesConnection(t *testing.T) {
	ts := newWSTestServer(t)

	hub := telemetry.NewHub()
	defer hub.Close()
	events, unsub := hub.Subscribe()
	defer unsub()

	client, err := New(Options{
		BaseURL:           ts.srv.URL,
		HeartbeatInterval: 20 * time.Millisecond,
		Telemetry:         hub,
	})
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	// The server never reads, so protocol pings go unanswered and the
	// connection goes stale.
	ts.accept(t)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt := <-events:
			if evt.Type == telemetry.EventHeartbeatTimeout {
				assert.Eventually(t, func() bool {
					return client.State() == StateDisconnected
				}, 2*time.Second, 5*time.Millisecond)
				return
			}
		case <-deadline:
			t.Fatal("no heartbeat-timeout telemetry event")
		}
	}
}

func TestClient_QueueBound(t *testing.T) {
	ts := newWSTestServer(t)

	client, err := New(Options{BaseURL: ts.srv.URL, MaxQueuedEvents: 3})
	require.NoError(t, err)

	var dispatched atomic.Int32
	client.On(Wildcard, func(Event) { dispatched.Add(1) })

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	conn := ts.accept(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, conn.WriteJSON(Event{Type: EventDataUpdate, Data: []byte(`{"entity": "doc", "action": "updated"}`)}))
	}

	assert.Eventually(t, func() bool {
		return dispatched.Load() == 5
	}, 2*time.Second, 5*time.Millisecond, "dispatch is unaffected by a full queue")

	assert.Len(t, client.QueuedEvents(), 3)

	client.ClearQueue()
	assert.Empty(t, client.QueuedEvents())
}

func TestNew_ValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfigInvalid))

	_, err = New(Options{BaseURL: "http://localhost", Transport: "carrier-pigeon"})
	require.Error(t, err)
}
