package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/ripple/pkg/errors"
	"github.com/odvcencio/ripple/pkg/telemetry"
)

// sseFrame writes one event frame to an event-stream response.
func sseFrame(t *testing.T, w http.ResponseWriter, evt Event) {
	t.Helper()
	payload, err := json.Marshal(evt)
	require.NoError(t, err)
	fmt.Fprintf(w, "data: %s\n\n", payload)
	w.(http.Flusher).Flush()
}

func newSSETestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_SSEConnectAndReceive(t *testing.T) {
	sent := make(chan struct{})
	srv := newSSETestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.NotEmpty(t, r.URL.Query().Get("sessionId"))

		// Keep-alive comment, then a real event.
		fmt.Fprint(w, ": ping\n\n")
		w.(http.Flusher).Flush()
		sseFrame(t, w, Event{ID: "evt-1", Type: EventFlagUpdate, Data: []byte(`{"flag": "dark-mode", "enabled": true}`)})
		close(sent)
		<-r.Context().Done()
	})

	client, err := New(Options{BaseURL: srv.URL, Transport: TransportSSE})
	require.NoError(t, err)

	received := make(chan Event, 1)
	client.On(EventFlagUpdate, func(evt Event) { received <- evt })

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	assert.Equal(t, TransportSSE, client.Transport())
	assert.False(t, client.CanSend())

	<-sent
	select {
	case evt := <-received:
		flag, err := evt.FlagUpdate()
		require.NoError(t, err)
		assert.Equal(t, "dark-mode", flag.Flag)
		assert.True(t, flag.Enabled)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for sse event")
	}
}

func TestClient_SSESendUnsupported(t *testing.T) {
	srv := newSSETestServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	client, err := New(Options{BaseURL: srv.URL, Transport: TransportSSE})
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	err = client.Send(context.Background(), "anything")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSendUnsupported))
}

func TestClient_SSEAuthHeaders(t *testing.T) {
	gotAuth := make(chan string, 1)
	srv := newSSETestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		<-r.Context().Done()
	})

	client, err := New(Options{
		BaseURL:       srv.URL,
		Transport:     TransportSSE,
		TokenProvider: BearerToken("sse-token"),
	})
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	select {
	case auth := <-gotAuth:
		assert.Equal(t, "Bearer sse-token", auth)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for request")
	}
}

func TestClient_SSERejectsWrongContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	client, err := New(Options{BaseURL: srv.URL, Transport: TransportSSE})
	require.NoError(t, err)

	err = client.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConnectFailed))
	assert.Equal(t, StateDisconnected, client.State())
}

func TestClient_FallsBackToSSE(t *testing.T) {
	hub := telemetry.NewHub()
	defer hub.Close()
	events, unsub := hub.Subscribe()
	defer unsub()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "websocket disabled", http.StatusNotFound)
	})
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := New(Options{
		BaseURL:           srv.URL,
		FallbackTransport: true,
		Telemetry:         hub,
	})
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	assert.Equal(t, TransportSSE, client.Transport())
	assert.Equal(t, StateConnected, client.State())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-events:
			if evt.Type == telemetry.EventConnectionFallback {
				return
			}
		case <-deadline:
			t.Fatal("no fallback telemetry event")
		}
	}
}

func TestClient_NoFallbackWhenDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	client, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	err = client.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConnectFailed))
}

func TestClient_ConnectFailsWhenBothTransportsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	client, err := New(Options{BaseURL: srv.URL, FallbackTransport: true})
	require.NoError(t, err)

	err = client.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConnectFailed))
	assert.Equal(t, StateDisconnected, client.State())
}

func TestClient_SSEConnectHonorsContextDeadline(t *testing.T) {
	// A server that accepts the connection but never sends response
	// headers must not pin Connect past the caller's deadline.
	released := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		close(released)
	}))
	t.Cleanup(srv.Close)

	client, err := New(Options{BaseURL: srv.URL, Transport: TransportSSE})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = client.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConnectFailed))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StateDisconnected, client.State())

	// The aborted request must release the server-side handler too,
	// otherwise the socket leaks.
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("handler still pinned after the connect deadline expired")
	}
}

func TestSSETransport_DisconnectAbortsPendingConnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	opts := Options{BaseURL: srv.URL, Transport: TransportSSE}
	require.NoError(t, opts.validate())
	opts.applyDefaults()

	core := newTransportCore(&opts, newDispatcher(nil), newEventQueue(8), "s1", nil, opts.Logger, nil)
	tr, err := newSSETransport(core)
	require.NoError(t, err)

	connectErr := make(chan error, 1)
	go func() {
		connectErr <- tr.Connect(context.Background())
	}()

	time.Sleep(100 * time.Millisecond)
	tr.Disconnect()

	select {
	case err := <-connectErr:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("connect still pending after disconnect")
	}
	assert.Equal(t, StateDisconnected, tr.State())
}

func TestClient_SSEDisconnectAfterStreamLossKeepsGaugeBalanced(t *testing.T) {
	gauge := activeConnections.WithLabelValues(string(TransportSSE))
	before := testutil.ToFloat64(gauge)

	closeStream := make(chan struct{})
	srv := newSSETestServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-closeStream
	})

	client, err := New(Options{BaseURL: srv.URL, Transport: TransportSSE})
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))
	assert.Equal(t, before+1, testutil.ToFloat64(gauge))

	// Server drops the stream; with reconnection disabled the transport
	// settles in disconnected and releases the gauge once.
	close(closeStream)
	require.Eventually(t, func() bool {
		return client.State() == StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)

	client.Disconnect()
	assert.Equal(t, before, testutil.ToFloat64(gauge))
}

func TestClient_SSEMultiLineData(t *testing.T) {
	srv := newSSETestServer(t, func(w http.ResponseWriter, r *http.Request) {
		// A frame split across two data lines is joined with a newline,
		// which is still valid JSON.
		fmt.Fprint(w, "data: {\"type\": \"notification\",\ndata: \"data\": {\"title\": \"split\"}}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	client, err := New(Options{BaseURL: srv.URL, Transport: TransportSSE})
	require.NoError(t, err)

	received := make(chan Event, 1)
	client.On(EventNotification, func(evt Event) { received <- evt })

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	select {
	case evt := <-received:
		note, err := evt.Notification()
		require.NoError(t, err)
		assert.Equal(t, "split", note.Title)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for multi-line event")
	}
}
