package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/odvcencio/ripple/pkg/errors"
	"github.com/odvcencio/ripple/pkg/logging"
	"github.com/odvcencio/ripple/pkg/telemetry"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsDialTimeout  = 10 * time.Second
)

// authFrame is sent immediately after the socket opens; headers cannot be
// set on the WebSocket handshake in a browser context, so the backend
// accepts them in-band.
type authFrame struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

// wsTransport is the bidirectional WebSocket transport.
type wsTransport struct {
	*transportCore

	url string
	log *logging.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newWSTransport(core *transportCore) (*wsTransport, error) {
	u, err := websocketURL(core.opts.BaseURL, core.sessionID)
	if err != nil {
		return nil, err
	}
	return &wsTransport{
		transportCore: core,
		url:           u,
		log:           core.log.WithTransport(string(TransportWebSocket)),
	}, nil
}

func (t *wsTransport) Kind() TransportKind { return TransportWebSocket }

func (t *wsTransport) State() ConnectionState { return t.currentState() }

// Connect opens the socket. Construction and handshake errors reject the
// call; failures after a successful open flow through the reconnection
// state machine instead.
func (t *wsTransport) Connect(ctx context.Context) error {
	t.setState(StateConnecting)
	if err := t.dial(ctx); err != nil {
		t.setState(StateDisconnected)
		return err
	}
	return nil
}

// dial performs one connection attempt and, on success, installs the
// connection and starts the read and heartbeat loops.
func (t *wsTransport) dial(ctx context.Context) error {
	conn, resp, err := t.opts.Dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return errors.Wrap(err, errors.ErrCodeHandshakeFailed, "websocket dial").
			WithContext("status", status).
			WithRetryable(true)
	}

	if t.opts.TokenProvider != nil {
		headers, err := t.opts.TokenProvider(ctx)
		if err != nil {
			_ = conn.Close()
			return errors.Wrap(err, errors.ErrCodeAuthFailed, "resolve auth token")
		}
		if err := t.writeJSON(conn, authFrame{Type: "auth", Data: headers}); err != nil {
			_ = conn.Close()
			return errors.Wrap(err, errors.ErrCodeAuthFailed, "send auth frame")
		}
	}

	conn.SetPongHandler(func(string) error {
		t.markLive()
		return nil
	})

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	t.markLive()
	t.recon.reset()
	t.setState(StateConnected)
	activeConnections.WithLabelValues(string(TransportWebSocket)).Inc()
	connectsTotal.WithLabelValues(string(TransportWebSocket)).Inc()
	t.hub.Publish(telemetry.Event{
		Type:      telemetry.EventConnectionEstablished,
		SessionID: t.sessionID,
		Transport: string(TransportWebSocket),
	})

	connDone := make(chan struct{})
	go t.readLoop(conn, connDone)
	if t.opts.HeartbeatInterval > 0 {
		go t.heartbeatLoop(conn, connDone)
	}
	return nil
}

// redial is the reconnect path: same as dial but against a fresh timeout
// context, with state managed by the caller.
func (t *wsTransport) redial() error {
	t.setState(StateConnecting)
	ctx, cancel := context.WithTimeout(context.Background(), wsDialTimeout)
	defer cancel()
	return t.dial(ctx)
}

func (t *wsTransport) readLoop(conn *websocket.Conn, connDone chan struct{}) {
	defer close(connDone)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()
			t.handleUnexpectedClose(TransportWebSocket, err, t.redial)
			return
		}
		t.receive(raw)
	}
}

// heartbeatLoop sends protocol pings and watches for staleness. A missing
// pong for more than twice the interval force-closes the connection,
// which funnels into the normal error path via the read loop.
func (t *wsTransport) heartbeatLoop(conn *websocket.Conn, connDone chan struct{}) {
	ticker := time.NewTicker(t.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-connDone:
			return
		case <-ticker.C:
			if t.stale(t.opts.HeartbeatInterval) {
				err := t.reportStale(TransportWebSocket)
				t.log.Warn("closing stale connection", "error", err.Error())
				_ = conn.Close()
				return
			}
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				t.log.Debug("ping write failed", "error", err.Error())
				return
			}
		}
	}
}

// Send marshals payload as a JSON text frame.
func (t *wsTransport) Send(ctx context.Context, payload any) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil || t.currentState() != StateConnected {
		return errors.New(errors.ErrCodeNotConnected, "websocket not connected")
	}
	return t.writeJSON(conn, payload)
}

func (t *wsTransport) writeJSON(conn *websocket.Conn, payload any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(payload)
}

// Disconnect closes the socket gracefully and cancels all timers. It
// never triggers reconnection. Listeners and the queue are untouched.
func (t *wsTransport) Disconnect() {
	if !t.shutdown() {
		return
	}

	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(wsWriteTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
			deadline)
		_ = conn.Close()
		activeConnections.WithLabelValues(string(TransportWebSocket)).Dec()
	}

	t.setState(StateDisconnected)
	t.hub.Publish(telemetry.Event{
		Type:      telemetry.EventConnectionClosed,
		SessionID: t.sessionID,
		Transport: string(TransportWebSocket),
	})
}
