package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/odvcencio/ripple/pkg/errors"
	"github.com/odvcencio/ripple/pkg/realtime"
	"github.com/odvcencio/ripple/pkg/telemetry"
)

const (
	maxWSReadBytes = 1 << 20 // 1 MiB
	wsAuthTimeout  = 10 * time.Second
	wsPingInterval = 20 * time.Second
	wsPingTimeout  = 5 * time.Second
)

// wsInboundFrame is a client-to-server message: either the post-open auth
// frame or an event to publish.
type wsInboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Acquire() {
		metricConnsRefused.Inc()
		respondError(w, http.StatusTooManyRequests, errors.New(errors.ErrCodeConnLimit, "too many connections"))
		return
	}
	defer s.limiter.Release()

	sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))

	accept := &websocket.AcceptOptions{}
	if len(s.cfg.AllowedOrigins) > 0 {
		accept.OriginPatterns = s.cfg.AllowedOrigins
	} else {
		accept.InsecureSkipVerify = true
	}

	conn, err := websocket.Accept(w, r, accept)
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err.Error())
		return
	}
	conn.SetReadLimit(maxWSReadBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Browser clients cannot set headers on the websocket handshake, so
	// credentials arrive in an auth frame right after the socket opens.
	// Header and query credentials are accepted too.
	userID := ""
	if s.auth != nil {
		claims, err := s.auth.authorize(r)
		if err != nil {
			claims, err = s.readAuthFrame(ctx, conn)
		}
		if err != nil {
			metricAuthFailures.Inc()
			_ = conn.Close(websocket.StatusPolicyViolation, "unauthorized")
			return
		}
		if claims != nil {
			userID = claims.UserID
		}
	}

	client := s.hub.register(string(realtime.TransportWebSocket), sessionID, typeFilter(r))
	metricClients.WithLabelValues(client.transport).Inc()
	s.telemetry.Publish(telemetry.Event{
		Type:      telemetry.EventRelayClientJoined,
		SessionID: sessionID,
		Transport: client.transport,
	})
	defer func() {
		s.hub.remove(client)
		metricClients.WithLabelValues(client.transport).Dec()
		s.telemetry.Publish(telemetry.Event{
			Type:      telemetry.EventRelayClientLeft,
			SessionID: sessionID,
			Transport: client.transport,
		})
	}()

	startPing(ctx, conn)

	go func() {
		defer cancel()
		s.readClient(ctx, conn, client, userID)
	}()

	if err := client.writeLoop(ctx, conn); err != nil && ctx.Err() == nil {
		s.log.Debug("websocket write error",
			"session_id", sessionID,
			"error", err.Error(),
		)
	}
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
}

// readAuthFrame waits for the first frame and validates it as an auth
// frame.
func (s *Server) readAuthFrame(ctx context.Context, conn *websocket.Conn) (*Claims, error) {
	readCtx, cancel := context.WithTimeout(ctx, wsAuthTimeout)
	defer cancel()

	_, data, err := conn.Read(readCtx)
	if err != nil {
		return nil, err
	}
	var frame struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "auth" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "expected auth frame")
	}
	return s.auth.authorizeHeaders(frame.Data)
}

// readClient consumes client frames for the life of the connection:
// pings are answered directly, events are published to the bus, anything
// else is dropped.
func (s *Server) readClient(ctx context.Context, conn *websocket.Conn, c *client, userID string) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var frame wsInboundFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type == "" {
			continue
		}

		switch frame.Type {
		case "auth":
			// Already handled (or auth is disabled); tolerated so clients
			// can always send it unconditionally.
		case string(realtime.EventPing):
			c.enqueue(realtime.Event{Type: realtime.EventPong, Timestamp: time.Now()})
		default:
			evt := realtime.Event{
				Type:      realtime.EventType(frame.Type),
				UserID:    userID,
				SessionID: c.sessionID,
				Data:      frame.Data,
			}
			if _, err := s.publishEvent(ctx, evt, "websocket"); err != nil {
				s.log.Warn("publish from websocket client failed",
					"session_id", c.sessionID,
					"event_type", frame.Type,
					"error", err.Error(),
				)
			}
		}
	}
}

// typeFilter builds a per-client event filter from the types query
// parameter, a comma-separated list of event types. Heartbeats always
// pass so liveness works on filtered streams.
func typeFilter(r *http.Request) func(realtime.Event) bool {
	raw := strings.TrimSpace(r.URL.Query().Get("types"))
	if raw == "" {
		return nil
	}
	allowed := make(map[realtime.EventType]struct{})
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			allowed[realtime.EventType(part)] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return nil
	}
	return func(evt realtime.Event) bool {
		if evt.IsControl() {
			return true
		}
		_, ok := allowed[evt.Type]
		return ok
	}
}

func startPing(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, wsPingTimeout)
				_ = conn.Ping(pingCtx)
				cancel()
			}
		}
	}()
}
