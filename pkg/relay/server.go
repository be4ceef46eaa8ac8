package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/ripple/pkg/bus"
	"github.com/odvcencio/ripple/pkg/config"
	"github.com/odvcencio/ripple/pkg/errors"
	"github.com/odvcencio/ripple/pkg/logging"
	"github.com/odvcencio/ripple/pkg/realtime"
	"github.com/odvcencio/ripple/pkg/telemetry"
)

const publishBodyLimit = 1 << 20 // 1 MiB

// Server is the ripple relay. Events arrive over the message bus or the
// publish endpoint and are fanned out to every connected client.
type Server struct {
	cfg       config.RelayConfig
	log       *logging.Logger
	hub       *Hub
	bus       bus.MessageBus
	auth      *TokenManager
	limiter   *connLimiter
	telemetry *telemetry.Hub

	sub     bus.Subscription
	httpSrv *http.Server
}

// NewServer wires a relay over the given bus. Auth is enabled when
// cfg.Secret is set; hub may be nil.
func NewServer(cfg config.RelayConfig, b bus.MessageBus, log *logging.Logger, hub *telemetry.Hub) *Server {
	if log == nil {
		log = logging.Discard()
	}
	s := &Server{
		cfg:       cfg,
		log:       log,
		hub:       NewHub(cfg.ClientQueueSize),
		bus:       b,
		limiter:   newConnLimiter(cfg.MaxConnections),
		telemetry: hub,
	}
	if cfg.Secret != "" {
		s.auth = NewTokenManager(cfg.Secret)
	}
	s.hub.onDrop = func(c *client) {
		metricEventsDropped.Inc()
		s.log.Warn("dropping slow client",
			"transport", c.transport,
			"session_id", c.sessionID,
		)
		s.telemetry.Publish(telemetry.Event{
			Type:      telemetry.EventRelayEventDropped,
			SessionID: c.sessionID,
			Transport: c.transport,
		})
	}
	return s
}

// TokenManager returns the server's token manager, or nil when auth is
// disabled. Used by the CLI to mint tokens.
func (s *Server) TokenManager() *TokenManager {
	return s.auth
}

// Handler builds the HTTP routes.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Get("/healthz", s.handleHealthz)
	router.Get("/metrics", promhttp.Handler().ServeHTTP)
	router.Get("/ws", s.handleWebSocket)
	router.Get("/events", s.handleSSE)
	router.Post("/publish", s.handlePublish)
	return router
}

// Start runs the relay until ctx is cancelled: bus bridge, heartbeat
// loop, then the HTTP listener.
func (s *Server) Start(ctx context.Context) error {
	if err := s.startBridge(ctx); err != nil {
		return err
	}

	s.httpSrv = &http.Server{
		Addr:              s.cfg.Bind,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()

	s.log.Info("relay listening",
		"bind", s.cfg.Bind,
		"auth", s.auth != nil,
	)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, errors.ErrCodeInternal, "relay listener")
	}
	return nil
}

// startBridge subscribes the hub to the bus subject namespace and starts
// the heartbeat loop.
func (s *Server) startBridge(ctx context.Context) error {
	sub, err := s.bus.Subscribe(ctx, s.cfg.SubjectPrefix+".>", func(msg *bus.Message) {
		var evt realtime.Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			s.log.Warn("dropping malformed bus event",
				"subject", msg.Subject,
				"error", err.Error(),
			)
			return
		}
		s.hub.Broadcast(evt)
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeBusSubscribe, "subscribe relay bridge").
			WithContext("subject", s.cfg.SubjectPrefix+".>")
	}
	s.sub = sub

	if s.cfg.HeartbeatInterval > 0 {
		go s.heartbeatLoop(ctx)
	}
	return nil
}

// heartbeatLoop pushes heartbeat events to every client so receive-only
// transports have a liveness signal.
func (s *Server) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.hub.Broadcast(realtime.Event{
				ID:        ulid.Make().String(),
				Type:      realtime.EventHeartbeat,
				Timestamp: now,
			})
		}
	}
}

// publishEvent normalizes an event and hands it to the bus; the bridge
// subscription fan-outs it back to connected clients.
func (s *Server) publishEvent(ctx context.Context, evt realtime.Event, source string) (realtime.Event, error) {
	if evt.Type == "" || evt.Type == realtime.Wildcard {
		return evt, errors.New(errors.ErrCodeInvalidInput, "event type is required")
	}
	if evt.ID == "" {
		evt.ID = ulid.Make().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return evt, errors.Wrap(err, errors.ErrCodeInvalidInput, "encode event")
	}

	subject := s.cfg.SubjectPrefix + "." + string(evt.Type)
	if err := s.bus.Publish(ctx, subject, data); err != nil {
		return evt, errors.Wrap(err, errors.ErrCodeBusPublish, "publish event").
			WithContext("subject", subject)
	}

	metricEventsPublished.WithLabelValues(source).Inc()
	s.telemetry.Publish(telemetry.Event{
		Type:      telemetry.EventRelayEventPublished,
		SessionID: evt.SessionID,
		Data:      map[string]any{"event_type": string(evt.Type), "source": source},
	})
	return evt, nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if s.auth != nil {
		if _, err := s.auth.authorize(r); err != nil {
			metricAuthFailures.Inc()
			respondError(w, http.StatusUnauthorized, err)
			return
		}
	}

	var evt realtime.Event
	body := http.MaxBytesReader(w, r.Body, publishBodyLimit)
	if err := json.NewDecoder(body).Decode(&evt); err != nil {
		respondError(w, http.StatusBadRequest, errors.Wrap(err, errors.ErrCodeInvalidInput, "decode event"))
		return
	}

	evt, err := s.publishEvent(r.Context(), evt, "http")
	if err != nil {
		status := http.StatusInternalServerError
		if errors.IsCode(err, errors.ErrCodeInvalidInput) {
			status = http.StatusBadRequest
		}
		respondError(w, status, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": evt.ID})
}

// Close releases the bus subscription.
func (s *Server) Close() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
}

func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	enc := json.NewEncoder(w)
	_ = enc.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	response := struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
		Code   string `json:"code,omitempty"`
	}{
		Error:  err.Error(),
		Status: status,
		Code:   string(errors.GetCode(err)),
	}
	_ = json.NewEncoder(w).Encode(response)
}
