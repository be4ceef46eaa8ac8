package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/odvcencio/ripple/pkg/errors"
	"github.com/odvcencio/ripple/pkg/realtime"
	"github.com/odvcencio/ripple/pkg/telemetry"
)

// sseKeepAliveInterval paces comment lines between events so proxies keep
// the stream open even when the heartbeat interval is long.
const sseKeepAliveInterval = 15 * time.Second

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Acquire() {
		metricConnsRefused.Inc()
		respondError(w, http.StatusTooManyRequests, errors.New(errors.ErrCodeConnLimit, "too many connections"))
		return
	}
	defer s.limiter.Release()

	if s.auth != nil {
		if _, err := s.auth.authorize(r); err != nil {
			metricAuthFailures.Inc()
			respondError(w, http.StatusUnauthorized, err)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, errors.New(errors.ErrCodeInternal, "streaming unsupported"))
		return
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := s.hub.register(string(realtime.TransportSSE), sessionID, typeFilter(r))
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

	keepAlive := time.NewTicker(sseKeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-client.send:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
