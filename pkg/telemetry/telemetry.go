// Package telemetry is the best-effort analytics side channel for ripple.
// Connection lifecycle events are fanned out to subscribers; a slow or
// absent subscriber never affects connection behavior.
package telemetry

import (
	"sync"
	"time"
)

// EventType identifies the kind of telemetry event.
type EventType string

const (
	EventConnectionEstablished    EventType = "connection.established"
	EventConnectionFallback       EventType = "connection.fallback"
	EventConnectionClosed         EventType = "connection.closed"
	EventConnectionReconnecting   EventType = "connection.reconnecting"
	EventConnectionRetryExhausted EventType = "connection.retry_exhausted"
	EventHeartbeatTimeout         EventType = "connection.heartbeat_timeout"
	EventListenerPanic            EventType = "listener.panic"
	EventRelayClientJoined        EventType = "relay.client_joined"
	EventRelayClientLeft          EventType = "relay.client_left"
	EventRelayEventPublished      EventType = "relay.event_published"
	EventRelayEventDropped        EventType = "relay.event_dropped"
)

// Event describes connection telemetry that observers can consume.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"sessionId,omitempty"`
	Transport string         `json:"transport,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Hub fan-outs telemetry events to any number of subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	closed      bool
}

// NewHub constructs a telemetry hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan Event]struct{})}
}

// Publish notifies all subscribers of an event. Non-blocking; drops if a
// subscriber's buffer is full. Safe to call on a nil hub.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			// Drop if subscriber can't keep up; prevents blocking the transport.
		}
	}
}

// Subscribe returns a channel that will receive future events and a cleanup func.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		empty := make(chan Event)
		close(empty)
		return empty, func() {}
	}
	ch := make(chan Event, 64)
	h.subscribers[ch] = struct{}{}
	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Close unsubscribes all listeners and prevents future publications.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, ch)
	}
}
