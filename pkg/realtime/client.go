// Package realtime is a client for the ripple realtime event service. It
// manages a single logical connection over one of two physical transports
// (WebSocket or Server-Sent Events) with automatic failover, reconnection
// with exponential backoff, heartbeat liveness detection, and event
// dispatch to subscriber callbacks.
package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/odvcencio/ripple/pkg/errors"
	"github.com/odvcencio/ripple/pkg/logging"
	"github.com/odvcencio/ripple/pkg/telemetry"
	"github.com/odvcencio/ripple/pkg/tracing"
)

// StateListener observes connection-state transitions, independent of
// event-type listeners.
type StateListener func(ConnectionState)

// Client is the transport-agnostic facade. It owns at most one live
// transport at a time; the listener registry and bounded queue are owned
// here and shared by reference with whichever transport is active, so
// registrations survive reconnects and fallback.
type Client struct {
	opts Options
	log  *logging.Logger
	hub  *telemetry.Hub

	dispatcher *dispatcher
	queue      *eventQueue

	mu         sync.Mutex
	active     transport
	connecting bool

	stateMu        sync.RWMutex
	stateListeners map[int]StateListener
	nextStateID    int
}

// New validates opts and builds a Client. No connection is attempted.
func New(opts Options) (*Client, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts.applyDefaults()

	c := &Client{
		opts:           opts,
		log:            opts.Logger.WithTransport("facade"),
		hub:            opts.Telemetry,
		queue:          newEventQueue(opts.MaxQueuedEvents),
		stateListeners: make(map[int]StateListener),
	}
	c.dispatcher = newDispatcher(c.reportListenerPanic)
	return c, nil
}

// Connect establishes the connection. Idempotent: while an attempt is in
// flight or a transport is live, further calls return immediately without
// creating a second transport.
//
// Transport selection follows Options.Transport; TransportAuto prefers
// WebSocket. When the primary WebSocket attempt fails and
// FallbackTransport is set, the whole sequence is retried once over SSE.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connecting {
		c.mu.Unlock()
		return nil
	}
	if c.active != nil {
		switch c.active.State() {
		case StateConnected, StateConnecting, StateReconnecting:
			c.mu.Unlock()
			return nil
		}
		// A transport in disconnected/error is abandoned and replaced.
		c.active.Disconnect()
		c.active = nil
	}
	c.connecting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
	}()

	kind := c.opts.Transport
	if kind == TransportAuto {
		kind = TransportWebSocket
	}

	ctx, span := tracing.StartSpan(ctx, "realtime.connect")
	defer span.End()
	span.SetAttributes(tracing.AttrTransport.String(string(kind)))

	t, err := c.connectTransport(ctx, kind)
	if err != nil && c.opts.FallbackTransport && kind != TransportSSE {
		fallbacksTotal.Inc()
		c.log.Warn("primary transport failed, falling back to sse",
			"error", err.Error(),
		)
		c.hub.Publish(telemetry.Event{
			Type:      telemetry.EventConnectionFallback,
			Transport: string(TransportSSE),
			Data:      map[string]any{"from": string(kind)},
		})
		t, err = c.connectTransport(ctx, TransportSSE)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return errors.Wrap(err, errors.ErrCodeConnectFailed, "all transports failed")
	}

	c.mu.Lock()
	c.active = t
	c.mu.Unlock()
	return nil
}

// connectTransport builds and connects a single transport instance. The
// shared dispatcher and queue ride along, which re-attaches every
// registered listener to the new instance.
func (c *Client) connectTransport(ctx context.Context, kind TransportKind) (transport, error) {
	sessionID := uuid.NewString()
	core := newTransportCore(&c.opts, c.dispatcher, c.queue, sessionID, c.notifyState, c.opts.Logger, c.hub)

	var (
		t   transport
		err error
	)
	switch kind {
	case TransportWebSocket:
		t, err = newWSTransport(core)
	case TransportSSE:
		t, err = newSSETransport(core)
	default:
		return nil, errors.New(errors.ErrCodeConfigInvalid, "unknown transport").
			WithContext("transport", string(kind))
	}
	if err != nil {
		return nil, err
	}

	if err := t.Connect(ctx); err != nil {
		connectFailuresTotal.WithLabelValues(string(kind)).Inc()
		return nil, err
	}
	return t, nil
}

// Disconnect tears down the active transport gracefully and clears the
// internal reference. Idempotent. Listener registrations and queued
// events are preserved.
func (c *Client) Disconnect() {
	c.mu.Lock()
	t := c.active
	c.active = nil
	c.mu.Unlock()

	if t != nil {
		t.Disconnect()
	}
}

// Send forwards payload to the active transport. SSE is receive-only:
// sending over it returns an error with code SEND_UNSUPPORTED. Use
// CanSend to check the active capability first.
func (c *Client) Send(ctx context.Context, payload any) error {
	c.mu.Lock()
	t := c.active
	c.mu.Unlock()

	if t == nil {
		return errors.New(errors.ErrCodeNotConnected, "no active transport")
	}
	return t.Send(ctx, payload)
}

// CanSend reports whether the active transport supports client-to-server
// messages.
func (c *Client) CanSend() bool {
	c.mu.Lock()
	t := c.active
	c.mu.Unlock()
	return t != nil && t.Kind() == TransportWebSocket
}

// On registers a listener for the given event type, or for every event
// when eventType is Wildcard. Returns a cancel func that unregisters it.
// Registrations persist across reconnects and transport fallback.
func (c *Client) On(eventType EventType, fn Listener) (cancel func()) {
	return c.dispatcher.add(eventType, fn)
}

// OnStateChange subscribes to connection-state transitions. Returns a
// cancel func.
func (c *Client) OnStateChange(fn StateListener) (cancel func()) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	id := c.nextStateID
	c.nextStateID++
	c.stateListeners[id] = fn
	return func() {
		c.stateMu.Lock()
		delete(c.stateListeners, id)
		c.stateMu.Unlock()
	}
}

// State returns the current connection state, or StateDisconnected when
// no transport is active.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	t := c.active
	c.mu.Unlock()
	if t == nil {
		return StateDisconnected
	}
	return t.State()
}

// Transport returns the kind of the active transport, or empty when
// disconnected.
func (c *Client) Transport() TransportKind {
	c.mu.Lock()
	t := c.active
	c.mu.Unlock()
	if t == nil {
		return ""
	}
	return t.Kind()
}

// QueuedEvents returns a snapshot of the bounded in-memory queue in
// receipt order.
func (c *Client) QueuedEvents() []Event {
	return c.queue.snapshot()
}

// ClearQueue drops all queued events.
func (c *Client) ClearQueue() {
	c.queue.clear()
}

func (c *Client) notifyState(s ConnectionState) {
	c.stateMu.RLock()
	listeners := make([]StateListener, 0, len(c.stateListeners))
	for id := 0; id < c.nextStateID; id++ {
		if fn, ok := c.stateListeners[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	c.stateMu.RUnlock()

	for _, fn := range listeners {
		fn(s)
	}
}

// reportListenerPanic is the error side channel for listener exceptions:
// logged and counted, never interrupting dispatch or transport state.
func (c *Client) reportListenerPanic(evt Event, recovered any) {
	listenerPanicsTotal.Inc()
	c.log.Error("listener panicked during dispatch",
		"event_type", string(evt.Type),
		"event_id", evt.ID,
		"panic", recovered,
	)
	c.hub.Publish(telemetry.Event{
		Type:      telemetry.EventListenerPanic,
		SessionID: evt.SessionID,
		Data:      map[string]any{"event_type": string(evt.Type)},
	})
}
