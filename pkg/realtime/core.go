package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/odvcencio/ripple/pkg/errors"
	"github.com/odvcencio/ripple/pkg/logging"
	"github.com/odvcencio/ripple/pkg/telemetry"
)

// transportCore carries the state shared between the facade and the
// active transport: the listener registry and bounded queue (owned by the
// facade, shared by reference), plus per-connection lifecycle machinery.
type transportCore struct {
	opts       *Options
	dispatcher *dispatcher
	queue      *eventQueue
	sessionID  string
	log        *logging.Logger
	hub        *telemetry.Hub

	// notifyState fans a state transition out to facade subscribers.
	notifyState func(ConnectionState)

	recon    *reconnector
	lastLive atomic.Int64 // unix nanos of the last liveness signal

	stateMu sync.Mutex
	state   ConnectionState

	closing atomic.Bool   // set by an explicit Disconnect
	done    chan struct{} // closed by an explicit Disconnect
}

func newTransportCore(opts *Options, d *dispatcher, q *eventQueue, sessionID string, notify func(ConnectionState), log *logging.Logger, hub *telemetry.Hub) *transportCore {
	return &transportCore{
		opts:        opts,
		dispatcher:  d,
		queue:       q,
		sessionID:   sessionID,
		log:         log,
		hub:         hub,
		notifyState: notify,
		recon:       newReconnector(opts.Retry),
		state:       StateDisconnected,
		done:        make(chan struct{}),
	}
}

func (c *transportCore) setState(s ConnectionState) {
	c.stateMu.Lock()
	if c.state == s {
		c.stateMu.Unlock()
		return
	}
	prev := c.state
	c.state = s
	c.stateMu.Unlock()

	c.log.StateChanged(string(prev), string(s))
	if c.notifyState != nil {
		c.notifyState(s)
	}
}

func (c *transportCore) currentState() ConnectionState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *transportCore) markLive() {
	c.lastLive.Store(time.Now().UnixNano())
}

// stale reports whether no liveness signal arrived for more than twice
// the heartbeat interval.
func (c *transportCore) stale(interval time.Duration) bool {
	last := c.lastLive.Load()
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) > 2*interval
}

// receive runs the shared message-receipt path: parse, intercept control
// messages, enqueue, dispatch.
func (c *transportCore) receive(raw []byte) {
	c.markLive()

	evt := parseEvent(raw, c.sessionID)
	if evt.IsControl() {
		return
	}

	eventsReceivedTotal.WithLabelValues(string(evt.Type)).Inc()
	c.log.EventReceived(evt.ID, string(evt.Type), len(evt.Data))

	if !c.queue.push(evt) {
		eventsRefusedTotal.Inc()
	}
	c.dispatcher.dispatch(evt)
}

// handleUnexpectedClose routes a post-connect failure through the
// reconnection state machine. Never called for an explicit disconnect.
func (c *transportCore) handleUnexpectedClose(kind TransportKind, cause error, redial func() error) {
	if c.closing.Load() {
		return
	}

	c.log.WithTransport(string(kind)).Error("connection lost",
		"error", cause.Error(),
	)
	activeConnections.WithLabelValues(string(kind)).Dec()

	if !c.opts.ReconnectOnError {
		c.setState(StateDisconnected)
		return
	}
	c.scheduleReconnect(kind, redial)
}

func (c *transportCore) scheduleReconnect(kind TransportKind, redial func() error) {
	delay, attempt, ok := c.recon.next()
	if !ok {
		c.setState(StateError)
		retryExhaustedTotal.Inc()
		c.hub.Publish(telemetry.Event{
			Type:      telemetry.EventConnectionRetryExhausted,
			SessionID: c.sessionID,
			Transport: string(kind),
			Data:      map[string]any{"attempts": attempt},
		})
		return
	}

	c.setState(StateReconnecting)
	reconnectsTotal.WithLabelValues(string(kind)).Inc()
	c.hub.Publish(telemetry.Event{
		Type:      telemetry.EventConnectionReconnecting,
		SessionID: c.sessionID,
		Transport: string(kind),
		Data:      map[string]any{"attempt": attempt, "delay_ms": delay.Milliseconds()},
	})

	c.recon.schedule(delay, func() {
		if c.closing.Load() {
			return
		}
		if err := redial(); err != nil {
			c.log.WithTransport(string(kind)).Warn("reconnect attempt failed",
				"attempt", attempt,
				"error", err.Error(),
			)
			c.scheduleReconnect(kind, redial)
		}
	})
}

// reportStale handles a heartbeat timeout through the same path as a
// protocol error.
func (c *transportCore) reportStale(kind TransportKind) error {
	heartbeatTimeoutsTotal.WithLabelValues(string(kind)).Inc()
	c.hub.Publish(telemetry.Event{
		Type:      telemetry.EventHeartbeatTimeout,
		SessionID: c.sessionID,
		Transport: string(kind),
	})
	return errors.New(errors.ErrCodeHeartbeatTimeout, "no liveness signal within 2x heartbeat interval").
		WithContext("transport", string(kind)).
		WithRetryable(true)
}

// shutdown is the shared explicit-disconnect path: cancels timers and
// marks the instance abandoned. Idempotent.
func (c *transportCore) shutdown() bool {
	if c.closing.Swap(true) {
		return false
	}
	close(c.done)
	c.recon.stop()
	return true
}
