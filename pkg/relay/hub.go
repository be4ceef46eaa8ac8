// Package relay is the server side of ripple: it accepts realtime
// connections over WebSocket and SSE, bridges events from the message
// bus, and fans them out to every connected client.
package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/odvcencio/ripple/pkg/realtime"
)

const clientWriteTimeout = 15 * time.Second

// Hub fan-outs events to connected clients, regardless of transport. A
// client whose send buffer fills up is dropped rather than slowing the
// rest down.
type Hub struct {
	queueSize int

	mu      sync.RWMutex
	clients map[*client]struct{}

	// onDrop is invoked when a slow client is evicted.
	onDrop func(*client)
}

// NewHub creates a Hub with the given per-client send buffer size.
func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Hub{
		queueSize: queueSize,
		clients:   make(map[*client]struct{}),
	}
}

// Broadcast sends an event to all clients, dropping slow consumers.
func (h *Hub) Broadcast(event realtime.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.enqueue(event) {
			go h.remove(c)
			if h.onDrop != nil {
				go h.onDrop(c)
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// register adds a new client to the hub.
func (h *Hub) register(transport string, sessionID string, filter func(realtime.Event) bool) *client {
	c := &client{
		transport: transport,
		sessionID: sessionID,
		send:      make(chan realtime.Event, h.queueSize),
		filter:    filter,
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// remove disconnects and removes a client.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

type wsConn interface {
	Write(ctx context.Context, msgType websocket.MessageType, data []byte) error
	Close(status websocket.StatusCode, reason string) error
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
}

type client struct {
	transport string
	sessionID string
	send      chan realtime.Event
	filter    func(realtime.Event) bool
}

// enqueue offers an event to the client's send buffer. Returns false when
// the buffer is full, which marks the client for eviction.
func (c *client) enqueue(event realtime.Event) bool {
	if c.filter != nil && !c.filter(event) {
		return true
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

// writeLoop drains the send buffer onto a websocket connection. Returns
// nil when the hub closes the channel, the write error otherwise.
func (c *client) writeLoop(ctx context.Context, conn wsConn) error {
	for {
		select {
		case event, ok := <-c.send:
			if !ok {
				return nil
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, clientWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
