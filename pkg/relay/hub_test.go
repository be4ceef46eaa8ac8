package relay

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/odvcencio/ripple/pkg/realtime"
)

type fakeConn struct {
	writeCount *atomic.Int32
	closeCount *atomic.Int32
}

func (f *fakeConn) Write(ctx context.Context, _ websocket.MessageType, _ []byte) error {
	f.writeCount.Add(1)
	return ctx.Err()
}

func (f *fakeConn) Close(_ websocket.StatusCode, _ string) error {
	f.closeCount.Add(1)
	return nil
}

func (f *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	<-ctx.Done()
	return websocket.MessageText, nil, ctx.Err()
}

func TestHubBroadcastFiltersAndDropsSlowClients(t *testing.T) {
	hub := NewHub(64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Fast client accepting all
	fast := &fakeConn{writeCount: &atomic.Int32{}, closeCount: &atomic.Int32{}}
	c1 := hub.register("websocket", "s1", nil)

	// Filtered client only chat events
	filtered := &fakeConn{writeCount: &atomic.Int32{}, closeCount: &atomic.Int32{}}
	c2 := hub.register("websocket", "s2", func(ev realtime.Event) bool {
		return ev.Type == realtime.EventChatMessage
	})

	// Slow client with tiny buffer should be dropped
	slow := &client{
		transport: "sse",
		send:      make(chan realtime.Event, 1),
	}
	hub.mu.Lock()
	hub.clients[slow] = struct{}{}
	hub.mu.Unlock()

	go func() {
		_ = c1.writeLoop(ctx, fast)
	}()
	go func() {
		_ = c2.writeLoop(ctx, filtered)
	}()

	hub.Broadcast(realtime.Event{Type: realtime.EventChatMessage, Timestamp: time.Now()})
	hub.Broadcast(realtime.Event{Type: realtime.EventNotification, Timestamp: time.Now()})

	time.Sleep(50 * time.Millisecond)

	if got := fast.writeCount.Load(); got == 0 {
		t.Fatalf("expected fast client to receive events")
	}
	if got := filtered.writeCount.Load(); got == 0 {
		t.Fatalf("expected filtered client to receive chat events")
	}
	// Slow client buffer should have overflowed and removed client
	hub.mu.RLock()
	_, stillPresent := hub.clients[slow]
	hub.mu.RUnlock()
	if stillPresent {
		t.Fatalf("expected slow client to be removed")
	}
}

func TestHubClientCount(t *testing.T) {
	hub := NewHub(8)
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}

	c := hub.register("sse", "s1", nil)
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client, got %d", got)
	}

	hub.remove(c)
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients after remove, got %d", got)
	}

	// Removing twice must not double-close the send channel.
	hub.remove(c)
}
