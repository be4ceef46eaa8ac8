package realtime

import "sync"

// eventQueue is a bounded, insertion-ordered buffer of recently received
// events. Once full, new entries are refused; live listener dispatch is
// unaffected. Owned by the facade, shared by reference with whichever
// transport is active.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	max    int
}

func newEventQueue(max int) *eventQueue {
	return &eventQueue{max: max}
}

// push appends an event if capacity remains. Returns false when the queue
// is full and the event was refused.
func (q *eventQueue) push(evt Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) >= q.max {
		return false
	}
	q.events = append(q.events, evt)
	return true
}

// snapshot returns a copy of the queued events in receipt order.
func (q *eventQueue) snapshot() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Event, len(q.events))
	copy(out, q.events)
	return out
}

// clear drops all queued events.
func (q *eventQueue) clear() {
	q.mu.Lock()
	q.events = q.events[:0]
	q.mu.Unlock()
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
