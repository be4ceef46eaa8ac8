package realtime

import (
	"sync"
)

// Listener receives dispatched events. Listeners run synchronously on the
// transport's read goroutine, in registration order: typed listeners
// first, then wildcard listeners.
type Listener func(Event)

// dispatcher is the two-tier listener registry: per-type sets plus a
// separate wildcard set. It is owned by the facade and survives
// reconnects and transport fallback.
type dispatcher struct {
	mu       sync.RWMutex
	byType   map[EventType]map[int]Listener
	wildcard map[int]Listener
	nextID   int

	// onPanic is the error side channel for listener exceptions.
	onPanic func(evt Event, recovered any)
}

func newDispatcher(onPanic func(Event, any)) *dispatcher {
	return &dispatcher{
		byType:   make(map[EventType]map[int]Listener),
		wildcard: make(map[int]Listener),
		onPanic:  onPanic,
	}
}

// add registers a listener for eventType (or Wildcard) and returns a
// cancel func that removes it.
func (d *dispatcher) add(eventType EventType, fn Listener) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++

	if eventType == Wildcard {
		d.wildcard[id] = fn
		return func() {
			d.mu.Lock()
			delete(d.wildcard, id)
			d.mu.Unlock()
		}
	}

	set, ok := d.byType[eventType]
	if !ok {
		set = make(map[int]Listener)
		d.byType[eventType] = set
	}
	set[id] = fn
	return func() {
		d.mu.Lock()
		delete(d.byType[eventType], id)
		d.mu.Unlock()
	}
}

// dispatch delivers evt to every listener registered for its type, then
// to every wildcard listener. A panicking listener is reported via the
// side channel and never aborts dispatch to the rest.
func (d *dispatcher) dispatch(evt Event) {
	d.mu.RLock()
	listeners := make([]Listener, 0, len(d.byType[evt.Type])+len(d.wildcard))
	for id := 0; id < d.nextID; id++ {
		if fn, ok := d.byType[evt.Type][id]; ok {
			listeners = append(listeners, fn)
		}
	}
	for id := 0; id < d.nextID; id++ {
		if fn, ok := d.wildcard[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	d.mu.RUnlock()

	for _, fn := range listeners {
		d.invoke(fn, evt)
	}
}

func (d *dispatcher) invoke(fn Listener, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			if d.onPanic != nil {
				d.onPanic(evt, r)
			}
		}
	}()
	fn(evt)
}
