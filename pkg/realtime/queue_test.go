package realtime

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventQueue_RefusesWhenFull(t *testing.T) {
	q := newEventQueue(10)

	for i := 0; i < 15; i++ {
		accepted := q.push(Event{ID: fmt.Sprintf("evt-%d", i), Type: EventNotification})
		assert.Equal(t, i < 10, accepted, "push %d", i)
	}

	assert.Equal(t, 10, q.len())

	// Oldest entries survive; overflow is refused, not rotated.
	snap := q.snapshot()
	assert.Equal(t, "evt-0", snap[0].ID)
	assert.Equal(t, "evt-9", snap[9].ID)
}

func TestEventQueue_SnapshotIsCopy(t *testing.T) {
	q := newEventQueue(5)
	q.push(Event{ID: "a"})

	snap := q.snapshot()
	snap[0].ID = "mutated"

	assert.Equal(t, "a", q.snapshot()[0].ID)
}

func TestEventQueue_Clear(t *testing.T) {
	q := newEventQueue(3)
	q.push(Event{ID: "a"})
	q.push(Event{ID: "b"})

	q.clear()
	assert.Equal(t, 0, q.len())
	assert.True(t, q.push(Event{ID: "c"}), "capacity is available again after clear")
}
