package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arnold-1324/AtlasSearch/pkg/types"
)

func TestAcceptQueueBackpressure(t *testing.T) {
	queue := NewAcceptQueue(2)

	assert.True(t, queue.TryPush(types.Event{ID: "e1"}))
	assert.True(t, queue.TryPush(types.Event{ID: "e2"}))

	// Full queue rejects without blocking.
	assert.False(t, queue.TryPush(types.Event{ID: "e3"}))
	assert.Equal(t, 2, queue.Len())
	assert.Equal(t, 2, queue.Cap())

	event, ok := queue.TryPop()
	assert.True(t, ok)
	assert.Equal(t, "e1", event.ID)

	// Slot freed, push succeeds again.
	assert.True(t, queue.TryPush(types.Event{ID: "e3"}))
}

func TestAcceptQueueTryPopEmpty(t *testing.T) {
	queue := NewAcceptQueue(1)

	_, ok := queue.TryPop()
	assert.False(t, ok)
}

func TestAcceptQueueFIFO(t *testing.T) {
	queue := NewAcceptQueue(10)

	for _, id := range []string{"a", "b", "c"} {
		assert.True(t, queue.TryPush(types.Event{ID: id}))
	}

	for _, want := range []string{"a", "b", "c"} {
		event, ok := queue.TryPop()
		assert.True(t, ok)
		assert.Equal(t, want, event.ID)
	}
}
