package ingest

import (
	"github.com/arnold-1324/AtlasSearch/pkg/types"
)

// AcceptQueue is the bounded handoff between HTTP handlers and the
// batcher consumer. Producers never block: TryPush either takes a slot
// or reports the queue full, which is the sole backpressure signal on
// the request path.
type AcceptQueue struct {
	ch chan types.Event
}

// NewAcceptQueue creates a queue holding at most size events.
func NewAcceptQueue(size int) *AcceptQueue {
	return &AcceptQueue{ch: make(chan types.Event, size)}
}

// TryPush offers an event to the queue without blocking. Returns false
// when the queue is full.
func (q *AcceptQueue) TryPush(event types.Event) bool {
	select {
	case q.ch <- event:
		return true
	default:
		return false
	}
}

// TryPop removes one event without blocking. Used during shutdown
// draining.
func (q *AcceptQueue) TryPop() (types.Event, bool) {
	select {
	case event := <-q.ch:
		return event, true
	default:
		return types.Event{}, false
	}
}

// C exposes the receive side for the consumer loop.
func (q *AcceptQueue) C() <-chan types.Event {
	return q.ch
}

// Len returns the current queue depth.
func (q *AcceptQueue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *AcceptQueue) Cap() int {
	return cap(q.ch)
}
