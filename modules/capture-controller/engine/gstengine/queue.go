package gstengine

import (
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/capture-controller/engine"
)

// eventQueue hands engine events from GStreamer threads to the observer on a
// single dispatch goroutine. push never blocks; control events are never
// dropped, samples are dropped once maxSamples are waiting.
type eventQueue struct {
	mu         sync.Mutex
	events     []engine.Event
	samples    int
	maxSamples int
	closed     bool
	signal     chan struct{}

	dropped atomic.Uint64
}

func newEventQueue(maxSamples int) *eventQueue {
	if maxSamples < 1 {
		maxSamples = 1
	}
	return &eventQueue{
		maxSamples: maxSamples,
		signal:     make(chan struct{}, 1),
	}
}

// push enqueues ev. It returns false if the queue is closed or the sample
// was dropped.
func (q *eventQueue) push(ev engine.Event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if ev.Kind == engine.EventSample {
		if q.samples >= q.maxSamples {
			q.mu.Unlock()
			q.dropped.Add(1)
			return false
		}
		q.samples++
	}
	q.events = append(q.events, ev)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// next waits for queued events and returns them in order. It returns false
// once the queue is closed.
func (q *eventQueue) next() ([]engine.Event, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		if len(q.events) > 0 {
			batch := q.events
			q.events = nil
			q.samples = 0
			q.mu.Unlock()
			return batch, true
		}
		q.mu.Unlock()
		<-q.signal
	}
}

// run dispatches events to obs until the queue is closed.
func (q *eventQueue) run(obs engine.Observer) {
	for {
		batch, ok := q.next()
		if !ok {
			return
		}
		for _, ev := range batch {
			obs.Handle(ev)
		}
	}
}

// close stops run. Queued events are discarded.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.events = nil
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Dropped returns the number of samples dropped because the observer fell
// behind.
func (q *eventQueue) Dropped() uint64 {
	return q.dropped.Load()
}
