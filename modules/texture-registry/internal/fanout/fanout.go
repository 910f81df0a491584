package fanout

import (
	"sync"
	"sync/atomic"
)

type subscriber struct {
	id     string
	policy DropPolicy
	sent   atomic.Uint64
	drops  atomic.Uint64

	ch     chan<- Frame
	latest *latestFrame
}

// Fanout distributes frames of one texture to its subscribers. Publish never
// blocks.
type Fanout struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	published   atomic.Uint64
	closed      bool
}

// New creates an empty fanout.
func New() *Fanout {
	return &Fanout{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers ch with the DropNew policy.
func (f *Fanout) Subscribe(id string, ch chan<- Frame) error {
	if ch == nil {
		return ErrNilChannel
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if _, exists := f.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	f.subscribers[id] = &subscriber{id: id, policy: DropNew, ch: ch}
	return nil
}

// SubscribeLatest registers a DropOld subscriber.
func (f *Fanout) SubscribeLatest(id string) (Receiver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}
	if _, exists := f.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}
	s := &subscriber{id: id, policy: DropOld, latest: newLatestFrame()}
	f.subscribers[id] = s
	return s.latest, nil
}

// Publish hands frame to every subscriber.
func (f *Fanout) Publish(frame Frame) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return
	}
	f.published.Add(1)

	for _, s := range f.subscribers {
		switch s.policy {
		case DropNew:
			select {
			case s.ch <- frame:
				s.sent.Add(1)
			default:
				s.drops.Add(1)
			}
		case DropOld:
			if s.latest.set(frame) {
				s.drops.Add(1)
			}
			s.sent.Add(1)
		}
	}
}

// Unsubscribe removes a subscriber and closes its receiver.
func (f *Fanout) Unsubscribe(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, exists := f.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	if s.latest != nil {
		s.latest.Close()
	}
	delete(f.subscribers, id)
	return nil
}

// Len returns the number of subscribers.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers)
}

// Published returns the number of frames published.
func (f *Fanout) Published() uint64 {
	return f.published.Load()
}

// Stats returns a snapshot of every subscriber's counters.
func (f *Fanout) Stats() map[string]SubscriberStats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string]SubscriberStats, len(f.subscribers))
	for id, s := range f.subscribers {
		out[id] = SubscriberStats{Sent: s.sent.Load(), Dropped: s.drops.Load()}
	}
	return out
}

// Close removes all subscribers. Later publishes are ignored.
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for _, s := range f.subscribers {
		if s.latest != nil {
			s.latest.Close()
		}
	}
	f.subscribers = nil
}

// latestFrame implements Receiver for DropOld subscribers.
type latestFrame struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *Frame
	closed bool
}

func newLatestFrame() *latestFrame {
	h := &latestFrame{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// set stores frame and reports whether an unread frame was overwritten.
func (h *latestFrame) set(frame Frame) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	overwritten := h.frame != nil
	h.frame = &frame
	h.cond.Broadcast()
	return overwritten
}

// Receive blocks until a frame is available and consumes it. It returns
// false once the receiver is closed.
func (h *latestFrame) Receive() (Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for h.frame == nil && !h.closed {
		h.cond.Wait()
	}
	if h.closed {
		return Frame{}, false
	}
	frame := *h.frame
	h.frame = nil
	return frame, true
}

// TryReceive consumes the stored frame without blocking.
func (h *latestFrame) TryReceive() (Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.frame == nil || h.closed {
		return Frame{}, false
	}
	frame := *h.frame
	h.frame = nil
	return frame, true
}

// Close wakes any blocked Receive.
func (h *latestFrame) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	h.cond.Broadcast()
}
