package notification

import "sync"

const subscriberBuffer = 16

// Event is what a live subscriber receives.
type Event struct {
	Kind string
	Body string
}

// Hub is a concurrency-safe registry of live subscriber channels keyed by
// owner id. It is created at service start and torn down at shutdown;
// handlers register a subscription for the duration of a connection and
// unregister when it closes.
type Hub struct {
	mu     sync.Mutex
	subs   map[string][]chan Event
	closed bool
}

// NewHub builds an empty registry.
func NewHub() *Hub {
	return &Hub{subs: make(map[string][]chan Event)}
}

// Subscribe registers a channel for key. The returned cancel function removes
// the subscription and closes the channel; it is safe to call once.
func (h *Hub) Subscribe(key string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[key] = append(h.subs[key], ch)

	return ch, func() { h.unsubscribe(key, ch) }
}

// Push delivers the event to every live subscriber of key. Slow subscribers
// whose buffers are full miss the event rather than block the publisher.
func (h *Hub) Push(key string, event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, ch := range h.subs[key] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribers reports how many live channels are registered for key.
func (h *Hub) Subscribers(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key])
}

// Close tears down the registry, closing every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, channels := range h.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
	h.subs = make(map[string][]chan Event)
}

func (h *Hub) unsubscribe(key string, target chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	channels := h.subs[key]
	for i, ch := range channels {
		if ch == target {
			h.subs[key] = append(channels[:i], channels[i+1:]...)
			close(ch)
			break
		}
	}
	if len(h.subs[key]) == 0 {
		delete(h.subs, key)
	}
}
