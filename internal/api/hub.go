package api

import (
	"sync"

	"github.com/bryanchriswhite/wlmirror/internal/window"
)

// Hub keeps the last committed window state and fans commits out to stream
// subscribers. It is a window.Listener: commits arrive on the reactor thread
// and are never blocked by slow subscribers.
type Hub struct {
	mu        sync.RWMutex
	current   *window.Snapshot
	listeners []chan window.Snapshot
	closed    bool
}

var _ window.Listener = (*Hub)(nil)

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{}
}

// WindowInitDone implements window.Listener
func (h *Hub) WindowInitDone(w *window.Window) {
	h.publish(w.Snapshot(0))
}

// WindowChanged implements window.Listener
func (h *Hub) WindowChanged(w *window.Window, changed window.Changed) {
	h.publish(w.Snapshot(changed))
}

// Current returns the last committed state, or nil before the first commit
func (h *Hub) Current() *window.Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.current == nil {
		return nil
	}
	s := *h.current
	return &s
}

// Subscribe adds a listener for window commits
func (h *Hub) Subscribe() chan window.Snapshot {
	ch := make(chan window.Snapshot, 10)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.listeners = append(h.listeners, ch)
	return ch
}

// Unsubscribe removes a listener and closes its channel
func (h *Hub) Unsubscribe(ch chan window.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, listener := range h.listeners {
		if listener == ch {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// Subscribers returns the number of open subscriptions
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Close closes every subscriber channel, ending their streams
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.listeners {
		close(ch)
	}
	h.listeners = nil
	h.closed = true
}

func (h *Hub) publish(s window.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.current = &s
	for _, listener := range h.listeners {
		select {
		case listener <- s:
		default:
			// Skip if channel is full
		}
	}
}
