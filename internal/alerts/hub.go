// Package alerts fans summary update notifications out to every connected
// veterinary dashboard stream.
package alerts

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const subscriberBuffer = 8

// Hub distributes session IDs to subscribers.  Slow subscribers lose
// notifications rather than blocking the others.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan string]struct{}
	closed bool
	log    *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{subs: make(map[chan string]struct{}), log: logger}
}

// Subscribe registers a new subscriber.  The returned function unsubscribes
// and closes the channel; it is safe to call more than once.  After Close the
// returned channel is already closed.
func (h *Hub) Subscribe() (<-chan string, func()) {
	ch := make(chan string, subscriberBuffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// Close closes every subscriber channel so that open streams end.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

// Publish delivers sessionID to every subscriber without blocking.
func (h *Hub) Publish(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- sessionID:
		default:
			h.log.Debug("dropping alert for slow subscriber", zap.String("session_id", sessionID))
		}
	}
}

// Subscribers reports the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Run publishes everything received on src until src is closed or ctx is
// done.
func (h *Hub) Run(ctx context.Context, src <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case id, ok := <-src:
			if !ok {
				return nil
			}
			h.Publish(id)
		}
	}
}
