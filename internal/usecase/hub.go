package usecase

import (
	"sync"

	"MarketSync/internal/domain/models"
	"MarketSync/pkg/logger"
)

// defaultSubscriberBuffer bounds each subscriber channel. A full buffer
// coalesces: the oldest pending event is dropped for the newest, so a slow
// consumer always converges on the latest state.
const defaultSubscriberBuffer = 64

// Hub fans engine events out to attached consumers. Delivery is
// at-least-once per cache write with coalescing under backpressure;
// consumers must treat each event as "state changed", not as a delta log.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan models.Event
	nextID int
	buffer int
	closed bool

	log *logger.Logger
}

// NewHub creates an event hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		subs:   make(map[int]chan models.Event),
		buffer: defaultSubscriberBuffer,
		log:    log,
	}
}

// Subscribe attaches a consumer. The returned cancel detaches it and closes
// the channel.
func (h *Hub) Subscribe() (<-chan models.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		ch := make(chan models.Event)
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	ch := make(chan models.Event, h.buffer)
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
}

// Publish delivers ev to every subscriber without ever blocking the caller.
func (h *Hub) Publish(ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		// Buffer full: make room by dropping the oldest pending event.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
			h.log.Warn("event dropped for slow subscriber", logger.String("type", string(ev.Type)))
		}
	}
}

// SubscriberCount reports attached consumers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close detaches every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
