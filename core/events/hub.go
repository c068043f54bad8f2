package events

import (
	"sync"

	"dataspace/core/types"
)

const defaultSubscriberBuffer = 64

// Hub delivers canonical events to live subscribers. Slow subscribers lose
// events rather than block the runtime.
type Hub struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]chan *types.Event
	dropped uint64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan *types.Event)}
}

// Subscribe registers a listener. The returned cancel func closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan *types.Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan *types.Event, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if existing, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(existing)
			}
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

func (h *Hub) Emit(evt Event) {
	canonical := Canonical(evt)
	if canonical == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- canonical:
		default:
			h.dropped++
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (h *Hub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}
