package events

import (
	"sync"
)

// defaultBuffer is the per-subscriber channel depth
const defaultBuffer = 64

// Bus fans events out to subscribers. Publish never blocks: when a
// subscriber's buffer is full, its oldest event is dropped to make room.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	next   int
	buffer int
}

// NewBus creates a bus with the default per-subscriber buffer
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[int]chan Event),
		buffer: defaultBuffer,
	}
}

// Subscribe returns a channel of events and a cancel function. The channel
// closes when cancel is called.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber, dropping the oldest queued
// event of any subscriber that is full.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e:
			default:
			}
		}
	}
}

// Subscribers returns the current subscriber count
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
