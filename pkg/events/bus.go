// Package events carries live execution events (tokens, tool calls, task
// completions) from workers to API subscribers.
package events

import (
	"log/slog"
	"sync"
)

// Event types published on the bus.
const (
	TypeToken    = "token"
	TypeToolCall = "tool_call"
	TypeTaskDone = "task_done"
	TypeStatus   = "status"
)

// Event is one bus message. Loose shape so publishers can attach whatever
// the event type needs.
type Event map[string]interface{}

// subscriberBuffer bounds each subscriber channel; slow subscribers drop
// events rather than stall workers.
const subscriberBuffer = 64

// Bus fans events out to subscribers. Publishing never blocks.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
	logger      *slog.Logger
}

// NewBus builds an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[int]chan Event),
		logger:      slog.Default().With("component", "events"),
	}
}

// Subscribe registers a listener. Call the returned cancel function to
// unsubscribe; the channel closes on unsubscribe.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subscribers[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Publish sends an event to all subscribers, dropping it for any whose
// buffer is full.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Debug("event dropped for slow subscriber", "subscriber", id, "type", event["type"])
		}
	}
}

// SubscriberCount reports how many listeners are attached.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
