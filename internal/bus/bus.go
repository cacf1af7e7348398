// Package bus is a small in-process pub/sub used to push queue and
// observation events to live subscribers. Delivery is fire and forget;
// a slow or panicking handler never affects the publisher.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Topics published by the worker.
const (
	TopicObservationCreated = "observation.created"
	TopicSummaryCreated     = "summary.created"
	TopicQueueStatus        = "queue.status"
)

// Event is one notification broadcast to subscribers.
type Event struct {
	Topic     string    `json:"topic"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler processes an event. No return value; fire and forget.
type Handler func(Event)

// SubscriptionID identifies a subscription for later removal.
type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Bus routes events from publishers to topic subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID uint64
	log    *log.Logger
}

func New(logger *log.Logger) *Bus {
	return &Bus{
		subs: make(map[string][]subscription),
		log:  logger,
	}
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic string, handler Handler) SubscriptionID {
	id := SubscriptionID(atomic.AddUint64(&b.nextID, 1))

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: handler})

	b.log.Debug("event subscribed", "topic", topic, "subscription", id)
	return id
}

// Unsubscribe removes a subscription by id. Returns true when found.
func (b *Bus) Unsubscribe(id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subs {
		for i, sub := range subs {
			if sub.id == id {
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				if len(b.subs[topic]) == 0 {
					delete(b.subs, topic)
				}
				return true
			}
		}
	}
	return false
}

// Publish broadcasts an event to the topic's subscribers. Handlers run in
// their own goroutines; panics are logged and swallowed.
func (b *Bus) Publish(topic string, data any) {
	event := Event{Topic: topic, Data: data, Timestamp: time.Now()}

	b.mu.RLock()
	subs := make([]subscription, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.RUnlock()

	for _, sub := range subs {
		go func(s subscription) {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("event handler panicked", "topic", topic, "panic", r)
				}
			}()
			s.handler(event)
		}(sub)
	}
}
