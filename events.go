package ordersync

import (
	"sync"
	"time"

	"github.com/fieldline/ordersync/logging"
)

// EventType discriminates sync lifecycle events on the Bus.
type EventType string

const (
	EventOnline        EventType = "online"
	EventOffline       EventType = "offline"
	EventSyncStarted   EventType = "sync_started"
	EventSyncCompleted EventType = "sync_completed"
	EventSyncFailed    EventType = "sync_failed"
	EventQueued        EventType = "queued"
)

// Event is one sync lifecycle notification. Only the fields relevant to the
// Type are populated: Succeeded/Failed for sync_completed, Error for
// sync_failed, Operation/Entity for queued.
type Event struct {
	Type      EventType `json:"type"`
	Time      time.Time `json:"time"`
	Succeeded int       `json:"succeeded,omitempty"`
	Failed    int       `json:"failed,omitempty"`
	Error     string    `json:"error,omitempty"`
	Operation Operation `json:"operation,omitempty"`
	Entity    Entity    `json:"entity,omitempty"`
}

// Bus decouples sync-state producers from UI consumers. Listeners are
// invoked synchronously in registration order; a panicking listener is
// isolated so it can neither starve other listeners nor reach the publisher.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []busSubscriber
	logger *logging.Logger
}

type busSubscriber struct {
	id uint64
	fn func(Event)
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{logger: logging.WithComponent("event-bus")}
}

// Subscription is the handle returned by Subscribe. Unsubscribe is
// idempotent and safe to call from a listener.
type Subscription struct {
	bus  *Bus
	id   uint64
	once sync.Once
}

// Unsubscribe removes the listener from the bus.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		for i, sub := range s.bus.subs {
			if sub.id == s.id {
				s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
				break
			}
		}
	})
}

// Subscribe registers a listener for every published event and returns a
// handle that removes it.
func (b *Bus) Subscribe(fn func(Event)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs = append(b.subs, busSubscriber{id: b.nextID, fn: fn})
	return &Subscription{bus: b, id: b.nextID}
}

// Publish delivers the event to every registered listener. If the event's
// Time is zero it is stamped with the current time.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	subs := make([]busSubscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub busSubscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("listener panicked during event delivery",
				"event_type", string(ev.Type),
				"panic", r,
			)
		}
	}()
	sub.fn(ev)
}
