// Package realtime is the client side of the camp backend's push channel.
// One Channel per process holds the connection; a Hub fans received events
// out to the feature components that subscribed to them.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// AllEvents subscribes to every event regardless of name.
const AllEvents = "*"

// Event is one push event. It doubles as the wire frame in both directions.
type Event struct {
	Name       string          `json:"event"`
	Room       string          `json:"room,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	ReceivedAt time.Time       `json:"-"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// EventPublisher delivers events to in-process subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscriber receives the events it subscribed to on Send. Send is closed
// when the subscriber is unregistered.
type Subscriber struct {
	ID      string
	Events  []string
	Send    chan Event
	dropped atomic.Int64
	hub     *Hub
}

// Dropped returns how many events were skipped because Send was full.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// Close unregisters the subscriber from its hub.
func (s *Subscriber) Close() {
	if s.hub != nil {
		s.hub.Unregister(s)
	}
}

// Hub tracks subscribers by event name. All operations are safe for
// concurrent use.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscriber]struct{} // event name -> subscribers
	all    map[*Subscriber]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		topics: make(map[string]map[*Subscriber]struct{}),
		all:    make(map[*Subscriber]struct{}),
	}
}

// NewSubscriber creates and registers a subscriber for events with the
// given buffer size.
func (h *Hub) NewSubscriber(buffer int, events ...string) *Subscriber {
	s := &Subscriber{
		ID:     uuid.NewString(),
		Events: events,
		Send:   make(chan Event, buffer),
		hub:    h,
	}
	h.Register(s)
	return s
}

// Register adds a subscriber and its initial events.
func (h *Hub) Register(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s.hub = h
	h.all[s] = struct{}{}
	for _, name := range s.Events {
		h.add(name, s)
	}
}

func (h *Hub) add(name string, s *Subscriber) {
	if h.topics[name] == nil {
		h.topics[name] = make(map[*Subscriber]struct{})
	}
	h.topics[name][s] = struct{}{}
}

// Unregister removes a subscriber from every topic and closes Send.
// Unregistering twice is a no-op.
func (h *Hub) Unregister(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[s]; !ok {
		return
	}
	for _, name := range s.Events {
		if subs, ok := h.topics[name]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(h.topics, name)
			}
		}
	}
	delete(h.all, s)
	close(s.Send)
}

// Subscribe adds events to a registered subscriber.
func (h *Hub) Subscribe(s *Subscriber, events []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, name := range events {
		h.add(name, s)
	}
	s.Events = append(s.Events, events...)
}

// Unsubscribe removes events from a registered subscriber.
func (h *Hub) Unsubscribe(s *Subscriber, events []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removeSet := make(map[string]struct{}, len(events))
	for _, name := range events {
		removeSet[name] = struct{}{}
		if subs, ok := h.topics[name]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(h.topics, name)
			}
		}
	}

	remaining := make([]string, 0, len(s.Events))
	for _, name := range s.Events {
		if _, rm := removeSet[name]; !rm {
			remaining = append(remaining, name)
		}
	}
	s.Events = remaining
}

// Broadcast delivers ev to subscribers of ev.Name and of AllEvents. A full
// subscriber buffer drops the event for that subscriber only; consumers
// treat events as refresh hints, so a drop delays a refresh but never
// corrupts state.
func (h *Hub) Broadcast(ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	seen := make(map[*Subscriber]struct{})
	for _, name := range []string{ev.Name, AllEvents} {
		for s := range h.topics[name] {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			select {
			case s.Send <- ev:
				delivered++
			default:
				s.dropped.Add(1)
			}
		}
	}
	return delivered
}

// Publish implements EventPublisher.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.Broadcast(ev)
	return nil
}

// CloseAll unregisters every subscriber, ending their receive loops.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.all))
	for s := range h.all {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		h.Unregister(s)
	}
}

// SubscriberCount returns the number of registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of subscribers for one event name.
func (h *Hub) TopicCount(name string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[name])
}
