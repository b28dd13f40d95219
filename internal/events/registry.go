// Package events provides the core's notification plumbing: an explicit
// subscription registry with deterministic lifetimes, the JSON envelope for
// exported events, and an optional redis mirror for out-of-process consumers.
package events

import (
	"sync"
)

// Topic names published by the core.
const (
	TopicRowInserted   = "row.inserted"
	TopicRowCorrected  = "row.corrected"
	TopicMarkerChanged = "marker.changed"
	TopicEventAdded    = "event.added"
	TopicEventRemoved  = "event.removed"
	TopicRosterChanged = "roster.changed"
)

// Handler receives a published payload for one topic.
type Handler func(topic string, payload interface{})

// Subscription is the handle returned by Subscribe. Releasing it removes the
// handler; release is idempotent.
type Subscription struct {
	registry *Registry
	topic    string
	id       int
	once     sync.Once
}

// Unsubscribe removes the handler from the registry.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.registry.remove(s.topic, s.id)
	})
}

// Registry is an explicit publish/subscribe table. Handlers are held by
// strong reference and removed only through their Subscription handle.
type Registry struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]map[int]Handler)}
}

// Subscribe registers a handler for one topic.
func (r *Registry) Subscribe(topic string, handler Handler) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	if r.subs[topic] == nil {
		r.subs[topic] = make(map[int]Handler)
	}
	r.subs[topic][r.nextID] = handler
	return &Subscription{registry: r, topic: topic, id: r.nextID}
}

// Publish synchronously invokes every handler registered for the topic.
func (r *Registry) Publish(topic string, payload interface{}) {
	r.mu.RLock()
	handlers := make([]Handler, 0, len(r.subs[topic]))
	for _, h := range r.subs[topic] {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		h(topic, payload)
	}
}

func (r *Registry) remove(topic string, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs[topic], id)
}
