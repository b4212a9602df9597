// Package pubsub is the in-memory topic fanout used for server-initiated
// updates. Delivery is synchronous, in registration order, with no delivery
// guarantee across process restarts.
package pubsub

import (
	"sync"
)

// Handler receives a broadcast payload for a topic.
type Handler func(topic string, payload any)

type subscriber struct {
	id      string
	handler Handler
}

// PubSub maps topics to subscriber sets. A subscriber is identified by an
// opaque id (typically a session id) so it can be removed from every topic
// at once when its session ends.
type PubSub struct {
	mu     sync.RWMutex
	topics map[string][]subscriber
}

// New creates an empty PubSub.
func New() *PubSub {
	return &PubSub{topics: make(map[string][]subscriber)}
}

// Subscribe registers handler for topic under id. Re-subscribing the same id
// to the same topic replaces the handler in place, keeping its original
// position in the delivery order.
func (p *PubSub) Subscribe(id, topic string, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs := p.topics[topic]
	for i := range subs {
		if subs[i].id == id {
			subs[i].handler = handler
			return
		}
	}
	p.topics[topic] = append(subs, subscriber{id: id, handler: handler})
}

// Unsubscribe removes id from a single topic.
func (p *PubSub) Unsubscribe(id, topic string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(id, topic)
}

// UnsubscribeAll removes id from every topic.
func (p *PubSub) UnsubscribeAll(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for topic := range p.topics {
		p.removeLocked(id, topic)
	}
}

func (p *PubSub) removeLocked(id, topic string) {
	subs := p.topics[topic]
	for i := range subs {
		if subs[i].id == id {
			p.topics[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(p.topics[topic]) == 0 {
		delete(p.topics, topic)
	}
}

// Broadcast delivers payload to every subscriber of topic, synchronously, in
// registration order.
func (p *PubSub) Broadcast(topic string, payload any) {
	p.mu.RLock()
	subs := make([]subscriber, len(p.topics[topic]))
	copy(subs, p.topics[topic])
	p.mu.RUnlock()

	for _, s := range subs {
		s.handler(topic, payload)
	}
}

// Subscribers returns the subscriber ids for a topic, in registration order.
func (p *PubSub) Subscribers(topic string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.topics[topic]))
	for _, s := range p.topics[topic] {
		ids = append(ids, s.id)
	}
	return ids
}

// IsSubscribed reports whether id is subscribed to any topic.
func (p *PubSub) IsSubscribed(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, subs := range p.topics {
		for _, s := range subs {
			if s.id == id {
				return true
			}
		}
	}
	return false
}
