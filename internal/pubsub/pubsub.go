// Package pubsub implements a minimal typed publish/subscribe registry.
//
// Subscribers are invoked synchronously, in registration order. The
// registry exists so that event producers (units, the status monitor, the
// orchestrator) can fan out to several consumers that attach and detach
// deterministically, without consumers holding references to each other.
package pubsub

import "sync"

type subscriber[T any] struct {
	id int
	fn func(T)
}

// Publisher fans out events of type T to its current subscribers.
// It is safe for concurrent use.
type Publisher[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber[T]
}

// New creates an empty Publisher.
func New[T any]() *Publisher[T] {
	return &Publisher[T]{}
}

// Subscribe registers fn and returns a cancel function that removes it.
// Cancelling twice is a no-op.
func (p *Publisher[T]) Subscribe(fn func(T)) (cancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	p.subs = append(p.subs, subscriber[T]{id: id, fn: fn})

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, s := range p.subs {
			if s.id == id {
				p.subs = append(p.subs[:i], p.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers event to every subscriber registered at the time of the
// call. Delivery happens outside the registry lock so a subscriber may
// subscribe, unsubscribe, or publish again from within its callback.
func (p *Publisher[T]) Publish(event T) {
	p.mu.Lock()
	snapshot := make([]subscriber[T], len(p.subs))
	copy(snapshot, p.subs)
	p.mu.Unlock()

	for _, s := range snapshot {
		s.fn(event)
	}
}

// Len reports the current number of subscribers.
func (p *Publisher[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}
