// Package events carries commit notifications out of the unit of work.
// Subscribers (the cache layer, external replicas) learn which entity types
// were mutated so they can drop anything derived from them.
package events

import (
	"context"
	"sync"
	"time"

	"keel/domain"
)

// CommitEvent announces a successfully committed unit of work.
type CommitEvent struct {
	// EntityTypes lists every entity type the commit touched, deduplicated.
	EntityTypes []domain.EntityType `json:"entity_types"`
	At          time.Time           `json:"at"`
}

// Publisher delivers commit events. Implementations must not swallow errors;
// the unit of work decides what a failed publish means.
type Publisher interface {
	PublishCommit(ctx context.Context, event CommitEvent) error
}

// Subscriber receives commit events from a Bus.
type Subscriber func(ctx context.Context, event CommitEvent)

// Bus is the in-process publisher: synchronous fan-out to subscribers in
// subscription order. Cache invalidation rides on it, so delivery happens
// before PublishCommit returns.
type Bus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe adds a subscriber. Subscriptions are a startup-time activity;
// there is no unsubscribe.
func (b *Bus) Subscribe(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

// PublishCommit delivers the event to every subscriber synchronously.
func (b *Bus) PublishCommit(ctx context.Context, event CommitEvent) error {
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(ctx, event)
	}
	return nil
}

// Fanout combines publishers; every publisher sees every event and the first
// error wins. Used to chain the in-process bus with an external publisher.
type Fanout []Publisher

func (f Fanout) PublishCommit(ctx context.Context, event CommitEvent) error {
	for _, p := range f {
		if err := p.PublishCommit(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
