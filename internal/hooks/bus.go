// Package hooks provides a synchronous fan-out event bus used to observe
// kernel activity — phase transitions, turn lifecycle, tool execution,
// lock grants — without coupling the emitting component to specific
// subscribers (streaming, memory persistence, metrics).
package hooks

import (
	"context"
	"errors"
	"sync"
)

type (
	// Bus publishes kernel events to registered subscribers in a fan-out
	// pattern. The bus is thread-safe and supports concurrent Publish,
	// Register, and Close operations.
	//
	// Events are delivered synchronously in the publisher's goroutine, and
	// iteration stops at the first subscriber error. This fail-fast behavior
	// lets a critical subscriber (e.g. conversation persistence) halt a turn
	// if it hits an unrecoverable error.
	Bus interface {
		// Publish delivers the event to every currently registered subscriber,
		// in registration order, stopping at the first error.
		Publish(ctx context.Context, event Event) error
		// Register adds a subscriber and returns a Subscription that can be
		// closed to unregister. Returns an error if sub is nil.
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published kernel events.
	Subscriber interface {
		// HandleEvent processes a single event. Returning an error stops the
		// bus from delivering the event to any remaining subscriber.
		HandleEvent(ctx context.Context, event Event) error
	}

	// SubscriberFunc adapts a plain function to the Subscriber interface.
	SubscriberFunc func(ctx context.Context, event Event) error

	// Subscription is an active registration on a Bus. Close is idempotent
	// and safe to call concurrently with Publish.
	Subscription interface {
		Close() error
	}

	bus struct {
		mu          sync.RWMutex
		subscribers []*subscription
	}

	subscription struct {
		bus  *bus
		sub  Subscriber
		once sync.Once
	}
)

// HandleEvent calls f.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error { return f(ctx, event) }

// NewBus constructs a ready-to-use in-memory event bus.
func NewBus() Bus {
	return &bus{}
}

// Publish delivers event, in registration order, to a snapshot of currently
// registered subscribers, taken under a read lock so registrations during
// delivery don't affect the current fan-out.
func (b *bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s.sub)
	}
	b.mu.RUnlock()
	for _, sub := range subs {
		if err := sub.HandleEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	s := &subscription{bus: b, sub: sub}
	b.mu.Lock()
	b.subscribers = append(b.subscribers, s)
	b.mu.Unlock()
	return s, nil
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		for i, other := range s.bus.subscribers {
			if other == s {
				s.bus.subscribers = append(s.bus.subscribers[:i], s.bus.subscribers[i+1:]...)
				break
			}
		}
		s.bus.mu.Unlock()
	})
	return nil
}
