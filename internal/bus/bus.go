// Package bus declares the Bus capability (spec.md §6.1): the injected
// pub/sub transport that delivers externally signed Events to EventIngress
// and accepts outbound publishes from StreamPublisher. Concrete transports
// (e.g. internal/bus/nostr) implement this interface; the kernel never
// depends on a specific transport directly.
package bus

import (
	"context"

	"github.com/tenex-chat/tenex-kernel/internal/conversation"
)

// Filter selects which events a subscription receives.
type Filter struct {
	Kinds   []int
	Authors []string
	Tags    map[string][]string
}

// Bus is the provider-agnostic pub/sub capability.
type Bus interface {
	// Subscribe opens a stream of events matching filter. The returned
	// channel closes when ctx is cancelled or the subscription is dropped;
	// callers should re-subscribe on close (the kernel re-subscribes on
	// reconnect per spec.md §6.1).
	Subscribe(ctx context.Context, filter Filter) (<-chan conversation.Event, error)
	// Publish signs and sends event, returning once the transport has
	// acknowledged (or attempted) delivery.
	Publish(ctx context.Context, event conversation.Event) error
}
