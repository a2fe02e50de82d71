// Package ingress implements EventIngress (spec.md §4.1): it accepts Events
// from the Bus, drops ignored kinds and self-authored loops, resolves the
// target conversation from tags, and appends to history under the
// conversation's write lock, waking the scheduler.
package ingress

import (
	"context"

	"github.com/tenex-chat/tenex-kernel/internal/bus"
	"github.com/tenex-chat/tenex-kernel/internal/conversation"
	"github.com/tenex-chat/tenex-kernel/internal/telemetry"
)

// IgnoredKinds are event kinds dropped without further processing (status,
// heartbeat, typing).
var IgnoredKinds = map[int]bool{
	30078: true, // status
	30079: true, // heartbeat
	30080: true, // typing
}

// Wake is called after a new event is appended, so the scheduler can route
// the conversation if no agent currently owns its turn.
type Wake func(ctx context.Context, id conversation.ID)

// Ingress drives the Bus → ConversationStore pipeline.
type Ingress struct {
	store     conversation.Store
	localKeys map[string]bool
	wake      Wake
	logger    telemetry.Logger
}

// New constructs an Ingress. localKeys are this kernel's own agent author
// keys, used for loop suppression.
func New(store conversation.Store, localKeys []string, wake Wake, logger telemetry.Logger) *Ingress {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	keys := make(map[string]bool, len(localKeys))
	for _, k := range localKeys {
		keys[k] = true
	}
	return &Ingress{store: store, localKeys: keys, wake: wake, logger: logger}
}

// Run drains sub until ctx is cancelled or the channel closes, processing
// every event. A malformed or rejected event is logged and dropped; Run
// never returns early because of one bad event (spec.md §4.1 "never fails
// the ingress loop").
func (i *Ingress) Run(ctx context.Context, sub <-chan conversation.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			i.process(ctx, ev)
		}
	}
}

func (i *Ingress) process(ctx context.Context, ev conversation.Event) {
	if IgnoredKinds[ev.Kind] {
		return
	}
	if i.localKeys[ev.AuthorKey] {
		return
	}

	id, ok := resolveConversationID(ev)
	if !ok {
		i.logger.Warn(ctx, "ingress: event carries no conversation reference, dropping", "event_id", ev.ID)
		return
	}

	if _, err := i.store.Get(ctx, id); err != nil {
		if _, createErr := i.store.Create(ctx, id, ev); createErr != nil {
			i.logger.Warn(ctx, "ingress: failed to create conversation", "conversation_id", string(id), "error", createErr.Error())
			return
		}
	} else if _, err := i.store.AppendEvent(ctx, id, ev); err != nil {
		i.logger.Warn(ctx, "ingress: failed to append event", "conversation_id", string(id), "error", err.Error())
		return
	}

	if i.wake != nil {
		i.wake(ctx, id)
	}
}

// resolveConversationID resolves a ConversationId from the e/E/d tag
// vocabulary (spec.md §4.1), preferring an explicit root ("E"/"d") reference
// over a reply ("e") reference, and falling back to the event's own ID as a
// new conversation's root.
func resolveConversationID(ev conversation.Event) (conversation.ID, bool) {
	if v, ok := ev.TagValue("d"); ok && v != "" {
		return conversation.ID(v), true
	}
	if v, ok := ev.TagValue("E"); ok && v != "" {
		return conversation.ID(v), true
	}
	if v, ok := ev.TagValue("e"); ok && v != "" {
		return conversation.ID(v), true
	}
	if ev.ID != "" {
		return conversation.ID(ev.ID), true
	}
	return "", false
}

// Filter returns the Bus subscription filter EventIngress listens on.
func Filter() bus.Filter {
	return bus.Filter{}
}
