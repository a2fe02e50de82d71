// Package recovery implements the RecoveryCoordinator (spec.md §4.10): on
// kernel start it loads every conversation, releases or drops execution
// locks and queue entries whose owners are gone, resets transient execution
// timers, and re-subscribes to the Bus. It never replays in-flight turns;
// the next inbound event drives resumption.
package recovery

import (
	"context"
	"time"

	"github.com/tenex-chat/tenex-kernel/internal/bus"
	"github.com/tenex-chat/tenex-kernel/internal/conversation"
	"github.com/tenex-chat/tenex-kernel/internal/execqueue"
	"github.com/tenex-chat/tenex-kernel/internal/telemetry"
)

// ProjectResolver maps a conversation to the project identifier its
// execution lock is tracked under.
type ProjectResolver func(conv *conversation.Conversation) (project string, ok bool)

// Subscription describes one Bus re-subscription RecoveryCoordinator should
// perform after recovery, derived from project configuration.
type Subscription struct {
	Project string
	Filter  bus.Filter
}

// SubscriptionSource enumerates the Bus subscriptions the kernel should
// re-establish on startup.
type SubscriptionSource func(ctx context.Context) ([]Subscription, error)

// Report summarizes what recovery did, for startup logging.
type Report struct {
	ConversationsLoaded int
	LocksReleased       int
	QueueEntriesDropped int
	Resubscriptions     int
}

// Coordinator runs the startup recovery sequence.
type Coordinator struct {
	store    conversation.Store
	queue    *execqueue.Queue
	resolve  ProjectResolver
	subs     SubscriptionSource
	bus      bus.Bus
	logger   telemetry.Logger
	now      func() time.Time
}

// New constructs a Coordinator.
func New(store conversation.Store, queue *execqueue.Queue, resolve ProjectResolver, subs SubscriptionSource, b bus.Bus, logger telemetry.Logger) *Coordinator {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Coordinator{store: store, queue: queue, resolve: resolve, subs: subs, bus: b, logger: logger, now: time.Now}
}

// Recover executes the 6-step startup sequence from spec.md §4.10. wake is
// invoked per re-established subscription to hand its channel to an ingress
// loop; callers typically pass ingress.Ingress.Run wrapped in a goroutine.
func (c *Coordinator) Recover(ctx context.Context, wake func(sub Subscription, events <-chan conversation.Event)) (Report, error) {
	var report Report

	conversations, err := c.store.LoadAll(ctx)
	if err != nil {
		return report, err
	}
	report.ConversationsLoaded = len(conversations)

	live := make(map[string]bool, len(conversations))
	for _, conv := range conversations {
		if c.resolve != nil {
			if project, ok := c.resolve(conv); ok {
				live[project] = true
			}
		}
		if err := c.store.SetExecutionActive(ctx, conv.ID, false); err != nil {
			c.logger.Warn(ctx, "recovery: failed to reset execution timer", "conversation_id", string(conv.ID), "error", err.Error())
		}
	}

	if c.queue != nil {
		projects, err := c.queue.Projects(ctx)
		if err != nil {
			c.logger.Warn(ctx, "recovery: failed to list execution queue projects", "error", err.Error())
		}
		for _, project := range projects {
			released, dropped := c.releaseStaleProject(ctx, project, conversations)
			if released {
				report.LocksReleased++
			}
			report.QueueEntriesDropped += dropped
		}
	}

	if c.subs != nil && c.bus != nil {
		subs, err := c.subs(ctx)
		if err != nil {
			return report, err
		}
		for _, sub := range subs {
			events, err := c.bus.Subscribe(ctx, sub.Filter)
			if err != nil {
				c.logger.Warn(ctx, "recovery: resubscribe failed", "project", sub.Project, "error", err.Error())
				continue
			}
			report.Resubscriptions++
			if wake != nil {
				wake(sub, events)
			}
		}
	}

	return report, nil
}

// releaseStaleProject releases project's execution lock if its holder
// conversation no longer exists or its duration has elapsed, and drops any
// queue entry whose conversation no longer exists (spec.md §4.10 steps 2-3).
func (c *Coordinator) releaseStaleProject(ctx context.Context, project string, conversations []*conversation.Conversation) (released bool, dropped int) {
	lock, queue, err := c.queue.Status(ctx, project)
	if err != nil {
		c.logger.Warn(ctx, "recovery: failed to read queue status", "project", project, "error", err.Error())
		return false, 0
	}

	existing := make(map[conversation.ID]bool, len(conversations))
	for _, conv := range conversations {
		existing[conv.ID] = true
	}

	if lock != nil && (!existing[lock.ConversationID] || lock.Expired(c.now())) {
		if err := c.queue.ForceRelease(ctx, project, lock.ConversationID, "recovery: holder missing or lock expired"); err != nil {
			c.logger.Warn(ctx, "recovery: force release failed", "project", project, "error", err.Error())
		} else {
			released = true
		}
	}

	for _, entry := range queue {
		if existing[entry.ConversationID] {
			continue
		}
		if err := c.queue.Remove(ctx, project, entry.ConversationID); err != nil {
			c.logger.Warn(ctx, "recovery: failed to drop stale queue entry", "project", project, "conversation_id", string(entry.ConversationID), "error", err.Error())
			continue
		}
		dropped++
	}

	return released, dropped
}
