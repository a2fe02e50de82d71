// Package phase implements the PhaseMachine: the fixed transition graph
// governing how a conversation moves between its seven lifecycle phases
// (spec.md §4.9), and the mandatory Execute → Verification → Chores →
// Reflection sequence that the orchestrator cannot shorten.
package phase

import (
	"context"

	"github.com/tenex-chat/tenex-kernel/internal/conversation"
	"github.com/tenex-chat/tenex-kernel/internal/kernelerrors"
	"github.com/tenex-chat/tenex-kernel/internal/telemetry"
)

// graph is the fixed set of legal transitions. A transition not present here
// is rejected with KindPhaseTransition (spec.md §4.9).
var graph = map[conversation.Phase][]conversation.Phase{
	conversation.PhaseChat:         {conversation.PhaseExecute, conversation.PhasePlan, conversation.PhaseBrainstorm},
	conversation.PhaseBrainstorm:   {conversation.PhaseChat, conversation.PhasePlan, conversation.PhaseExecute},
	conversation.PhasePlan:         {conversation.PhaseExecute},
	conversation.PhaseExecute:      {conversation.PhaseVerification, conversation.PhaseChat},
	conversation.PhaseVerification: {conversation.PhaseChores, conversation.PhaseExecute, conversation.PhaseChat},
	conversation.PhaseChores:       {conversation.PhaseReflection},
	conversation.PhaseReflection:   {conversation.PhaseChat},
}

// Legal reports whether to is a permitted successor of from.
func Legal(from, to conversation.Phase) bool {
	for _, candidate := range graph[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// LockAcquirer is the subset of ExecutionQueue the PhaseMachine needs to make
// entering Execute atomic with lock acquisition (spec.md §4.9). It is
// satisfied by execqueue.Queue.
type LockAcquirer interface {
	RequestExecute(ctx context.Context, project string, conversationID conversation.ID) (granted bool, err error)
}

// Machine validates and records phase transitions against a Store.
type Machine struct {
	store  conversation.Store
	locks  LockAcquirer
	logger telemetry.Logger
}

// New constructs a Machine. locks may be nil if the deployment never routes
// through Execute (e.g. a chat-only configuration); attempting to enter
// Execute without one then always fails.
func New(store conversation.Store, locks LockAcquirer, logger telemetry.Logger) *Machine {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Machine{store: store, locks: locks, logger: logger}
}

// Transition moves conversationID from its current phase to `to`, recording
// a PhaseTransition on success. An illegal transition is rejected unless
// initiator is conversation.UserAgent and reason is non-empty — the only
// bypass spec.md invariant 6 permits; no agent identity, including the
// orchestrator's own project-manager fallback, can shorten the mandatory
// post-Execute sequence. Entering Execute additionally requires a granted
// lock: the phase change and the lock acquisition either both happen or
// neither does (spec.md §4.9). Leaving Reflection for Chat clears the
// readFiles metadata.
func (m *Machine) Transition(ctx context.Context, project string, id conversation.ID, to conversation.Phase, initiator conversation.AgentID, reason, summary string) error {
	c, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	from := c.Phase

	if from == to {
		return kernelerrors.Newf(kernelerrors.KindPhaseTransition, "conversation already in phase %q", to)
	}
	legal := Legal(from, to)
	if !legal && (initiator != conversation.UserAgent || reason == "") {
		return kernelerrors.Newf(kernelerrors.KindPhaseTransition, "%s -> %s is not a legal transition", from, to)
	}
	// Only a transition initiated by conversation.UserAgent, carrying an
	// explicit reason, may bypass the graph (spec.md invariant 6: "only
	// explicit user override may bypass"). The orchestrator and every agent
	// identity are rejected above regardless of reason.
	overridden := !legal

	if to == conversation.PhaseExecute {
		if m.locks == nil {
			return kernelerrors.New(kernelerrors.KindLock, "no execution lock authority configured")
		}
		granted, err := m.locks.RequestExecute(ctx, project, id)
		if err != nil {
			return err
		}
		if !granted {
			return kernelerrors.New(kernelerrors.KindLock, "execution lock not granted")
		}
	}

	if overridden {
		m.logger.Warn(ctx, "phase transition override", "conversation_id", string(id), "from", string(from), "to", string(to), "reason", reason)
	}

	if err := m.store.RecordTransition(ctx, id, conversation.PhaseTransition{
		From:      from,
		To:        to,
		Initiator: initiator,
		Reason:    reason,
		Summary:   summary,
	}); err != nil {
		return err
	}

	if to == conversation.PhaseChat && from == conversation.PhaseReflection {
		if err := m.clearReadFiles(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) clearReadFiles(ctx context.Context, id conversation.ID) error {
	c, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, ok := c.Metadata[conversation.MetaReadFiles]; !ok {
		return nil
	}
	return m.store.UpdateMetadata(ctx, id, func(meta map[string]any) {
		delete(meta, conversation.MetaReadFiles)
	})
}
