// Package termination implements the TerminationEnforcer: the decision table
// that governs what happens at the end of an agent's turn depending on
// whether it emitted the required termination tool call (spec.md §4.8).
package termination

import (
	"context"

	"github.com/tenex-chat/tenex-kernel/internal/conversation"
	"github.com/tenex-chat/tenex-kernel/internal/hooks"
	"github.com/tenex-chat/tenex-kernel/internal/kernelerrors"
	"github.com/tenex-chat/tenex-kernel/internal/reminder"
	"github.com/tenex-chat/tenex-kernel/internal/telemetry"
)

// MaxAttempts is the attempt at which the enforcer auto-completes an
// unterminated turn; earlier attempts are retried, so attempt 1 retries and
// attempt 2 auto-completes (spec.md §4.8 decision table).
const MaxAttempts = 2

// Action is the outcome of evaluating one turn end against the decision
// table.
type Action int

const (
	// ActionFinalize means the turn ended properly terminated; finalize and
	// yield to the orchestrator.
	ActionFinalize Action = iota
	// ActionSoftComplete means the phase requires no explicit termination
	// (Chat/Brainstorm); finalize as a soft completion.
	ActionSoftComplete
	// ActionRetry means re-open the stream for another attempt. Apply
	// registers a missing-termination reminder in its reminder.Engine; the
	// retried request does not include that reminder.
	ActionRetry
	// ActionAutoComplete means synthesize a completion from accumulated
	// content after exhausting retries.
	ActionAutoComplete
	// ActionAwaitOperator means the orchestrator itself failed to terminate
	// after retries; the conversation needs operator intervention.
	ActionAwaitOperator
)

// requiresTermination reports whether phase requires an explicit complete
// (or end_conversation) call to close a turn (spec.md §4.8).
func requiresTermination(phase conversation.Phase) bool {
	return phase != conversation.PhaseChat && phase != conversation.PhaseBrainstorm
}

// Enforcer applies the termination decision table and drives the resulting
// conversation-store and bus side effects.
type Enforcer struct {
	store     conversation.Store
	reminders *reminder.Engine
	bus       hooks.Bus
	logger    telemetry.Logger
}

// New constructs an Enforcer.
func New(store conversation.Store, reminders *reminder.Engine, bus hooks.Bus, logger telemetry.Logger) *Enforcer {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Enforcer{store: store, reminders: reminders, bus: bus, logger: logger}
}

// Decide evaluates the decision table for one agent's turn end. attempt is
// the 1-based retry count for this agent within the current orchestrator
// turn; isOrchestrator marks orchestrator-level termination (end_conversation
// instead of complete), which is never auto-completed.
func Decide(phase conversation.Phase, terminated bool, attempt int, isOrchestrator bool) Action {
	if terminated {
		return ActionFinalize
	}
	if !requiresTermination(phase) {
		return ActionSoftComplete
	}
	if attempt < MaxAttempts {
		return ActionRetry
	}
	if isOrchestrator {
		return ActionAwaitOperator
	}
	return ActionAutoComplete
}

// Apply runs Decide and performs the corresponding store/bus side effects:
// recording a completion for finalize/soft-complete/auto-complete, or
// preparing a retry reminder. It returns the Action taken so the caller
// (AgentRuntime) knows whether to re-invoke the agent.
func (e *Enforcer) Apply(ctx context.Context, id conversation.ID, turnID string, agent conversation.AgentID, phase conversation.Phase, terminated bool, attempt int, accumulated string, isOrchestrator bool) (Action, error) {
	action := Decide(phase, terminated, attempt, isOrchestrator)

	switch action {
	case ActionFinalize, ActionSoftComplete:
		return action, e.store.AddCompletion(ctx, id, turnID, conversation.Completion{
			AgentID: agent,
			Summary: accumulated,
		})

	case ActionRetry:
		if e.reminders != nil {
			e.reminders.AddReminder(id, reminder.MissingTermination(phase))
		}
		return action, nil

	case ActionAutoComplete:
		e.logger.Warn(ctx, "auto-completing turn after exhausting termination retries",
			"conversation_id", string(id), "turn_id", turnID, "agent", string(agent), "phase", string(phase))
		if err := e.store.AddCompletion(ctx, id, turnID, conversation.Completion{
			AgentID:  agent,
			Summary:  accumulated,
			Metadata: map[string]any{"auto_completed": true},
		}); err != nil {
			return action, err
		}
		if e.bus != nil {
			_ = e.bus.Publish(ctx, hooks.NewLessonCandidateEvent(id, agent, "auto-completed after missing termination"))
		}
		return action, nil

	case ActionAwaitOperator:
		e.logger.Error(ctx, "orchestrator failed to terminate after retries, awaiting operator",
			"conversation_id", string(id), "turn_id", turnID)
		return action, kernelerrors.Newf(kernelerrors.KindExecution, "orchestrator turn %q awaiting operator intervention", turnID)

	default:
		return action, kernelerrors.Newf(kernelerrors.KindExecution, "unhandled termination action %d", action)
	}
}
