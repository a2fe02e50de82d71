package hooks

import (
	"time"

	"github.com/tenex-chat/tenex-kernel/internal/conversation"
)

// EventType identifies the concrete shape of a published Event so
// subscribers can filter without a type switch.
type EventType string

const (
	PhaseTransitioned EventType = "phase_transitioned"
	TurnStarted       EventType = "turn_started"
	TurnCompleted     EventType = "turn_completed"
	AgentFailed       EventType = "agent_failed"
	ToolCallExecuted  EventType = "tool_call_executed"
	LockGranted       EventType = "lock_granted"
	LockReleased      EventType = "lock_released"
	LessonCandidate   EventType = "lesson_candidate"
	RoutingDecided    EventType = "routing_decided"
)

// Event is the interface every published kernel event satisfies.
type Event interface {
	Type() EventType
	ConversationID() conversation.ID
	Timestamp() time.Time
}

type baseEvent struct {
	conversationID conversation.ID
	timestamp      time.Time
}

func newBase(id conversation.ID) baseEvent {
	return baseEvent{conversationID: id, timestamp: time.Now()}
}

func (e baseEvent) ConversationID() conversation.ID { return e.conversationID }
func (e baseEvent) Timestamp() time.Time            { return e.timestamp }

// PhaseTransitionedEvent fires when the PhaseMachine records a transition.
type PhaseTransitionedEvent struct {
	baseEvent
	From, To  conversation.Phase
	Initiator conversation.AgentID
	Reason    string
}

func (PhaseTransitionedEvent) Type() EventType { return PhaseTransitioned }

// NewPhaseTransitionedEvent constructs a PhaseTransitionedEvent.
func NewPhaseTransitionedEvent(id conversation.ID, from, to conversation.Phase, initiator conversation.AgentID, reason string) PhaseTransitionedEvent {
	return PhaseTransitionedEvent{baseEvent: newBase(id), From: from, To: to, Initiator: initiator, Reason: reason}
}

// TurnStartedEvent fires when the orchestrator opens a new turn.
type TurnStartedEvent struct {
	baseEvent
	TurnID       string
	TargetAgents []conversation.AgentID
	Reason       string
}

func (TurnStartedEvent) Type() EventType { return TurnStarted }

// NewTurnStartedEvent constructs a TurnStartedEvent.
func NewTurnStartedEvent(id conversation.ID, turnID string, targets []conversation.AgentID, reason string) TurnStartedEvent {
	return TurnStartedEvent{baseEvent: newBase(id), TurnID: turnID, TargetAgents: targets, Reason: reason}
}

// TurnCompletedEvent fires when every target agent of a turn has completed
// or failed (conversation.OrchestratorTurn.Completed transitions to true).
type TurnCompletedEvent struct {
	baseEvent
	TurnID string
}

func (TurnCompletedEvent) Type() EventType { return TurnCompleted }

// NewTurnCompletedEvent constructs a TurnCompletedEvent.
func NewTurnCompletedEvent(id conversation.ID, turnID string) TurnCompletedEvent {
	return TurnCompletedEvent{baseEvent: newBase(id), TurnID: turnID}
}

// AgentFailedEvent describes an agent given up on within a turn. No kernel
// component publishes it; the TerminationEnforcer auto-completes an agent
// that exhausts its retries (spec.md §4.8).
type AgentFailedEvent struct {
	baseEvent
	TurnID string
	Agent  conversation.AgentID
	Reason string
}

func (AgentFailedEvent) Type() EventType { return AgentFailed }

// NewAgentFailedEvent constructs an AgentFailedEvent.
func NewAgentFailedEvent(id conversation.ID, turnID string, agent conversation.AgentID, reason string) AgentFailedEvent {
	return AgentFailedEvent{baseEvent: newBase(id), TurnID: turnID, Agent: agent, Reason: reason}
}

// ToolCallExecutedEvent fires after ToolExecutor runs a tool call.
type ToolCallExecutedEvent struct {
	baseEvent
	Agent      conversation.AgentID
	ToolName   string
	ToolCallID string
	DurationMs int64
	Failed     bool
}

func (ToolCallExecutedEvent) Type() EventType { return ToolCallExecuted }

// NewToolCallExecutedEvent constructs a ToolCallExecutedEvent.
func NewToolCallExecutedEvent(id conversation.ID, agent conversation.AgentID, toolName, toolCallID string, durationMs int64, failed bool) ToolCallExecutedEvent {
	return ToolCallExecutedEvent{baseEvent: newBase(id), Agent: agent, ToolName: toolName, ToolCallID: toolCallID, DurationMs: durationMs, Failed: failed}
}

// LockGrantedEvent and LockReleasedEvent fire on ExecutionQueue state changes.
type LockGrantedEvent struct {
	baseEvent
	Project string
}

func (LockGrantedEvent) Type() EventType { return LockGranted }

// NewLockGrantedEvent constructs a LockGrantedEvent.
func NewLockGrantedEvent(id conversation.ID, project string) LockGrantedEvent {
	return LockGrantedEvent{baseEvent: newBase(id), Project: project}
}

type LockReleasedEvent struct {
	baseEvent
	Project string
	Reason  string
}

func (LockReleasedEvent) Type() EventType { return LockReleased }

// NewLockReleasedEvent constructs a LockReleasedEvent.
func NewLockReleasedEvent(id conversation.ID, project, reason string) LockReleasedEvent {
	return LockReleasedEvent{baseEvent: newBase(id), Project: project, Reason: reason}
}

// LessonCandidateEvent fires when the TerminationEnforcer auto-completes an
// agent's turn after a missing termination, in any phase, surfacing a
// candidate lesson for the project's
// learning store (SPEC_FULL.md supplemented feature, grounded on the
// original system's per-project learning log).
type LessonCandidateEvent struct {
	baseEvent
	Agent   conversation.AgentID
	Summary string
}

func (LessonCandidateEvent) Type() EventType { return LessonCandidate }

// NewLessonCandidateEvent constructs a LessonCandidateEvent.
func NewLessonCandidateEvent(id conversation.ID, agent conversation.AgentID, summary string) LessonCandidateEvent {
	return LessonCandidateEvent{baseEvent: newBase(id), Agent: agent, Summary: summary}
}

// RoutingDecidedEvent fires whenever the orchestrator produces a routing
// decision, successful or not, for observability of orchestration behavior.
type RoutingDecidedEvent struct {
	baseEvent
	Agents []conversation.AgentID
	Reason string
}

func (RoutingDecidedEvent) Type() EventType { return RoutingDecided }

// NewRoutingDecidedEvent constructs a RoutingDecidedEvent.
func NewRoutingDecidedEvent(id conversation.ID, agents []conversation.AgentID, reason string) RoutingDecidedEvent {
	return RoutingDecidedEvent{baseEvent: newBase(id), Agents: agents, Reason: reason}
}
