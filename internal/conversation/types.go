// Package conversation owns the Conversation aggregate: the per-conversation
// event history, phase, agent cursors, orchestrator turns, and phase
// transitions described in spec.md §3. It is the single source of truth for
// "what happened" in a conversation, and the only component permitted to
// mutate that state (§5, single-writer discipline).
package conversation

import "time"

// ID identifies a conversation. Conversations are created implicitly on the
// first event addressed to a previously-unknown ID (spec.md §3 Lifecycle).
type ID string

// Phase is one of the seven coarse lifecycle states a conversation moves
// through. The zero value is not a valid phase; new conversations start in
// PhaseChat.
type Phase string

const (
	PhaseChat         Phase = "chat"
	PhaseBrainstorm   Phase = "brainstorm"
	PhasePlan         Phase = "plan"
	PhaseExecute      Phase = "execute"
	PhaseVerification Phase = "verification"
	PhaseChores       Phase = "chores"
	PhaseReflection   Phase = "reflection"
)

// AgentID identifies a participant: the orchestrator, a planner, an
// executor, a project-manager, or a domain expert.
type AgentID string

// EndSentinel is the special routing target meaning "no further agent should
// run"; it marks the conversation terminal but reopenable (spec.md Open
// Question 1).
const EndSentinel AgentID = "END"

// UserAgent is the initiator identity for a human-issued phase override
// (spec.md invariant 6). It never appears as a routing target; the
// orchestrator and its agents must never pass it as a transition initiator.
const UserAgent AgentID = "user"

// Tag is a single labeled tuple carried by an Event, mirroring the
// e/E/d-style tag vocabulary of the underlying signed-event transport (the
// Bus capability, §6.1).
type Tag struct {
	Label  string
	Values []string
}

// Event is an externally signed, immutable record once appended to a
// conversation's history. The kernel never mutates an Event after append
// (invariant 1).
type Event struct {
	ID        string
	AuthorKey string
	Kind      int
	Content   string
	Tags      []Tag
	CreatedAt time.Time
}

// TagValue returns the first value of the tag with the given label, or ""
// if absent. Used to resolve e/E/d references into a ConversationID.
func (e Event) TagValue(label string) (string, bool) {
	for _, t := range e.Tags {
		if t.Label == label && len(t.Values) > 0 {
			return t.Values[0], true
		}
	}
	return "", false
}

// AgentCursor is the single source of truth for "what an agent has seen".
// Events with index >= LastSeenIndex are unseen on the agent's next
// invocation (invariant 2: 0 <= LastSeenIndex <= len(history)).
type AgentCursor struct {
	LastSeenIndex uint64
	SessionToken  string
}

// Completion records one agent's contribution to an OrchestratorTurn.
type Completion struct {
	AgentID  AgentID
	Summary  string
	Metadata map[string]any
	At       time.Time
}

// OrchestratorTurn is one routing decision and its fan-out of agent
// invocations. A turn with Completed == true is immutable (invariant 5).
type OrchestratorTurn struct {
	TurnID      string
	StartedAt   time.Time
	Phase       Phase
	TargetAgents []AgentID
	Reason      string
	Completions []Completion
	Failed      map[AgentID]bool
	Completed   bool
}

// recomputeCompleted applies invariant 6: a turn is completed iff every
// target agent has either contributed a completion or been marked failed.
func (t *OrchestratorTurn) recomputeCompleted() {
	if t.Completed {
		return // immutable once closed (invariant 5)
	}
	done := make(map[AgentID]bool, len(t.Completions))
	for _, c := range t.Completions {
		done[c.AgentID] = true
	}
	for _, a := range t.TargetAgents {
		if done[a] {
			continue
		}
		if t.Failed != nil && t.Failed[a] {
			continue
		}
		return
	}
	t.Completed = true
}

// PhaseTransition records one edge in the conversation's phase history.
type PhaseTransition struct {
	From      Phase
	To        Phase
	Initiator AgentID
	Reason    string
	Summary   string
	At        time.Time
}

// ExecutionTime tracks wall-clock time spent in the Execute phase. Active is
// always reset to false on kernel start (RecoveryCoordinator, §4.10).
type ExecutionTime struct {
	TotalSeconds float64
	SessionStart *time.Time
	Active       bool
}

// Conversation is the aggregate root described in spec.md §3.
type Conversation struct {
	ID                ID
	Phase             Phase
	History           []Event
	AgentCursors      map[AgentID]AgentCursor
	OrchestratorTurns []OrchestratorTurn
	PhaseTransitions  []PhaseTransition
	ExecutionTime     ExecutionTime
	Metadata          map[string]any
	Archived          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Well-known metadata keys (spec.md §3).
const (
	MetaTitle             = "title"
	MetaReferencedArticle = "referencedArticle"
	MetaVoiceMode         = "voiceMode"
	MetaReadFiles         = "readFiles"
	// MetaTerminal marks a conversation routed to EndSentinel: terminal but
	// reopenable by the next inbound event (spec.md Open Question 1).
	MetaTerminal = "terminal"
)

// newConversation constructs an empty conversation seeded by its first event.
func newConversation(id ID, now time.Time) *Conversation {
	return &Conversation{
		ID:           id,
		Phase:        PhaseChat,
		AgentCursors: make(map[AgentID]AgentCursor),
		Metadata:     make(map[string]any),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Cursor returns the agent's cursor, creating a lazy zero-value cursor on
// first touch per the Lifecycle contract in spec.md §3.
func (c *Conversation) Cursor(agent AgentID) AgentCursor {
	if cur, ok := c.AgentCursors[agent]; ok {
		return cur
	}
	return AgentCursor{}
}

// Unseen returns the slice of history events the agent has not yet observed.
func (c *Conversation) Unseen(agent AgentID) []Event {
	cur := c.Cursor(agent)
	if cur.LastSeenIndex >= uint64(len(c.History)) {
		return nil
	}
	return c.History[cur.LastSeenIndex:]
}

// Turn returns the orchestrator turn with the given ID, if present.
func (c *Conversation) Turn(turnID string) (*OrchestratorTurn, bool) {
	for i := range c.OrchestratorTurns {
		if c.OrchestratorTurns[i].TurnID == turnID {
			return &c.OrchestratorTurns[i], true
		}
	}
	return nil, false
}

// Clone performs a deep copy sufficient for snapshot comparisons (used by the
// save/load round-trip test) and for handing a conversation out of the store
// without letting callers mutate internal state directly.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.History = append([]Event(nil), c.History...)
	out.AgentCursors = make(map[AgentID]AgentCursor, len(c.AgentCursors))
	for k, v := range c.AgentCursors {
		out.AgentCursors[k] = v
	}
	out.OrchestratorTurns = make([]OrchestratorTurn, len(c.OrchestratorTurns))
	for i, t := range c.OrchestratorTurns {
		t.TargetAgents = append([]AgentID(nil), t.TargetAgents...)
		t.Completions = append([]Completion(nil), t.Completions...)
		if t.Failed != nil {
			failed := make(map[AgentID]bool, len(t.Failed))
			for k, v := range t.Failed {
				failed[k] = v
			}
			t.Failed = failed
		}
		out.OrchestratorTurns[i] = t
	}
	out.PhaseTransitions = append([]PhaseTransition(nil), c.PhaseTransitions...)
	out.Metadata = make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		out.Metadata[k] = v
	}
	return &out
}
