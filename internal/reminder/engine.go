package reminder

import (
	"sort"
	"sync"

	"github.com/tenex-chat/tenex-kernel/internal/conversation"
)

// Engine tracks per-conversation reminder state and enforces per-conversation
// caps and turn-based rate limits. Engines are safe for concurrent use.
type Engine struct {
	mu    sync.RWMutex
	convs map[conversation.ID]*convState
}

type convState struct {
	reminders map[string]*reminderState
	turnSeq   int
}

type reminderState struct {
	reminder Reminder
	emitted  int
	lastTurn int
}

// NewEngine constructs an empty Engine.
func NewEngine() *Engine {
	return &Engine{convs: make(map[conversation.ID]*convState)}
}

// AddReminder registers or replaces a reminder for id, preserving emission
// counters if it already existed so rate limiting carries forward.
func (e *Engine) AddReminder(id conversation.ID, r Reminder) {
	if id == "" || r.ID == "" || r.Text == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cs := e.ensureLocked(id)
	if st, ok := cs.reminders[r.ID]; ok {
		st.reminder = r
		return
	}
	cs.reminders[r.ID] = &reminderState{reminder: r}
}

// RemoveReminder drops a reminder; a no-op if unknown.
func (e *Engine) RemoveReminder(id conversation.ID, reminderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cs, ok := e.convs[id]; ok {
		delete(cs.reminders, reminderID)
	}
}

// Snapshot advances the conversation's turn counter and returns the
// reminders due for emission this turn, sorted safety-first then by ID.
func (e *Engine) Snapshot(id conversation.ID) []Reminder {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.convs[id]
	if !ok || len(cs.reminders) == 0 {
		return nil
	}
	cs.turnSeq++
	turn := cs.turnSeq
	out := make([]Reminder, 0, len(cs.reminders))
	for _, st := range cs.reminders {
		if !shouldEmit(st, turn) {
			continue
		}
		st.emitted++
		st.lastTurn = turn
		out = append(out, st.reminder)
	}
	if len(out) == 0 {
		return nil
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ClearConversation drops all reminder state for id (e.g. on turn closure).
func (e *Engine) ClearConversation(id conversation.ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.convs, id)
}

func (e *Engine) ensureLocked(id conversation.ID) *convState {
	cs, ok := e.convs[id]
	if ok {
		return cs
	}
	cs = &convState{reminders: make(map[string]*reminderState)}
	e.convs[id] = cs
	return cs
}

func shouldEmit(st *reminderState, turn int) bool {
	r := st.reminder
	if r.MaxPerConversation > 0 && st.emitted >= r.MaxPerConversation && r.Priority != TierSafety {
		return false
	}
	if r.MinTurnsBetween > 0 && st.lastTurn > 0 {
		if delta := turn - st.lastTurn; delta >= 0 && delta < r.MinTurnsBetween {
			return false
		}
	}
	return true
}

// MissingTermination builds the standard reminder the TerminationEnforcer
// registers when an agent's
// turn ends without the required complete/end_conversation call (spec.md
// §4.8, attempt 1 of the decision table).
func MissingTermination(phase conversation.Phase) Reminder {
	return Reminder{
		ID:                 "missing_termination",
		Text:               "<system-reminder>You must call complete (or end_conversation if you are the orchestrator) before ending your turn in the " + string(phase) + " phase.</system-reminder>",
		Priority:           TierSafety,
		MinTurnsBetween:    0,
		MaxPerConversation: 0,
	}
}
