package reminder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tenex-chat/tenex-kernel/internal/conversation"
)

func TestSnapshotReturnsNilForUnknownConversation(t *testing.T) {
	e := NewEngine()
	require.Nil(t, e.Snapshot("ghost"))
}

func TestSnapshotEmitsAddedReminder(t *testing.T) {
	e := NewEngine()
	e.AddReminder("c1", Reminder{ID: "r1", Text: "hi", Priority: TierGuidance})
	out := e.Snapshot("c1")
	require.Len(t, out, 1)
	require.Equal(t, "r1", out[0].ID)
}

func TestSnapshotOrdersBySafetyThenID(t *testing.T) {
	e := NewEngine()
	e.AddReminder("c1", Reminder{ID: "zz", Text: "guidance", Priority: TierGuidance})
	e.AddReminder("c1", Reminder{ID: "aa", Text: "safety", Priority: TierSafety})
	out := e.Snapshot("c1")
	require.Len(t, out, 2)
	require.Equal(t, "aa", out[0].ID)
	require.Equal(t, "zz", out[1].ID)
}

func TestSnapshotRespectsMaxPerConversationExceptSafety(t *testing.T) {
	e := NewEngine()
	e.AddReminder("c1", Reminder{ID: "guidance", Text: "once", Priority: TierGuidance, MaxPerConversation: 1})
	e.AddReminder("c1", Reminder{ID: "safety", Text: "always", Priority: TierSafety, MaxPerConversation: 1})

	first := e.Snapshot("c1")
	require.Len(t, first, 2)

	second := e.Snapshot("c1")
	require.Len(t, second, 1)
	require.Equal(t, "safety", second[0].ID)
}

func TestSnapshotRespectsMinTurnsBetween(t *testing.T) {
	e := NewEngine()
	e.AddReminder("c1", Reminder{ID: "spaced", Text: "wait", Priority: TierGuidance, MinTurnsBetween: 2})

	require.Len(t, e.Snapshot("c1"), 1)
	require.Len(t, e.Snapshot("c1"), 0)
	require.Len(t, e.Snapshot("c1"), 1)
}

func TestRemoveReminderDropsIt(t *testing.T) {
	e := NewEngine()
	e.AddReminder("c1", Reminder{ID: "r1", Text: "hi", Priority: TierGuidance})
	e.RemoveReminder("c1", "r1")
	require.Nil(t, e.Snapshot("c1"))
}

func TestClearConversationDropsAllState(t *testing.T) {
	e := NewEngine()
	e.AddReminder("c1", Reminder{ID: "r1", Text: "hi", Priority: TierGuidance})
	e.ClearConversation("c1")
	require.Nil(t, e.Snapshot("c1"))
}

func TestMissingTerminationMentionsPhase(t *testing.T) {
	r := MissingTermination(conversation.PhaseExecute)
	require.Equal(t, TierSafety, r.Priority)
	require.Contains(t, r.Text, "execute")
}

func TestAddReminderIgnoresIncompleteInput(t *testing.T) {
	e := NewEngine()
	e.AddReminder("", Reminder{ID: "r1", Text: "hi"})
	e.AddReminder("c1", Reminder{ID: "", Text: "hi"})
	e.AddReminder("c1", Reminder{ID: "r1", Text: ""})
	require.Nil(t, e.Snapshot("c1"))
}
