package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTagValueReturnsFirstMatchingValue(t *testing.T) {
	ev := Event{Tags: []Tag{{Label: "e", Values: []string{"root1", "extra"}}}}
	v, ok := ev.TagValue("e")
	require.True(t, ok)
	require.Equal(t, "root1", v)
}

func TestTagValueMissingReturnsFalse(t *testing.T) {
	ev := Event{}
	_, ok := ev.TagValue("e")
	require.False(t, ok)
}

func TestCursorDefaultsToZeroValue(t *testing.T) {
	c := newConversation("c1", time.Now())
	require.Equal(t, AgentCursor{}, c.Cursor("unknown-agent"))
}

func TestUnseenReturnsEventsAfterCursor(t *testing.T) {
	c := newConversation("c1", time.Now())
	c.History = []Event{{ID: "e0"}, {ID: "e1"}, {ID: "e2"}}
	c.AgentCursors["executor"] = AgentCursor{LastSeenIndex: 1}

	unseen := c.Unseen("executor")
	require.Len(t, unseen, 2)
	require.Equal(t, "e1", unseen[0].ID)
}

func TestUnseenEmptyWhenCursorAtEnd(t *testing.T) {
	c := newConversation("c1", time.Now())
	c.History = []Event{{ID: "e0"}}
	c.AgentCursors["executor"] = AgentCursor{LastSeenIndex: 1}
	require.Empty(t, c.Unseen("executor"))
}

func TestTurnFindsByID(t *testing.T) {
	c := newConversation("c1", time.Now())
	c.OrchestratorTurns = []OrchestratorTurn{{TurnID: "t1"}, {TurnID: "t2"}}
	turn, ok := c.Turn("t2")
	require.True(t, ok)
	require.Equal(t, "t2", turn.TurnID)
}

func TestTurnMissingReturnsFalse(t *testing.T) {
	c := newConversation("c1", time.Now())
	_, ok := c.Turn("ghost")
	require.False(t, ok)
}

func TestRecomputeCompletedRequiresEveryTargetAgent(t *testing.T) {
	turn := OrchestratorTurn{TargetAgents: []AgentID{"a", "b"}}
	turn.Completions = append(turn.Completions, Completion{AgentID: "a"})
	turn.recomputeCompleted()
	require.False(t, turn.Completed)

	turn.Failed = map[AgentID]bool{"b": true}
	turn.recomputeCompleted()
	require.True(t, turn.Completed)
}

func TestRecomputeCompletedIsImmutableOnceClosed(t *testing.T) {
	turn := OrchestratorTurn{TargetAgents: []AgentID{"a"}, Completed: true}
	turn.recomputeCompleted()
	require.True(t, turn.Completed)
}

func TestCloneDeepCopiesHistoryAndTurns(t *testing.T) {
	c := newConversation("c1", time.Now())
	c.History = append(c.History, Event{ID: "e0"})
	c.OrchestratorTurns = append(c.OrchestratorTurns, OrchestratorTurn{
		TurnID:       "t1",
		TargetAgents: []AgentID{"executor"},
		Failed:       map[AgentID]bool{"executor": true},
	})
	c.Metadata["title"] = "hello"

	clone := c.Clone()
	clone.History[0].ID = "mutated"
	clone.OrchestratorTurns[0].TargetAgents[0] = "mutated"
	clone.OrchestratorTurns[0].Failed["executor"] = false
	clone.Metadata["title"] = "mutated"

	require.Equal(t, "e0", c.History[0].ID)
	require.Equal(t, AgentID("executor"), c.OrchestratorTurns[0].TargetAgents[0])
	require.True(t, c.OrchestratorTurns[0].Failed["executor"])
	require.Equal(t, "hello", c.Metadata["title"])
}

func TestCloneOfNilReturnsNil(t *testing.T) {
	var c *Conversation
	require.Nil(t, c.Clone())
}
