package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tenex-chat/tenex-kernel/internal/conversation"
)

func TestWithMethodsRefineWithoutMutatingParent(t *testing.T) {
	root := New(conversation.ID("c1"))
	phased := root.WithPhase(conversation.PhaseExecute)

	require.Equal(t, conversation.Phase(""), root.Phase)
	require.Equal(t, conversation.PhaseExecute, phased.Phase)

	turned := phased.WithTurn("t1").WithAgent("executor").WithTool("call-1")
	require.Equal(t, conversation.Phase(""), root.Phase)
	require.Empty(t, phased.TurnID)
	require.Equal(t, "t1", turned.TurnID)
	require.Equal(t, "executor", turned.AgentID)
	require.Equal(t, "call-1", turned.ToolCallID)
}

func TestFieldsOmitsUnsetSegments(t *testing.T) {
	root := New(conversation.ID("c1"))
	require.Equal(t, []any{"conversation_id", "c1"}, root.Fields())

	full := root.WithPhase(conversation.PhaseExecute).WithTurn("t1").WithAgent("executor").WithTool("call-1")
	require.Equal(t, []any{
		"conversation_id", "c1",
		"phase", "execute",
		"turn_id", "t1",
		"agent_id", "executor",
		"tool_call_id", "call-1",
	}, full.Fields())
}

func TestIntoAndFromContextRoundTrip(t *testing.T) {
	c := New(conversation.ID("c1")).WithPhase(conversation.PhaseExecute)
	ctx := c.Into(context.Background())
	require.Equal(t, c, FromContext(ctx))
	require.Equal(t, Context{}, FromContext(context.Background()))
}
