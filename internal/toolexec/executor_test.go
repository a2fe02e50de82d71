package toolexec

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tenex-chat/tenex-kernel/internal/conversation"
	"github.com/tenex-chat/tenex-kernel/internal/hooks"
	"github.com/tenex-chat/tenex-kernel/internal/kernelerrors"
	"github.com/tenex-chat/tenex-kernel/internal/tools"
)

func testEC() ExecutionContext {
	return ExecutionContext{Agent: "planner", ConversationID: "conv1", Phase: conversation.PhaseChat}
}

func TestExecuteRunsHandlerAndPopulatesDuration(t *testing.T) {
	reg := tools.NewRegistry(tools.Spec{
		Name: "echo",
		Handle: func(_ context.Context, args json.RawMessage) tools.Result {
			return tools.Ok(args, nil)
		},
	})
	bus := hooks.NewBus()
	ex := New(reg, bus, nil)

	result := ex.Execute(context.Background(), testEC(), tools.Call{
		ToolName: "echo", Args: json.RawMessage(`{"x":1}`), CallID: "call-1",
	})

	require.Equal(t, tools.ResultOk, result.Kind)
	require.JSONEq(t, `{"x":1}`, string(result.Output))
	require.GreaterOrEqual(t, result.DurationMs, int64(0))
}

func TestExecuteRejectsDuplicateCallID(t *testing.T) {
	reg := tools.NewRegistry(tools.Spec{
		Name:   "echo",
		Handle: func(_ context.Context, args json.RawMessage) tools.Result { return tools.Ok(args, nil) },
	})
	ex := New(reg, nil, nil)
	ctx := context.Background()

	first := ex.Execute(ctx, testEC(), tools.Call{ToolName: "echo", Args: json.RawMessage(`{}`), CallID: "dup"})
	require.Equal(t, tools.ResultOk, first.Kind)

	second := ex.Execute(ctx, testEC(), tools.Call{ToolName: "echo", Args: json.RawMessage(`{}`), CallID: "dup"})
	require.Equal(t, tools.ResultErr, second.Kind)
	require.Equal(t, kernelerrors.KindProtocol, second.ErrKind)
}

func TestExecuteRejectsInvalidArgsWithoutCallingHandler(t *testing.T) {
	called := false
	reg := tools.NewRegistry(tools.Spec{
		Name:        "strict",
		ParamSchema: json.RawMessage(`{"type":"object","required":["path"]}`),
		Handle: func(_ context.Context, args json.RawMessage) tools.Result {
			called = true
			return tools.Ok(args, nil)
		},
	})
	ex := New(reg, nil, nil)

	result := ex.Execute(context.Background(), testEC(), tools.Call{ToolName: "strict", Args: json.RawMessage(`{}`), CallID: "c1"})

	require.Equal(t, tools.ResultErr, result.Kind)
	require.Equal(t, kernelerrors.KindValidation, result.ErrKind)
	require.False(t, called)
}

func TestExecuteUnknownToolIsValidationError(t *testing.T) {
	reg := tools.NewRegistry()
	ex := New(reg, nil, nil)
	result := ex.Execute(context.Background(), testEC(), tools.Call{ToolName: "missing", CallID: "c1"})
	require.Equal(t, tools.ResultErr, result.Kind)
	require.Equal(t, kernelerrors.KindValidation, result.ErrKind)
}

func TestExecuteRecoversHandlerPanic(t *testing.T) {
	reg := tools.NewRegistry(tools.Spec{
		Name: "boom",
		Handle: func(_ context.Context, _ json.RawMessage) tools.Result {
			panic("handler exploded")
		},
	})
	ex := New(reg, nil, nil)

	result := ex.Execute(context.Background(), testEC(), tools.Call{ToolName: "boom", CallID: "c1"})

	require.Equal(t, tools.ResultErr, result.Kind)
	require.Equal(t, kernelerrors.KindExecution, result.ErrKind)
}

func TestExecuteCanReadExecutionContextFromHandler(t *testing.T) {
	var seen ExecutionContext
	reg := tools.NewRegistry(tools.Spec{
		Name: "introspect",
		Handle: func(ctx context.Context, _ json.RawMessage) tools.Result {
			ec, ok := ExecutionContextFrom(ctx)
			require.True(t, ok)
			seen = ec
			return tools.Ok(nil, nil)
		},
	})
	ex := New(reg, nil, nil)

	ex.Execute(context.Background(), testEC(), tools.Call{ToolName: "introspect", CallID: "c1"})

	require.Equal(t, conversation.AgentID("planner"), seen.Agent)
	require.Equal(t, conversation.ID("conv1"), seen.ConversationID)
}

func TestExecutePublishesToolCallExecutedEvent(t *testing.T) {
	reg := tools.NewRegistry(tools.Spec{
		Name:   "echo",
		Handle: func(_ context.Context, args json.RawMessage) tools.Result { return tools.Ok(args, nil) },
	})
	bus := hooks.NewBus()
	var received hooks.Event
	_, err := bus.Register(hooks.SubscriberFunc(func(_ context.Context, e hooks.Event) error {
		received = e
		return nil
	}))
	require.NoError(t, err)

	ex := New(reg, bus, nil)
	ex.Execute(context.Background(), testEC(), tools.Call{ToolName: "echo", CallID: "c1"})

	require.NotNil(t, received)
	require.Equal(t, hooks.ToolCallExecuted, received.Type())
}
