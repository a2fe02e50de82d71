package agentrt

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tenex-chat/tenex-kernel/internal/conversation"
	"github.com/tenex-chat/tenex-kernel/internal/hooks"
	"github.com/tenex-chat/tenex-kernel/internal/model"
	"github.com/tenex-chat/tenex-kernel/internal/reminder"
	"github.com/tenex-chat/tenex-kernel/internal/streampub"
	"github.com/tenex-chat/tenex-kernel/internal/termination"
	"github.com/tenex-chat/tenex-kernel/internal/tools"
)

type memPersister struct{}

func (memPersister) SaveConversation(context.Context, *conversation.Conversation) error { return nil }
func (memPersister) LoadAllConversations(context.Context) ([]*conversation.Conversation, error) {
	return nil, nil
}
func (memPersister) DeleteConversation(context.Context, conversation.ID) error { return nil }

type scriptedClient struct {
	events [][]model.StreamEvent
	calls  int
}

func (c *scriptedClient) Stream(_ context.Context, _ model.Request) (model.Streamer, error) {
	idx := c.calls
	if idx >= len(c.events) {
		idx = len(c.events) - 1
	}
	c.calls++
	return &scriptedStreamer{events: c.events[idx]}, nil
}

type scriptedStreamer struct {
	events []model.StreamEvent
	pos    int
}

func (s *scriptedStreamer) Recv() (model.StreamEvent, error) {
	if s.pos >= len(s.events) {
		return model.StreamEvent{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *scriptedStreamer) Close() error { return nil }

type fixedToolProvider struct {
	registry *tools.Registry
}

func (p fixedToolProvider) Registry(conversation.AgentID, conversation.Phase) *tools.Registry {
	return p.registry
}

type noopSink struct{}

func (noopSink) PublishPartial(context.Context, streampub.Partial) error { return nil }
func (noopSink) PublishFinal(context.Context, streampub.Final) error     { return nil }
func (noopSink) PublishTyping(context.Context, streampub.Typing) error   { return nil }

func setupConversation(t *testing.T, phase conversation.Phase) (conversation.Store, conversation.ID, string) {
	t.Helper()
	store := conversation.New(memPersister{})
	ctx := context.Background()
	id := conversation.ID("c1")
	_, err := store.Create(ctx, id, conversation.Event{ID: "root", AuthorKey: "user", Kind: 1, Content: "hi", CreatedAt: time.Now()})
	require.NoError(t, err)
	if phase != conversation.PhaseChat {
		require.NoError(t, store.RecordTransition(ctx, id, conversation.PhaseTransition{From: conversation.PhaseChat, To: phase, Initiator: "orchestrator"}))
	}
	turnID := "turn1"
	require.NoError(t, store.StartTurn(ctx, id, conversation.OrchestratorTurn{TurnID: turnID, Phase: phase, TargetAgents: []conversation.AgentID{"executor"}}))
	return store, id, turnID
}

func TestRunFinalizesOnCompleteTool(t *testing.T) {
	store, id, turnID := setupConversation(t, conversation.PhaseExecute)
	registry := tools.NewRegistry(tools.Spec{
		Name: "complete",
		Handle: func(context.Context, json.RawMessage) tools.Result {
			return tools.Ok(json.RawMessage(`{"summary":"did the thing"}`), nil)
		},
	})
	client := &scriptedClient{events: [][]model.StreamEvent{{
		{Kind: model.EventContent, Delta: "working on it. "},
		{Kind: model.EventToolStart, ToolName: "complete", ToolArgs: json.RawMessage(`{}`), CallID: "call-1"},
		{Kind: model.EventDone},
	}}}

	enforcer := termination.New(store, reminder.NewEngine(), hooks.NewBus(), nil)
	rt := New(store, client, fixedToolProvider{registry}, noopSink{}, hooks.NewBus(), reminder.NewEngine(), enforcer, nil)

	trigger := conversation.Event{ID: "trigger", AuthorKey: "user", Content: "go", CreatedAt: time.Now()}
	outcome, err := rt.Run(context.Background(), id, "executor", turnID, trigger, false)
	require.NoError(t, err)
	require.Equal(t, termination.ActionFinalize, outcome.Action)
	require.True(t, outcome.Terminated)
}

func TestRunSoftCompletesInChatPhaseWithoutTermination(t *testing.T) {
	store, id, turnID := setupConversation(t, conversation.PhaseChat)
	registry := tools.NewRegistry()
	client := &scriptedClient{events: [][]model.StreamEvent{{
		{Kind: model.EventContent, Delta: "just chatting. "},
		{Kind: model.EventDone},
	}}}

	enforcer := termination.New(store, reminder.NewEngine(), hooks.NewBus(), nil)
	rt := New(store, client, fixedToolProvider{registry}, noopSink{}, hooks.NewBus(), reminder.NewEngine(), enforcer, nil)

	trigger := conversation.Event{ID: "trigger", AuthorKey: "user", Content: "hi", CreatedAt: time.Now()}
	outcome, err := rt.Run(context.Background(), id, "executor", turnID, trigger, false)
	require.NoError(t, err)
	require.Equal(t, termination.ActionSoftComplete, outcome.Action)
	require.False(t, outcome.Terminated)
}

func TestRunRetriesThenAutoCompletesWithoutTermination(t *testing.T) {
	store, id, turnID := setupConversation(t, conversation.PhaseExecute)
	registry := tools.NewRegistry()
	untermined := []model.StreamEvent{{Kind: model.EventContent, Delta: "still working. "}, {Kind: model.EventDone}}
	client := &scriptedClient{events: [][]model.StreamEvent{untermined, untermined, untermined}}

	enforcer := termination.New(store, reminder.NewEngine(), hooks.NewBus(), nil)
	rt := New(store, client, fixedToolProvider{registry}, noopSink{}, hooks.NewBus(), reminder.NewEngine(), enforcer, nil)

	trigger := conversation.Event{ID: "trigger", AuthorKey: "user", Content: "go", CreatedAt: time.Now()}
	outcome, err := rt.Run(context.Background(), id, "executor", turnID, trigger, false)
	require.NoError(t, err)
	require.Equal(t, termination.ActionAutoComplete, outcome.Action)
	require.Equal(t, 2, client.calls)
}

func TestSummaryFromOutputParsesSummaryField(t *testing.T) {
	require.Equal(t, "done", summaryFromOutput(json.RawMessage(`{"summary":"done"}`)))
	require.Equal(t, "", summaryFromOutput(json.RawMessage(`not json`)))
	require.Equal(t, "", summaryFromOutput(nil))
}

func TestJoinAccumulated(t *testing.T) {
	require.Equal(t, "a", joinAccumulated("", "a"))
	require.Equal(t, "a", joinAccumulated("a", ""))
	require.Equal(t, "a\nb", joinAccumulated("a", "b"))
}
