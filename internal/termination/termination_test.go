package termination

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tenex-chat/tenex-kernel/internal/conversation"
	"github.com/tenex-chat/tenex-kernel/internal/hooks"
	"github.com/tenex-chat/tenex-kernel/internal/reminder"
)

type memPersister struct{}

func (memPersister) SaveConversation(context.Context, *conversation.Conversation) error { return nil }
func (memPersister) LoadAllConversations(context.Context) ([]*conversation.Conversation, error) {
	return nil, nil
}
func (memPersister) DeleteConversation(context.Context, conversation.ID) error { return nil }

func TestDecideFinalizesWhenTerminated(t *testing.T) {
	require.Equal(t, ActionFinalize, Decide(conversation.PhaseExecute, true, 1, false))
}

func TestDecideSoftCompletesChatAndBrainstormRegardless(t *testing.T) {
	require.Equal(t, ActionSoftComplete, Decide(conversation.PhaseChat, false, 5, false))
	require.Equal(t, ActionSoftComplete, Decide(conversation.PhaseBrainstorm, false, 5, false))
}

func TestDecideRetriesWithinBudget(t *testing.T) {
	require.Equal(t, ActionRetry, Decide(conversation.PhaseExecute, false, 0, false))
	require.Equal(t, ActionRetry, Decide(conversation.PhaseExecute, false, MaxAttempts-1, false))
}

func TestDecideAutoCompletesAfterExhaustingRetries(t *testing.T) {
	require.Equal(t, ActionAutoComplete, Decide(conversation.PhaseExecute, false, MaxAttempts, false))
}

func TestDecideAwaitsOperatorForOrchestrator(t *testing.T) {
	require.Equal(t, ActionAwaitOperator, Decide(conversation.PhaseExecute, false, MaxAttempts, true))
}

func setupTurn(t *testing.T) (conversation.Store, conversation.ID, string) {
	t.Helper()
	store := conversation.New(memPersister{})
	ctx := context.Background()
	id := conversation.ID("c1")
	_, err := store.Create(ctx, id, conversation.Event{ID: "e1", AuthorKey: "user", CreatedAt: time.Now()})
	require.NoError(t, err)
	turnID := "turn1"
	require.NoError(t, store.StartTurn(ctx, id, conversation.OrchestratorTurn{TurnID: turnID, Phase: conversation.PhaseExecute, TargetAgents: []conversation.AgentID{"executor"}}))
	return store, id, turnID
}

func TestApplyFinalizeRecordsCompletion(t *testing.T) {
	store, id, turnID := setupTurn(t)
	e := New(store, nil, nil, nil)

	action, err := e.Apply(context.Background(), id, turnID, "executor", conversation.PhaseExecute, true, 1, "done", false)
	require.NoError(t, err)
	require.Equal(t, ActionFinalize, action)

	conv, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	turn, ok := conv.Turn(turnID)
	require.True(t, ok)
	require.True(t, turn.Completed)
}

func TestApplyRetryQueuesReminder(t *testing.T) {
	store, id, turnID := setupTurn(t)
	reminders := reminder.NewEngine()
	e := New(store, reminders, nil, nil)

	action, err := e.Apply(context.Background(), id, turnID, "executor", conversation.PhaseExecute, false, 0, "", false)
	require.NoError(t, err)
	require.Equal(t, ActionRetry, action)
	require.Len(t, reminders.Snapshot(id), 1)
}

func TestApplyAutoCompletePublishesLessonCandidate(t *testing.T) {
	store, id, turnID := setupTurn(t)
	bus := hooks.NewBus()
	var got hooks.Event
	_, err := bus.Register(hooks.SubscriberFunc(func(_ context.Context, ev hooks.Event) error {
		got = ev
		return nil
	}))
	require.NoError(t, err)
	e := New(store, nil, bus, nil)

	action, err := e.Apply(context.Background(), id, turnID, "executor", conversation.PhaseExecute, false, MaxAttempts, "partial work", false)
	require.NoError(t, err)
	require.Equal(t, ActionAutoComplete, action)
	require.NotNil(t, got)
	require.Equal(t, hooks.LessonCandidate, got.Type())
}

func TestApplyAwaitOperatorReturnsError(t *testing.T) {
	store, id, turnID := setupTurn(t)
	e := New(store, nil, nil, nil)

	_, err := e.Apply(context.Background(), id, turnID, "orchestrator", conversation.PhaseExecute, false, MaxAttempts, "", true)
	require.Error(t, err)
}
