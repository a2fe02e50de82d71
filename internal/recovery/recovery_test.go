package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tenex-chat/tenex-kernel/internal/bus"
	"github.com/tenex-chat/tenex-kernel/internal/conversation"
	"github.com/tenex-chat/tenex-kernel/internal/execqueue"
)

type memPersister struct{}

func (memPersister) SaveConversation(context.Context, *conversation.Conversation) error { return nil }
func (memPersister) LoadAllConversations(context.Context) ([]*conversation.Conversation, error) {
	return nil, nil
}
func (memPersister) DeleteConversation(context.Context, conversation.ID) error { return nil }

type fakeBus struct {
	subscribed []bus.Filter
}

func (f *fakeBus) Subscribe(context.Context, bus.Filter) (<-chan conversation.Event, error) {
	ch := make(chan conversation.Event)
	close(ch)
	return ch, nil
}
func (f *fakeBus) Publish(context.Context, conversation.Event) error { return nil }

func TestRecoverResetsExecutionActiveOnEveryConversation(t *testing.T) {
	ctx := context.Background()
	store := conversation.New(memPersister{})
	_, err := store.Create(ctx, "c1", conversation.Event{ID: "e1", AuthorKey: "user", CreatedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, store.SetExecutionActive(ctx, "c1", true))

	coord := New(store, nil, nil, nil, nil, nil)
	report, err := coord.Recover(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.ConversationsLoaded)

	conv, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	require.False(t, conv.ExecutionTime.Active)
}

func TestRecoverDropsQueueEntriesForMissingConversations(t *testing.T) {
	ctx := context.Background()
	store := conversation.New(memPersister{})
	_, err := store.Create(ctx, "live", conversation.Event{ID: "e1", AuthorKey: "user", CreatedAt: time.Now()})
	require.NoError(t, err)

	qstore := execqueue.NewMemStore()
	queue := execqueue.New(qstore, nil)
	_, err = queue.RequestExecuteFor(ctx, "proj", "live", "agent-a")
	require.NoError(t, err)
	_, err = queue.RequestExecuteFor(ctx, "proj", "gone", "agent-b")
	require.NoError(t, err)

	coord := New(store, queue, nil, nil, nil, nil)
	report, err := coord.Recover(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.QueueEntriesDropped)

	_, waiting, err := queue.Status(ctx, "proj")
	require.NoError(t, err)
	for _, e := range waiting {
		require.NotEqual(t, conversation.ID("gone"), e.ConversationID)
	}
}

func TestRecoverResubscribesAndWakes(t *testing.T) {
	ctx := context.Background()
	store := conversation.New(memPersister{})

	subs := func(context.Context) ([]Subscription, error) {
		return []Subscription{{Project: "proj", Filter: bus.Filter{}}}, nil
	}

	var woke []Subscription
	coord := New(store, nil, nil, subs, &fakeBus{}, nil)
	report, err := coord.Recover(ctx, func(sub Subscription, _ <-chan conversation.Event) {
		woke = append(woke, sub)
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.Resubscriptions)
	require.Len(t, woke, 1)
	require.Equal(t, "proj", woke[0].Project)
}
