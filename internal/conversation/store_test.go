package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakePersister struct {
	mu      sync.Mutex
	saved   map[ID]*Conversation
	loadErr error
	saveErr int // number of remaining SaveConversation calls to fail
}

func newFakePersister() *fakePersister {
	return &fakePersister{saved: make(map[ID]*Conversation)}
}

func (f *fakePersister) SaveConversation(_ context.Context, c *Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr > 0 {
		f.saveErr--
		return errors.New("save failed")
	}
	f.saved[c.ID] = c
	return nil
}

func (f *fakePersister) LoadAllConversations(context.Context) ([]*Conversation, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Conversation, 0, len(f.saved))
	for _, c := range f.saved {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (f *fakePersister) DeleteConversation(_ context.Context, id ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, id)
	return nil
}

func TestCreateIsIdempotentForSameID(t *testing.T) {
	store := New(newFakePersister())
	ctx := context.Background()
	first, err := store.Create(ctx, "c1", Event{ID: "e0", AuthorKey: "user"})
	require.NoError(t, err)
	second, err := store.Create(ctx, "c1", Event{ID: "different-seed", AuthorKey: "user"})
	require.NoError(t, err)
	require.Equal(t, first.History[0].ID, second.History[0].ID)
}

func TestAppendEventGrowsHistoryWithStableIndices(t *testing.T) {
	store := New(newFakePersister())
	ctx := context.Background()
	_, err := store.Create(ctx, "c1", Event{ID: "e0", AuthorKey: "user"})
	require.NoError(t, err)

	idx, err := store.AppendEvent(ctx, "c1", Event{ID: "e1", AuthorKey: "executor"})
	require.NoError(t, err)
	require.Equal(t, 1, idx)

	conv, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, conv.History, 2)
}

func TestAppendEventReopensArchivedConversation(t *testing.T) {
	store := New(newFakePersister())
	ctx := context.Background()
	_, err := store.Create(ctx, "c1", Event{ID: "e0", AuthorKey: "user"})
	require.NoError(t, err)
	require.NoError(t, store.Archive(ctx, "c1"))

	conv, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	require.True(t, conv.Archived)

	_, err = store.AppendEvent(ctx, "c1", Event{ID: "e1", AuthorKey: "user"})
	require.NoError(t, err)

	conv, err = store.Get(ctx, "c1")
	require.NoError(t, err)
	require.False(t, conv.Archived)
}

func TestUpdateCursorRejectsOutOfRangeIndex(t *testing.T) {
	store := New(newFakePersister())
	ctx := context.Background()
	_, err := store.Create(ctx, "c1", Event{ID: "e0", AuthorKey: "user"})
	require.NoError(t, err)

	err = store.UpdateCursor(ctx, "c1", "executor", AgentCursor{LastSeenIndex: 5})
	require.Error(t, err)
}

func TestAddCompletionFailsForUnknownTurn(t *testing.T) {
	store := New(newFakePersister())
	ctx := context.Background()
	_, err := store.Create(ctx, "c1", Event{ID: "e0", AuthorKey: "user"})
	require.NoError(t, err)

	err = store.AddCompletion(ctx, "c1", "ghost-turn", Completion{AgentID: "executor"})
	require.Error(t, err)
}

func TestAddCompletionRejectsAlreadyCompletedTurn(t *testing.T) {
	store := New(newFakePersister())
	ctx := context.Background()
	_, err := store.Create(ctx, "c1", Event{ID: "e0", AuthorKey: "user"})
	require.NoError(t, err)
	require.NoError(t, store.StartTurn(ctx, "c1", OrchestratorTurn{TurnID: "t1", TargetAgents: []AgentID{"executor"}}))
	require.NoError(t, store.AddCompletion(ctx, "c1", "t1", Completion{AgentID: "executor"}))

	err = store.AddCompletion(ctx, "c1", "t1", Completion{AgentID: "executor"})
	require.Error(t, err)
}

func TestLoadAllResetsExecutionActive(t *testing.T) {
	persist := newFakePersister()
	store := New(persist)
	ctx := context.Background()
	_, err := store.Create(ctx, "c1", Event{ID: "e0", AuthorKey: "user"})
	require.NoError(t, err)
	require.NoError(t, store.SetExecutionActive(ctx, "c1", true))
	require.NoError(t, store.Save(ctx, "c1"))

	fresh := New(persist)
	loaded, err := fresh.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.False(t, loaded[0].ExecutionTime.Active)
}

func TestIndexSortsByMostRecentlyUpdated(t *testing.T) {
	clock := time.Unix(1, 0)
	store := New(newFakePersister(), WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	_, err := store.Create(ctx, "old", Event{ID: "e0", AuthorKey: "user"})
	require.NoError(t, err)

	clock = time.Unix(2, 0)
	_, err = store.Create(ctx, "new", Event{ID: "e0", AuthorKey: "user"})
	require.NoError(t, err)

	entries, err := store.Index(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, ID("new"), entries[0].ID)
	require.Equal(t, ID("old"), entries[1].ID)
}

func TestSaveRetriesOnceThenSucceeds(t *testing.T) {
	persist := newFakePersister()
	persist.saveErr = 1
	store := New(persist)
	ctx := context.Background()
	_, err := store.Create(ctx, "c1", Event{ID: "e0", AuthorKey: "user"})
	require.NoError(t, err)

	err = store.Save(ctx, "c1")
	require.NoError(t, err)
	require.Contains(t, persist.saved, ID("c1"))
}

func TestSaveFailsAfterExhaustingRetry(t *testing.T) {
	persist := newFakePersister()
	persist.saveErr = 2
	store := New(persist)
	ctx := context.Background()
	_, err := store.Create(ctx, "c1", Event{ID: "e0", AuthorKey: "user"})
	require.NoError(t, err)

	err = store.Save(ctx, "c1")
	require.Error(t, err)
}
