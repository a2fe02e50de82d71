package execqueue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tenex-chat/tenex-kernel/internal/conversation"
)

func TestRequestExecuteGrantsWhenUncontended(t *testing.T) {
	q := New(NewMemStore(), nil)
	grant, err := q.RequestExecuteFor(context.Background(), "proj", "c1", "agent-a")
	require.NoError(t, err)
	require.True(t, grant.Granted)
}

func TestRequestExecuteQueuesSecondContender(t *testing.T) {
	q := New(NewMemStore(), nil)
	_, err := q.RequestExecuteFor(context.Background(), "proj", "c1", "agent-a")
	require.NoError(t, err)

	grant, err := q.RequestExecuteFor(context.Background(), "proj", "c2", "agent-b")
	require.NoError(t, err)
	require.False(t, grant.Granted)
	require.Equal(t, 1, grant.Position)
}

func TestReleaseExecutePromotesQueueHead(t *testing.T) {
	q := New(NewMemStore(), nil)
	ctx := context.Background()
	_, err := q.RequestExecuteFor(ctx, "proj", "c1", "agent-a")
	require.NoError(t, err)
	_, err = q.RequestExecuteFor(ctx, "proj", "c2", "agent-b")
	require.NoError(t, err)

	require.NoError(t, q.ReleaseExecute(ctx, "proj", "c1"))

	lock, queue, err := q.Status(ctx, "proj")
	require.NoError(t, err)
	require.NotNil(t, lock)
	require.Equal(t, conversation.ID("c2"), lock.ConversationID)
	require.Empty(t, queue)
}

func TestReleaseExecuteRejectsNonHolder(t *testing.T) {
	q := New(NewMemStore(), nil)
	ctx := context.Background()
	_, err := q.RequestExecuteFor(ctx, "proj", "c1", "agent-a")
	require.NoError(t, err)

	err = q.ReleaseExecute(ctx, "proj", "c2")
	require.Error(t, err)
}

func TestForceReleaseClearsLockRegardlessOfHolder(t *testing.T) {
	q := New(NewMemStore(), nil)
	ctx := context.Background()
	_, err := q.RequestExecuteFor(ctx, "proj", "c1", "agent-a")
	require.NoError(t, err)

	require.NoError(t, q.ForceRelease(ctx, "proj", "c1", "operator request"))

	lock, _, err := q.Status(ctx, "proj")
	require.NoError(t, err)
	require.Nil(t, lock)
}

func TestRemoveDropsQueuedEntry(t *testing.T) {
	q := New(NewMemStore(), nil)
	ctx := context.Background()
	_, err := q.RequestExecuteFor(ctx, "proj", "c1", "agent-a")
	require.NoError(t, err)
	_, err = q.RequestExecuteFor(ctx, "proj", "c2", "agent-b")
	require.NoError(t, err)

	require.NoError(t, q.Remove(ctx, "proj", "c2"))

	_, queue, err := q.Status(ctx, "proj")
	require.NoError(t, err)
	require.Empty(t, queue)
}

func TestRemoveFailsForUnqueuedConversation(t *testing.T) {
	q := New(NewMemStore(), nil)
	err := q.Remove(context.Background(), "proj", "ghost")
	require.Error(t, err)
}

func TestProjectsListsEveryTrackedProject(t *testing.T) {
	q := New(NewMemStore(), nil)
	ctx := context.Background()
	_, err := q.RequestExecuteFor(ctx, "proj-a", "c1", "agent-a")
	require.NoError(t, err)
	_, err = q.RequestExecuteFor(ctx, "proj-b", "c2", "agent-b")
	require.NoError(t, err)

	projects, err := q.Projects(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"proj-a", "proj-b"}, projects)
}
