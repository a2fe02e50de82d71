package streampub

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tenex-chat/tenex-kernel/internal/conversation"
)

type recordingSink struct {
	mu       sync.Mutex
	partials []Partial
	finals   []Final
	typings  []Typing
}

func (s *recordingSink) PublishPartial(_ context.Context, p Partial) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partials = append(s.partials, p)
	return nil
}

func (s *recordingSink) PublishFinal(_ context.Context, f Final) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finals = append(s.finals, f)
	return nil
}

func (s *recordingSink) PublishTyping(_ context.Context, ty Typing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typings = append(s.typings, ty)
	return nil
}

func TestWriteFlushesOnSentenceBoundary(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink, conversation.ID("c1"), conversation.AgentID("planner"))

	require.NoError(t, p.Write(context.Background(), "Hello there. "))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.partials, 1)
	require.Equal(t, "Hello there. ", sink.partials[0].Delta)
	require.Equal(t, uint64(1), sink.partials[0].Seq)
}

func TestWriteBuffersUntilBoundary(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink, conversation.ID("c1"), conversation.AgentID("planner"))

	require.NoError(t, p.Write(context.Background(), "partial fragment"))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Empty(t, sink.partials)
}

func TestWriteAfterFinalizeIsRejected(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink, conversation.ID("c1"), conversation.AgentID("planner"))

	require.NoError(t, p.Finalize(context.Background(), "done", nil))
	err := p.Write(context.Background(), "late")
	require.Error(t, err)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink, conversation.ID("c1"), conversation.AgentID("planner"))

	require.NoError(t, p.Finalize(context.Background(), "done", nil))
	require.NoError(t, p.Finalize(context.Background(), "done again", nil))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.finals, 1)
	require.Equal(t, "done", sink.finals[0].Content)
}

func TestStartTypingIsDebounced(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink, conversation.ID("c1"), conversation.AgentID("planner"))

	require.NoError(t, p.StartTyping(context.Background(), "using tool"))
	require.NoError(t, p.StartTyping(context.Background(), "using tool again"))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.typings, 1)
}

func TestStopTypingNoopWithoutStart(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink, conversation.ID("c1"), conversation.AgentID("planner"))

	require.NoError(t, p.StopTyping(context.Background()))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Empty(t, sink.typings)
}

func TestContainsSentenceBoundary(t *testing.T) {
	require.True(t, containsSentenceBoundary("done. "))
	require.True(t, containsSentenceBoundary("really? "))
	require.False(t, containsSentenceBoundary("still going"))
}
