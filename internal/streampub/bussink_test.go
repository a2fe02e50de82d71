package streampub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/tenex-chat/tenex-kernel/internal/bus"
	"github.com/tenex-chat/tenex-kernel/internal/conversation"
)

type fakeBus struct {
	published []conversation.Event
	publishErr error
}

func (b *fakeBus) Subscribe(ctx context.Context, filter bus.Filter) (<-chan conversation.Event, error) {
	ch := make(chan conversation.Event)
	close(ch)
	return ch, nil
}

func (b *fakeBus) Publish(ctx context.Context, event conversation.Event) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, event)
	return nil
}

func TestBusSinkPublishPartialCarriesConversationAndSeqTags(t *testing.T) {
	fb := &fakeBus{}
	sink := NewBusSink(fb)

	err := sink.PublishPartial(context.Background(), Partial{
		ConversationID: "conv-1",
		Agent:          "planner",
		Seq:            3,
		Delta:          "hello",
	})
	require.NoError(t, err)
	require.Len(t, fb.published, 1)

	ev := fb.published[0]
	require.Equal(t, KindPartial, ev.Kind)
	require.Equal(t, "hello", ev.Content)
	require.Equal(t, "planner", ev.AuthorKey)

	convID, ok := ev.TagValue("e")
	require.True(t, ok)
	require.Equal(t, "conv-1", convID)

	seq, ok := ev.TagValue("seq")
	require.True(t, ok)
	require.Equal(t, "3", seq)
}

func TestBusSinkPublishFinalEncodesMetadataTag(t *testing.T) {
	fb := &fakeBus{}
	sink := NewBusSink(fb)

	err := sink.PublishFinal(context.Background(), Final{
		ConversationID: "conv-1",
		Agent:          "planner",
		Content:        "done",
		Metadata:       map[string]any{"tokens": float64(42)},
	})
	require.NoError(t, err)
	require.Len(t, fb.published, 1)

	ev := fb.published[0]
	require.Equal(t, KindFinal, ev.Kind)
	require.Equal(t, "done", ev.Content)

	meta, ok := ev.TagValue("metadata")
	require.True(t, ok)
	require.Contains(t, meta, "tokens")
}

func TestBusSinkPublishTypingMarksActiveFlag(t *testing.T) {
	fb := &fakeBus{}
	sink := NewBusSink(fb)

	require.NoError(t, sink.PublishTyping(context.Background(), Typing{
		ConversationID: "conv-1",
		Agent:          "planner",
		Label:          "thinking",
		Active:         true,
	}))
	active, ok := fb.published[0].TagValue("active")
	require.True(t, ok)
	require.Equal(t, "1", active)

	require.NoError(t, sink.PublishTyping(context.Background(), Typing{
		ConversationID: "conv-1",
		Agent:          "planner",
		Active:         false,
	}))
	active, ok = fb.published[1].TagValue("active")
	require.True(t, ok)
	require.Equal(t, "0", active)
}

func TestBusSinkPublishPropagatesBusError(t *testing.T) {
	fb := &fakeBus{publishErr: errors.New("relay down")}
	sink := NewBusSink(fb)

	err := sink.PublishFinal(context.Background(), Final{ConversationID: "conv-1", Agent: "planner", Content: "x"})
	require.Error(t, err)
}

func TestBusSinkLimiterRejectsBurstBeyondContextDeadline(t *testing.T) {
	fb := &fakeBus{}
	sink := NewBusSink(fb)
	sink.SetLimiter(rate.NewLimiter(rate.Every(time.Hour), 1))

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	require.NoError(t, sink.PublishPartial(context.Background(), Partial{ConversationID: "conv-1", Agent: "planner", Delta: "a"}))
	err := sink.PublishPartial(ctx, Partial{ConversationID: "conv-1", Agent: "planner", Delta: "b"})
	require.Error(t, err)
}
