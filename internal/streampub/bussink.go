package streampub

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tenex-chat/tenex-kernel/internal/bus"
	"github.com/tenex-chat/tenex-kernel/internal/conversation"
)

// Event kinds used for publisher output. KindTyping matches the ignored
// status kind EventIngress drops on its own author's events (spec.md §4.1);
// KindPartial/KindFinal are ordinary conversation content.
const (
	KindPartial = 1111
	KindFinal   = 1
	KindTyping  = 30080
)

// BusSink adapts a bus.Bus into the streampub.Sink a Publisher writes to,
// encoding Partial/Final/Typing as signed conversation.Events.
type BusSink struct {
	bus     bus.Bus
	limiter *rate.Limiter
}

// NewBusSink wraps b as a Sink with no outbound rate limit.
func NewBusSink(b bus.Bus) *BusSink {
	return &BusSink{bus: b}
}

// SetLimiter throttles every subsequent Publish* call through limiter,
// shared across partials/finals/typing (§B's "throttles outbound publishes"
// requirement, so one burst of content deltas can't starve typing updates
// or vice versa).
func (s *BusSink) SetLimiter(limiter *rate.Limiter) {
	s.limiter = limiter
}

func (s *BusSink) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

func agentTag(agent conversation.AgentID) conversation.Tag {
	return conversation.Tag{Label: "p", Values: []string{string(agent)}}
}

func convTag(id conversation.ID) conversation.Tag {
	return conversation.Tag{Label: "e", Values: []string{string(id)}}
}

func (s *BusSink) PublishPartial(ctx context.Context, p Partial) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	ev := conversation.Event{
		ID:        uuid.NewString(),
		Kind:      KindPartial,
		Content:   p.Delta,
		AuthorKey: string(p.Agent),
		CreatedAt: time.Now(),
		Tags: []conversation.Tag{
			convTag(p.ConversationID),
			agentTag(p.Agent),
			{Label: "seq", Values: []string{strconv.FormatUint(p.Seq, 10)}},
		},
	}
	return s.bus.Publish(ctx, ev)
}

func (s *BusSink) PublishFinal(ctx context.Context, f Final) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	var metaTags []conversation.Tag
	if len(f.Metadata) > 0 {
		if data, err := json.Marshal(f.Metadata); err == nil {
			metaTags = append(metaTags, conversation.Tag{Label: "metadata", Values: []string{string(data)}})
		}
	}
	ev := conversation.Event{
		ID:        uuid.NewString(),
		Kind:      KindFinal,
		Content:   f.Content,
		AuthorKey: string(f.Agent),
		CreatedAt: time.Now(),
		Tags: append([]conversation.Tag{
			convTag(f.ConversationID),
			agentTag(f.Agent),
		}, metaTags...),
	}
	return s.bus.Publish(ctx, ev)
}

func (s *BusSink) PublishTyping(ctx context.Context, t Typing) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	active := "0"
	if t.Active {
		active = "1"
	}
	ev := conversation.Event{
		ID:        uuid.NewString(),
		Kind:      KindTyping,
		Content:   t.Label,
		AuthorKey: string(t.Agent),
		CreatedAt: time.Now(),
		Tags: []conversation.Tag{
			convTag(t.ConversationID),
			agentTag(t.Agent),
			{Label: "active", Values: []string{active}},
		},
	}
	return s.bus.Publish(ctx, ev)
}
