package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/tenex-chat/tenex-kernel/internal/model"
)

// streamer adapts an Anthropic Messages SSE stream into model.Streamer,
// translating content-block and usage events into the kernel's StreamEvent
// tagged union.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]
	nameMap map[string]string

	events chan model.StreamEvent

	toolIndex map[int64]string // content block index -> call id
	toolName  map[int64]string // content block index -> canonical tool name
	toolArgs  map[int64][]byte // content block index -> accumulated json args

	mu     sync.Mutex
	closed bool
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], nameMap map[string]string) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		ctx:       cctx,
		cancel:    cancel,
		stream:    stream,
		nameMap:   nameMap,
		events:    make(chan model.StreamEvent, 32),
		toolIndex: make(map[int64]string),
		toolName:  make(map[int64]string),
		toolArgs:  make(map[int64][]byte),
	}
	go s.run()
	return s
}

func (s *streamer) run() {
	defer close(s.events)
	for s.stream.Next() {
		ev := s.stream.Current()
		s.handle(ev)
	}
	if err := s.stream.Err(); err != nil {
		s.emit(model.StreamEvent{Kind: model.EventError, Message: translateErr(err).Error()})
		return
	}
	s.emit(model.StreamEvent{Kind: model.EventDone})
}

func (s *streamer) emit(e model.StreamEvent) {
	select {
	case s.events <- e:
	case <-s.ctx.Done():
	}
}

func (s *streamer) handle(event sdk.MessageStreamEventUnion) {
	switch ev := event.AsAny().(type) {
	case sdk.ContentBlockStartEvent:
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			idx := ev.Index
			canonical := toolUse.Name
			if mapped, ok := s.nameMap[toolUse.Name]; ok {
				canonical = mapped
			}
			s.toolIndex[idx] = toolUse.ID
			s.toolName[idx] = canonical
			s.toolArgs[idx] = nil
		}
	case sdk.ContentBlockDeltaEvent:
		idx := ev.Index
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text != "" {
				s.emit(model.StreamEvent{Kind: model.EventContent, Delta: delta.Text})
			}
		case sdk.ThinkingDelta:
			if delta.Thinking != "" {
				s.emit(model.StreamEvent{Kind: model.EventReasoning, Delta: delta.Thinking})
			}
		case sdk.InputJSONDelta:
			s.toolArgs[idx] = append(s.toolArgs[idx], []byte(delta.PartialJSON)...)
		}
	case sdk.ContentBlockStopEvent:
		idx := ev.Index
		if callID, ok := s.toolIndex[idx]; ok {
			args := s.toolArgs[idx]
			if len(args) == 0 {
				args = []byte("{}")
			}
			s.emit(model.StreamEvent{
				Kind:     model.EventToolStart,
				ToolName: s.toolName[idx],
				ToolArgs: json.RawMessage(args),
				CallID:   callID,
			})
			delete(s.toolIndex, idx)
			delete(s.toolName, idx)
			delete(s.toolArgs, idx)
		}
	case sdk.MessageDeltaEvent:
		if u := ev.Usage; u.OutputTokens != 0 {
			s.emit(model.StreamEvent{Kind: model.EventUsage, CompletionTokens: int(u.OutputTokens)})
		}
	case sdk.MessageStartEvent:
		if u := ev.Message.Usage; u.InputTokens != 0 {
			s.emit(model.StreamEvent{Kind: model.EventUsage, PromptTokens: int(u.InputTokens)})
		}
	}
}

// Recv returns the next StreamEvent, or io.EOF once the event channel is
// closed. Stream failures arrive as an EventError event, never as an error
// from Recv.
func (s *streamer) Recv() (model.StreamEvent, error) {
	ev, ok := <-s.events
	if !ok {
		return model.StreamEvent{}, io.EOF
	}
	if ev.Kind == model.EventDone {
		// Drain is handled by the caller observing EventDone; subsequent
		// Recv calls return io.EOF once the channel closes.
		return ev, nil
	}
	return ev, nil
}

// Close cancels the underlying stream. Idempotent.
func (s *streamer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return s.stream.Close()
}
