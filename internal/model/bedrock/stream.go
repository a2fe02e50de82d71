package bedrock

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/tenex-chat/tenex-kernel/internal/model"
)

// streamer adapts a Bedrock ConverseStream event stream into model.Streamer.
type streamer struct {
	ctx     context.Context
	cancel  context.CancelFunc
	stream  *bedrockruntime.ConverseStreamEventStream
	nameMap map[string]string

	events chan model.StreamEvent

	toolID   string
	toolName string
	toolArgs []byte

	mu     sync.Mutex
	closed bool
}

func newStreamer(ctx context.Context, stream *bedrockruntime.ConverseStreamEventStream, nameMap map[string]string) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: cctx, cancel: cancel, stream: stream, nameMap: nameMap, events: make(chan model.StreamEvent, 32)}
	go s.run()
	return s
}

func (s *streamer) run() {
	defer close(s.events)
	defer s.stream.Close()

	events := s.stream.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				if err := s.stream.Err(); err != nil {
					s.emit(model.StreamEvent{Kind: model.EventError, Message: err.Error()})
					return
				}
				s.emit(model.StreamEvent{Kind: model.EventDone})
				return
			}
			s.handle(event)
		}
	}
}

func (s *streamer) emit(e model.StreamEvent) {
	select {
	case s.events <- e:
	case <-s.ctx.Done():
	}
}

func (s *streamer) handle(event brtypes.ConverseStreamOutput) {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		if toolUse, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			canonical := *toolUse.Value.Name
			if mapped, ok := s.nameMap[canonical]; ok {
				canonical = mapped
			}
			s.toolID = *toolUse.Value.ToolUseId
			s.toolName = canonical
			s.toolArgs = nil
		}
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		switch delta := ev.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if delta.Value != "" {
				s.emit(model.StreamEvent{Kind: model.EventContent, Delta: delta.Value})
			}
		case *brtypes.ContentBlockDeltaMemberReasoningContent:
			if text, ok := delta.Value.(*brtypes.ReasoningContentBlockDeltaMemberText); ok && text.Value != "" {
				s.emit(model.StreamEvent{Kind: model.EventReasoning, Delta: text.Value})
			}
		case *brtypes.ContentBlockDeltaMemberToolUse:
			if delta.Value.Input != nil {
				s.toolArgs = append(s.toolArgs, []byte(*delta.Value.Input)...)
			}
		}
	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		if s.toolID != "" {
			args := s.toolArgs
			if len(args) == 0 {
				args = []byte("{}")
			}
			s.emit(model.StreamEvent{Kind: model.EventToolStart, ToolName: s.toolName, ToolArgs: json.RawMessage(args), CallID: s.toolID})
			s.toolID, s.toolName, s.toolArgs = "", "", nil
		}
	case *brtypes.ConverseStreamOutputMemberMetadata:
		if u := ev.Value.Usage; u != nil {
			s.emit(model.StreamEvent{Kind: model.EventUsage, PromptTokens: int(deref32(u.InputTokens)), CompletionTokens: int(deref32(u.OutputTokens))})
		}
	}
}

func deref32(p *int32) int32 {
	if p == nil {
		return 0
	}
	return *p
}

// Recv returns the next StreamEvent or io.EOF once the channel closes.
func (s *streamer) Recv() (model.StreamEvent, error) {
	ev, ok := <-s.events
	if !ok {
		return model.StreamEvent{}, io.EOF
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
