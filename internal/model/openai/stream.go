package openai

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/tenex-chat/tenex-kernel/internal/model"
)

// streamer adapts an OpenAI Chat Completions SSE stream into model.Streamer,
// accumulating per-index tool-call argument fragments until a finish reason
// closes the choice.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	events chan model.StreamEvent

	toolArgs map[int64][]byte
	toolName map[int64]string
	toolID   map[int64]string

	mu     sync.Mutex
	closed bool
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk]) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		ctx:      cctx,
		cancel:   cancel,
		stream:   stream,
		events:   make(chan model.StreamEvent, 32),
		toolArgs: make(map[int64][]byte),
		toolName: make(map[int64]string),
		toolID:   make(map[int64]string),
	}
	go s.run()
	return s
}

func (s *streamer) run() {
	defer close(s.events)
	for s.stream.Next() {
		chunk := s.stream.Current()
		s.handle(chunk)
	}
	if err := s.stream.Err(); err != nil {
		s.emit(model.StreamEvent{Kind: model.EventError, Message: err.Error()})
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

func (s *streamer) handle(chunk openai.ChatCompletionChunk) {
	if chunk.Usage.TotalTokens > 0 {
		s.emit(model.StreamEvent{
			Kind:             model.EventUsage,
			PromptTokens:     int(chunk.Usage.PromptTokens),
			CompletionTokens: int(chunk.Usage.CompletionTokens),
		})
	}
	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			s.emit(model.StreamEvent{Kind: model.EventContent, Delta: choice.Delta.Content})
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := tc.Index
			if tc.ID != "" {
				s.toolID[idx] = tc.ID
			}
			if tc.Function.Name != "" {
				s.toolName[idx] = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				s.toolArgs[idx] = append(s.toolArgs[idx], []byte(tc.Function.Arguments)...)
			}
		}
		if choice.FinishReason == "tool_calls" {
			for idx, name := range s.toolName {
				args := s.toolArgs[idx]
				if len(args) == 0 {
					args = []byte("{}")
				}
				s.emit(model.StreamEvent{
					Kind:     model.EventToolStart,
					ToolName: name,
					ToolArgs: json.RawMessage(args),
					CallID:   s.toolID[idx],
				})
			}
			s.toolArgs = make(map[int64][]byte)
			s.toolName = make(map[int64]string)
			s.toolID = make(map[int64]string)
		}
	}
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
