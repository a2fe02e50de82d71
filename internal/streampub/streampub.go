// Package streampub implements the StreamPublisher capability (spec.md
// §4.6): it buffers an agent's streamed content and flushes it to the Bus in
// sentence- or time-sized batches, finalizes idempotently, and gives typing
// indicators their own debounced publish path. The destination is a Sink,
// mirroring the teacher's stream.Sink abstraction over "a WebSocket, SSE, or
// message bus".
package streampub

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tenex-chat/tenex-kernel/internal/conversation"
	"github.com/tenex-chat/tenex-kernel/internal/kernelerrors"
)

// FlushInterval is the maximum time buffered content waits before a partial
// publish, absent an earlier sentence boundary.
const FlushInterval = 100 * time.Millisecond

// TypingMinVisible is the minimum duration a typing indicator stays visible
// once shown, before a stop is allowed to publish.
const TypingMinVisible = 5 * time.Second

// Partial is one incremental content publish.
type Partial struct {
	ConversationID conversation.ID
	Agent          conversation.AgentID
	Seq            uint64
	Delta          string
}

// Final is the terminal publish for a turn, carrying the complete
// accumulated content.
type Final struct {
	ConversationID conversation.ID
	Agent          conversation.AgentID
	Content        string
	Metadata       map[string]any
}

// Typing is a typing-indicator publish; Active false means "stop typing".
type Typing struct {
	ConversationID conversation.ID
	Agent          conversation.AgentID
	Label          string
	Active         bool
}

// Sink is the destination for publisher output. Concrete sinks adapt this to
// the Bus capability or a direct transport.
type Sink interface {
	PublishPartial(ctx context.Context, p Partial) error
	PublishFinal(ctx context.Context, f Final) error
	PublishTyping(ctx context.Context, t Typing) error
}

var sentenceTerminators = []string{". ", "! ", "? "}

// Publisher buffers one turn's content and flushes it per spec.md §4.6.
// A Publisher is scoped to a single turn and must not be shared across
// turns or agents.
type Publisher struct {
	sink Sink

	conversationID conversation.ID
	agent          conversation.AgentID

	mu            sync.Mutex
	buf           strings.Builder
	seq           uint64
	lastFlush     time.Time
	finalized     bool
	typingActive  bool
	typingShownAt time.Time
}

// New constructs a Publisher for one agent turn.
func New(sink Sink, conversationID conversation.ID, agent conversation.AgentID) *Publisher {
	return &Publisher{sink: sink, conversationID: conversationID, agent: agent, lastFlush: time.Now()}
}

// Write appends a content delta to the buffer, flushing a partial if a
// sentence boundary or the flush interval has been reached.
func (p *Publisher) Write(ctx context.Context, delta string) error {
	p.mu.Lock()
	if p.finalized {
		p.mu.Unlock()
		return kernelerrors.New(kernelerrors.KindProtocol, "streampub: write after finalize")
	}
	p.buf.WriteString(delta)
	shouldFlush := containsSentenceBoundary(delta) || time.Since(p.lastFlush) >= FlushInterval
	var partial Partial
	if shouldFlush && p.buf.Len() > 0 {
		p.seq++
		partial = Partial{ConversationID: p.conversationID, Agent: p.agent, Seq: p.seq, Delta: p.buf.String()}
		p.buf.Reset()
		p.lastFlush = time.Now()
		shouldFlush = true
	} else {
		shouldFlush = false
	}
	p.mu.Unlock()

	if !shouldFlush {
		return nil
	}
	return p.sink.PublishPartial(ctx, partial)
}

func containsSentenceBoundary(delta string) bool {
	for _, t := range sentenceTerminators {
		if strings.Contains(delta, t) {
			return true
		}
	}
	return false
}

// StartTyping publishes a typing indicator labeled for the active tool or
// reasoning step, debounced so repeated calls while already active are
// no-ops.
func (p *Publisher) StartTyping(ctx context.Context, label string) error {
	p.mu.Lock()
	if p.typingActive {
		p.mu.Unlock()
		return nil
	}
	p.typingActive = true
	p.typingShownAt = time.Now()
	p.mu.Unlock()
	return p.sink.PublishTyping(ctx, Typing{ConversationID: p.conversationID, Agent: p.agent, Label: label, Active: true})
}

// StopTyping publishes a typing-stop, waiting out TypingMinVisible if the
// indicator has not yet been visible that long.
func (p *Publisher) StopTyping(ctx context.Context) error {
	p.mu.Lock()
	if !p.typingActive {
		p.mu.Unlock()
		return nil
	}
	remaining := TypingMinVisible - time.Since(p.typingShownAt)
	p.typingActive = false
	p.mu.Unlock()

	if remaining > 0 {
		select {
		case <-time.After(remaining):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.sink.PublishTyping(ctx, Typing{ConversationID: p.conversationID, Agent: p.agent, Active: false})
}

// Finalize flushes any buffered content and publishes the complete
// accumulated content as a single final message. A second call is a no-op
// (idempotent finalization per spec.md §4.6).
func (p *Publisher) Finalize(ctx context.Context, accumulated string, metadata map[string]any) error {
	p.mu.Lock()
	if p.finalized {
		p.mu.Unlock()
		return nil
	}
	p.finalized = true
	p.buf.Reset()
	p.mu.Unlock()

	return p.sink.PublishFinal(ctx, Final{ConversationID: p.conversationID, Agent: p.agent, Content: accumulated, Metadata: metadata})
}
