// Package model defines the StreamingLLM capability (spec.md §6.2): a
// provider-agnostic Request/StreamEvent contract that AgentRuntime drives and
// concrete provider adapters (Anthropic, OpenAI, Bedrock) implement.
package model

import (
	"context"
	"encoding/json"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the transcript passed to the model.
type Message struct {
	Role    Role
	Content string
	// ToolCallID is set on a tool-result message to correlate it with a prior
	// ToolStart event.
	ToolCallID string
}

// ToolSchema describes one tool the model may call.
type ToolSchema struct {
	Name        string
	Description string
	ParamSchema json.RawMessage
}

// CacheHint requests provider-specific prompt caching at a checkpoint; not
// every provider honors it.
type CacheHint struct {
	AfterSystem bool
	AfterTools  bool
}

// Request carries everything needed to drive one streaming model invocation
// (spec.md §6.2: "messages, tools schemas, optional session token, caching
// hint").
type Request struct {
	Messages     []Message
	Tools        []ToolSchema
	SessionToken string
	Cache        *CacheHint
	Model        string
	MaxTokens    int
	Temperature  float32
}

// EventKind discriminates the StreamEvent sum type.
type EventKind string

const (
	EventContent      EventKind = "content"
	EventReasoning    EventKind = "reasoning"
	EventToolStart    EventKind = "tool_start"
	EventToolComplete EventKind = "tool_complete"
	EventUsage        EventKind = "usage"
	EventDone         EventKind = "done"
	EventError        EventKind = "error"
)

// StreamEvent is the tagged union emitted by Streamer.Recv, matching
// spec.md §6.2's StreamEvent variants exactly. Only the fields relevant to
// Kind are populated; callers switch on Kind, not on which fields are
// non-zero.
type StreamEvent struct {
	Kind EventKind

	// EventContent / EventReasoning
	Delta string

	// EventToolStart
	ToolName string
	ToolArgs json.RawMessage
	CallID   string

	// EventToolComplete
	ToolResult json.RawMessage

	// EventUsage
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64

	// EventDone
	FinalMeta map[string]any

	// EventError
	Message string
}

// Client is the provider-agnostic model capability.
type Client interface {
	// Stream performs a streaming model invocation.
	Stream(ctx context.Context, req Request) (Streamer, error)
}

// Streamer delivers incremental StreamEvents. Callers drain Recv until it
// returns (StreamEvent{}, io.EOF) or another terminal error, then Close.
type Streamer interface {
	Recv() (StreamEvent, error)
	Close() error
}
