// Package tracing implements the kernel's TracingContext: a hierarchical
// context (conversation → phase → agent → tool) carried through every
// operation so logs, metrics, and spans can be attributed consistently
// without every component threading five separate ID parameters.
//
// TracingContext composes with context.Context the way the teacher's
// AgentContext composes with workflow context: a value stored under a
// private key, retrieved with FromContext, and refined with With* as control
// flow descends into a phase, an agent turn, or a single tool call.
package tracing

import (
	"context"

	"github.com/tenex-chat/tenex-kernel/internal/conversation"
	"github.com/tenex-chat/tenex-kernel/internal/telemetry"
)

type ctxKey struct{}

// Context is an immutable snapshot of where the kernel currently is in the
// conversation → phase → agent → tool hierarchy. Each With* method returns a
// new, more specific Context; the original is left untouched so callers can
// fan out (e.g. one per concurrently-routed agent) from a shared parent.
type Context struct {
	ConversationID conversation.ID
	Phase          conversation.Phase
	AgentID        string
	ToolCallID     string
	TurnID         string
}

// New constructs a root TracingContext for a conversation.
func New(id conversation.ID) Context {
	return Context{ConversationID: id}
}

// WithPhase returns a Context scoped to the given phase.
func (c Context) WithPhase(phase conversation.Phase) Context {
	c.Phase = phase
	return c
}

// WithTurn returns a Context scoped to an orchestrator turn.
func (c Context) WithTurn(turnID string) Context {
	c.TurnID = turnID
	return c
}

// WithAgent returns a Context scoped to a single agent invocation.
func (c Context) WithAgent(agentID string) Context {
	c.AgentID = agentID
	return c
}

// WithTool returns a Context scoped to a single tool call.
func (c Context) WithTool(callID string) Context {
	c.ToolCallID = callID
	return c
}

// Fields renders the Context as a flat key/value slice suitable for
// telemetry.Logger and telemetry.Metrics tag lists.
func (c Context) Fields() []any {
	fields := []any{"conversation_id", string(c.ConversationID)}
	if c.Phase != "" {
		fields = append(fields, "phase", string(c.Phase))
	}
	if c.TurnID != "" {
		fields = append(fields, "turn_id", c.TurnID)
	}
	if c.AgentID != "" {
		fields = append(fields, "agent_id", c.AgentID)
	}
	if c.ToolCallID != "" {
		fields = append(fields, "tool_call_id", c.ToolCallID)
	}
	return fields
}

// Into stores the Context on ctx for retrieval deeper in the call stack.
func (c Context) Into(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext retrieves the TracingContext previously stored with Into. The
// zero Context is returned if none was stored.
func FromContext(ctx context.Context) Context {
	c, _ := ctx.Value(ctxKey{}).(Context)
	return c
}

// StartSpan stores the Context on ctx, starts a tracer span named op, and
// returns the derived context plus span. Callers should defer span.End().
func (c Context) StartSpan(ctx context.Context, tracer telemetry.Tracer, op string) (context.Context, telemetry.Span) {
	ctx = c.Into(ctx)
	return tracer.Start(ctx, op)
}
