// Package toolexec implements the ToolExecutor capability (spec.md §4.5):
// validate a tool call's arguments against its declared schema, invoke the
// handler with an ExecutionContext, and wrap the outcome (including handler
// panics) in a typed tools.Result envelope.
package toolexec

import (
	"context"
	"time"

	"github.com/tenex-chat/tenex-kernel/internal/conversation"
	"github.com/tenex-chat/tenex-kernel/internal/hooks"
	"github.com/tenex-chat/tenex-kernel/internal/kernelerrors"
	"github.com/tenex-chat/tenex-kernel/internal/telemetry"
	"github.com/tenex-chat/tenex-kernel/internal/tools"
)

// ExecutionContext carries the ambient state a tool handler needs, threaded
// through as the Go context passed to tools.Handler.
type ExecutionContext struct {
	Agent          conversation.AgentID
	ConversationID conversation.ID
	Phase          conversation.Phase
	Store          conversation.Store
}

type execCtxKey struct{}

// WithExecutionContext embeds an ExecutionContext into ctx for a handler to
// retrieve via ExecutionContextFrom.
func WithExecutionContext(ctx context.Context, ec ExecutionContext) context.Context {
	return context.WithValue(ctx, execCtxKey{}, ec)
}

// ExecutionContextFrom retrieves the ExecutionContext embedded by
// WithExecutionContext, if any.
func ExecutionContextFrom(ctx context.Context) (ExecutionContext, bool) {
	ec, ok := ctx.Value(execCtxKey{}).(ExecutionContext)
	return ec, ok
}

// Executor validates and runs tool calls for a single agent turn. Tool-call
// IDs must be unique per turn; Executor tracks seen IDs itself so a caller
// only needs one Executor instance per turn.
type Executor struct {
	registry *tools.Registry
	bus      hooks.Bus
	logger   telemetry.Logger

	seen map[string]bool
}

// New constructs an Executor bound to a tool registry for one agent turn.
func New(registry *tools.Registry, bus hooks.Bus, logger telemetry.Logger) *Executor {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Executor{registry: registry, bus: bus, logger: logger, seen: make(map[string]bool)}
}

// Execute validates call.Args against the tool's declared schema, invokes
// the handler, and returns a tools.Result with DurationMs populated. Handler
// panics are recovered and wrapped as KindExecution errors. Tool execution is
// sequential per agent turn (spec.md §4.5); callers must not invoke Execute
// concurrently for the same Executor.
func (e *Executor) Execute(ctx context.Context, ec ExecutionContext, call tools.Call) tools.Result {
	start := time.Now()

	if e.seen[call.CallID] {
		return e.finish(start, tools.Err(kernelerrors.KindProtocol, "duplicate tool call id "+call.CallID, nil))
	}
	e.seen[call.CallID] = true

	spec, ok := e.registry.Lookup(call.ToolName)
	if !ok {
		return e.finish(start, tools.Err(kernelerrors.KindValidation, "unknown tool "+call.ToolName, nil))
	}

	if err := spec.Validate(call.Args); err != nil {
		return e.finish(start, tools.Err(kernelerrors.KindValidation, err.Error(), err))
	}

	result := e.invoke(ctx, ec, spec, call)
	result = e.finish(start, result)

	e.logger.Debug(ctx, "tool call executed",
		"conversation_id", string(ec.ConversationID), "agent", string(ec.Agent),
		"tool", call.ToolName, "call_id", call.CallID, "duration_ms", result.DurationMs,
		"failed", result.Kind == tools.ResultErr)

	if e.bus != nil {
		_ = e.bus.Publish(ctx, hooks.NewToolCallExecutedEvent(
			ec.ConversationID, ec.Agent, call.ToolName, call.CallID, result.DurationMs, result.Kind == tools.ResultErr))
	}

	return result
}

// invoke runs the handler, recovering from panics per spec.md §4.5 ("all
// handler exceptions are caught and wrapped in Err{kind=Execution, cause}").
func (e *Executor) invoke(ctx context.Context, ec ExecutionContext, spec *tools.Spec, call tools.Call) (result tools.Result) {
	defer func() {
		if r := recover(); r != nil {
			result = tools.Err(kernelerrors.KindExecution, "tool handler panicked", kernelerrors.Newf(kernelerrors.KindExecution, "%v", r))
		}
	}()
	handlerCtx := WithExecutionContext(ctx, ec)
	return spec.Handle(handlerCtx, call.Args)
}

func (e *Executor) finish(start time.Time, result tools.Result) tools.Result {
	result.DurationMs = time.Since(start).Milliseconds()
	return result
}
