// Package agentrt implements the AgentRuntime / ReasonActLoop (spec.md
// §4.4): one call to Run drives a single agent turn end to end — building
// the agent's view of the conversation, streaming the LLM, executing tool
// calls, evaluating termination, and persisting the updated cursor.
package agentrt

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/tenex-chat/tenex-kernel/internal/conversation"
	"github.com/tenex-chat/tenex-kernel/internal/hooks"
	"github.com/tenex-chat/tenex-kernel/internal/kernelerrors"
	"github.com/tenex-chat/tenex-kernel/internal/model"
	"github.com/tenex-chat/tenex-kernel/internal/reminder"
	"github.com/tenex-chat/tenex-kernel/internal/streampub"
	"github.com/tenex-chat/tenex-kernel/internal/telemetry"
	"github.com/tenex-chat/tenex-kernel/internal/termination"
	"github.com/tenex-chat/tenex-kernel/internal/toolexec"
	"github.com/tenex-chat/tenex-kernel/internal/tools"
)

// completeToolName is the termination tool agents call to close a turn
// (spec.md §4.8). end_conversation is the orchestrator-level equivalent.
const (
	completeToolName         = "complete"
	endConversationToolName  = "end_conversation"
)

// ToolProvider resolves the tool registry an agent may call for a given
// phase; different phases expose different tool sets.
type ToolProvider interface {
	Registry(agent conversation.AgentID, phase conversation.Phase) *tools.Registry
}

// Runtime drives ReasonActLoop turns.
type Runtime struct {
	store       conversation.Store
	model       model.Client
	tools       ToolProvider
	sink        streampub.Sink
	bus         hooks.Bus
	reminders   *reminder.Engine
	termination *termination.Enforcer
	logger      telemetry.Logger
}

// New constructs a Runtime.
func New(store conversation.Store, llm model.Client, toolProvider ToolProvider, sink streampub.Sink, bus hooks.Bus, reminders *reminder.Engine, term *termination.Enforcer, logger telemetry.Logger) *Runtime {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Runtime{store: store, model: llm, tools: toolProvider, sink: sink, bus: bus, reminders: reminders, termination: term, logger: logger}
}

// Outcome summarizes a completed Run call for the caller (the scheduler /
// orchestrator) to decide what happens next.
type Outcome struct {
	Action      termination.Action
	Accumulated string
	Terminated  bool
}

// Run executes one full turn for agent within conversationID, ending when the
// stream completes and termination has been evaluated (including retries).
func (r *Runtime) Run(ctx context.Context, conversationID conversation.ID, agent conversation.AgentID, turnID string, trigger conversation.Event, isOrchestrator bool) (Outcome, error) {
	conv, err := r.store.Get(ctx, conversationID)
	if err != nil {
		return Outcome{}, err
	}

	registry := r.tools.Registry(agent, conv.Phase)
	publisher := streampub.New(r.sink, conversationID, agent)

	var (
		accumulated string
		sessionTok  string
	)
	if tok, hasTok := trigger.TagValue("session-token"); hasTok {
		sessionTok = tok
	}

	for attempt := 1; ; attempt++ {
		conv, err = r.store.Get(ctx, conversationID)
		if err != nil {
			return Outcome{}, err
		}
		req := r.buildRequest(conv, agent, trigger, sessionTok)

		terminated, turnAccumulated, newToken, err := r.streamTurn(ctx, req, registry, toolexec.ExecutionContext{
			Agent: agent, ConversationID: conversationID, Phase: conv.Phase, Store: r.store,
		}, publisher, isOrchestrator)
		accumulated = joinAccumulated(accumulated, turnAccumulated)
		if newToken != "" {
			sessionTok = newToken
		}
		if err != nil {
			// LLM stream error mid-turn: finalize publisher, publish a
			// user-visible error, end the turn without termination.
			_ = publisher.Finalize(ctx, accumulated, map[string]any{"error": err.Error()})
			r.persistCursor(ctx, conversationID, agent, conv, sessionTok)
			return Outcome{Action: termination.ActionRetry, Accumulated: accumulated}, nil
		}

		action, err := r.termination.Apply(ctx, conversationID, turnID, agent, conv.Phase, terminated, attempt, accumulated, isOrchestrator)
		if err != nil {
			return Outcome{Action: action, Accumulated: accumulated, Terminated: terminated}, err
		}

		switch action {
		case termination.ActionFinalize, termination.ActionSoftComplete, termination.ActionAutoComplete, termination.ActionAwaitOperator:
			_ = publisher.Finalize(ctx, accumulated, map[string]any{"phase": string(conv.Phase)})
			r.persistCursor(ctx, conversationID, agent, conv, sessionTok)
			return Outcome{Action: action, Accumulated: accumulated, Terminated: terminated}, nil
		case termination.ActionRetry:
			continue
		}
	}
}

// streamTurn drives one LLM stream (one attempt) to completion, processing
// content, reasoning, and tool-call events per spec.md §4.4 step 3.
func (r *Runtime) streamTurn(ctx context.Context, req model.Request, registry *tools.Registry, ec toolexec.ExecutionContext, publisher *streampub.Publisher, isOrchestrator bool) (terminated bool, accumulated string, sessionToken string, err error) {
	stream, err := r.model.Stream(ctx, req)
	if err != nil {
		return false, "", "", kernelerrors.Wrap(kernelerrors.KindStreamInterrupt, "agentrt: open stream", err)
	}
	defer stream.Close()

	executor := toolexec.New(registry, r.bus, r.logger)
	var content strings.Builder

	for {
		ev, recvErr := stream.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			return terminated, content.String(), sessionToken, kernelerrors.Wrap(kernelerrors.KindStreamInterrupt, "agentrt: stream recv", recvErr)
		}

		switch ev.Kind {
		case model.EventContent:
			if !isOrchestrator {
				content.WriteString(ev.Delta)
				if err := publisher.Write(ctx, ev.Delta); err != nil {
					r.logger.Warn(ctx, "agentrt: publish partial failed", "error", err.Error())
				}
			}
		case model.EventReasoning:
			// Reasoning is never published to the conversation; it is
			// observability-only.
		case model.EventToolStart:
			_ = publisher.StartTyping(ctx, "using "+ev.ToolName)
			call := tools.Call{ToolName: ev.ToolName, Args: ev.ToolArgs, CallID: ev.CallID}
			result := executor.Execute(ctx, ec, call)
			_ = publisher.StopTyping(ctx)

			if (ev.ToolName == completeToolName || ev.ToolName == endConversationToolName) && result.Kind == tools.ResultOk {
				terminated = true
				if summary := summaryFromOutput(result.Output); summary != "" {
					content.WriteString(summary)
				}
			}
			if result.Kind == tools.ResultErr {
				r.logger.Warn(ctx, "agentrt: tool call failed", "tool", ev.ToolName, "call_id", ev.CallID, "message", result.Message)
			}
		case model.EventUsage:
			// Recorded by telemetry via the model client itself; no
			// conversation-visible effect.
		case model.EventDone:
			if len(ev.FinalMeta) > 0 {
				if tok, ok := ev.FinalMeta["session_token"].(string); ok {
					sessionToken = tok
				}
			}
		case model.EventError:
			content.WriteString(ev.Message)
			r.logger.Warn(ctx, "agentrt: stream reported error event", "message", ev.Message)
		}
	}

	return terminated, content.String(), sessionToken, nil
}

// buildRequest constructs the agent's view of the conversation per spec.md
// §4.4 step 1: prior messages, a "messages while away" delimiter for events
// the agent has not yet seen, then the trigger event.
func (r *Runtime) buildRequest(conv *conversation.Conversation, agent conversation.AgentID, trigger conversation.Event, sessionToken string) model.Request {
	cursor := conv.Cursor(agent)
	seen := conv.History
	if uint64(len(seen)) > cursor.LastSeenIndex {
		seen = conv.History[:cursor.LastSeenIndex]
	}
	unseen := conv.Unseen(agent)

	messages := make([]model.Message, 0, len(seen)+len(unseen)+2)
	for _, ev := range seen {
		messages = append(messages, eventToMessage(ev, agent))
	}
	if len(unseen) > 0 {
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: "--- messages while away ---"})
		for _, ev := range unseen {
			messages = append(messages, eventToMessage(ev, agent))
		}
	}
	messages = append(messages, eventToMessage(trigger, agent))

	return model.Request{
		Messages:     messages,
		SessionToken: sessionToken,
	}
}

// eventToMessage derives a message role from the event's authorship: the
// agent's own prior output is assistant, the end user is user, and any other
// agent's output is system with attribution (spec.md §4.4 step 1).
func eventToMessage(ev conversation.Event, agent conversation.AgentID) model.Message {
	switch {
	case ev.AuthorKey == string(agent):
		return model.Message{Role: model.RoleAssistant, Content: ev.Content}
	case isUserAuthored(ev):
		return model.Message{Role: model.RoleUser, Content: ev.Content}
	default:
		return model.Message{Role: model.RoleSystem, Content: "[" + ev.AuthorKey + "] " + ev.Content}
	}
}

func isUserAuthored(ev conversation.Event) bool {
	_, isAgentTagged := ev.TagValue("agent")
	return !isAgentTagged
}

func joinAccumulated(prev, next string) string {
	if prev == "" {
		return next
	}
	if next == "" {
		return prev
	}
	return prev + "\n" + next
}

func summaryFromOutput(output json.RawMessage) string {
	var decoded struct {
		Summary string `json:"summary"`
	}
	if len(output) == 0 {
		return ""
	}
	if err := json.Unmarshal(output, &decoded); err != nil {
		return ""
	}
	return decoded.Summary
}

// persistCursor advances the agent's cursor to the end of history and, if a
// new session token was returned, persists it alongside (spec.md §4.4 step 5
// and "session continuity").
func (r *Runtime) persistCursor(ctx context.Context, id conversation.ID, agent conversation.AgentID, conv *conversation.Conversation, sessionToken string) {
	cursor := conversation.AgentCursor{LastSeenIndex: uint64(len(conv.History)), SessionToken: sessionToken}
	if err := r.store.UpdateCursor(ctx, id, agent, cursor); err != nil {
		r.logger.Error(ctx, "agentrt: failed to persist cursor", "conversation_id", string(id), "agent", string(agent), "error", err.Error())
	}
}
