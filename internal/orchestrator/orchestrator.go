// Package orchestrator implements the Orchestrator (spec.md §4.3): it
// decides which agents run next and in which phase, parsing a RoutingDecision
// out of the LLM's response with tolerance for fenced JSON and a bounded
// retry/fallback policy on parse failure or an unknown agent name.
package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/tenex-chat/tenex-kernel/internal/conversation"
	"github.com/tenex-chat/tenex-kernel/internal/hooks"
	"github.com/tenex-chat/tenex-kernel/internal/kernelerrors"
	"github.com/tenex-chat/tenex-kernel/internal/model"
	"github.com/tenex-chat/tenex-kernel/internal/telemetry"
)

// ProjectManagerAgent is the fallback routing target used after exhausting
// retries on a parse failure or an unknown agent name (spec.md §4.3).
const ProjectManagerAgent conversation.AgentID = "project-manager"

// maxParseRetries bounds the corrective-retry loop after a RoutingDecision
// JSON parse failure: a single retry before falling back to
// project-manager (spec.md §4.3/§7).
const maxParseRetries = 1

// maxUnknownAgentRetries bounds the corrective-retry loop after the
// orchestrator names an unregistered agent (spec.md §4.3/§7).
const maxUnknownAgentRetries = 2

// Context is the OrchestratorContext input (spec.md §4.3).
type Context struct {
	UserRequest       string
	WorkflowNarrative string
}

// RoutingDecision is the Orchestrator's output (spec.md §3).
type RoutingDecision struct {
	Agents []conversation.AgentID
	Phase  conversation.Phase
	Reason string
}

// KnownAgents resolves which agent identities are currently registered, so
// the Orchestrator can validate a routing decision's agent names.
type KnownAgents interface {
	IsRegistered(agent conversation.AgentID) bool
}

// Orchestrator decides routing for a conversation.
type Orchestrator struct {
	model  model.Client
	agents KnownAgents
	bus    hooks.Bus
	logger telemetry.Logger
}

// New constructs an Orchestrator.
func New(llm model.Client, agents KnownAgents, bus hooks.Bus, logger telemetry.Logger) *Orchestrator {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Orchestrator{model: llm, agents: agents, bus: bus, logger: logger}
}

// NarrativeFromTurns builds the workflowNarrative deterministically by
// walking orchestratorTurns in order (spec.md §4.3).
func NarrativeFromTurns(turns []conversation.OrchestratorTurn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString("Turn ")
		b.WriteString(t.TurnID)
		b.WriteString(" (")
		b.WriteString(string(t.Phase))
		b.WriteString("): routed to ")
		names := make([]string, 0, len(t.TargetAgents))
		for _, a := range t.TargetAgents {
			names = append(names, string(a))
		}
		b.WriteString(strings.Join(names, ", "))
		if t.Reason != "" {
			b.WriteString(" — ")
			b.WriteString(t.Reason)
		}
		b.WriteString("\n")
		for _, c := range t.Completions {
			b.WriteString("  ")
			b.WriteString(string(c.AgentID))
			b.WriteString(": ")
			b.WriteString(c.Summary)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Decide produces a RoutingDecision for octx. Orchestrator content is never
// user-visible; any stream content is discarded (spec.md §4.3).
func (o *Orchestrator) Decide(ctx context.Context, conversationID conversation.ID, octx Context) (RoutingDecision, error) {
	var note string
	parseAttempts, unknownAttempts := 0, 0
	for {
		raw, err := o.invoke(ctx, octx, note)
		if err != nil {
			return RoutingDecision{}, err
		}

		decision, parseErr := parseRoutingDecision(raw)
		if parseErr != nil {
			if parseAttempts >= maxParseRetries {
				return o.fallback(ctx, conversationID, "orchestrator output could not be parsed after retries: "+parseErr.Error()), nil
			}
			parseAttempts++
			note = "Your previous response could not be parsed as a RoutingDecision JSON object: " + parseErr.Error() + ". Respond with a single JSON object {agents, phase, reason}."
			continue
		}

		if unknown := o.firstUnknownAgent(decision); unknown != "" {
			if unknownAttempts >= maxUnknownAgentRetries {
				return o.fallback(ctx, conversationID, "unknown agent \""+string(unknown)+"\" named after retries"), nil
			}
			unknownAttempts++
			note = "You named an unregistered agent \"" + string(unknown) + "\". Valid agent names are known to the runtime; choose one of them or route to \"" + string(ProjectManagerAgent) + "\"."
			continue
		}

		if o.bus != nil {
			_ = o.bus.Publish(ctx, hooks.NewRoutingDecidedEvent(conversationID, decision.Agents, decision.Reason))
		}
		return decision, nil
	}
}

func (o *Orchestrator) fallback(ctx context.Context, conversationID conversation.ID, reason string) RoutingDecision {
	o.logger.Warn(ctx, "orchestrator: falling back to project-manager", "conversation_id", string(conversationID), "reason", reason)
	decision := RoutingDecision{Agents: []conversation.AgentID{ProjectManagerAgent}, Phase: conversation.PhaseChat, Reason: reason}
	if o.bus != nil {
		_ = o.bus.Publish(ctx, hooks.NewRoutingDecidedEvent(conversationID, decision.Agents, decision.Reason))
	}
	return decision
}

func (o *Orchestrator) firstUnknownAgent(d RoutingDecision) conversation.AgentID {
	for _, a := range d.Agents {
		if a == conversation.EndSentinel {
			continue
		}
		if o.agents != nil && !o.agents.IsRegistered(a) {
			return a
		}
	}
	return ""
}

func (o *Orchestrator) invoke(ctx context.Context, octx Context, correction string) (string, error) {
	system := "You are the TENEX orchestrator. Decide which agents should run next and in which phase. " +
		"Respond with a single JSON object: {\"agents\": [string], \"phase\": string, \"reason\": string}."
	content := "User request: " + octx.UserRequest + "\n\nWorkflow so far:\n" + octx.WorkflowNarrative
	if correction != "" {
		content += "\n\n" + correction
	}

	stream, err := o.model.Stream(ctx, model.Request{
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: system},
			{Role: model.RoleUser, Content: content},
		},
	})
	if err != nil {
		return "", kernelerrors.Wrap(kernelerrors.KindStreamInterrupt, "orchestrator: open stream", err)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		ev, recvErr := stream.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			return "", kernelerrors.Wrap(kernelerrors.KindStreamInterrupt, "orchestrator: stream recv", recvErr)
		}
		if ev.Kind == model.EventContent {
			sb.WriteString(ev.Delta)
		}
	}
	return sb.String(), nil
}

// parseRoutingDecision extracts a RoutingDecision from raw LLM output,
// tolerating fenced ```json blocks around the object (spec.md §4.3).
func parseRoutingDecision(raw string) (RoutingDecision, error) {
	candidate := extractJSONObject(raw)
	if candidate == "" {
		return RoutingDecision{}, kernelerrors.New(kernelerrors.KindParse, "orchestrator: no JSON object found in response")
	}

	var decoded struct {
		Agents []string `json:"agents"`
		Phase  string   `json:"phase"`
		Reason string   `json:"reason"`
	}
	if err := json.Unmarshal([]byte(candidate), &decoded); err != nil {
		return RoutingDecision{}, kernelerrors.Wrap(kernelerrors.KindParse, "orchestrator: invalid routing json", err)
	}
	if len(decoded.Agents) == 0 {
		return RoutingDecision{}, kernelerrors.New(kernelerrors.KindParse, "orchestrator: routing decision names no agents")
	}

	agents := make([]conversation.AgentID, 0, len(decoded.Agents))
	for _, a := range decoded.Agents {
		agents = append(agents, conversation.AgentID(a))
	}
	return RoutingDecision{Agents: agents, Phase: conversation.Phase(decoded.Phase), Reason: decoded.Reason}, nil
}

// extractJSONObject returns the first balanced {...} substring in raw,
// stripping a surrounding ```json fence if present.
func extractJSONObject(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		if idx := strings.Index(trimmed, "\n"); idx >= 0 {
			trimmed = trimmed[idx+1:]
		}
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.Index(trimmed, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(trimmed); i++ {
		switch trimmed[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return trimmed[start : i+1]
			}
		}
	}
	return ""
}
