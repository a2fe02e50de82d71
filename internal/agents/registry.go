// Package agents wires the fixed set of agent identities TENEX ships with —
// executor, planner, and project-manager — into the KnownAgents and
// ToolProvider capabilities AgentRuntime and Orchestrator depend on
// (spec.md §4.3/§4.4). Domain-specific tool handlers live elsewhere; this
// package only registers the termination tools every phase requires.
package agents

import (
	"context"
	"encoding/json"

	"github.com/tenex-chat/tenex-kernel/internal/conversation"
	"github.com/tenex-chat/tenex-kernel/internal/tools"
)

// Executor, Planner, and ProjectManager are the agent identities routed to
// by the orchestrator's routing policy (spec.md §4.3).
const (
	Executor       conversation.AgentID = "executor"
	Planner        conversation.AgentID = "planner"
	ProjectManager conversation.AgentID = "project-manager"
)

const completeParamSchema = `{"type":"object","properties":{"summary":{"type":"string"}},"required":["summary"]}`

// completeTool is the termination tool every non-chat phase requires
// (spec.md §4.8); it has no side effect beyond surfacing its summary
// argument as the turn's accumulated output.
func completeTool() tools.Spec {
	return tools.Spec{
		Name:        "complete",
		Description: "Signal that this turn's work is finished, carrying a summary for the orchestrator.",
		ParamSchema: json.RawMessage(completeParamSchema),
		Handle: func(_ context.Context, args json.RawMessage) tools.Result {
			return tools.Ok(args, nil)
		},
	}
}

// endConversationTool is the orchestrator-level termination signal
// (spec.md §4.4 "end_conversation"), registered only for project-manager,
// the agent that can route the conversation to END.
func endConversationTool() tools.Spec {
	return tools.Spec{
		Name:        "end_conversation",
		Description: "Signal that the conversation has reached a natural end.",
		ParamSchema: json.RawMessage(completeParamSchema),
		Handle: func(_ context.Context, args json.RawMessage) tools.Result {
			return tools.Ok(args, nil)
		},
	}
}

// Registry implements orchestrator.KnownAgents and agentrt.ToolProvider over
// the fixed agent set.
type Registry struct {
	registries map[conversation.AgentID]*tools.Registry
}

// NewRegistry builds the default agent set: executor and planner each get
// the complete tool, project-manager additionally gets end_conversation.
func NewRegistry() *Registry {
	return &Registry{
		registries: map[conversation.AgentID]*tools.Registry{
			Executor:       tools.NewRegistry(completeTool()),
			Planner:        tools.NewRegistry(completeTool()),
			ProjectManager: tools.NewRegistry(completeTool(), endConversationTool()),
		},
	}
}

// IsRegistered implements orchestrator.KnownAgents.
func (r *Registry) IsRegistered(agent conversation.AgentID) bool {
	_, ok := r.registries[agent]
	return ok
}

// Registry implements agentrt.ToolProvider. The same tool set is returned
// regardless of phase; phase-scoped tool sets are a natural extension point
// once domain tools (file read/write, search) are registered here.
func (r *Registry) Registry(agent conversation.AgentID, _ conversation.Phase) *tools.Registry {
	if reg, ok := r.registries[agent]; ok {
		return reg
	}
	return tools.NewRegistry()
}
