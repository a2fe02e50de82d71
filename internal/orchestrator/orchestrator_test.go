package orchestrator

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tenex-chat/tenex-kernel/internal/conversation"
	"github.com/tenex-chat/tenex-kernel/internal/hooks"
	"github.com/tenex-chat/tenex-kernel/internal/model"
)

type scriptedClient struct {
	responses []string
	calls     int
}

func (c *scriptedClient) Stream(_ context.Context, _ model.Request) (model.Streamer, error) {
	idx := c.calls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls++
	return &scriptedStreamer{content: c.responses[idx]}, nil
}

type scriptedStreamer struct {
	content string
	sent    bool
}

func (s *scriptedStreamer) Recv() (model.StreamEvent, error) {
	if s.sent {
		return model.StreamEvent{}, io.EOF
	}
	s.sent = true
	return model.StreamEvent{Kind: model.EventContent, Delta: s.content}, nil
}

func (s *scriptedStreamer) Close() error { return nil }

type registeredAgents map[conversation.AgentID]bool

func (r registeredAgents) IsRegistered(agent conversation.AgentID) bool { return r[agent] }

func TestDecideParsesFencedJSON(t *testing.T) {
	client := &scriptedClient{responses: []string{"```json\n{\"agents\":[\"executor\"],\"phase\":\"Execute\",\"reason\":\"go\"}\n```"}}
	agents := registeredAgents{"executor": true}
	o := New(client, agents, hooks.NewBus(), nil)

	decision, err := o.Decide(context.Background(), "c1", Context{UserRequest: "do it"})
	require.NoError(t, err)
	require.Equal(t, []conversation.AgentID{"executor"}, decision.Agents)
	require.Equal(t, conversation.Phase("Execute"), decision.Phase)
}

func TestDecideFallsBackAfterParseFailures(t *testing.T) {
	client := &scriptedClient{responses: []string{"not json", "still not json"}}
	agents := registeredAgents{}
	o := New(client, agents, hooks.NewBus(), nil)

	decision, err := o.Decide(context.Background(), "c1", Context{UserRequest: "do it"})
	require.NoError(t, err)
	require.Equal(t, []conversation.AgentID{ProjectManagerAgent}, decision.Agents)
	require.Equal(t, conversation.PhaseChat, decision.Phase)
	require.Equal(t, 2, client.calls)
}

func TestDecideFallsBackOnUnknownAgentAfterRetries(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"agents":["ghost"],"phase":"Execute","reason":"r"}`,
		`{"agents":["ghost"],"phase":"Execute","reason":"r"}`,
		`{"agents":["ghost"],"phase":"Execute","reason":"r"}`,
	}}
	agents := registeredAgents{}
	o := New(client, agents, hooks.NewBus(), nil)

	decision, err := o.Decide(context.Background(), "c1", Context{UserRequest: "do it"})
	require.NoError(t, err)
	require.Equal(t, []conversation.AgentID{ProjectManagerAgent}, decision.Agents)
}

func TestDecideAllowsEndSentinel(t *testing.T) {
	client := &scriptedClient{responses: []string{`{"agents":["END"],"phase":"Reflection","reason":"done"}`}}
	agents := registeredAgents{}
	o := New(client, agents, hooks.NewBus(), nil)

	decision, err := o.Decide(context.Background(), "c1", Context{UserRequest: "do it"})
	require.NoError(t, err)
	require.Equal(t, []conversation.AgentID{conversation.EndSentinel}, decision.Agents)
}

func TestNarrativeFromTurnsWalksInOrder(t *testing.T) {
	turns := []conversation.OrchestratorTurn{
		{
			TurnID:       "t1",
			Phase:        conversation.PhaseChat,
			TargetAgents: []conversation.AgentID{"project-manager"},
			Reason:       "initial triage",
			Completions:  []conversation.Completion{{AgentID: "project-manager", Summary: "routed to planner"}},
		},
	}
	narrative := NarrativeFromTurns(turns)
	require.Contains(t, narrative, "t1")
	require.Contains(t, narrative, "project-manager")
	require.Contains(t, narrative, "routed to planner")
}

func TestExtractJSONObjectStripsFence(t *testing.T) {
	raw := "```json\n{\"a\":1}\n```"
	require.Equal(t, `{"a":1}`, extractJSONObject(raw))
}

func TestExtractJSONObjectFindsBalancedBraces(t *testing.T) {
	raw := "some preamble {\"a\":{\"b\":1}} trailing"
	require.Equal(t, `{"a":{"b":1}}`, extractJSONObject(raw))
}

func TestExtractJSONObjectReturnsEmptyWithoutBrace(t *testing.T) {
	require.Equal(t, "", extractJSONObject("no json here"))
}
