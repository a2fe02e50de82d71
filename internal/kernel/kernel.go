// Package kernel wires the Orchestrator, PhaseMachine, ExecutionQueue, and
// AgentRuntime into the routing loop implied by spec.md §5 and the
// end-to-end scenarios: one inbound event can cascade through several
// phases (Execute → Verification → Chores → Reflection → END) without
// further external input, each hop driven by a fresh routing decision.
package kernel

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/tenex-chat/tenex-kernel/internal/agentrt"
	"github.com/tenex-chat/tenex-kernel/internal/conversation"
	"github.com/tenex-chat/tenex-kernel/internal/execqueue"
	"github.com/tenex-chat/tenex-kernel/internal/kernelerrors"
	"github.com/tenex-chat/tenex-kernel/internal/orchestrator"
	"github.com/tenex-chat/tenex-kernel/internal/phase"
	"github.com/tenex-chat/tenex-kernel/internal/telemetry"
	"github.com/tenex-chat/tenex-kernel/internal/tracing"
)

// ProjectResolver maps a conversation to the project identifier its
// execution lock is tracked under.
type ProjectResolver func(conv *conversation.Conversation) string

// Kernel drives a conversation through as many orchestration hops as are
// currently available on a Wake call: decide routing, transition phase
// (acquiring the execution lock when entering Execute), run every targeted
// agent concurrently, then decide again until the conversation blocks on a
// queued lock or reaches END.
type Kernel struct {
	store   conversation.Store
	orch    *orchestrator.Orchestrator
	phases  *phase.Machine
	queue   *execqueue.Queue
	runtime *agentrt.Runtime
	project ProjectResolver
	logger  telemetry.Logger

	mu       sync.Mutex
	inFlight map[conversation.ID]bool
}

// New constructs a Kernel and, if queue is non-nil, registers itself as the
// queue's promote notifier so a conversation blocked waiting for the
// execution lock resumes automatically once it is granted.
func New(store conversation.Store, orch *orchestrator.Orchestrator, phases *phase.Machine, queue *execqueue.Queue, runtime *agentrt.Runtime, project ProjectResolver, logger telemetry.Logger) *Kernel {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	k := &Kernel{
		store:    store,
		orch:     orch,
		phases:   phases,
		queue:    queue,
		runtime:  runtime,
		project:  project,
		logger:   logger,
		inFlight: make(map[conversation.ID]bool),
	}
	if queue != nil {
		queue.SetPromoteNotifier(func(_ string, id conversation.ID) {
			go k.Wake(context.Background(), id)
		})
	}
	return k
}

// Wake drives id through as many hops as are available. It is the function
// signature ingress.Wake and recovery's resumption path both expect.
// Concurrent Wake calls for the same conversation collapse to one
// in-progress driver; a second caller marks the driver to hop once more
// before it returns, so no routing decision is lost.
func (k *Kernel) Wake(ctx context.Context, id conversation.ID) {
	k.mu.Lock()
	if _, running := k.inFlight[id]; running {
		k.inFlight[id] = true
		k.mu.Unlock()
		return
	}
	k.inFlight[id] = false
	k.mu.Unlock()

	for {
		advanced, err := k.hop(ctx, id)
		if err != nil {
			k.logger.Error(ctx, "kernel: orchestration hop failed", "conversation_id", string(id), "error", err.Error())
			k.mu.Lock()
			delete(k.inFlight, id)
			k.mu.Unlock()
			return
		}
		if advanced {
			continue
		}
		k.mu.Lock()
		if !k.inFlight[id] {
			delete(k.inFlight, id)
			k.mu.Unlock()
			return
		}
		k.inFlight[id] = false
		k.mu.Unlock()
	}
}

// hop performs one routing decision and its agent fan-out, reporting
// whether the conversation should be driven again immediately.
func (k *Kernel) hop(ctx context.Context, id conversation.ID) (bool, error) {
	conv, err := k.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if terminal, _ := conv.Metadata[conversation.MetaTerminal].(bool); terminal {
		return false, nil
	}

	project := ""
	if k.project != nil {
		project = k.project(conv)
	}

	octx := orchestrator.Context{
		UserRequest:       userRequest(conv),
		WorkflowNarrative: orchestrator.NarrativeFromTurns(conv.OrchestratorTurns),
	}
	decision, err := k.orch.Decide(ctx, id, octx)
	if err != nil {
		return false, err
	}

	if isEnd(decision.Agents) {
		return false, k.store.UpdateMetadata(ctx, id, func(meta map[string]any) {
			meta[conversation.MetaTerminal] = true
		})
	}

	if decision.Phase != conv.Phase {
		if err := k.phases.Transition(ctx, project, id, decision.Phase, orchestrator.ProjectManagerAgent, decision.Reason, ""); err != nil {
			if kind, ok := kernelerrors.As(err); ok && kind == kernelerrors.KindLock {
				// Enqueued behind another conversation's execution lock; the
				// queue's promote notifier re-wakes us once it is granted.
				return false, nil
			}
			return false, err
		}
	}

	turnID := uuid.NewString()
	if err := k.store.StartTurn(ctx, id, conversation.OrchestratorTurn{
		TurnID:       turnID,
		Phase:        decision.Phase,
		TargetAgents: decision.Agents,
		Reason:       decision.Reason,
	}); err != nil {
		return false, err
	}

	turnTrace := tracing.New(id).WithPhase(decision.Phase).WithTurn(turnID)
	trigger := lastEvent(conv)
	var wg sync.WaitGroup
	for _, agent := range decision.Agents {
		wg.Add(1)
		go func(agent conversation.AgentID) {
			defer wg.Done()
			agentTrace := turnTrace.WithAgent(string(agent))
			// runtime.Run records the agent's Completion through
			// termination.Enforcer.Apply. It returns an error when the
			// conversation cannot be loaded or the enforcer fails, and only
			// then is the agent marked failed here. A Run ended by an LLM
			// stream error returns no error and records neither.
			_, err := k.runtime.Run(ctx, id, agent, turnID, trigger, false)
			if err != nil {
				k.logger.Error(ctx, "kernel: agent turn failed", append(agentTrace.Fields(), "error", err.Error())...)
				if failErr := k.store.FailAgent(ctx, id, turnID, agent); failErr != nil {
					k.logger.Error(ctx, "kernel: failed to record agent failure", append(agentTrace.Fields(), "error", failErr.Error())...)
				}
			}
		}(agent)
	}
	wg.Wait()

	if decision.Phase == conversation.PhaseExecute && k.queue != nil {
		if err := k.queue.ReleaseExecute(ctx, project, id); err != nil {
			k.logger.Warn(ctx, "kernel: failed to release execution lock", "conversation_id", string(id), "error", err.Error())
		}
	}

	return true, nil
}

func isEnd(agents []conversation.AgentID) bool {
	for _, a := range agents {
		if a == conversation.EndSentinel {
			return true
		}
	}
	return false
}

// userRequest extracts the initiating request text: the content of the
// first event in the conversation's history.
func userRequest(conv *conversation.Conversation) string {
	if len(conv.History) == 0 {
		return ""
	}
	return conv.History[0].Content
}

// lastEvent returns the most recent event in history as the trigger for the
// next turn, or the zero Event if history is empty (a conversation created
// with no seed, which Create's contract disallows, so this is defensive).
func lastEvent(conv *conversation.Conversation) conversation.Event {
	if len(conv.History) == 0 {
		return conversation.Event{}
	}
	return conv.History[len(conv.History)-1]
}
