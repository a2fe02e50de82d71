// Package tools declares the Tool capability (spec.md §6.3): a tool is a
// name, a JSON parameter schema, and a handler that ToolExecutor invokes
// after schema validation. Tools are registered at startup into a Registry.
package tools

import (
	"context"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tenex-chat/tenex-kernel/internal/kernelerrors"
)

// ResultKind discriminates the ToolResult sum type (spec.md §3: "ToolResult —
// sum type: Ok{output, metadata?} | Err{kind, message, cause?}").
type ResultKind string

const (
	ResultOk  ResultKind = "ok"
	ResultErr ResultKind = "err"
)

// Result is the tagged union a tool handler (and ToolExecutor) returns.
// Every result carries DurationMs, filled in by ToolExecutor after Handle
// returns.
type Result struct {
	Kind ResultKind

	// ResultOk
	Output   json.RawMessage
	Metadata map[string]any

	// ResultErr
	ErrKind kernelerrors.Kind
	Message string
	Cause   error

	DurationMs int64
}

// Ok constructs a successful Result.
func Ok(output json.RawMessage, metadata map[string]any) Result {
	return Result{Kind: ResultOk, Output: output, Metadata: metadata}
}

// Err constructs a failed Result.
func Err(kind kernelerrors.Kind, message string, cause error) Result {
	return Result{Kind: ResultErr, ErrKind: kind, Message: message, Cause: cause}
}

// Call is one invocation request parsed from a model.StreamEvent's
// EventToolStart (spec.md §3: "ToolCall — {toolName, args: map, callId}").
type Call struct {
	ToolName string
	Args     json.RawMessage
	CallID   string
}

// Handler executes a tool's body. ctx is the ExecutionContext built by
// ToolExecutor (agent, conversation, phase, store) threaded
// through context.Context values by the caller.
type Handler func(ctx context.Context, args json.RawMessage) Result

// Spec describes one registered tool: its name, declared parameter schema,
// and handler. ToolExecutor validates Call.Args against ParamSchema before
// invoking Handle.
type Spec struct {
	Name        string
	Description string
	ParamSchema json.RawMessage
	Handle      Handler

	compiled *jsonschema.Schema
}

// compile lazily compiles ParamSchema once, caching the result on the Spec.
func (s *Spec) compile() (*jsonschema.Schema, error) {
	if s.compiled != nil {
		return s.compiled, nil
	}
	if len(s.ParamSchema) == 0 {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(s.ParamSchema, &doc); err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.KindValidation, "tool "+s.Name+": invalid param schema", err)
	}
	resource := s.Name + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resource, doc); err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.KindValidation, "tool "+s.Name+": compile param schema", err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.KindValidation, "tool "+s.Name+": compile param schema", err)
	}
	s.compiled = schema
	return schema, nil
}

// Validate checks args against the tool's declared schema.
func (s *Spec) Validate(args json.RawMessage) error {
	schema, err := s.compile()
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}
	var doc any
	if len(args) == 0 {
		doc = map[string]any{}
	} else if err := json.Unmarshal(args, &doc); err != nil {
		return kernelerrors.Wrap(kernelerrors.KindValidation, "tool "+s.Name+": args are not valid json", err)
	}
	if err := schema.Validate(doc); err != nil {
		return kernelerrors.Wrap(kernelerrors.KindValidation, "tool "+s.Name+": args failed schema validation", err)
	}
	return nil
}

// Registry is the fixed set of tools available to an agent in a given
// invocation. Registries are built once at startup and are read-only
// thereafter.
type Registry struct {
	specs map[string]*Spec
	order []string
}

// NewRegistry builds a Registry from the given specs. A duplicate tool name
// is a programming error and panics, matching startup-time registration
// failures elsewhere in the kernel.
func NewRegistry(specs ...Spec) *Registry {
	r := &Registry{specs: make(map[string]*Spec, len(specs))}
	for i := range specs {
		s := specs[i]
		if _, exists := r.specs[s.Name]; exists {
			panic("tools: duplicate tool name " + s.Name)
		}
		r.specs[s.Name] = &s
		r.order = append(r.order, s.Name)
	}
	return r
}

// Lookup returns the named tool, or false if unregistered.
func (r *Registry) Lookup(name string) (*Spec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}
