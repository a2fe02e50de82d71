// Package kernelerrors provides the tagged-kind error type used throughout
// the TENEX kernel. Every component that can fail returns an *Error carrying
// one of the fixed Kind values from spec.md §7 instead of an opaque wrapped
// error, so callers (the orchestrator, the admin surface, tests) can branch
// on failure category with errors.Is without parsing strings.
package kernelerrors

import (
	"errors"
	"fmt"
)

// Kind categorizes the source and propagation policy of a kernel failure, as
// enumerated in spec.md §7.
type Kind string

const (
	// KindValidation indicates ToolExecutor rejected a tool call's arguments
	// against its declared schema. Returned as Err, published to the conversation.
	KindValidation Kind = "validation"
	// KindExecution indicates a tool handler returned or panicked with an error.
	// Non-fatal; logged and surfaced as a typed tool result.
	KindExecution Kind = "execution"
	// KindStreamInterrupt indicates the LLM stream died mid-turn. The turn ends
	// without termination and the orchestrator decides what happens next.
	KindStreamInterrupt Kind = "stream_interrupt"
	// KindParse indicates the orchestrator's routing JSON was malformed.
	KindParse Kind = "parse"
	// KindUnknownAgent indicates a routing decision named an agent that isn't
	// registered.
	KindUnknownAgent Kind = "unknown_agent"
	// KindPhaseTransition indicates an illegal phase transition was attempted.
	KindPhaseTransition Kind = "phase_transition"
	// KindLock indicates execution-mutex contention or a persistence failure
	// while mutating the lock.
	KindLock Kind = "lock"
	// KindTimeout indicates a held lock exceeded its maximum duration.
	KindTimeout Kind = "timeout"
	// KindPersistence indicates a durable-storage operation failed.
	KindPersistence Kind = "persistence"
	// KindSchemaCorruption indicates a persisted conversation failed structural
	// validation on load.
	KindSchemaCorruption Kind = "schema_corruption"
	// KindProtocol indicates a protocol-level violation, such as a duplicate
	// tool-call ID within a single turn.
	KindProtocol Kind = "protocol"
)

// Error is a structured kernel failure. It preserves a Kind for branching, a
// human-readable Message, and an optional Cause for error chains. Error
// supports errors.Is/As via Unwrap, mirroring the teacher's toolerrors.ToolError.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an *Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf formats a message and constructs an *Error of the given kind.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error, preserving it as the
// Cause so errors.Is/As still see through to the original failure.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is a *Error with the same Kind, allowing callers
// to test with errors.Is(err, kernelerrors.New(kernelerrors.KindTimeout, "")).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// As reports the Kind of err if it is (or wraps) a kernel *Error.
func As(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
