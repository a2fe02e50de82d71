// Package reminder defines system-reminder guidance and an Engine that tracks
// it per conversation. The TerminationEnforcer registers a reminder in its
// Engine when a turn is retried; no kernel component reads reminders back
// out of an Engine, so the retried agent request carries no reminder text.
// It is policy-agnostic: the Engine only tracks lifetime and rate-limit
// state, leaving evaluation of *which* reminder applies to the caller.
package reminder

// Tier is the priority tier for a reminder. Lower values take precedence.
type Tier int

const (
	// TierSafety reminders (e.g. "you must call complete before ending the
	// turn") are never suppressed by per-conversation caps.
	TierSafety Tier = iota
	// TierGuidance reminders are soft nudges, first to be dropped under budget
	// pressure.
	TierGuidance
)

// Reminder describes one piece of guidance to inject into an agent's next
// invocation.
type Reminder struct {
	// ID is stable within a conversation; used for de-duplication and rate
	// limiting (e.g. "missing_termination", "phase_requires_complete").
	ID string
	// Text is the natural-language guidance, typically wrapped in a
	// <system-reminder> tag per the ambient-stack convention.
	Text string
	// Priority controls suppression precedence.
	Priority Tier
	// MaxPerConversation caps total emissions; zero means unlimited.
	MaxPerConversation int
	// MinTurnsBetween enforces spacing between emissions; zero means no limit.
	MinTurnsBetween int
}
