// Package control implements the small administrative RPC surface tenexctl
// uses to talk to the running kernel (spec.md §6.6): queue status,
// force-release, and remove. Transport is gRPC with messages marshaled as
// JSON instead of protobuf, since the control surface has no other
// consumers and a hand-maintained .proto/codegen pipeline would buy nothing
// here.
package control

import "time"

// QueueStatusRequest asks for the current lock holder and waiting queue for
// a project.
type QueueStatusRequest struct {
	Project string `json:"project"`
}

// QueueEntryView describes one waiting conversation in a QueueStatusResponse.
type QueueEntryView struct {
	ConversationID string        `json:"conversationId"`
	HeldBy         string        `json:"heldBy"`
	EnqueuedAt     time.Time     `json:"enqueuedAt"`
	Position       int           `json:"position"`
	ETA            time.Duration `json:"eta"`
}

// QueueStatusResponse reports the held lock, if any, and the waiting queue.
type QueueStatusResponse struct {
	Project        string           `json:"project"`
	HolderID       string           `json:"holderId,omitempty"`
	HeldBy         string           `json:"heldBy,omitempty"`
	AcquiredAt     *time.Time       `json:"acquiredAt,omitempty"`
	MaxDurationMs  int64            `json:"maxDurationMs,omitempty"`
	Queue          []QueueEntryView `json:"queue"`
}

// QueueForceReleaseRequest administratively releases the execution lock
// currently held by ConversationID in Project, recording reason for the
// audit trail.
type QueueForceReleaseRequest struct {
	Project        string `json:"project"`
	ConversationID string `json:"conversationId"`
	Reason         string `json:"reason"`
}

// QueueForceReleaseResponse is empty on success.
type QueueForceReleaseResponse struct{}

// QueueRemoveRequest drops a queued (not holding) conversation from a
// project's waiting queue.
type QueueRemoveRequest struct {
	Project        string `json:"project"`
	ConversationID string `json:"conversationId"`
}

// QueueRemoveResponse is empty on success.
type QueueRemoveResponse struct{}
