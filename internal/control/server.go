package control

import (
	"context"
	"time"

	"github.com/tenex-chat/tenex-kernel/internal/conversation"
	"github.com/tenex-chat/tenex-kernel/internal/execqueue"
)

// QueueServer implements Server by delegating to an ExecutionQueue. It is
// the daemon-side handler registered with RegisterServer.
type QueueServer struct {
	queue *execqueue.Queue
}

// NewQueueServer wraps queue as a control Server.
func NewQueueServer(queue *execqueue.Queue) *QueueServer {
	return &QueueServer{queue: queue}
}

// QueueStatus reports the held lock and waiting queue for a project.
func (s *QueueServer) QueueStatus(ctx context.Context, req *QueueStatusRequest) (*QueueStatusResponse, error) {
	lock, queue, err := s.queue.Status(ctx, req.Project)
	if err != nil {
		return nil, err
	}
	resp := &QueueStatusResponse{Project: req.Project}
	if lock != nil {
		resp.HolderID = string(lock.ConversationID)
		resp.HeldBy = string(lock.HeldBy)
		acquired := lock.AcquiredAt
		resp.AcquiredAt = &acquired
		resp.MaxDurationMs = lock.MaxDuration.Milliseconds()
	}
	resp.Queue = make([]QueueEntryView, len(queue))
	for i, e := range queue {
		resp.Queue[i] = QueueEntryView{
			ConversationID: string(e.ConversationID),
			HeldBy:         string(e.HeldBy),
			EnqueuedAt:     e.EnqueuedAt,
			Position:       i + 1,
			ETA:            execqueue.DefaultAvgExecDuration * time.Duration(i+1),
		}
	}
	return resp, nil
}

// QueueForceRelease releases a project's execution lock regardless of
// holder.
func (s *QueueServer) QueueForceRelease(ctx context.Context, req *QueueForceReleaseRequest) (*QueueForceReleaseResponse, error) {
	id := conversation.ID(req.ConversationID)
	if err := s.queue.ForceRelease(ctx, req.Project, id, req.Reason); err != nil {
		return nil, err
	}
	return &QueueForceReleaseResponse{}, nil
}

// QueueRemove drops a queued conversation from a project's waiting queue.
func (s *QueueServer) QueueRemove(ctx context.Context, req *QueueRemoveRequest) (*QueueRemoveResponse, error) {
	if err := s.queue.Remove(ctx, req.Project, conversation.ID(req.ConversationID)); err != nil {
		return nil, err
	}
	return &QueueRemoveResponse{}, nil
}
