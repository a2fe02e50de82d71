// Package execqueue implements the ExecutionQueue: a per-project mutex
// admitting at most one conversation into the Execute phase at a time, with
// a strict-FIFO waiting queue, administrative force-release, and
// maxDuration-based timeout (spec.md §4.7).
package execqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tenex-chat/tenex-kernel/internal/conversation"
	"github.com/tenex-chat/tenex-kernel/internal/kernelerrors"
	"github.com/tenex-chat/tenex-kernel/internal/telemetry"
)

// DefaultMaxDuration is the lock timeout, spec.md §9 (30 minutes).
const DefaultMaxDuration = 30 * time.Minute

// DefaultAvgExecDuration is used to estimate wait time before any execution
// history exists, spec.md §4.7.
const DefaultAvgExecDuration = 10 * time.Minute

// Lock is a held execution slot for one project. At most one Lock exists per
// project at any time.
type Lock struct {
	ConversationID conversation.ID
	HeldBy         conversation.AgentID
	AcquiredAt     time.Time
	MaxDuration    time.Duration
	ProjectID      string
}

// Expired reports whether the lock has exceeded its maxDuration as of now.
func (l Lock) Expired(now time.Time) bool {
	return now.Sub(l.AcquiredAt) >= l.MaxDuration
}

// QueueEntry is a conversation waiting for the project's execution lock.
type QueueEntry struct {
	ConversationID conversation.ID
	HeldBy         conversation.AgentID
	EnqueuedAt     time.Time
	Retries        int
}

// Grant is the result of a requestExecute call.
type Grant struct {
	Granted  bool
	Position int // 1-based, only meaningful when !Granted
	ETA      time.Duration
}

// Store persists per-project lock and queue state. An in-memory
// implementation is provided; a Redis-backed implementation exists for
// multi-process deployments (spec.md's distributed-queue domain stack
// addition).
type Store interface {
	Get(ctx context.Context, project string) (lock *Lock, queue []QueueEntry, err error)
	Put(ctx context.Context, project string, lock *Lock, queue []QueueEntry) error
	RecordExecDuration(ctx context.Context, project string, d time.Duration)
	AvgExecDuration(ctx context.Context, project string) time.Duration
	Projects(ctx context.Context) ([]string, error)
}

// Queue is the ExecutionQueue component. It serializes all mutating
// operations per project via an internal mutex (mirroring the conversation
// store's per-conversation single-writer discipline, spec.md §5) while
// delegating durable state to a Store.
type Queue struct {
	store  Store
	logger telemetry.Logger
	notify func(project string, id conversation.ID)

	mu       sync.Mutex
	projLock map[string]*sync.Mutex
}

// New constructs a Queue.
func New(store Store, logger telemetry.Logger) *Queue {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Queue{store: store, logger: logger, projLock: make(map[string]*sync.Mutex)}
}

// SetPromoteNotifier registers a callback invoked whenever promote grants
// the lock to a new conversation (release, force-release, or timeout). The
// scheduler uses this to re-drive a conversation that was blocked waiting
// for the project's execution lock, rather than polling.
func (q *Queue) SetPromoteNotifier(f func(project string, id conversation.ID)) {
	q.mu.Lock()
	q.notify = f
	q.mu.Unlock()
}

func (q *Queue) lockFor(project string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.projLock[project]
	if !ok {
		l = &sync.Mutex{}
		q.projLock[project] = l
	}
	return l
}

// RequestExecute implements spec.md §4.7's requestExecute, with one retry on
// persistence failure before denying with a transient KindLock error.
func (q *Queue) RequestExecute(ctx context.Context, project string, id conversation.ID) (bool, error) {
	grant, err := q.requestExecuteRetrying(ctx, project, id, conversation.EndSentinel)
	if err != nil {
		return false, err
	}
	return grant.Granted, nil
}

// RequestExecuteFor is the full operation, recording holder as the lock or
// queue entry's HeldBy and returning queue position and ETA when not
// immediately granted.
func (q *Queue) RequestExecuteFor(ctx context.Context, project string, id conversation.ID, holder conversation.AgentID) (Grant, error) {
	return q.requestExecuteRetrying(ctx, project, id, holder)
}

func (q *Queue) requestExecuteRetrying(ctx context.Context, project string, id conversation.ID, holder conversation.AgentID) (Grant, error) {
	lock := q.lockFor(project)
	lock.Lock()
	defer lock.Unlock()

	grant, err := q.requestExecuteLocked(ctx, project, id, holder)
	if err == nil {
		return grant, nil
	}
	q.logger.Warn(ctx, "execqueue request failed, retrying once", "project", project, "conversation_id", string(id), "err", err)
	grant, err = q.requestExecuteLocked(ctx, project, id, holder)
	if err != nil {
		return Grant{}, kernelerrors.Wrap(kernelerrors.KindLock, "request execute", err)
	}
	return grant, nil
}

func (q *Queue) requestExecuteLocked(ctx context.Context, project string, id conversation.ID, holder conversation.AgentID) (Grant, error) {
	l, queue, err := q.store.Get(ctx, project)
	if err != nil {
		return Grant{}, err
	}

	if l == nil {
		newLock := &Lock{ConversationID: id, HeldBy: holder, AcquiredAt: time.Now(), MaxDuration: DefaultMaxDuration, ProjectID: project}
		if err := q.store.Put(ctx, project, newLock, queue); err != nil {
			return Grant{}, err
		}
		return Grant{Granted: true}, nil
	}
	if l.ConversationID == id {
		// re-entrant: already holds the lock.
		return Grant{Granted: true}, nil
	}

	for _, e := range queue {
		if e.ConversationID == id {
			pos, eta := q.positionAndETA(ctx, project, *l, queue, id)
			return Grant{Granted: false, Position: pos, ETA: eta}, nil
		}
	}
	queue = append(queue, QueueEntry{ConversationID: id, HeldBy: holder, EnqueuedAt: time.Now()})
	sortQueue(queue)
	if err := q.store.Put(ctx, project, l, queue); err != nil {
		return Grant{}, err
	}
	pos, eta := q.positionAndETA(ctx, project, *l, queue, id)
	return Grant{Granted: false, Position: pos, ETA: eta}, nil
}

func sortQueue(queue []QueueEntry) {
	sort.SliceStable(queue, func(i, j int) bool {
		if !queue[i].EnqueuedAt.Equal(queue[j].EnqueuedAt) {
			return queue[i].EnqueuedAt.Before(queue[j].EnqueuedAt)
		}
		return queue[i].ConversationID < queue[j].ConversationID
	})
}

// positionAndETA computes the 1-based queue position and estimated wait per
// spec.md §4.7: eta = max(0, avgExec - ageOfCurrentLock) + position*avgExec.
func (q *Queue) positionAndETA(ctx context.Context, project string, l Lock, queue []QueueEntry, id conversation.ID) (int, time.Duration) {
	avg := q.store.AvgExecDuration(ctx, project)
	if avg <= 0 {
		avg = DefaultAvgExecDuration
	}
	position := 0
	for i, e := range queue {
		if e.ConversationID == id {
			position = i + 1
			break
		}
	}
	age := time.Since(l.AcquiredAt)
	head := avg - age
	if head < 0 {
		head = 0
	}
	eta := head + time.Duration(position)*avg
	return position, eta
}

// ReleaseExecute clears the lock if held by id, then promotes the queue head.
func (q *Queue) ReleaseExecute(ctx context.Context, project string, id conversation.ID) error {
	lock := q.lockFor(project)
	lock.Lock()
	defer lock.Unlock()

	l, queue, err := q.store.Get(ctx, project)
	if err != nil {
		return err
	}
	if l == nil || l.ConversationID != id {
		return kernelerrors.Newf(kernelerrors.KindLock, "conversation %q does not hold the lock", id)
	}
	q.store.RecordExecDuration(ctx, project, time.Since(l.AcquiredAt))
	return q.promote(ctx, project, queue)
}

// ForceRelease is the administrative unconditional release, spec.md §4.7 and
// §6.6 (`queue force-release`).
func (q *Queue) ForceRelease(ctx context.Context, project string, id conversation.ID, reason string) error {
	lock := q.lockFor(project)
	lock.Lock()
	defer lock.Unlock()

	l, queue, err := q.store.Get(ctx, project)
	if err != nil {
		return err
	}
	if l == nil || l.ConversationID != id {
		return kernelerrors.Newf(kernelerrors.KindLock, "conversation %q does not hold the lock", id)
	}
	q.logger.Warn(ctx, "execution lock force-released", "project", project, "conversation_id", string(id), "reason", reason)
	return q.promote(ctx, project, queue)
}

// OnTimeout force-releases a lock that exceeded maxDuration. Equivalent to
// ForceRelease with reason "timeout".
func (q *Queue) OnTimeout(ctx context.Context, project string, id conversation.ID) error {
	return q.ForceRelease(ctx, project, id, "timeout")
}

// promote clears the current lock and, if the queue is non-empty, grants the
// lock to its head in the same transaction (spec.md invariant: "lock
// acquired exactly once, next queue entry promoted in the same
// transaction").
func (q *Queue) promote(ctx context.Context, project string, queue []QueueEntry) error {
	if len(queue) == 0 {
		return q.store.Put(ctx, project, nil, nil)
	}
	sortQueue(queue)
	head := queue[0]
	rest := append([]QueueEntry(nil), queue[1:]...)
	newLock := &Lock{ConversationID: head.ConversationID, HeldBy: head.HeldBy, AcquiredAt: time.Now(), MaxDuration: DefaultMaxDuration, ProjectID: project}
	if err := q.store.Put(ctx, project, newLock, rest); err != nil {
		return err
	}
	q.mu.Lock()
	notify := q.notify
	q.mu.Unlock()
	if notify != nil {
		notify(project, head.ConversationID)
	}
	return nil
}

// Projects lists every project with queue state on record, used by recovery
// and periodic sweeps.
func (q *Queue) Projects(ctx context.Context) ([]string, error) {
	return q.store.Projects(ctx)
}

// Status reports the current lock and queue for a project, used by
// tenexctl's `queue status` (spec.md §6.6).
func (q *Queue) Status(ctx context.Context, project string) (*Lock, []QueueEntry, error) {
	return q.store.Get(ctx, project)
}

// Remove drops a queued (not yet granted) entry, used by `queue remove`.
func (q *Queue) Remove(ctx context.Context, project string, id conversation.ID) error {
	lock := q.lockFor(project)
	lock.Lock()
	defer lock.Unlock()

	l, queue, err := q.store.Get(ctx, project)
	if err != nil {
		return err
	}
	out := queue[:0]
	found := false
	for _, e := range queue {
		if e.ConversationID == id {
			found = true
			continue
		}
		out = append(out, e)
	}
	if !found {
		return kernelerrors.Newf(kernelerrors.KindLock, "conversation %q is not queued", id)
	}
	return q.store.Put(ctx, project, l, out)
}

// SweepTimeouts checks every project's lock for expiry and force-releases
// with reason "timeout". Intended to be called periodically by tenexd.
func (q *Queue) SweepTimeouts(ctx context.Context) error {
	projects, err := q.store.Projects(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, project := range projects {
		l, _, err := q.Status(ctx, project)
		if err != nil || l == nil {
			continue
		}
		if l.Expired(now) {
			if err := q.OnTimeout(ctx, project, l.ConversationID); err != nil {
				q.logger.Warn(ctx, "timeout sweep force-release failed", "project", project, "err", err)
			}
		}
	}
	return nil
}
