package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tenex-chat/tenex-kernel/internal/kernelerrors"
	"github.com/tenex-chat/tenex-kernel/internal/telemetry"
)

// IndexEntry is the lightweight per-conversation record the index tracks for
// listing, per the persistence contract in spec.md §4.2.
type IndexEntry struct {
	ID        ID
	Title     string
	Phase     Phase
	UpdatedAt time.Time
	Archived  bool
}

// Store exposes the ConversationStore operations named in spec.md §4.2. All
// methods are safe for concurrent use; mutations to a single conversation are
// serialized internally (spec.md §5, single-writer discipline) so callers
// never need their own locking.
type Store interface {
	Get(ctx context.Context, id ID) (*Conversation, error)
	Create(ctx context.Context, id ID, seed Event) (*Conversation, error)
	AppendEvent(ctx context.Context, id ID, event Event) (index int, err error)
	UpdateCursor(ctx context.Context, id ID, agent AgentID, cursor AgentCursor) error
	StartTurn(ctx context.Context, id ID, turn OrchestratorTurn) error
	AddCompletion(ctx context.Context, id ID, turnID string, completion Completion) error
	FailAgent(ctx context.Context, id ID, turnID string, agent AgentID) error
	RecordTransition(ctx context.Context, id ID, transition PhaseTransition) error
	SetExecutionActive(ctx context.Context, id ID, active bool) error
	UpdateMetadata(ctx context.Context, id ID, fn func(meta map[string]any)) error
	Save(ctx context.Context, id ID) error
	LoadAll(ctx context.Context) ([]*Conversation, error)
	Archive(ctx context.Context, id ID) error
	Index(ctx context.Context) ([]IndexEntry, error)
}

// Persister performs the durable half of a Store: it reads and writes whole
// conversation snapshots atomically. Store implementations compose a
// Persister rather than hard-coding a storage format, so the same in-memory
// mutation logic backs the file, MongoDB, and SQLite deployments described in
// SPEC_FULL.md's domain stack.
type Persister interface {
	// SaveConversation writes c atomically (temp-then-rename semantics, or the
	// backend's equivalent durability guarantee).
	SaveConversation(ctx context.Context, c *Conversation) error
	// LoadAllConversations reconstructs every persisted conversation. Entries
	// that fail structural validation are skipped, not returned as an error
	// (spec.md §4.2 Recovery).
	LoadAllConversations(ctx context.Context) ([]*Conversation, error)
	// DeleteConversation removes a conversation's durable record. Archive does
	// not call it: an archived conversation is saved with its Archived flag set.
	DeleteConversation(ctx context.Context, id ID) error
}

// memStore is the in-process half of every Store backend: it owns the
// authoritative in-memory Conversation map plus a per-conversation mutex so
// every mutation is serialized, matching the single-writer discipline of
// spec.md §5. The Persister is consulted only from Save/LoadAll/Archive;
// individual mutating calls do not block on durable I/O, mirroring the
// teacher's separation of in-memory workflow state from durable memory
// stores.
type memStore struct {
	persist Persister
	logger  telemetry.Logger

	mu            sync.RWMutex
	conversations map[ID]*Conversation
	locks         map[ID]*sync.Mutex

	indexMu sync.Mutex
	index   map[ID]IndexEntry

	now func() time.Time
}

// Option configures a Store at construction time.
type Option func(*memStore)

// WithLogger sets the logger used for warnings during LoadAll validation.
func WithLogger(l telemetry.Logger) Option {
	return func(s *memStore) { s.logger = l }
}

// WithClock overrides the wall-clock source; tests use this to control
// CreatedAt/UpdatedAt deterministically.
func WithClock(now func() time.Time) Option {
	return func(s *memStore) { s.now = now }
}

// New constructs a Store backed by the given Persister.
func New(persist Persister, opts ...Option) Store {
	s := &memStore{
		persist:       persist,
		logger:        telemetry.NoopLogger{},
		conversations: make(map[ID]*Conversation),
		locks:         make(map[ID]*sync.Mutex),
		index:         make(map[ID]IndexEntry),
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *memStore) lockFor(id ID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *memStore) withConversation(id ID, fn func(c *Conversation) error) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	c, ok := s.conversations[id]
	s.mu.RUnlock()
	if !ok {
		return kernelerrors.Newf(kernelerrors.KindPersistence, "conversation %q not found", id)
	}
	if err := fn(c); err != nil {
		return err
	}
	c.UpdatedAt = s.now()
	s.updateIndexLocked(c)
	return nil
}

func (s *memStore) updateIndexLocked(c *Conversation) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	title, _ := c.Metadata[MetaTitle].(string)
	s.index[c.ID] = IndexEntry{
		ID:        c.ID,
		Title:     title,
		Phase:     c.Phase,
		UpdatedAt: c.UpdatedAt,
		Archived:  c.Archived,
	}
}

func (s *memStore) Get(_ context.Context, id ID) (*Conversation, error) {
	s.mu.RLock()
	c, ok := s.conversations[id]
	s.mu.RUnlock()
	if !ok {
		return nil, kernelerrors.Newf(kernelerrors.KindPersistence, "conversation %q not found", id)
	}
	return c.Clone(), nil
}

func (s *memStore) Create(_ context.Context, id ID, seed Event) (*Conversation, error) {
	s.mu.Lock()
	if existing, ok := s.conversations[id]; ok {
		s.mu.Unlock()
		return existing.Clone(), nil
	}
	c := newConversation(id, s.now())
	c.History = append(c.History, seed)
	s.conversations[id] = c
	s.locks[id] = &sync.Mutex{}
	s.mu.Unlock()
	s.updateIndexLocked(c)
	return c.Clone(), nil
}

// AppendEvent implements invariant 1 (append-only, stable indices): it never
// rewrites an existing slot, only grows History.
func (s *memStore) AppendEvent(_ context.Context, id ID, event Event) (int, error) {
	var index int
	err := s.withConversation(id, func(c *Conversation) error {
		if c.Archived {
			// spec.md invariant 7: reopened by a subsequent user event.
			c.Archived = false
		}
		// A new event likewise reopens a conversation routed to END.
		delete(c.Metadata, MetaTerminal)
		c.History = append(c.History, event)
		index = len(c.History) - 1
		return nil
	})
	return index, err
}

// UpdateCursor enforces invariant 2: 0 <= lastSeenIndex <= len(history).
func (s *memStore) UpdateCursor(_ context.Context, id ID, agent AgentID, cursor AgentCursor) error {
	return s.withConversation(id, func(c *Conversation) error {
		if cursor.LastSeenIndex > uint64(len(c.History)) {
			return kernelerrors.Newf(kernelerrors.KindPersistence,
				"cursor %d exceeds history length %d", cursor.LastSeenIndex, len(c.History))
		}
		c.AgentCursors[agent] = cursor
		return nil
	})
}

func (s *memStore) StartTurn(_ context.Context, id ID, turn OrchestratorTurn) error {
	return s.withConversation(id, func(c *Conversation) error {
		if turn.StartedAt.IsZero() {
			turn.StartedAt = s.now()
		}
		c.OrchestratorTurns = append(c.OrchestratorTurns, turn)
		return nil
	})
}

func (s *memStore) AddCompletion(_ context.Context, id ID, turnID string, completion Completion) error {
	return s.withConversation(id, func(c *Conversation) error {
		turn, ok := c.Turn(turnID)
		if !ok {
			return kernelerrors.Newf(kernelerrors.KindPersistence, "turn %q not found", turnID)
		}
		if turn.Completed {
			return kernelerrors.Newf(kernelerrors.KindPersistence, "turn %q already completed", turnID)
		}
		if completion.At.IsZero() {
			completion.At = s.now()
		}
		turn.Completions = append(turn.Completions, completion)
		turn.recomputeCompleted()
		return nil
	})
}

func (s *memStore) FailAgent(_ context.Context, id ID, turnID string, agent AgentID) error {
	return s.withConversation(id, func(c *Conversation) error {
		turn, ok := c.Turn(turnID)
		if !ok {
			return kernelerrors.Newf(kernelerrors.KindPersistence, "turn %q not found", turnID)
		}
		if turn.Completed {
			return kernelerrors.Newf(kernelerrors.KindPersistence, "turn %q already completed", turnID)
		}
		if turn.Failed == nil {
			turn.Failed = make(map[AgentID]bool)
		}
		turn.Failed[agent] = true
		turn.recomputeCompleted()
		return nil
	})
}

func (s *memStore) RecordTransition(_ context.Context, id ID, transition PhaseTransition) error {
	return s.withConversation(id, func(c *Conversation) error {
		if transition.At.IsZero() {
			transition.At = s.now()
		}
		c.PhaseTransitions = append(c.PhaseTransitions, transition)
		c.Phase = transition.To
		if transition.To == PhaseReflection {
			// handled by caller transitioning out of Reflection; nothing here.
			_ = transition
		}
		return nil
	})
}

func (s *memStore) SetExecutionActive(_ context.Context, id ID, active bool) error {
	return s.withConversation(id, func(c *Conversation) error {
		c.ExecutionTime.Active = active
		if active {
			now := s.now()
			c.ExecutionTime.SessionStart = &now
		} else if c.ExecutionTime.SessionStart != nil {
			c.ExecutionTime.TotalSeconds += s.now().Sub(*c.ExecutionTime.SessionStart).Seconds()
			c.ExecutionTime.SessionStart = nil
		}
		return nil
	})
}

// UpdateMetadata applies fn to the conversation's metadata map under the
// per-conversation write lock. Used by components (e.g. the PhaseMachine's
// REFLECTION→CHAT readFiles clear) that need to mutate metadata without
// reimplementing the store's serialization discipline.
func (s *memStore) UpdateMetadata(_ context.Context, id ID, fn func(meta map[string]any)) error {
	return s.withConversation(id, func(c *Conversation) error {
		fn(c.Metadata)
		return nil
	})
}

// Save persists the named conversation atomically via the Persister. Retried
// once on failure per spec.md §4.2 PersistenceFailure policy; the second
// failure is returned to the caller.
func (s *memStore) Save(ctx context.Context, id ID) error {
	s.mu.RLock()
	c, ok := s.conversations[id]
	s.mu.RUnlock()
	if !ok {
		return kernelerrors.Newf(kernelerrors.KindPersistence, "conversation %q not found", id)
	}
	snapshot := c.Clone()
	err := s.persist.SaveConversation(ctx, snapshot)
	if err == nil {
		return nil
	}
	s.logger.Warn(ctx, "conversation save failed, retrying once", "conversation_id", string(id), "err", err)
	if err := s.persist.SaveConversation(ctx, snapshot); err != nil {
		return kernelerrors.Wrap(kernelerrors.KindPersistence, "save conversation", err)
	}
	return nil
}

// LoadAll reconstructs every persisted conversation, resetting
// ExecutionTime.Active per the recovery contract in spec.md §4.2, and
// rebuilds the in-memory index. Conversations the Persister could not
// structurally validate are simply absent from the returned slice.
func (s *memStore) LoadAll(ctx context.Context) ([]*Conversation, error) {
	loaded, err := s.persist.LoadAllConversations(ctx)
	if err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.KindPersistence, "load all conversations", err)
	}
	s.mu.Lock()
	for _, c := range loaded {
		c.ExecutionTime.Active = false
		c.ExecutionTime.SessionStart = nil
		s.conversations[c.ID] = c
		s.locks[c.ID] = &sync.Mutex{}
	}
	s.mu.Unlock()
	for _, c := range loaded {
		s.updateIndexLocked(c)
	}
	return loaded, nil
}

func (s *memStore) Archive(ctx context.Context, id ID) error {
	if err := s.withConversation(id, func(c *Conversation) error {
		c.Archived = true
		return nil
	}); err != nil {
		return err
	}
	return s.Save(ctx, id)
}

// Index returns the lightweight listing snapshot, sorted by most-recently
// updated first.
func (s *memStore) Index(context.Context) ([]IndexEntry, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	out := make([]IndexEntry, 0, len(s.index))
	for _, e := range s.index {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}
