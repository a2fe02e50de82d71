package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tenex-chat/tenex-kernel/internal/kernelerrors"
	"github.com/tenex-chat/tenex-kernel/internal/telemetry"
)

// fileRecord is the on-disk representation of a Conversation. It exists
// separately from Conversation so a future field rename doesn't silently
// reinterpret old snapshots; LoadAllConversations validates a record before
// converting it.
type fileRecord struct {
	Version           int                       `json:"version"`
	ID                ID                        `json:"id"`
	Phase             Phase                     `json:"phase"`
	History           []Event                   `json:"history"`
	AgentCursors      map[AgentID]AgentCursor   `json:"agentCursors"`
	OrchestratorTurns []OrchestratorTurn        `json:"orchestratorTurns"`
	PhaseTransitions  []PhaseTransition         `json:"phaseTransitions"`
	ExecutionTime     ExecutionTime             `json:"executionTime"`
	Metadata          map[string]any            `json:"metadata"`
	Archived          bool                      `json:"archived"`
	CreatedAt         string                    `json:"createdAt"`
	UpdatedAt         string                    `json:"updatedAt"`
}

const fileRecordVersion = 1

// FilePersister stores one JSON file per conversation under a root
// directory, writing each with the standard write-temp-then-rename sequence
// so a crash mid-write never leaves a torn file behind (spec.md §4.2, §6.4).
type FilePersister struct {
	rootDir string
	logger  telemetry.Logger
}

// NewFilePersister constructs a FilePersister rooted at dir. The directory is
// created on first use, not at construction time.
func NewFilePersister(dir string, logger telemetry.Logger) *FilePersister {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &FilePersister{rootDir: dir, logger: logger}
}

func safeFileKey(id ID) string {
	s := string(id)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

func (p *FilePersister) pathFor(id ID) string {
	return filepath.Join(p.rootDir, fmt.Sprintf("%s.json", safeFileKey(id)))
}

func toRecord(c *Conversation) fileRecord {
	return fileRecord{
		Version:           fileRecordVersion,
		ID:                c.ID,
		Phase:             c.Phase,
		History:           c.History,
		AgentCursors:      c.AgentCursors,
		OrchestratorTurns: c.OrchestratorTurns,
		PhaseTransitions:  c.PhaseTransitions,
		ExecutionTime:     c.ExecutionTime,
		Metadata:          c.Metadata,
		Archived:          c.Archived,
		CreatedAt:         c.CreatedAt.Format(rfc3339Nano),
		UpdatedAt:         c.UpdatedAt.Format(rfc3339Nano),
	}
}

const rfc3339Nano = "2006-01-02T15:04:05.999999999Z07:00"

// SaveConversation writes c's record atomically: encode to a temp file in the
// same directory, then rename over the final path. Rename is atomic on the
// same filesystem, so readers never observe a partial write.
func (p *FilePersister) SaveConversation(_ context.Context, c *Conversation) error {
	if err := os.MkdirAll(p.rootDir, 0o700); err != nil {
		return kernelerrors.Wrap(kernelerrors.KindPersistence, "create conversation store dir", err)
	}
	data, err := json.MarshalIndent(toRecord(c), "", "  ")
	if err != nil {
		return kernelerrors.Wrap(kernelerrors.KindPersistence, "marshal conversation", err)
	}
	path := p.pathFor(c.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return kernelerrors.Wrap(kernelerrors.KindPersistence, "write conversation temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return kernelerrors.Wrap(kernelerrors.KindPersistence, "rename conversation temp file", err)
	}
	return nil
}

// LoadAllConversations reads every *.json file under the root directory.
// Files that fail to parse or fail structural validation are logged and
// skipped, per the KindSchemaCorruption recovery policy in spec.md §4.2 —
// one bad file must never prevent the rest of the kernel from recovering.
func (p *FilePersister) LoadAllConversations(ctx context.Context) ([]*Conversation, error) {
	entries, err := os.ReadDir(p.rootDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, kernelerrors.Wrap(kernelerrors.KindPersistence, "read conversation store dir", err)
	}

	out := make([]*Conversation, 0, len(entries))
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		path := filepath.Join(p.rootDir, ent.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			p.logger.Warn(ctx, "skipping unreadable conversation file", "path", path, "err", err)
			continue
		}
		var rec fileRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			p.logger.Warn(ctx, "skipping conversation file with invalid JSON", "path", path, "err", err)
			continue
		}
		c, err := fromRecord(rec)
		if err != nil {
			p.logger.Warn(ctx, "skipping conversation file failing validation", "path", path, "err", err)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func parseTimeField(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(rfc3339Nano, s)
}

func fromRecord(rec fileRecord) (*Conversation, error) {
	if rec.ID == "" {
		return nil, kernelerrors.New(kernelerrors.KindSchemaCorruption, "missing conversation id")
	}
	if rec.Phase == "" {
		return nil, kernelerrors.New(kernelerrors.KindSchemaCorruption, "missing conversation phase")
	}
	createdAt, err := parseTimeField(rec.CreatedAt)
	if err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.KindSchemaCorruption, "parse createdAt", err)
	}
	updatedAt, err := parseTimeField(rec.UpdatedAt)
	if err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.KindSchemaCorruption, "parse updatedAt", err)
	}
	cursors := rec.AgentCursors
	if cursors == nil {
		cursors = make(map[AgentID]AgentCursor)
	}
	metadata := rec.Metadata
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return &Conversation{
		ID:                rec.ID,
		Phase:             rec.Phase,
		History:           rec.History,
		AgentCursors:       cursors,
		OrchestratorTurns: rec.OrchestratorTurns,
		PhaseTransitions:  rec.PhaseTransitions,
		ExecutionTime:     rec.ExecutionTime,
		Metadata:          metadata,
		Archived:          rec.Archived,
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
	}, nil
}

// DeleteConversation removes the conversation's durable record. Missing
// files are not an error, so deleting the same conversation twice succeeds.
func (p *FilePersister) DeleteConversation(_ context.Context, id ID) error {
	if err := os.Remove(p.pathFor(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return kernelerrors.Wrap(kernelerrors.KindPersistence, "delete conversation file", err)
	}
	return nil
}
