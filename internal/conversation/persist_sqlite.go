package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/tenex-chat/tenex-kernel/internal/kernelerrors"
	"github.com/tenex-chat/tenex-kernel/internal/telemetry"
)

// SQLitePersister stores one row per conversation in a local SQLite file,
// used for single-node deployments that want the atomic write-to-temp
// semantics of FilePersister plus queryability (spec.md §4.2, §6.4).
type SQLitePersister struct {
	db     *sql.DB
	logger telemetry.Logger
}

// NewSQLitePersister opens (or creates) a SQLite database at path and
// ensures the conversations table exists. A single open connection is used
// so concurrent writers serialize through the database/sql pool rather than
// racing SQLITE_BUSY across independent connections.
func NewSQLitePersister(ctx context.Context, path string, logger telemetry.Logger) (*SQLitePersister, error) {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.KindPersistence, "open sqlite database", err)
	}
	db.SetMaxOpenConns(1)

	p := &SQLitePersister{db: db, logger: logger}
	if err := p.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *SQLitePersister) init(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		phase TEXT NOT NULL,
		payload TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`)
	if err != nil {
		return kernelerrors.Wrap(kernelerrors.KindPersistence, "create conversations table", err)
	}
	return nil
}

// SaveConversation upserts the conversation's row.
func (p *SQLitePersister) SaveConversation(ctx context.Context, c *Conversation) error {
	data, err := json.Marshal(toRecord(c))
	if err != nil {
		return kernelerrors.Wrap(kernelerrors.KindPersistence, "marshal conversation", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO conversations (id, phase, payload, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET phase = excluded.phase, payload = excluded.payload, updated_at = excluded.updated_at`,
		string(c.ID), string(c.Phase), string(data), c.UpdatedAt.Format(rfc3339Nano),
	)
	if err != nil {
		return kernelerrors.Wrap(kernelerrors.KindPersistence, "upsert conversation row", err)
	}
	return nil
}

// LoadAllConversations reads every row and decodes its payload, logging and
// skipping rows that fail to parse rather than aborting recovery.
func (p *SQLitePersister) LoadAllConversations(ctx context.Context) ([]*Conversation, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, payload FROM conversations`)
	if err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.KindPersistence, "query conversations", err)
	}
	defer rows.Close()

	out := make([]*Conversation, 0)
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, kernelerrors.Wrap(kernelerrors.KindPersistence, "scan conversation row", err)
		}
		var rec fileRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			p.logger.Warn(ctx, "skipping conversation row with invalid JSON", "id", id, "err", err)
			continue
		}
		c, err := fromRecord(rec)
		if err != nil {
			p.logger.Warn(ctx, "skipping conversation row failing validation", "id", id, "err", err)
			continue
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.KindPersistence, "iterate conversation rows", err)
	}
	return out, nil
}

// DeleteConversation removes the conversation's row. A missing row is not an
// error.
func (p *SQLitePersister) DeleteConversation(ctx context.Context, id ID) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, string(id))
	if err != nil {
		return kernelerrors.Wrap(kernelerrors.KindPersistence, "delete conversation row", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (p *SQLitePersister) Close() error {
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("close sqlite persister: %w", err)
	}
	return nil
}
