package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/knowledge-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	dataset_id TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	state      TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS ledgers (
	session_id TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS knowledge_bases (
	id         TEXT PRIMARY KEY,
	version    INTEGER NOT NULL DEFAULT 0,
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_dataset ON sessions(dataset_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveSession(ctx context.Context, state *model.PipelineState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal session")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, dataset_id, status, state, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET dataset_id = excluded.dataset_id, status = excluded.status,
		 state = excluded.state, updated_at = excluded.updated_at`,
		state.SessionID, state.DatasetID, string(state.Status), string(raw), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save session %s", state.SessionID)
}

func (s *SQLiteStore) LoadSession(ctx context.Context, sessionID string) (*model.PipelineState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE id = ?`, sessionID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: session %s", sessionID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load session %s", sessionID)
	}

	var state model.PipelineState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal session %s", sessionID)
	}
	return &state, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.PipelineState, error) {
	query := `SELECT state FROM sessions WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.DatasetID != "" {
		query += ` AND dataset_id = ?`
		args = append(args, filter.DatasetID)
	}
	query += ` ORDER BY updated_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close()

	var sessions []model.PipelineState
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session")
		}
		var state model.PipelineState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal session")
		}
		sessions = append(sessions, state)
	}
	return sessions, eris.Wrap(rows.Err(), "sqlite: iterate sessions")
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete session %s", sessionID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: session %s", sessionID)
	}
	return nil
}

func (s *SQLiteStore) SaveLedger(ctx context.Context, ledger *model.ConversationLedger) error {
	raw, err := json.Marshal(ledger)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal ledger")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ledgers (session_id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		ledger.SessionID, string(raw), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save ledger %s", ledger.SessionID)
}

func (s *SQLiteStore) LoadLedger(ctx context.Context, sessionID string) (*model.ConversationLedger, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM ledgers WHERE session_id = ?`, sessionID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load ledger %s", sessionID)
	}

	var ledger model.ConversationLedger
	if err := json.Unmarshal([]byte(raw), &ledger); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal ledger %s", sessionID)
	}
	return &ledger, nil
}

func (s *SQLiteStore) LoadKnowledgeBase(ctx context.Context, id string) (*model.KnowledgeBase, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM knowledge_bases WHERE id = ?`, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load knowledge base %s", id)
	}

	var kb model.KnowledgeBase
	if err := json.Unmarshal([]byte(raw), &kb); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal knowledge base %s", id)
	}
	return &kb, nil
}

func (s *SQLiteStore) SaveKnowledgeBase(ctx context.Context, kb *model.KnowledgeBase) error {
	kb.UpdatedAt = time.Now().UTC()

	raw, err := json.Marshal(kb)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal knowledge base")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO knowledge_bases (id, version, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET version = excluded.version, data = excluded.data, updated_at = excluded.updated_at`,
		kb.ID, kb.Version, string(raw), kb.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: save knowledge base %s", kb.ID)
}
