package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/knowledge-cli/internal/model"
)

// PostgresStore implements Store using a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database described by databaseURL and verifies
// the connection with a ping.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	dataset_id TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	state      JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ledgers (
	session_id TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS knowledge_bases (
	id         TEXT PRIMARY KEY,
	version    BIGINT NOT NULL DEFAULT 0,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_dataset ON sessions(dataset_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, state *model.PipelineState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal session")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (id, dataset_id, status, state, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET dataset_id = EXCLUDED.dataset_id, status = EXCLUDED.status,
		 state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		state.SessionID, state.DatasetID, string(state.Status), raw, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save session %s", state.SessionID)
}

func (s *PostgresStore) LoadSession(ctx context.Context, sessionID string) (*model.PipelineState, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM sessions WHERE id = $1`, sessionID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: session %s", sessionID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load session %s", sessionID)
	}

	var state model.PipelineState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal session %s", sessionID)
	}
	return &state, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.PipelineState, error) {
	query := `SELECT state FROM sessions WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.DatasetID != "" {
		args = append(args, filter.DatasetID)
		query += ` AND dataset_id = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY updated_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var sessions []model.PipelineState
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan session")
		}
		var state model.PipelineState
		if err := json.Unmarshal(raw, &state); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal session")
		}
		sessions = append(sessions, state)
	}
	return sessions, eris.Wrap(rows.Err(), "postgres: iterate sessions")
}

func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete session %s", sessionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: session %s", sessionID)
	}
	return nil
}

func (s *PostgresStore) SaveLedger(ctx context.Context, ledger *model.ConversationLedger) error {
	raw, err := json.Marshal(ledger)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal ledger")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO ledgers (session_id, data, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (session_id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		ledger.SessionID, raw, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save ledger %s", ledger.SessionID)
}

func (s *PostgresStore) LoadLedger(ctx context.Context, sessionID string) (*model.ConversationLedger, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM ledgers WHERE session_id = $1`, sessionID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load ledger %s", sessionID)
	}

	var ledger model.ConversationLedger
	if err := json.Unmarshal(raw, &ledger); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal ledger %s", sessionID)
	}
	return &ledger, nil
}

func (s *PostgresStore) LoadKnowledgeBase(ctx context.Context, id string) (*model.KnowledgeBase, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM knowledge_bases WHERE id = $1`, id,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load knowledge base %s", id)
	}

	var kb model.KnowledgeBase
	if err := json.Unmarshal(raw, &kb); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal knowledge base %s", id)
	}
	return &kb, nil
}

func (s *PostgresStore) SaveKnowledgeBase(ctx context.Context, kb *model.KnowledgeBase) error {
	kb.UpdatedAt = time.Now().UTC()

	raw, err := json.Marshal(kb)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal knowledge base")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO knowledge_bases (id, version, data, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		kb.ID, kb.Version, raw, kb.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save knowledge base %s", kb.ID)
}
