package store

import (
	"context"
	"errors"

	"github.com/sells-group/knowledge-cli/internal/model"
)

// ErrNotFound is returned when a requested session does not exist.
var ErrNotFound = errors.New("store: not found")

// SessionFilter specifies criteria for listing sessions.
type SessionFilter struct {
	Status    model.SessionStatus `json:"status,omitempty"`
	DatasetID string              `json:"dataset_id,omitempty"`
	Limit     int                 `json:"limit,omitempty"`
}

// Store is the durable persistence interface for the ingestion pipeline:
// point-in-time session snapshots for suspend/resume, per-session review
// ledgers, and whole knowledge bases.
type Store interface {
	// Sessions. SaveSession is an upsert: resume replaces the snapshot.
	SaveSession(ctx context.Context, state *model.PipelineState) error
	LoadSession(ctx context.Context, sessionID string) (*model.PipelineState, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.PipelineState, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// Ledgers. LoadLedger returns (nil, nil) when none has been saved.
	SaveLedger(ctx context.Context, ledger *model.ConversationLedger) error
	LoadLedger(ctx context.Context, sessionID string) (*model.ConversationLedger, error)

	// Knowledge bases, load-whole / save-whole. LoadKnowledgeBase returns
	// (nil, nil) for an unknown ID.
	LoadKnowledgeBase(ctx context.Context, id string) (*model.KnowledgeBase, error)
	SaveKnowledgeBase(ctx context.Context, kb *model.KnowledgeBase) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
