package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/knowledge-cli/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func testState(sessionID string) *model.PipelineState {
	now := time.Now().UTC()
	return &model.PipelineState{
		SessionID: sessionID,
		DatasetID: "customers",
		FilePath:  "data/customers.csv",
		Status:    model.SessionStatusInProgress,
		Phase:     "profile",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSQLiteSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state := testState("sess-1")
	require.NoError(t, s.SaveSession(ctx, state))

	got, err := s.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, "customers", got.DatasetID)
	assert.Equal(t, model.SessionStatusInProgress, got.Status)
	assert.Equal(t, "profile", got.Phase)
}

func TestSQLiteSessionUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state := testState("sess-1")
	require.NoError(t, s.SaveSession(ctx, state))

	state.Status = model.SessionStatusSuspended
	state.Phase = "anchor_review"
	require.NoError(t, s.SaveSession(ctx, state))

	got, err := s.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusSuspended, got.Status)
	assert.Equal(t, "anchor_review", got.Phase)

	sessions, err := s.ListSessions(ctx, SessionFilter{})
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestSQLiteLoadSessionNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LoadSession(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLiteListSessionsFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testState("sess-a")
	b := testState("sess-b")
	b.Status = model.SessionStatusSuspended
	c := testState("sess-c")
	c.DatasetID = "orders"
	for _, st := range []*model.PipelineState{a, b, c} {
		require.NoError(t, s.SaveSession(ctx, st))
	}

	suspended, err := s.ListSessions(ctx, SessionFilter{Status: model.SessionStatusSuspended})
	require.NoError(t, err)
	require.Len(t, suspended, 1)
	assert.Equal(t, "sess-b", suspended[0].SessionID)

	orders, err := s.ListSessions(ctx, SessionFilter{DatasetID: "orders"})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "sess-c", orders[0].SessionID)

	limited, err := s.ListSessions(ctx, SessionFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSQLiteDeleteSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, testState("sess-1")))
	require.NoError(t, s.DeleteSession(ctx, "sess-1"))

	err := s.DeleteSession(ctx, "sess-1")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLiteLedgerRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	missing, err := s.LoadLedger(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	ledger := &model.ConversationLedger{
		SessionID: "sess-1",
		DatasetID: "customers",
		Turns: []model.ConversationTurn{
			{TurnID: 1, ReviewType: model.ReviewTypeAnchor, Question: "Use customer_id as the anchor?", HumanResponse: "yes", DerivedAction: "approved"},
		},
		DerivedPreferences: map[string]string{"review_count": "1"},
	}
	require.NoError(t, s.SaveLedger(ctx, ledger))

	got, err := s.LoadLedger(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Turns, 1)
	assert.Equal(t, "approved", got.Turns[0].DerivedAction)
}

func TestSQLiteKnowledgeBaseRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	missing, err := s.LoadKnowledgeBase(ctx, "customers")
	require.NoError(t, err)
	assert.Nil(t, missing)

	kb := model.NewKnowledgeBase("customers")
	kb.Version = 3
	kb.Definitions["customer_id"] = "unique customer identifier"
	kb.Relationships = append(kb.Relationships, model.Relationship{
		SourceEntity: "orders", TargetEntity: "customers",
		SourceKey: "customer_id", TargetKey: "customer_id",
		RelationType: "FK", Confidence: 0.9,
	})
	require.NoError(t, s.SaveKnowledgeBase(ctx, kb))

	got, err := s.LoadKnowledgeBase(ctx, "customers")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.Version)
	assert.Equal(t, "unique customer identifier", got.Definitions["customer_id"])
	require.Len(t, got.Relationships, 1)
	assert.Equal(t, "FK", got.Relationships[0].RelationType)
}
