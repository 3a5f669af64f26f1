package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/knowledge-cli/internal/cache"
	"github.com/sells-group/knowledge-cli/internal/config"
	"github.com/sells-group/knowledge-cli/internal/model"
	"github.com/sells-group/knowledge-cli/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConfig{
			KnowledgeBaseID:     "test-kb",
			MaxReviewRetries:    3,
			AnchorAutoThreshold: 0.85,
			RelationThreshold:   0.5,
		},
		Profile: config.ProfileConfig{
			SampleRows:       200,
			SampleValues:     5,
			AnchorMinUnique:  0.95,
			ConfirmThreshold: 0.6,
		},
		Reasoner: config.ReasonerConfig{MaxTokens: 1024},
	}
}

func newTestPipeline(t *testing.T, r *mockReasoner, cfg *config.Config) (*Pipeline, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	return New(cfg, st, cache.New(cache.NewMemory()), r), st
}

func writeOrdersCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orders.csv")
	content := "id,name,amount\n1,alpha,10\n2,beta,20\n3,gamma,30\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func stubSemantics(r *mockReasoner) {
	r.On("AskStructured", mock.Anything, systemContains("data analyst"), mock.Anything).
		Return(structured(`{"definitions":{"id":"order identifier","name":"customer name","amount":"order total"},"file_tag":"order records"}`), nil)
}

func stubHierarchy(r *mockReasoner) {
	r.On("AskStructured", mock.Anything, systemContains("dataset hierarchy"), mock.Anything).
		Return(structured(`{"level":1,"confidence":0.8}`), nil)
}

func TestStartCompletesWithConfidentAnchor(t *testing.T) {
	r := &mockReasoner{}
	stubSemantics(r)
	r.On("AskStructured", mock.Anything, systemContains("anchor column"), mock.Anything).
		Return(structured(`{"anchor_column":"id","status":"CONFIRMED","confidence":0.95}`), nil)
	stubHierarchy(r)

	p, st := newTestPipeline(t, r, testConfig())
	ctx := context.Background()

	state, err := p.Start(ctx, writeOrdersCSV(t), "orders")
	require.NoError(t, err)

	assert.Equal(t, model.SessionStatusCompleted, state.Status)
	assert.Equal(t, PhaseDone, state.Phase)
	assert.Equal(t, "id", state.AnchorColumn)
	assert.Equal(t, model.AnchorStatusConfirmed, state.AnchorStatus)

	kb, err := st.LoadKnowledgeBase(ctx, "test-kb")
	require.NoError(t, err)
	require.NotNil(t, kb)
	assert.Equal(t, "order identifier", kb.Definitions["orders.id"])
	assert.Equal(t, "order records", kb.FileTags["orders"])
	require.Len(t, kb.Hierarchy, 1)
	assert.Equal(t, "orders", kb.Hierarchy[0].EntityName)
	assert.Equal(t, 1, kb.Hierarchy[0].Level)
	assert.Equal(t, 1, kb.Version)
}

func TestStartSuspendsOnReviewAndResumes(t *testing.T) {
	r := &mockReasoner{}
	stubSemantics(r)
	r.On("AskStructured", mock.Anything, systemContains("anchor column"), mock.Anything).
		Return(structured(`{"anchor_column":"id","status":"NEEDS_REVIEW","confidence":0.4,"question":"Is id the right anchor?"}`), nil)
	stubHierarchy(r)

	p, st := newTestPipeline(t, r, testConfig())
	ctx := context.Background()

	state, err := p.Start(ctx, writeOrdersCSV(t), "orders")
	require.NoError(t, err)

	assert.Equal(t, model.SessionStatusSuspended, state.Status)
	assert.Equal(t, PhaseAnchorReview, state.Phase)
	assert.Equal(t, "Is id the right anchor?", state.PendingQuestion)
	assert.Equal(t, model.ReviewTypeAnchor, state.PendingReviewType)

	// The suspended state must be reloadable from the store as-is.
	persisted, err := st.LoadSession(ctx, state.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusSuspended, persisted.Status)

	resumed, err := p.Resume(ctx, state.SessionID, "yes")
	require.NoError(t, err)

	assert.Equal(t, model.SessionStatusCompleted, resumed.Status)
	assert.Equal(t, model.AnchorStatusConfirmed, resumed.AnchorStatus)
	assert.Equal(t, "id", resumed.AnchorColumn)
	assert.Empty(t, resumed.PendingQuestion)
	assert.Empty(t, resumed.HumanAnswer)

	led, err := st.LoadLedger(ctx, state.SessionID)
	require.NoError(t, err)
	require.NotNil(t, led)
	require.Len(t, led.Turns, 1)
	assert.Equal(t, "approved", led.Turns[0].DerivedAction)
	assert.Equal(t, "yes", led.Turns[0].HumanResponse)
	assert.Equal(t, "approved", resumed.Preferences["last_anchor_action"])
}

func TestResumeRejectionRerunsAnchor(t *testing.T) {
	r := &mockReasoner{}
	stubSemantics(r)
	r.On("AskStructured", mock.Anything, systemContains("anchor column"), mock.Anything).
		Return(structured(`{"anchor_column":"id","status":"NEEDS_REVIEW","confidence":0.4,"question":"Is id the anchor?"}`), nil).Once()
	r.On("AskStructured", mock.Anything, systemContains("anchor column"), mock.Anything).
		Return(structured(`{"anchor_column":"name","status":"CONFIRMED","confidence":0.9}`), nil).Once()
	stubHierarchy(r)

	p, st := newTestPipeline(t, r, testConfig())
	ctx := context.Background()

	state, err := p.Start(ctx, writeOrdersCSV(t), "orders")
	require.NoError(t, err)
	require.Equal(t, model.SessionStatusSuspended, state.Status)

	resumed, err := p.Resume(ctx, state.SessionID, "no")
	require.NoError(t, err)

	assert.Equal(t, model.SessionStatusCompleted, resumed.Status)
	assert.Equal(t, "name", resumed.AnchorColumn)
	assert.Equal(t, model.AnchorStatusConfirmed, resumed.AnchorStatus)
	assert.Equal(t, 1, resumed.RetryCount)

	led, err := st.LoadLedger(ctx, state.SessionID)
	require.NoError(t, err)
	require.Len(t, led.Turns, 1)
	assert.Equal(t, "rejected", led.Turns[0].DerivedAction)
}

func TestRetryCapForcesAutoApproval(t *testing.T) {
	r := &mockReasoner{}
	stubSemantics(r)
	r.On("AskStructured", mock.Anything, systemContains("anchor column"), mock.Anything).
		Return(structured(`{"anchor_column":"id","status":"NEEDS_REVIEW","confidence":0.3,"question":"Which column?"}`), nil)
	stubHierarchy(r)

	cfg := testConfig()
	cfg.Pipeline.MaxReviewRetries = 2
	p, st := newTestPipeline(t, r, cfg)
	ctx := context.Background()

	state, err := p.Start(ctx, writeOrdersCSV(t), "orders")
	require.NoError(t, err)
	require.Equal(t, model.SessionStatusSuspended, state.Status)

	// Two unintelligible answers exhaust the cap; the third evaluation
	// force-advances with an auto-approved anchor.
	state, err = p.Resume(ctx, state.SessionID, "hmm not sure")
	require.NoError(t, err)
	require.Equal(t, model.SessionStatusSuspended, state.Status)

	state, err = p.Resume(ctx, state.SessionID, "still unsure")
	require.NoError(t, err)

	assert.Equal(t, model.SessionStatusCompleted, state.Status)
	assert.Equal(t, model.AnchorStatusConfirmed, state.AnchorStatus)
	assert.Equal(t, "id", state.AnchorColumn)

	led, err := st.LoadLedger(ctx, state.SessionID)
	require.NoError(t, err)
	require.Len(t, led.Turns, 3)
	assert.Equal(t, "unclear", led.Turns[0].DerivedAction)
	assert.Equal(t, "unclear", led.Turns[1].DerivedAction)
	assert.Equal(t, "auto_approved", led.Turns[2].DerivedAction)
}

func TestStartFailsOnMissingFile(t *testing.T) {
	r := &mockReasoner{}
	p, st := newTestPipeline(t, r, testConfig())
	ctx := context.Background()

	state, err := p.Start(ctx, filepath.Join(t.TempDir(), "missing.csv"), "orders")
	require.Error(t, err)
	require.NotNil(t, state)
	assert.Equal(t, model.SessionStatusFailed, state.Status)
	assert.NotEmpty(t, state.ErrorMessage)

	persisted, loadErr := st.LoadSession(ctx, state.SessionID)
	require.NoError(t, loadErr)
	assert.Equal(t, model.SessionStatusFailed, persisted.Status)
	assert.NotEmpty(t, persisted.ErrorMessage)
}

func TestResumeRequiresSuspendedSession(t *testing.T) {
	r := &mockReasoner{}
	stubSemantics(r)
	r.On("AskStructured", mock.Anything, systemContains("anchor column"), mock.Anything).
		Return(structured(`{"anchor_column":"id","status":"CONFIRMED","confidence":0.95}`), nil)
	stubHierarchy(r)

	p, _ := newTestPipeline(t, r, testConfig())
	ctx := context.Background()

	state, err := p.Start(ctx, writeOrdersCSV(t), "orders")
	require.NoError(t, err)
	require.Equal(t, model.SessionStatusCompleted, state.Status)

	_, err = p.Resume(ctx, state.SessionID, "yes")
	assert.Error(t, err)
}

// A run that suspends and resumes with approval must converge on the same
// knowledge as a run that never suspended.
func TestResumeEquivalence(t *testing.T) {
	ctx := context.Background()

	direct := &mockReasoner{}
	stubSemantics(direct)
	direct.On("AskStructured", mock.Anything, systemContains("anchor column"), mock.Anything).
		Return(structured(`{"anchor_column":"id","status":"CONFIRMED","confidence":0.95}`), nil)
	stubHierarchy(direct)

	p1, st1 := newTestPipeline(t, direct, testConfig())
	s1, err := p1.Start(ctx, writeOrdersCSV(t), "orders")
	require.NoError(t, err)
	require.Equal(t, model.SessionStatusCompleted, s1.Status)

	interrupted := &mockReasoner{}
	stubSemantics(interrupted)
	interrupted.On("AskStructured", mock.Anything, systemContains("anchor column"), mock.Anything).
		Return(structured(`{"anchor_column":"id","status":"NEEDS_REVIEW","confidence":0.4,"question":"Confirm id?"}`), nil)
	stubHierarchy(interrupted)

	p2, st2 := newTestPipeline(t, interrupted, testConfig())
	s2, err := p2.Start(ctx, writeOrdersCSV(t), "orders")
	require.NoError(t, err)
	require.Equal(t, model.SessionStatusSuspended, s2.Status)

	s2, err = p2.Resume(ctx, s2.SessionID, "yes")
	require.NoError(t, err)
	require.Equal(t, model.SessionStatusCompleted, s2.Status)

	kb1, err := st1.LoadKnowledgeBase(ctx, "test-kb")
	require.NoError(t, err)
	kb2, err := st2.LoadKnowledgeBase(ctx, "test-kb")
	require.NoError(t, err)

	assert.Equal(t, kb1.Definitions, kb2.Definitions)
	assert.Equal(t, kb1.Relationships, kb2.Relationships)
	assert.Equal(t, kb1.Hierarchy, kb2.Hierarchy)
	assert.Equal(t, kb1.FileTags, kb2.FileTags)
	assert.Equal(t, s1.AnchorColumn, s2.AnchorColumn)
	assert.Equal(t, s1.AnchorStatus, s2.AnchorStatus)
}

func TestFallbackModelRecoversUnparseableAnchor(t *testing.T) {
	cfg := testConfig()
	cfg.Reasoner.Model = "primary-model"
	cfg.Reasoner.FallbackModel = "fallback-model"

	r := &mockReasoner{}
	stubSemantics(r)
	r.On("AskStructured", mock.Anything, forModel("primary-model", "anchor column"), mock.Anything).
		Return(unparseable("the anchor is probably id"), nil).Once()
	r.On("AskStructured", mock.Anything, forModel("fallback-model", "anchor column"), mock.Anything).
		Return(structured(`{"anchor_column":"id","status":"CONFIRMED","confidence":0.95}`), nil).Once()
	stubHierarchy(r)

	p, _ := newTestPipeline(t, r, cfg)

	state, err := p.Start(context.Background(), writeOrdersCSV(t), "orders")
	require.NoError(t, err)

	assert.Equal(t, model.SessionStatusCompleted, state.Status)
	assert.Equal(t, "id", state.AnchorColumn)
	assert.Equal(t, model.AnchorStatusConfirmed, state.AnchorStatus)
	r.AssertExpectations(t)
}
