// Package pipeline implements the resumable phase-graph executor that turns
// profiled input files into knowledge-base fragments. Phases mix
// deterministic profiling with cache-first reasoner calls; sessions suspend
// at the review boundary and resume with the reviewer's answer.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/knowledge-cli/internal/cache"
	"github.com/sells-group/knowledge-cli/internal/config"
	"github.com/sells-group/knowledge-cli/internal/cost"
	"github.com/sells-group/knowledge-cli/internal/knowledge"
	"github.com/sells-group/knowledge-cli/internal/ledger"
	"github.com/sells-group/knowledge-cli/internal/model"
	"github.com/sells-group/knowledge-cli/internal/store"
	"github.com/sells-group/knowledge-cli/pkg/reasoner"
)

// Pipeline orchestrates ingestion sessions end to end.
type Pipeline struct {
	cfg      *config.Config
	store    store.Store
	cache    *cache.ResponseCache
	reasoner reasoner.Client
	applier  *knowledge.Applier
	costCalc *cost.Calculator
}

// New creates a Pipeline with all dependencies.
func New(cfg *config.Config, st store.Store, c *cache.ResponseCache, r reasoner.Client) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		store:    st,
		cache:    c,
		reasoner: r,
		applier:  knowledge.NewApplier(st),
		costCalc: cost.NewCalculator(cost.DefaultRates()),
	}
}

// Start begins a new ingestion session for the file and runs it until it
// completes, suspends, or fails. datasetID defaults to the file stem.
func (p *Pipeline) Start(ctx context.Context, filePath, datasetID string) (*model.PipelineState, error) {
	if datasetID == "" {
		datasetID = model.FileStem(filePath)
	}

	now := time.Now().UTC()
	sessionID := uuid.NewString()
	s := &session{
		state: &model.PipelineState{
			SessionID:    sessionID,
			DatasetID:    datasetID,
			FilePath:     filePath,
			Status:       model.SessionStatusInProgress,
			Phase:        PhaseProfile,
			AnchorStatus: model.AnchorStatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		ledger: ledger.NewLedger(sessionID, datasetID),
	}

	if err := p.checkpoint(ctx, s); err != nil {
		return nil, err
	}

	zap.L().Info("pipeline: session started",
		zap.String("session_id", s.state.SessionID),
		zap.String("dataset_id", datasetID),
		zap.String("file", filePath),
	)

	return p.run(ctx, s)
}

// Resume continues a suspended session with the reviewer's answer.
func (p *Pipeline) Resume(ctx context.Context, sessionID, answer string) (*model.PipelineState, error) {
	state, err := p.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load session %s", sessionID)
	}
	if state.Status != model.SessionStatusSuspended {
		return nil, eris.Errorf("pipeline: session %s is %s, not suspended", sessionID, state.Status)
	}

	led, err := p.store.LoadLedger(ctx, sessionID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load ledger %s", sessionID)
	}
	if led == nil {
		led = ledger.NewLedger(sessionID, state.DatasetID)
	}

	state.Apply(model.StateUpdate{
		Status:      model.StatusPtr(model.SessionStatusInProgress),
		HumanAnswer: model.StrPtr(answer),
		AppendLog:   []string{"resumed with reviewer answer"},
	})

	zap.L().Info("pipeline: session resumed",
		zap.String("session_id", sessionID),
		zap.String("phase", state.Phase),
	)

	return p.run(ctx, &session{state: state, ledger: led})
}
