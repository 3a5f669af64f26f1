package pipeline

import (
	"context"

	"github.com/sells-group/knowledge-cli/internal/model"
	"github.com/sells-group/knowledge-cli/pkg/reasoner"
)

// Phase labels for the fixed ingestion graph:
//
//	profile → semantics → anchor → anchor_review → relations → hierarchy → persist → done
//
// anchor_review is the only pre-suspend node. The router decides on entry
// whether to suspend there; the review node itself only runs when a human
// answer is waiting, and may loop back to anchor for re-analysis.
const (
	PhaseProfile      = "profile"
	PhaseSemantics    = "semantics"
	PhaseAnchor       = "anchor"
	PhaseAnchorReview = "anchor_review"
	PhaseRelations    = "relations"
	PhaseHierarchy    = "hierarchy"
	PhasePersist      = "persist"
	PhaseDone         = "done"
)

// phaseFunc runs one phase against the session. Phases never mutate the
// state directly; they return a StateUpdate the executor applies.
type phaseFunc func(ctx context.Context, s *session) (model.StateUpdate, error)

// node binds a phase label to its implementation and default successor.
type node struct {
	run  phaseFunc
	next string
}

func (p *Pipeline) graph() map[string]node {
	return map[string]node{
		PhaseProfile:      {run: p.profilePhase, next: PhaseSemantics},
		PhaseSemantics:    {run: p.semanticsPhase, next: PhaseAnchor},
		PhaseAnchor:       {run: p.anchorPhase, next: PhaseAnchorReview},
		PhaseAnchorReview: {run: p.reviewPhase, next: PhaseRelations},
		PhaseRelations:    {run: p.relationsPhase, next: PhaseHierarchy},
		PhaseHierarchy:    {run: p.hierarchyPhase, next: PhasePersist},
		PhasePersist:      {run: p.persistPhase, next: PhaseDone},
	}
}

// session carries everything the executor threads through a run: the shared
// pipeline state and the append-only review ledger. nextOverride lets a
// phase redirect the successor edge for one step (the review node uses it
// to loop back to anchor after a rejection).
type session struct {
	state        *model.PipelineState
	ledger       *model.ConversationLedger
	nextOverride string

	// usage accumulates reasoner token consumption for this run only;
	// pre-suspension usage is not carried across a resume.
	usage reasoner.TokenUsage
}
