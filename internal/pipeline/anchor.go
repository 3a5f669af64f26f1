package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/knowledge-cli/internal/ledger"
	"github.com/sells-group/knowledge-cli/internal/model"
)

const anchorSystemPrompt = `You resolve the anchor column of a dataset: the column that uniquely identifies each row. If a candidate column instead references rows of another known entity, report it as a foreign-key link. If the file has no per-row identity and relates to the dataset only loosely, report an indirect link. Respond with a valid JSON object: {"anchor_column": "<column or empty>", "status": "CONFIRMED|FK_LINK|INDIRECT_LINK|NEEDS_REVIEW", "confidence": <0.0-1.0>, "question": "<question for a human reviewer, only when status is NEEDS_REVIEW>"}`

const anchorUserPrompt = `Entity: %s
Candidate anchor columns (best guess first): %s
Profiler guess: %q (score %.2f)

Columns:
%s
Known entities in the knowledge base: %s
%s`

// anchorPhase resolves the anchor column via the reasoner. High-confidence
// confirmations and link statuses are terminal; everything else raises a
// review question for the router.
func (p *Pipeline) anchorPhase(ctx context.Context, s *session) (model.StateUpdate, error) {
	prof := s.state.Profile
	entity := prof.EntityName()

	if prof.Kind != model.DatasetKindTabular || len(prof.Columns) == 0 {
		return needsReview(fmt.Sprintf(
			"File %s has no tabular columns. Link it to dataset %s indirectly? (answer: indirect / reject)",
			s.state.FilePath, s.state.DatasetID,
		)), nil
	}

	prompt := fmt.Sprintf(anchorUserPrompt,
		entity,
		strings.Join(prof.CandidateAnchors, ", "),
		prof.AnchorGuess, prof.AnchorGuessScore,
		formatColumns(prof.Columns),
		strings.Join(p.knownEntities(ctx, entity), ", "),
		ledger.Summary(s.ledger),
	)
	promptCtx := map[string]any{
		"entity":     entity,
		"candidates": prof.CandidateAnchors,
	}

	var out struct {
		AnchorColumn string  `json:"anchor_column"`
		Status       string  `json:"status"`
		Confidence   float64 `json:"confidence"`
		Question     string  `json:"question"`
	}
	perr, err := p.askStructured(ctx, s, anchorSystemPrompt, prompt, promptCtx, &out)
	if err != nil {
		return model.StateUpdate{}, err
	}
	if perr != nil {
		zap.L().Warn("pipeline: anchor output unparseable, raising review",
			zap.String("session_id", s.state.SessionID),
			zap.String("reason", perr.Reason),
		)
		return needsReview(fmt.Sprintf(
			"Anchor analysis for %s was inconclusive. Which column identifies a row? (best guess: %q)",
			entity, prof.AnchorGuess,
		)), nil
	}

	status := model.AnchorStatus(strings.ToUpper(strings.TrimSpace(out.Status)))
	column := out.AnchorColumn
	if column == "" {
		column = prof.AnchorGuess
	}

	switch status {
	case model.AnchorStatusConfirmed:
		if out.Confidence < p.cfg.Pipeline.AnchorAutoThreshold {
			return needsReview(fmt.Sprintf(
				"Anchor %q for %s scored %.2f, below the auto-approval threshold. Confirm it? (answer: yes / a column name / reject)",
				column, entity, out.Confidence,
			)), nil
		}
	case model.AnchorStatusFKLink, model.AnchorStatusIndirectLink:
		// Link statuses are accepted at any confidence; the relations phase
		// scores the actual edges.
	default:
		question := out.Question
		if question == "" {
			question = fmt.Sprintf("Which column identifies a row of %s? (best guess: %q)", entity, prof.AnchorGuess)
		}
		return needsReview(question), nil
	}

	return model.StateUpdate{
		AnchorColumn:     model.StrPtr(column),
		AnchorStatus:     model.AnchorPtr(status),
		AnchorConfidence: model.Float64Ptr(out.Confidence),
		AppendLog:        []string{fmt.Sprintf("anchor: %s %q (%.2f)", status, column, out.Confidence)},
	}, nil
}

// needsReview builds the update that raises an anchor review question.
func needsReview(question string) model.StateUpdate {
	return model.StateUpdate{
		AnchorStatus:      model.AnchorPtr(model.AnchorStatusNeedsReview),
		NeedsHumanReview:  model.BoolPtr(true),
		PendingQuestion:   model.StrPtr(question),
		PendingReviewType: model.ReviewPtr(model.ReviewTypeAnchor),
		AppendLog:         []string{"anchor: needs review"},
	}
}

// knownEntities lists entity names already present in the knowledge base,
// excluding the current one. Load failures degrade to an empty list.
func (p *Pipeline) knownEntities(ctx context.Context, exclude string) []string {
	kb, err := p.store.LoadKnowledgeBase(ctx, p.cfg.Pipeline.KnowledgeBaseID)
	if err != nil {
		zap.L().Warn("pipeline: load knowledge base for entity list", zap.Error(err))
		return nil
	}
	if kb == nil {
		return nil
	}

	seen := map[string]bool{exclude: true}
	var names []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, h := range kb.Hierarchy {
		add(h.EntityName)
	}
	for _, r := range kb.Relationships {
		add(r.SourceEntity)
		add(r.TargetEntity)
	}
	for name := range kb.FileTags {
		add(name)
	}
	// Sorted so prompts (and therefore cache keys) are stable.
	sort.Strings(names)
	return names
}
