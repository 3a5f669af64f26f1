package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/sells-group/knowledge-cli/internal/ledger"
	"github.com/sells-group/knowledge-cli/internal/model"
)

// reviewOutcome is the interpreted meaning of a reviewer's answer.
type reviewOutcome struct {
	action string // ledger derivedAction
	status model.AnchorStatus
	column string // anchor column, when the answer names or confirms one
	reask  bool   // answer not understood, ask again
	redo   bool   // answer rejected the analysis, loop back to anchor
}

// reviewPhase interprets the reviewer's answer at the anchor_review node.
// Every answer becomes a ledger turn; preferences recompute from the full
// history and flow into later prompts. Rejections loop back to anchor with
// a bumped retry count; unintelligible answers re-ask the same question.
func (p *Pipeline) reviewPhase(ctx context.Context, s *session) (model.StateUpdate, error) {
	answer := strings.TrimSpace(s.state.HumanAnswer)
	outcome := interpretAnswer(answer, s.state)

	s.ledger = ledger.AppendTurn(s.ledger, reviewTypeOf(s.state),
		s.state.PendingQuestion, answer, outcome.action, s.state.FilePath)

	update := model.StateUpdate{
		HumanAnswer:      model.StrPtr(""),
		ConfirmRequested: model.BoolPtr(false),
		Preferences:      s.ledger.DerivedPreferences,
		AppendLog:        []string{fmt.Sprintf("review: %s (%q)", outcome.action, answer)},
	}

	switch {
	case outcome.reask:
		retry := s.state.RetryCount + 1
		update.RetryCount = model.IntPtr(retry)
		update.NeedsHumanReview = model.BoolPtr(true)
		update.PendingQuestion = model.StrPtr(fmt.Sprintf(
			"Answer %q was not understood. %s (answer: yes / a column name / indirect / reject)",
			answer, s.state.PendingQuestion,
		))
		s.nextOverride = PhaseAnchorReview
	case outcome.redo:
		retry := s.state.RetryCount + 1
		update.RetryCount = model.IntPtr(retry)
		update.NeedsHumanReview = model.BoolPtr(false)
		update.PendingQuestion = model.StrPtr("")
		update.AnchorStatus = model.AnchorPtr(model.AnchorStatusPending)
		s.nextOverride = PhaseAnchor
	default:
		update.NeedsHumanReview = model.BoolPtr(false)
		update.PendingQuestion = model.StrPtr("")
		update.AnchorStatus = model.AnchorPtr(outcome.status)
		update.AnchorColumn = model.StrPtr(outcome.column)
		update.AnchorConfidence = model.Float64Ptr(1.0)
	}

	return update, nil
}

// interpretAnswer maps a free-form reviewer answer onto a review outcome.
// Recognized forms, checked in order: a column name from the profile,
// approval words, "indirect", "fk <column>", rejection words. Anything else
// re-asks.
func interpretAnswer(answer string, state *model.PipelineState) reviewOutcome {
	lower := strings.ToLower(answer)

	if col, ok := matchColumn(answer, state.Profile); ok {
		return reviewOutcome{action: "corrected", status: model.AnchorStatusConfirmed, column: col}
	}

	switch lower {
	case "yes", "y", "ok", "approve", "approved", "confirm", "confirmed", "accept":
		return reviewOutcome{action: "approved", status: model.AnchorStatusConfirmed, column: bestGuess(state)}
	case "indirect", "indirect link", "skip":
		return reviewOutcome{action: "indirect_link", status: model.AnchorStatusIndirectLink, column: ""}
	case "no", "n", "reject", "rejected", "wrong":
		return reviewOutcome{action: "rejected", redo: true}
	}

	if rest, ok := strings.CutPrefix(lower, "fk "); ok {
		if col, ok := matchColumn(rest, state.Profile); ok {
			return reviewOutcome{action: "fk_link", status: model.AnchorStatusFKLink, column: col}
		}
	}

	return reviewOutcome{action: "unclear", reask: true}
}

// matchColumn resolves an answer to a profiled column name,
// case-insensitively.
func matchColumn(answer string, prof *model.FileProfile) (string, bool) {
	if prof == nil {
		return "", false
	}
	needle := strings.ToLower(strings.TrimSpace(answer))
	for _, c := range prof.Columns {
		if strings.ToLower(c.Name) == needle {
			return c.Name, true
		}
	}
	return "", false
}

func bestGuess(state *model.PipelineState) string {
	if state.AnchorColumn != "" {
		return state.AnchorColumn
	}
	if state.Profile != nil {
		return state.Profile.AnchorGuess
	}
	return ""
}

func reviewTypeOf(state *model.PipelineState) model.ReviewType {
	if state.PendingReviewType != "" {
		return state.PendingReviewType
	}
	return model.ReviewTypeAnchor
}
