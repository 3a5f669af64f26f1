// Package ledger maintains the append-only record of human-review turns for
// a session and derives a rolling preference summary from it.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/knowledge-cli/internal/model"
)

// NewLedger creates an empty ledger for a session.
func NewLedger(sessionID, datasetID string) *model.ConversationLedger {
	return &model.ConversationLedger{
		SessionID: sessionID,
		DatasetID: datasetID,
	}
}

// AppendTurn records one review exchange. It is the only mutator: prior
// turns are never edited or deleted, and turn IDs are monotonic. Derived
// preferences are recomputed from the full history on every append so they
// can never drift from the visible turns.
func AppendTurn(l *model.ConversationLedger, reviewType model.ReviewType, question, humanResponse, derivedAction, subjectFilePath string) *model.ConversationLedger {
	turn := model.ConversationTurn{
		TurnID:          len(l.Turns) + 1,
		ReviewType:      reviewType,
		Question:        question,
		HumanResponse:   humanResponse,
		DerivedAction:   derivedAction,
		SubjectFilePath: subjectFilePath,
		Timestamp:       time.Now().UTC(),
	}

	updated := &model.ConversationLedger{
		SessionID: l.SessionID,
		DatasetID: l.DatasetID,
		Turns:     append(append([]model.ConversationTurn(nil), l.Turns...), turn),
	}
	updated.DerivedPreferences = DerivePreferences(updated)
	return updated
}

// DerivePreferences computes the preference summary purely from the turn
// sequence. Later turns win per review type; recency is positional, never
// incremental state.
func DerivePreferences(l *model.ConversationLedger) map[string]string {
	if len(l.Turns) == 0 {
		return nil
	}

	prefs := make(map[string]string)
	approved := 0
	for _, turn := range l.Turns {
		if turn.DerivedAction != "" {
			prefs["last_"+string(turn.ReviewType)+"_action"] = turn.DerivedAction
		}
		if isApproval(turn.DerivedAction) {
			approved++
		}
	}

	prefs["review_count"] = fmt.Sprintf("%d", len(l.Turns))
	prefs["approval_rate"] = fmt.Sprintf("%.2f", float64(approved)/float64(len(l.Turns)))

	return prefs
}

// Summary renders the turn history as a short prompt-injectable block, one
// line per review exchange. Returns "" for an empty ledger.
func Summary(l *model.ConversationLedger) string {
	if len(l.Turns) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Reviewer preferences from earlier in this session:\n")
	for _, turn := range l.Turns {
		fmt.Fprintf(&b, "- [%s] Q: %s A: %s (%s)\n", turn.ReviewType, turn.Question, turn.HumanResponse, turn.DerivedAction)
	}
	return b.String()
}

func isApproval(action string) bool {
	switch action {
	case "approved", "auto_approved", "confirmed":
		return true
	default:
		return false
	}
}
