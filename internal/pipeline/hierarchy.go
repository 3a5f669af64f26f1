package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/knowledge-cli/internal/model"
)

const hierarchySystemPrompt = `You place an entity into a dataset hierarchy. Level 0 is the root (broadest aggregation); larger levels are finer-grained. Use the existing hierarchy for reference: entities aggregated by another sit one level below it. Respond with a valid JSON object: {"level": <integer>, "confidence": <0.0-1.0>}`

const hierarchyUserPrompt = `Entity: %s (anchor: %q, status %s, %d rows)

Existing hierarchy:
%s
Relationships proposed this session:
%s`

// hierarchyPhase assigns the entity a hierarchy level, cache-first. A parse
// failure skips the entry; the merge engine tolerates an absent row.
func (p *Pipeline) hierarchyPhase(ctx context.Context, s *session) (model.StateUpdate, error) {
	prof := s.state.Profile
	entity := prof.EntityName()

	prompt := fmt.Sprintf(hierarchyUserPrompt,
		entity, s.state.AnchorColumn, s.state.AnchorStatus, prof.RowCount,
		p.formatHierarchy(ctx),
		formatRelationships(s.state.Fragment.Relationships),
	)
	promptCtx := map[string]any{
		"entity": entity,
	}

	var out struct {
		Level      int     `json:"level"`
		Confidence float64 `json:"confidence"`
	}
	perr, err := p.askStructured(ctx, s, hierarchySystemPrompt, prompt, promptCtx, &out)
	if err != nil {
		return model.StateUpdate{}, err
	}
	if perr != nil {
		zap.L().Warn("pipeline: hierarchy output unparseable, skipping",
			zap.String("session_id", s.state.SessionID),
			zap.String("reason", perr.Reason),
		)
		return model.StateUpdate{
			AppendLog: []string{"hierarchy: unparseable reasoner output, skipped"},
		}, nil
	}
	if out.Level < 0 {
		out.Level = 0
	}

	fragment := s.state.Fragment
	fragment.Hierarchy = append(fragment.Hierarchy, model.HierarchyEntry{
		EntityName:   entity,
		Level:        out.Level,
		AnchorColumn: s.state.AnchorColumn,
		Confidence:   out.Confidence,
	})

	return model.StateUpdate{
		Fragment:  &fragment,
		AppendLog: []string{fmt.Sprintf("hierarchy: level %d (%.2f)", out.Level, out.Confidence)},
	}, nil
}

func (p *Pipeline) formatHierarchy(ctx context.Context) string {
	kb, err := p.store.LoadKnowledgeBase(ctx, p.cfg.Pipeline.KnowledgeBaseID)
	if err != nil || kb == nil || len(kb.Hierarchy) == 0 {
		return "(empty)\n"
	}
	var b strings.Builder
	for _, h := range kb.Hierarchy {
		fmt.Fprintf(&b, "- level %d: %s\n", h.Level, h.EntityName)
	}
	return b.String()
}

func formatRelationships(rels []model.Relationship) string {
	if len(rels) == 0 {
		return "(none)\n"
	}
	var b strings.Builder
	for _, r := range rels {
		fmt.Fprintf(&b, "- %s.%s %s %s.%s (%.2f)\n",
			r.SourceEntity, r.SourceKey, r.RelationType, r.TargetEntity, r.TargetKey, r.Confidence)
	}
	return b.String()
}
