package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/knowledge-cli/internal/ledger"
	"github.com/sells-group/knowledge-cli/internal/model"
)

const relationsSystemPrompt = `You infer typed relationships between a newly profiled entity and entities already in a knowledge base. Relationship types: FK (column references the other entity's anchor), REF (loose reference by shared values), PARENT (the other entity aggregates this one), CHILD (this entity aggregates the other). Only propose relationships supported by column names and sample values. Respond with a valid JSON object: {"relationships": [{"source_entity": "...", "target_entity": "...", "source_key": "...", "target_key": "...", "relation_type": "FK|REF|PARENT|CHILD", "confidence": <0.0-1.0>}]}`

const relationsUserPrompt = `Entity: %s (anchor: %q, status %s)

Columns:
%s
Known entities: %s
%s`

// relationsPhase infers typed relationships against entities already in the
// knowledge base, cache-first. With no other entities known there is
// nothing to relate, so the phase is skipped without a reasoner call.
// Proposals below the confidence threshold are dropped.
func (p *Pipeline) relationsPhase(ctx context.Context, s *session) (model.StateUpdate, error) {
	prof := s.state.Profile
	entity := prof.EntityName()

	known := p.knownEntities(ctx, entity)
	if len(known) == 0 {
		return model.StateUpdate{
			AppendLog: []string{"relations: no known entities, skipped"},
		}, nil
	}

	prompt := fmt.Sprintf(relationsUserPrompt,
		entity, s.state.AnchorColumn, s.state.AnchorStatus,
		formatColumns(prof.Columns),
		strings.Join(known, ", "),
		ledger.Summary(s.ledger),
	)
	promptCtx := map[string]any{
		"entity": entity,
		"known":  known,
	}

	var out struct {
		Relationships []model.Relationship `json:"relationships"`
	}
	perr, err := p.askStructured(ctx, s, relationsSystemPrompt, prompt, promptCtx, &out)
	if err != nil {
		return model.StateUpdate{}, err
	}
	if perr != nil {
		zap.L().Warn("pipeline: relations output unparseable, skipping",
			zap.String("session_id", s.state.SessionID),
			zap.String("reason", perr.Reason),
		)
		return model.StateUpdate{
			AppendLog: []string{"relations: unparseable reasoner output, skipped"},
		}, nil
	}

	fragment := s.state.Fragment
	kept := 0
	for _, rel := range out.Relationships {
		if rel.Confidence < p.cfg.Pipeline.RelationThreshold {
			continue
		}
		if rel.SourceEntity == "" {
			rel.SourceEntity = entity
		}
		if rel.TargetEntity == "" || rel.SourceKey == "" {
			continue
		}
		fragment.Relationships = append(fragment.Relationships, rel)
		kept++
	}

	return model.StateUpdate{
		Fragment: &fragment,
		AppendLog: []string{fmt.Sprintf("relations: kept %d of %d proposals",
			kept, len(out.Relationships))},
	}, nil
}
