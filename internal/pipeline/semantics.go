package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/knowledge-cli/internal/ledger"
	"github.com/sells-group/knowledge-cli/internal/model"
)

const semanticsSystemPrompt = `You are a data analyst documenting an unfamiliar dataset. Given a file profile, write a one-sentence business definition for each column and a short tag describing the file as a whole. Respond with a valid JSON object: {"definitions": {"<column>": "<definition>", ...}, "file_tag": "<short description>"}`

const semanticsUserPrompt = `Entity: %s
File: %s
Kind: %s
Rows: %d

Columns:
%s
%s`

// semanticsPhase derives per-column definitions and a file tag via the
// reasoner, cache-first. Signal files carry no columns, so they only get a
// file tag. A parse failure degrades to an empty fragment with a log line
// rather than failing the session.
func (p *Pipeline) semanticsPhase(ctx context.Context, s *session) (model.StateUpdate, error) {
	prof := s.state.Profile
	entity := prof.EntityName()

	fragment := s.state.Fragment

	if prof.Kind != model.DatasetKindTabular || len(prof.Columns) == 0 {
		fragment.SetFileTag(entity, fmt.Sprintf("signal file (%d bytes), semantics pending review", prof.SizeBytes))
		return model.StateUpdate{
			Fragment:  &fragment,
			AppendLog: []string{"semantics: no columns, tagged as signal file"},
		}, nil
	}

	prompt := fmt.Sprintf(semanticsUserPrompt,
		entity, prof.FilePath, prof.Kind, prof.RowCount,
		formatColumns(prof.Columns), ledger.Summary(s.ledger),
	)
	promptCtx := map[string]any{
		"entity":  entity,
		"columns": columnNames(prof.Columns),
	}

	var out struct {
		Definitions map[string]string `json:"definitions"`
		FileTag     string            `json:"file_tag"`
	}
	perr, err := p.askStructured(ctx, s, semanticsSystemPrompt, prompt, promptCtx, &out)
	if err != nil {
		return model.StateUpdate{}, err
	}
	if perr != nil {
		zap.L().Warn("pipeline: semantics output unparseable, proceeding without definitions",
			zap.String("session_id", s.state.SessionID),
			zap.String("reason", perr.Reason),
		)
		return model.StateUpdate{
			AppendLog: []string{"semantics: unparseable reasoner output, skipped"},
		}, nil
	}

	known := make(map[string]bool, len(prof.Columns))
	for _, col := range prof.Columns {
		known[strings.ToLower(col.Name)] = true
	}
	kept := 0
	for term, text := range out.Definitions {
		// Drop definitions for columns the file does not have.
		if !known[strings.ToLower(term)] {
			continue
		}
		fragment.SetDefinition(entity+"."+term, text)
		kept++
	}
	if out.FileTag != "" {
		fragment.SetFileTag(entity, out.FileTag)
	}

	return model.StateUpdate{
		Fragment:  &fragment,
		AppendLog: []string{fmt.Sprintf("semantics: %d definitions", kept)},
	}, nil
}

func formatColumns(cols []model.ColumnProfile) string {
	var b strings.Builder
	for _, c := range cols {
		fmt.Fprintf(&b, "- %s (%s, unique=%.2f", c.Name, c.InferredType, c.UniqueRatio)
		if len(c.SampleValues) > 0 {
			fmt.Fprintf(&b, ", samples: %s", strings.Join(c.SampleValues, ", "))
		}
		b.WriteString(")\n")
	}
	return b.String()
}

func columnNames(cols []model.ColumnProfile) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}
