package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/knowledge-cli/internal/model"
	"github.com/sells-group/knowledge-cli/internal/profile"
)

// profilePhase runs deterministic file profiling. No reasoner calls happen
// here; the profile seeds every later phase.
func (p *Pipeline) profilePhase(ctx context.Context, s *session) (model.StateUpdate, error) {
	prof, err := profile.ProfileFile(s.state.FilePath, s.state.DatasetID, profile.Options{
		SampleRows:       p.cfg.Profile.SampleRows,
		SampleValues:     p.cfg.Profile.SampleValues,
		AnchorMinUnique:  p.cfg.Profile.AnchorMinUnique,
		ConfirmThreshold: p.cfg.Profile.ConfirmThreshold,
	})
	if err != nil {
		return model.StateUpdate{}, eris.Wrapf(err, "pipeline: profile %s", s.state.FilePath)
	}

	update := model.StateUpdate{
		Profile:          prof,
		ConfirmRequested: model.BoolPtr(prof.ConfirmRequested),
		AppendLog: []string{fmt.Sprintf("profiled %s: kind=%s columns=%d rows=%d",
			s.state.FilePath, prof.Kind, len(prof.Columns), prof.RowCount)},
	}
	if prof.AnchorGuess != "" {
		update.AnchorColumn = model.StrPtr(prof.AnchorGuess)
		update.AnchorConfidence = model.Float64Ptr(prof.AnchorGuessScore)
	}
	return update, nil
}
