package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/knowledge-cli/internal/model"
)

// persistPhase submits the accumulated fragment through the knowledge
// applier's critical section. Merging is idempotent, so a re-run after a
// crash at this boundary is safe. An empty fragment still completes the
// session; there is just nothing to merge.
func (p *Pipeline) persistPhase(ctx context.Context, s *session) (model.StateUpdate, error) {
	if s.state.Fragment.Empty() {
		return model.StateUpdate{
			AppendLog: []string{"persist: empty fragment, nothing to merge"},
		}, nil
	}

	merged, err := p.applier.Apply(ctx, p.cfg.Pipeline.KnowledgeBaseID, s.state.Fragment)
	if err != nil {
		return model.StateUpdate{}, eris.Wrap(err, "pipeline: persist fragment")
	}

	return model.StateUpdate{
		AppendLog: []string{fmt.Sprintf("persist: merged into %s version %d",
			merged.ID, merged.Version)},
	}, nil
}
