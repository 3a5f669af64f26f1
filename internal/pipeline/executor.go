package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/knowledge-cli/internal/ledger"
	"github.com/sells-group/knowledge-cli/internal/model"
	"github.com/sells-group/knowledge-cli/pkg/reasoner"
)

// run drives the session through the phase graph until it completes,
// suspends, or fails. Every phase boundary persists a checkpoint, so a crash
// between phases resumes from the last completed one.
func (p *Pipeline) run(ctx context.Context, s *session) (*model.PipelineState, error) {
	graph := p.graph()
	log := zap.L().With(zap.String("session_id", s.state.SessionID))

	for s.state.Phase != PhaseDone {
		n, ok := graph[s.state.Phase]
		if !ok {
			return p.fail(ctx, s, eris.Errorf("pipeline: unknown phase %q", s.state.Phase))
		}

		if s.state.Phase == PhaseAnchorReview {
			decision := Route(s.state, p.cfg.Pipeline.MaxReviewRetries)
			log.Debug("pipeline: routed",
				zap.String("decision", decision.String()),
				zap.String("anchor_status", string(s.state.AnchorStatus)),
				zap.Int("retry_count", s.state.RetryCount),
			)

			switch decision {
			case DecisionSuspend:
				if s.state.HumanAnswer == "" {
					return p.suspend(ctx, s)
				}
				// An answer is waiting: fall through to the review node.
			case DecisionForceAdvance:
				p.forceApprove(s)
				s.state.Phase = n.next
				if err := p.checkpoint(ctx, s); err != nil {
					return s.state, err
				}
				continue
			default:
				s.state.Phase = n.next
				if err := p.checkpoint(ctx, s); err != nil {
					return s.state, err
				}
				continue
			}
		}

		update, err := p.runPhase(ctx, n, s)
		if err != nil {
			return p.fail(ctx, s, err)
		}
		s.state.Apply(update)

		log.Info("pipeline: phase complete", zap.String("phase", s.state.Phase))

		next := n.next
		if s.nextOverride != "" {
			next = s.nextOverride
			s.nextOverride = ""
		}
		s.state.Phase = next
		if err := p.checkpoint(ctx, s); err != nil {
			return s.state, err
		}
	}

	s.state.Apply(model.StateUpdate{Status: model.StatusPtr(model.SessionStatusCompleted)})
	if err := p.checkpoint(ctx, s); err != nil {
		return s.state, err
	}

	runCost := p.costCalc.Claude(p.cfg.Reasoner.Model,
		s.usage.InputTokens, s.usage.OutputTokens,
		s.usage.CacheCreationInputTokens, s.usage.CacheReadInputTokens)

	log.Info("pipeline: session complete",
		zap.String("dataset_id", s.state.DatasetID),
		zap.Int("turns", len(s.ledger.Turns)),
		zap.Int64("input_tokens", s.usage.InputTokens),
		zap.Int64("output_tokens", s.usage.OutputTokens),
		zap.Float64("cost_usd", runCost),
	)
	return s.state, nil
}

// runPhase executes one phase with a panic guard. A panicking phase fails
// the session like any other phase error; the last checkpoint stays valid.
func (p *Pipeline) runPhase(ctx context.Context, n node, s *session) (update model.StateUpdate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("pipeline: phase %s panicked: %v", s.state.Phase, r)
		}
	}()
	return n.run(ctx, s)
}

// suspend parks the session awaiting a human answer. A failure to persist
// the suspended state is fatal: losing it would orphan the review.
func (p *Pipeline) suspend(ctx context.Context, s *session) (*model.PipelineState, error) {
	if s.state.PendingQuestion == "" {
		s.state.PendingQuestion = fmt.Sprintf(
			"Confirm the anchor column for %s (best guess: %q).",
			s.state.DatasetID, s.state.AnchorColumn,
		)
	}
	if s.state.PendingReviewType == "" {
		s.state.PendingReviewType = model.ReviewTypeAnchor
	}
	s.state.Apply(model.StateUpdate{
		Status:    model.StatusPtr(model.SessionStatusSuspended),
		AppendLog: []string{"suspended for " + string(s.state.PendingReviewType) + " review"},
	})

	if err := p.checkpoint(ctx, s); err != nil {
		return s.state, err
	}

	zap.L().Info("pipeline: session suspended",
		zap.String("session_id", s.state.SessionID),
		zap.String("review_type", string(s.state.PendingReviewType)),
		zap.String("question", s.state.PendingQuestion),
		zap.Int("retry_count", s.state.RetryCount),
	)
	return s.state, nil
}

// forceApprove stamps the best available anchor as confirmed once the retry
// cap is reached, and records the decision as an auto-approved ledger turn.
func (p *Pipeline) forceApprove(s *session) {
	column := s.state.AnchorColumn
	if column == "" && s.state.Profile != nil {
		column = s.state.Profile.AnchorGuess
	}

	reviewType := s.state.PendingReviewType
	if reviewType == "" {
		reviewType = model.ReviewTypeAnchor
	}
	s.ledger = ledger.AppendTurn(s.ledger, reviewType,
		s.state.PendingQuestion, "", "auto_approved", s.state.FilePath)

	s.state.Apply(model.StateUpdate{
		AnchorColumn:     model.StrPtr(column),
		AnchorStatus:     model.AnchorPtr(model.AnchorStatusConfirmed),
		ConfirmRequested: model.BoolPtr(false),
		NeedsHumanReview: model.BoolPtr(false),
		PendingQuestion:  model.StrPtr(""),
		HumanAnswer:      model.StrPtr(""),
		Preferences:      s.ledger.DerivedPreferences,
		AppendLog:        []string{fmt.Sprintf("retry cap reached, auto-approved anchor %q", column)},
	})

	zap.L().Warn("pipeline: retry cap reached, auto-approving anchor",
		zap.String("session_id", s.state.SessionID),
		zap.String("anchor_column", column),
		zap.Int("retry_count", s.state.RetryCount),
	)
}

// fail marks the session failed and persists the error. The prior
// checkpoint remains valid for inspection.
func (p *Pipeline) fail(ctx context.Context, s *session, cause error) (*model.PipelineState, error) {
	s.state.Apply(model.StateUpdate{
		Status:       model.StatusPtr(model.SessionStatusFailed),
		ErrorMessage: model.StrPtr(cause.Error()),
		AppendLog:    []string{"failed in phase " + s.state.Phase},
	})
	if saveErr := p.checkpoint(ctx, s); saveErr != nil {
		zap.L().Error("pipeline: failed to persist failure state",
			zap.String("session_id", s.state.SessionID),
			zap.Error(saveErr),
		)
	}

	zap.L().Error("pipeline: session failed",
		zap.String("session_id", s.state.SessionID),
		zap.String("phase", s.state.Phase),
		zap.Error(cause),
	)
	return s.state, cause
}

// checkpoint persists the state and the ledger together.
func (p *Pipeline) checkpoint(ctx context.Context, s *session) error {
	if err := p.store.SaveSession(ctx, s.state); err != nil {
		return eris.Wrapf(err, "pipeline: save session %s", s.state.SessionID)
	}
	if err := p.store.SaveLedger(ctx, s.ledger); err != nil {
		return eris.Wrapf(err, "pipeline: save ledger %s", s.state.SessionID)
	}
	return nil
}

// askStructured asks the reasoner with cache-first semantics: a cache hit
// decodes the stored JSON without a model call; a live result is cached
// keyed on (prompt, promptCtx). An unparseable answer from the primary
// model is retried once on the fallback model; parse failures come back as
// a value, never cached. Live-call token usage accumulates on the session.
func (p *Pipeline) askStructured(ctx context.Context, s *session, system, prompt string, promptCtx map[string]any, out any) (*reasoner.ParseError, error) {
	if raw, ok := p.cache.Get(prompt, promptCtx); ok {
		if perr := reasoner.DecodeJSON(string(raw), out); perr == nil {
			return nil, nil
		}
		zap.L().Warn("pipeline: corrupt cache entry, refetching")
	}

	res, err := p.askModel(ctx, s, p.cfg.Reasoner.Model, system, prompt, out)
	if err != nil {
		return nil, err
	}

	if res.ParseErr != nil {
		fallback := p.cfg.Reasoner.FallbackModel
		if fallback == "" || fallback == p.cfg.Reasoner.Model {
			return res.ParseErr, nil
		}
		zap.L().Warn("pipeline: unparseable output, retrying on fallback model",
			zap.String("model", p.cfg.Reasoner.Model),
			zap.String("fallback", fallback),
			zap.String("reason", res.ParseErr.Reason),
		)
		res, err = p.askModel(ctx, s, fallback, system, prompt, out)
		if err != nil {
			return nil, err
		}
		if res.ParseErr != nil {
			return res.ParseErr, nil
		}
	}

	p.cache.Put(prompt, promptCtx, json.RawMessage(reasoner.CleanJSON(res.Raw)))
	return nil, nil
}

func (p *Pipeline) askModel(ctx context.Context, s *session, model, system, prompt string, out any) (*reasoner.StructuredResult, error) {
	res, err := p.reasoner.AskStructured(ctx, reasoner.Request{
		System:    system,
		Prompt:    prompt,
		Model:     model,
		MaxTokens: int64(p.cfg.Reasoner.MaxTokens),
	}, out)
	if err != nil {
		return nil, err
	}
	s.usage.Add(res.Usage)
	return res, nil
}
