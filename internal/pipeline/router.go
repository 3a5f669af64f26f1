package pipeline

import (
	"github.com/sells-group/knowledge-cli/internal/model"
)

// Decision is the routing outcome at a pre-suspend node.
type Decision int

const (
	// DecisionAdvance continues along the default edge.
	DecisionAdvance Decision = iota
	// DecisionSuspend parks the session and waits for a human answer.
	DecisionSuspend
	// DecisionForceAdvance continues despite an outstanding review flag
	// because the retry cap has been reached. The executor stamps a default
	// approval before advancing.
	DecisionForceAdvance
)

func (d Decision) String() string {
	switch d {
	case DecisionSuspend:
		return "suspend"
	case DecisionForceAdvance:
		return "force_advance"
	default:
		return "advance"
	}
}

// Route decides whether the session suspends at a review boundary. It is a
// pure function of the state, evaluated in fixed precedence order:
//
//  1. anchor already terminal (CONFIRMED, INDIRECT_LINK, FK_LINK): advance,
//     regardless of any review flags still set;
//  2. the profiling stage requested confirmation: suspend;
//  3. a phase flagged generic human review: suspend;
//  4. otherwise advance.
//
// Once RetryCount reaches maxRetries, any suspend-worthy evaluation becomes
// a forced advance so a session can never stall indefinitely.
func Route(state *model.PipelineState, maxRetries int) Decision {
	if state.AnchorStatus.Terminal() {
		return DecisionAdvance
	}
	if state.ConfirmRequested || state.NeedsHumanReview {
		if maxRetries > 0 && state.RetryCount >= maxRetries {
			return DecisionForceAdvance
		}
		return DecisionSuspend
	}
	return DecisionAdvance
}
