package trigger

import (
	"fmt"

	"github.com/agentcore-ai/agentcore/pkg/types"
)

const (
	flagContextWarning80 = "contextWarning80"
	flagContextWarning90 = "contextWarning90"
)

// ContextUsageRule warns when a session's context-window usage crosses 80%
// or 90%, clearing each flag again once usage drops back below its
// threshold (spec §4.9: bidirectional, edge-triggered).
type ContextUsageRule struct {
	enabled bool
}

// NewContextUsageRule creates the built-in context-usage trigger.
func NewContextUsageRule() *ContextUsageRule {
	return &ContextUsageRule{enabled: true}
}

func (r *ContextUsageRule) ID() string    { return "context-usage" }
func (r *ContextUsageRule) Priority() int { return 100 }
func (r *ContextUsageRule) Enabled() bool { return r.enabled }

func (r *ContextUsageRule) Evaluate(session *types.Session, in Inputs) Result {
	if in.Budget.Max <= 0 {
		return Result{}
	}
	usage := float64(in.Budget.Current) / float64(in.Budget.Max)

	updates := map[string]bool{}
	var message string

	was90 := flagSet(session, flagContextWarning90)
	is90 := usage >= 0.9
	if is90 != was90 {
		updates[flagContextWarning90] = is90
		if is90 {
			message = fmt.Sprintf("Context usage is at %.0f%% of the model's window. Consider compacting soon.", usage*100)
		} else {
			message = fmt.Sprintf("Context usage has dropped back below 90%% (%.0f%% now).", usage*100)
		}
	}

	was80 := flagSet(session, flagContextWarning80)
	is80 := usage >= 0.8
	if is80 != was80 {
		updates[flagContextWarning80] = is80
		if message == "" {
			if is80 {
				message = fmt.Sprintf("Context usage is at %.0f%% of the model's window.", usage*100)
			} else {
				message = fmt.Sprintf("Context usage has dropped back below 80%% (%.0f%% now).", usage*100)
			}
		}
	}

	if len(updates) == 0 {
		return Result{}
	}
	return Result{SystemMessage: message, FlagUpdates: updates}
}
