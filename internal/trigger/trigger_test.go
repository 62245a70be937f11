package trigger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentcore-ai/agentcore/pkg/types"
)

func TestContextUsageRuleFiresAt80And90(t *testing.T) {
	r := NewContextUsageRule()
	sess := &types.Session{Flags: map[string]bool{}}

	res := r.Evaluate(sess, Inputs{Budget: TokenBudget{Current: 85, Max: 100}})
	require.False(t, res.IsZero())
	require.True(t, res.FlagUpdates["contextWarning80"])
	require.NotContains(t, res.FlagUpdates, "contextWarning90")

	sess.Flags["contextWarning80"] = true
	res = r.Evaluate(sess, Inputs{Budget: TokenBudget{Current: 95, Max: 100}})
	require.True(t, res.FlagUpdates["contextWarning90"])
}

func TestContextUsageRuleClearsOnRecovery(t *testing.T) {
	r := NewContextUsageRule()
	sess := &types.Session{Flags: map[string]bool{"contextWarning80": true}}

	res := r.Evaluate(sess, Inputs{Budget: TokenBudget{Current: 50, Max: 100}})
	require.False(t, res.FlagUpdates["contextWarning80"])
	require.NotEmpty(t, res.SystemMessage, "clearing the flag must still notify the session")
}

func TestContextUsageRuleNoRefireWhileFlagSet(t *testing.T) {
	r := NewContextUsageRule()
	sess := &types.Session{Flags: map[string]bool{"contextWarning80": true}}

	res := r.Evaluate(sess, Inputs{Budget: TokenBudget{Current: 85, Max: 100}})
	require.True(t, res.IsZero())
}

func TestResourcePressureRuleFiresAndClears(t *testing.T) {
	r := NewResourcePressureRule()
	sess := &types.Session{Flags: map[string]bool{}}

	res := r.Evaluate(sess, Inputs{Resource: &types.MessageMeta{CPUPercent: 90}})
	require.True(t, res.FlagUpdates["resourcePressure"])

	sess.Flags["resourcePressure"] = true
	res = r.Evaluate(sess, Inputs{Resource: &types.MessageMeta{CPUPercent: 20, MemoryPercent: 20}})
	require.False(t, res.FlagUpdates["resourcePressure"])
	require.NotEmpty(t, res.SystemMessage, "clearing the flag must still notify the session")
}

func TestRegistryEvaluateMergesInPriorityOrder(t *testing.T) {
	reg := NewDefault()
	sess := &types.Session{Flags: map[string]bool{}}

	eval := reg.Evaluate(sess, Inputs{
		Budget:   TokenBudget{Current: 95, Max: 100},
		Resource: &types.MessageMeta{CPUPercent: 95},
	})
	require.True(t, eval.FlagUpdates["contextWarning80"])
	require.True(t, eval.FlagUpdates["contextWarning90"])
	require.True(t, eval.FlagUpdates["resourcePressure"])
	require.Len(t, eval.SystemMessages, 2)
}
