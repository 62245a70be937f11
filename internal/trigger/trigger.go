// Package trigger implements the Trigger Layer (spec L9): a priority-ordered
// registry of rules evaluated once per turn, each able to advise the user
// with a system message and/or flip session flags bidirectionally (set on
// entering a condition, cleared on leaving it).
//
// New package: the teacher has no trigger/flag system of its own. Grounded
// on the teacher's session-flag idiom (a session carrying named boolean
// flags mutated by its processing loop, as seen in internal/session's
// Time.Compacting-style state) generalized into a standalone rule registry.
package trigger

import "github.com/agentcore-ai/agentcore/pkg/types"

// TokenBudget is the current/max context-window figure a rule may reason
// about.
type TokenBudget struct {
	Current int
	Max     int
}

// Inputs bundles everything a rule may need to evaluate this turn: the
// token budget and the most recently reported resource snapshot (cpu/memory
// percent, supplied by the caller on the triggering user message — the
// Trigger Layer has no way to sample the client machine's resources
// itself).
type Inputs struct {
	Budget   TokenBudget
	Resource *types.MessageMeta
}

// Result is what a single rule produces when it fires. A rule that does not
// fire returns a zero Result (IsZero() reports true).
type Result struct {
	SystemMessage string
	FlagUpdates   map[string]bool
}

// IsZero reports whether the rule produced no advisory and no flag change.
func (r Result) IsZero() bool {
	return r.SystemMessage == "" && len(r.FlagUpdates) == 0
}

// Rule is one trigger: given the session and its current token budget, it
// may emit an advisory system message and/or flag updates.
type Rule interface {
	ID() string
	Priority() int
	Enabled() bool
	Evaluate(session *types.Session, in Inputs) Result
}

// Registry holds the enabled rule set, evaluated in descending priority
// order.
type Registry struct {
	rules []Rule
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{}
}

// NewDefault creates a Registry seeded with the built-in context-usage and
// resource-pressure rules (spec §4.9).
func NewDefault() *Registry {
	r := New()
	r.Register(NewContextUsageRule())
	r.Register(NewResourcePressureRule())
	return r
}

// Register adds a rule to the registry.
func (r *Registry) Register(rule Rule) {
	r.rules = append(r.rules, rule)
}

// Evaluation is the merged outcome of one full pass over the registry.
type Evaluation struct {
	SystemMessages []string
	FlagUpdates    map[string]bool
}

// Evaluate enumerates enabled rules in descending priority order, collects
// every non-empty result, and merges all flag updates into one patch.
func (r *Registry) Evaluate(session *types.Session, in Inputs) Evaluation {
	enabled := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		if rule.Enabled() {
			enabled = append(enabled, rule)
		}
	}
	sortByPriorityDesc(enabled)

	eval := Evaluation{FlagUpdates: map[string]bool{}}
	for _, rule := range enabled {
		res := rule.Evaluate(session, in)
		if res.IsZero() {
			continue
		}
		if res.SystemMessage != "" {
			eval.SystemMessages = append(eval.SystemMessages, res.SystemMessage)
		}
		for k, v := range res.FlagUpdates {
			eval.FlagUpdates[k] = v
		}
	}
	return eval
}

func sortByPriorityDesc(rules []Rule) {
	for i := 1; i < len(rules); i++ {
		j := i
		for j > 0 && rules[j-1].Priority() < rules[j].Priority() {
			rules[j-1], rules[j] = rules[j], rules[j-1]
			j--
		}
	}
}

func flagSet(session *types.Session, name string) bool {
	if session == nil || session.Flags == nil {
		return false
	}
	return session.Flags[name]
}
