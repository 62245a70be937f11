package trigger

import "github.com/agentcore-ai/agentcore/pkg/types"

const flagResourcePressure = "resourcePressure"

const resourcePressureThreshold = 0.8

// ResourcePressureRule warns when the caller-reported cpu or memory
// utilization on the triggering message is at or above 80%, clearing the
// flag on recovery. The snapshot is supplied by the client (spec's
// MessageMeta), not sampled server-side.
type ResourcePressureRule struct {
	enabled bool
}

// NewResourcePressureRule creates the built-in resource-pressure trigger.
func NewResourcePressureRule() *ResourcePressureRule {
	return &ResourcePressureRule{enabled: true}
}

func (r *ResourcePressureRule) ID() string    { return "resource-pressure" }
func (r *ResourcePressureRule) Priority() int { return 90 }
func (r *ResourcePressureRule) Enabled() bool { return r.enabled }

func (r *ResourcePressureRule) Evaluate(session *types.Session, in Inputs) Result {
	if in.Resource == nil {
		return Result{}
	}

	cpu := in.Resource.CPUPercent / 100
	mem := in.Resource.MemoryPercent / 100
	under := cpu >= resourcePressureThreshold || mem >= resourcePressureThreshold

	was := flagSet(session, flagResourcePressure)
	if under == was {
		return Result{}
	}

	var message string
	if under {
		message = "System resources are under pressure (cpu or memory at or above 80%). Expect slower tool execution."
	} else {
		message = "System resource pressure has cleared (cpu and memory back below 80%)."
	}
	return Result{
		SystemMessage: message,
		FlagUpdates:   map[string]bool{flagResourcePressure: under},
	}
}
