package workflow

import "fmt"

// ExecutionPlan is the decision of the deployment mode policy for one step.
type ExecutionPlan struct {
	Mode DeploymentMode `json:"mode"`

	// RequiresApproval means the step must preview, notify and suspend at
	// the approval gate before its activity may run.
	RequiresApproval bool `json:"requires_approval"`

	// Monitored means the result is reported to the MetricsLogger after the
	// activity completes.
	Monitored bool `json:"monitored"`
}

// DecideExecution maps a deployment mode to its execution plan. It is pure
// and returns ErrInvalidMode for anything outside the four known modes.
func DecideExecution(mode DeploymentMode) (ExecutionPlan, error) {
	switch mode {
	case ModeAlwaysAuto:
		return ExecutionPlan{Mode: mode}, nil
	case ModeAutoMonitored:
		return ExecutionPlan{Mode: mode, Monitored: true}, nil
	case ModeValidationRequired, ModeAlwaysManual:
		return ExecutionPlan{Mode: mode, RequiresApproval: true}, nil
	default:
		return ExecutionPlan{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
}

// HaltsRun reports whether a failed step at this impact level stops the
// remaining pipeline. Only critical steps halt.
func HaltsRun(level ImpactLevel) bool {
	return level == ImpactCritical
}
