package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Issue code constants classify each ValidationIssue by its structural
// category. Codes are stable strings so callers can switch on them.
const (
	// IssueNoSteps is reported when the step list is empty.
	IssueNoSteps = "NO_STEPS"

	// IssueEmptyStepID is reported when a step has an empty step_id.
	IssueEmptyStepID = "EMPTY_STEP_ID"

	// IssueDuplicateStepID is reported when two steps share a step_id.
	// Approval signals are keyed by step_id, so IDs must be unique.
	IssueDuplicateStepID = "DUPLICATE_STEP_ID"

	// IssueDuplicateOrder is reported when two steps share a step_order.
	IssueDuplicateOrder = "DUPLICATE_STEP_ORDER"

	// IssueNonMonotonicOrder is reported when step_order decreases along
	// the list.
	IssueNonMonotonicOrder = "NON_MONOTONIC_STEP_ORDER"

	// IssueEmptyStepType is reported when a step has no step_type.
	IssueEmptyStepType = "EMPTY_STEP_TYPE"

	// IssueUnknownStepType is reported (only when a Registry is provided)
	// when a step_type has no registered activity.
	IssueUnknownStepType = "UNKNOWN_STEP_TYPE"

	// IssueInvalidMode is reported for an unknown deployment_mode.
	IssueInvalidMode = "INVALID_DEPLOYMENT_MODE"

	// IssueInvalidTimeout is reported for a negative timeout_seconds or a
	// non-numeric validation_config.timeout_minutes.
	IssueInvalidTimeout = "INVALID_TIMEOUT"

	// IssueUnknownImpact is a warning: the step runs with the default retry
	// budget and never halts the run.
	IssueUnknownImpact = "UNKNOWN_IMPACT_LEVEL"

	// IssueUnattendedCritical is a warning for a critical step that runs
	// without approval.
	IssueUnattendedCritical = "UNATTENDED_CRITICAL_STEP"
)

// issueSentinels maps error codes to the sentinel wrapped by
// ValidationResult.Err so callers can use errors.Is.
var issueSentinels = map[string]error{
	IssueNoSteps:           ErrNoSteps,
	IssueEmptyStepID:       ErrInvalidStepConfig,
	IssueDuplicateStepID:   ErrInvalidStepConfig,
	IssueDuplicateOrder:    ErrInvalidStepOrder,
	IssueNonMonotonicOrder: ErrInvalidStepOrder,
	IssueEmptyStepType:     ErrUnknownStepType,
	IssueUnknownStepType:   ErrUnknownStepType,
	IssueInvalidMode:       ErrInvalidMode,
	IssueInvalidTimeout:    ErrInvalidStepConfig,
}

// ValidationIssue describes a single problem found in a step list.
type ValidationIssue struct {
	// Code is one of the Issue* constants.
	Code string `json:"code"`

	// StepID is the step involved, or empty for list-level issues.
	StepID string `json:"step_id,omitempty"`

	// Message is a human-readable description of the problem.
	Message string `json:"message"`
}

// ValidationResult holds the outcome of validating a step list. Errors are
// fatal: the run fails before any step executes. Warnings are informational.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

// IsValid reports whether there are no errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Err returns nil for a valid result, otherwise an error joining every issue,
// each wrapping its sentinel (ErrNoSteps, ErrInvalidStepOrder, ...).
func (r *ValidationResult) Err() error {
	if r.IsValid() {
		return nil
	}
	errs := make([]error, 0, len(r.Errors))
	for _, issue := range r.Errors {
		sentinel, ok := issueSentinels[issue.Code]
		if !ok {
			sentinel = ErrInvalidStepConfig
		}
		errs = append(errs, fmt.Errorf("%w: %s", sentinel, issue.Message))
	}
	return errors.Join(errs...)
}

// String returns a multi-line summary:
//
//	Errors (N):
//	  [ERROR_CODE] step "id": message
//	Warnings (N):
//	  [WARN_CODE] step "id": message
func (r *ValidationResult) String() string {
	var b strings.Builder
	writeIssues(&b, "Errors", r.Errors)
	writeIssues(&b, "Warnings", r.Warnings)
	return b.String()
}

func writeIssues(b *strings.Builder, title string, issues []ValidationIssue) {
	fmt.Fprintf(b, "%s (%d):\n", title, len(issues))
	for _, issue := range issues {
		if issue.StepID != "" {
			fmt.Fprintf(b, "  [%s] step %q: %s\n", issue.Code, issue.StepID, issue.Message)
		} else {
			fmt.Fprintf(b, "  [%s] %s\n", issue.Code, issue.Message)
		}
	}
}

func (r *ValidationResult) addError(code, stepID, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationIssue{Code: code, StepID: stepID, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationResult) addWarning(code, stepID, format string, args ...any) {
	r.Warnings = append(r.Warnings, ValidationIssue{Code: code, StepID: stepID, Message: fmt.Sprintf(format, args...)})
}

// ValidateSteps checks an ordered step list before execution. If registry is
// non-nil, every step_type must be registered so unknown types fail fast
// instead of at invocation time. The function always returns a non-nil
// result.
func ValidateSteps(steps []StepConfig, registry *Registry) *ValidationResult {
	result := &ValidationResult{}

	if len(steps) == 0 {
		result.addError(IssueNoSteps, "", "workflow has no steps")
		return result
	}

	seenIDs := make(map[string]struct{}, len(steps))
	seenOrders := make(map[int]string, len(steps))

	for i, step := range steps {
		label := step.StepID
		if step.StepID == "" {
			result.addError(IssueEmptyStepID, "", "step at index %d has an empty step_id", i)
			label = fmt.Sprintf("#%d", i)
		} else if _, dup := seenIDs[step.StepID]; dup {
			result.addError(IssueDuplicateStepID, step.StepID, "step_id %q appears more than once", step.StepID)
		} else {
			seenIDs[step.StepID] = struct{}{}
		}

		if other, dup := seenOrders[step.StepOrder]; dup {
			result.addError(IssueDuplicateOrder, step.StepID, "step_order %d is shared with step %q", step.StepOrder, other)
		} else {
			seenOrders[step.StepOrder] = label
			if i > 0 && step.StepOrder < steps[i-1].StepOrder {
				result.addError(IssueNonMonotonicOrder, step.StepID,
					"step_order %d follows %d; steps must be in ascending order", step.StepOrder, steps[i-1].StepOrder)
			}
		}

		switch {
		case step.StepType == "":
			result.addError(IssueEmptyStepType, step.StepID, "step has an empty step_type")
		case registry != nil && !registry.Has(step.StepType):
			result.addError(IssueUnknownStepType, step.StepID, "step_type %q has no registered activity", step.StepType)
		}

		if !step.DeploymentMode.Valid() {
			result.addError(IssueInvalidMode, step.StepID, "deployment_mode %q is not one of always_auto, auto_monitored, validation_required, always_manual", step.DeploymentMode)
		}

		if step.TimeoutSeconds < 0 {
			result.addError(IssueInvalidTimeout, step.StepID, "timeout_seconds must not be negative, got %d", step.TimeoutSeconds)
		}
		if _, _, err := step.timeoutMinutes(); err != nil {
			result.addError(IssueInvalidTimeout, step.StepID, "validation_config.timeout_minutes is not numeric: %v", err)
		}

		if !step.ImpactLevel.Known() {
			result.addWarning(IssueUnknownImpact, step.StepID,
				"impact_level %q is unclassified; default retry budget applies and failures never halt the run", step.ImpactLevel)
		}
		if step.ImpactLevel == ImpactCritical && (step.DeploymentMode == ModeAlwaysAuto || step.DeploymentMode == ModeAutoMonitored) {
			result.addWarning(IssueUnattendedCritical, step.StepID,
				"critical step runs in %s mode without human approval", step.DeploymentMode)
		}
	}

	return result
}
