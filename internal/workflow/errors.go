package workflow

import "errors"

// Configuration errors. Any of these fails a run before its first step.
var (
	// ErrWorkflowNotFound is returned (wrapped) by StepConfigProvider
	// implementations when a workflow ID is unknown.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrNoSteps is reported when a workflow resolves to an empty step list.
	ErrNoSteps = errors.New("workflow has no steps")

	// ErrInvalidStepOrder is reported for duplicate or non-ascending
	// step_order values.
	ErrInvalidStepOrder = errors.New("invalid step order")

	// ErrUnknownStepType is reported when a step_type has no registered
	// activity.
	ErrUnknownStepType = errors.New("unknown step type")

	// ErrInvalidMode is reported for an unrecognised deployment mode.
	ErrInvalidMode = errors.New("invalid deployment mode")

	// ErrInvalidStepConfig covers remaining malformed fields (empty IDs,
	// negative timeouts, non-numeric timeout_minutes).
	ErrInvalidStepConfig = errors.New("invalid step config")
)

// Step-level errors. These are recorded on a StepResult and never escape Run.
var (
	// ErrApprovalTimeout is returned by ApprovalGate.Wait when no signal
	// arrives before the deadline.
	ErrApprovalTimeout = errors.New("approval wait timed out")

	// ErrActivityTimeout marks an activity attempt that exceeded its
	// timeout_seconds bound.
	ErrActivityTimeout = errors.New("activity timed out")

	// ErrActivityFailed marks an activity that returned Success=false
	// without an error.
	ErrActivityFailed = errors.New("activity reported failure")
)

// Signal and run management errors.
var (
	// ErrInvalidSignal is returned for a signal without a step ID or with an
	// unknown action.
	ErrInvalidSignal = errors.New("invalid approval signal")

	// ErrDuplicateSignal is returned when a signal for the step has already
	// been received. The first signal wins.
	ErrDuplicateSignal = errors.New("approval signal already received")

	// ErrStepResolved is returned for a signal arriving after the step's
	// approval wait has already finished.
	ErrStepResolved = errors.New("step approval already resolved")

	// ErrRunNotFound is returned by the Manager for an unknown run ID.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunFinished is returned when an operation requires an active run.
	ErrRunFinished = errors.New("run already finished")

	// ErrRunExists is returned when a caller-chosen run ID is taken.
	ErrRunExists = errors.New("run ID already in use")

	// ErrManagerClosed is returned by Start after Shutdown.
	ErrManagerClosed = errors.New("manager is shut down")
)
