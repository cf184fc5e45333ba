package workflow

import "time"

// WorkflowEvent type constants identify the lifecycle milestone of a
// WorkflowEvent. String values are used (not iota) so they round-trip
// cleanly through JSON and metric labels.
const (
	// WERunStarted is emitted when a run begins fetching its steps.
	WERunStarted = "run_started"

	// WERunCompleted is emitted when every step has been attempted without
	// a critical failure.
	WERunCompleted = "run_completed"

	// WERunFailed is emitted on a configuration error or a critical failure.
	WERunFailed = "run_failed"

	// WERunCancelled is emitted when the host cancels the run.
	WERunCancelled = "run_cancelled"

	// WEStepStarted is emitted when a step begins.
	WEStepStarted = "step_started"

	// WEStepCompleted is emitted when a step's activity succeeds.
	WEStepCompleted = "step_completed"

	// WEStepFailed is emitted when a step ends with status failed.
	WEStepFailed = "step_failed"

	// WEStepRetry is emitted before every activity attempt after the first.
	WEStepRetry = "step_retry"

	// WEStepAwaitingApproval is emitted when a step suspends at the gate.
	WEStepAwaitingApproval = "step_awaiting_approval"

	// WEStepApproved is emitted when an approved signal unblocks a step.
	WEStepApproved = "step_approved"

	// WEStepRejected is emitted when a rejected signal ends a step.
	WEStepRejected = "step_rejected"

	// WEStepTimedOut is emitted when the approval wait expires.
	WEStepTimedOut = "step_timed_out"

	// WECheckpoint is emitted after the run snapshot has been persisted.
	WECheckpoint = "checkpoint"
)

// WorkflowEvent is a structured message emitted by the engine during a run.
// Events are sent over a channel for real-time consumption by metrics and
// live status views.
type WorkflowEvent struct {
	// Type is one of the WE* constants.
	Type string `json:"type"`

	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`

	// StepID and StepOrder identify the step for step-level events.
	StepID    string `json:"step_id,omitempty"`
	StepOrder int    `json:"step_order,omitempty"`

	// Status is the step or run status for terminal events.
	Status string `json:"status,omitempty"`

	// Attempt is the attempt number for WEStepRetry.
	Attempt int `json:"attempt,omitempty"`

	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
