package workflow

import (
	"context"
	"time"
)

// StepConfigProvider returns the ordered step list of a workflow. The engine
// calls it exactly once per run. Implementations wrap ErrWorkflowNotFound
// for unknown workflow IDs.
type StepConfigProvider interface {
	GetOrderedSteps(ctx context.Context, workflowID string) ([]StepConfig, error)
}

// StepConfigProviderFunc adapts a function to StepConfigProvider.
type StepConfigProviderFunc func(ctx context.Context, workflowID string) ([]StepConfig, error)

// GetOrderedSteps calls f.
func (f StepConfigProviderFunc) GetOrderedSteps(ctx context.Context, workflowID string) ([]StepConfig, error) {
	return f(ctx, workflowID)
}

// ApprovalRequest is the payload handed to a Notifier when a step suspends
// at the approval gate.
type ApprovalRequest struct {
	RunID          string         `json:"run_id"`
	WorkflowID     string         `json:"workflow_id"`
	StepID         string         `json:"step_id"`
	StepName       string         `json:"step_name"`
	StepOrder      int            `json:"step_order"`
	DeploymentMode DeploymentMode `json:"deployment_mode"`
	ImpactLevel    ImpactLevel    `json:"impact_level"`
	RiskLevel      string         `json:"risk_level,omitempty"`
	Preview        map[string]any `json:"preview"`
	Analysis       ImpactAnalysis `json:"analysis"`
	Timeout        time.Duration  `json:"timeout"`
	ExpiresAt      time.Time      `json:"expires_at"`
	RequestedAt    time.Time      `json:"requested_at"`
}

// Notifier tells humans that a step needs approval. It is fire-and-forget:
// a returned error is logged and otherwise ignored.
type Notifier interface {
	NotifyApprovalNeeded(ctx context.Context, req ApprovalRequest) error
}

// MetricsLogger records the result of steps running in auto_monitored mode.
// A returned error is logged and never affects the step.
type MetricsLogger interface {
	LogStepExecution(ctx context.Context, stepID string, result StepResult) error
}

// StateStore persists run snapshots so an execution log survives a crash of
// the host process. The engine saves after every appended step result and
// once more when the run finishes.
type StateStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, runID string) (Snapshot, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, runID string) error
}
