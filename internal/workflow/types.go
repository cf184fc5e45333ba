package workflow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DeploymentMode decides how much human oversight a step gets before its
// activity runs. String values round-trip through TOML, JSON and Redis.
type DeploymentMode string

const (
	// ModeAlwaysAuto invokes the activity immediately.
	ModeAlwaysAuto DeploymentMode = "always_auto"

	// ModeAutoMonitored invokes the activity immediately and records the
	// result with the MetricsLogger afterwards.
	ModeAutoMonitored DeploymentMode = "auto_monitored"

	// ModeValidationRequired suspends the step until a human approves or
	// rejects it.
	ModeValidationRequired DeploymentMode = "validation_required"

	// ModeAlwaysManual behaves exactly like ModeValidationRequired at
	// runtime. The two differ only in who assigned the mode.
	ModeAlwaysManual DeploymentMode = "always_manual"
)

// Valid reports whether m is one of the four known modes.
func (m DeploymentMode) Valid() bool {
	switch m {
	case ModeAlwaysAuto, ModeAutoMonitored, ModeValidationRequired, ModeAlwaysManual:
		return true
	}
	return false
}

// ImpactLevel classifies the blast radius of a step. It drives the retry
// budget and whether a failure halts the run.
type ImpactLevel string

const (
	ImpactAccessory ImpactLevel = "accessory"
	ImpactRead      ImpactLevel = "read"
	ImpactWrite     ImpactLevel = "write"
	ImpactCritical  ImpactLevel = "critical"
	ImpactExternal  ImpactLevel = "external"
)

// Known reports whether l is one of the five classified impact levels.
// Unknown levels are accepted at runtime and get the default retry budget.
func (l ImpactLevel) Known() bool {
	switch l {
	case ImpactAccessory, ImpactRead, ImpactWrite, ImpactCritical, ImpactExternal:
		return true
	}
	return false
}

// Defaults applied when a StepConfig leaves a timeout unset.
const (
	DefaultStepTimeout     = 60 * time.Second
	DefaultApprovalTimeout = 30 * time.Minute
)

// TimeoutMinutesKey is the ValidationConfig key holding the approval wait.
const TimeoutMinutesKey = "timeout_minutes"

// StepConfig is the immutable configuration of one step, owned by the
// StepConfigProvider and fetched once at the start of a run.
type StepConfig struct {
	StepID            string         `json:"step_id" toml:"step_id"`
	StepName          string         `json:"step_name" toml:"step_name"`
	StepOrder         int            `json:"step_order" toml:"step_order"`
	StepType          string         `json:"step_type" toml:"step_type"`
	DeploymentMode    DeploymentMode `json:"deployment_mode" toml:"deployment_mode"`
	ImpactLevel       ImpactLevel    `json:"impact_level" toml:"impact_level"`
	RiskLevel         string         `json:"risk_level,omitempty" toml:"risk_level"`
	ValidationConfig  map[string]any `json:"validation_config,omitempty" toml:"validation_config"`
	PromotionCriteria map[string]any `json:"promotion_criteria,omitempty" toml:"promotion_criteria"`
	MonitoringConfig  map[string]any `json:"monitoring_config,omitempty" toml:"monitoring_config"`
	TimeoutSeconds    int            `json:"timeout_seconds,omitempty" toml:"timeout_seconds"`
}

// ActivityTimeout returns the bound for a single activity attempt. A zero or
// negative TimeoutSeconds falls back to def.
func (s StepConfig) ActivityTimeout(def time.Duration) time.Duration {
	if s.TimeoutSeconds > 0 {
		return time.Duration(s.TimeoutSeconds) * time.Second
	}
	if def <= 0 {
		return DefaultStepTimeout
	}
	return def
}

// ApprovalTimeout returns how long the approval gate waits for a signal.
// It reads ValidationConfig["timeout_minutes"], which may be any numeric type
// produced by TOML or JSON decoding, or a numeric string. Fractional minutes
// are honoured. Missing or non-positive values fall back to def.
func (s StepConfig) ApprovalTimeout(def time.Duration) time.Duration {
	if def <= 0 {
		def = DefaultApprovalTimeout
	}
	minutes, ok, err := s.timeoutMinutes()
	if err != nil || !ok || minutes <= 0 {
		return def
	}
	return time.Duration(minutes * float64(time.Minute))
}

// timeoutMinutes extracts the raw timeout_minutes value. ok is false when
// the key is absent; err is non-nil when it is present but not numeric.
func (s StepConfig) timeoutMinutes() (minutes float64, ok bool, err error) {
	raw, present := s.ValidationConfig[TimeoutMinutesKey]
	if !present || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case int:
		return float64(v), true, nil
	case int32:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	case float32:
		return float64(v), true, nil
	case float64:
		return v, true, nil
	case json.Number:
		f, err := v.Float64()
		return f, true, err
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, true, err
	default:
		return 0, true, fmt.Errorf("timeout_minutes has unsupported type %T", raw)
	}
}

// ApprovalAction is the decision carried by an ApprovalSignal.
type ApprovalAction string

const (
	ActionApproved ApprovalAction = "approved"
	ActionRejected ApprovalAction = "rejected"
)

// ApprovalSignal is delivered by an external actor to unblock a suspended
// step. Only the first signal per step ID is ever observed.
type ApprovalSignal struct {
	StepID     string         `json:"step_id"`
	UserID     string         `json:"user_id"`
	Action     ApprovalAction `json:"action"`
	EditedData map[string]any `json:"edited_data,omitempty"`
	Notes      string         `json:"notes,omitempty"`
}

// Validate checks that the signal names a step and carries a known action.
func (s ApprovalSignal) Validate() error {
	if s.StepID == "" {
		return fmt.Errorf("%w: step_id is required", ErrInvalidSignal)
	}
	switch s.Action {
	case ActionApproved, ActionRejected:
		return nil
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidSignal, s.Action)
	}
}

// StepStatus is the terminal status recorded for a step.
type StepStatus string

const (
	StatusCompleted StepStatus = "completed"
	StatusFailed    StepStatus = "failed"
	StatusRejected  StepStatus = "rejected"
	StatusTimeout   StepStatus = "timeout"
)

// StepResult is the immutable record of one step's execution. Results are
// appended to the run log in step order and never modified afterwards.
type StepResult struct {
	StepID          string         `json:"step_id"`
	StepName        string         `json:"step_name"`
	StepOrder       int            `json:"step_order"`
	Status          StepStatus     `json:"status"`
	Success         bool           `json:"success"`
	DeploymentMode  DeploymentMode `json:"deployment_mode"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     time.Time      `json:"completed_at"`
	DurationMS      int64          `json:"duration_ms"`
	Attempts        int            `json:"attempts"`
	ApprovedBy      string         `json:"approved_by,omitempty"`
	ApprovalNotes   string         `json:"approval_notes,omitempty"`
	RejectedBy      string         `json:"rejected_by,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
	OutputData      map[string]any `json:"output_data,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
}

// RunStatus is the lifecycle status of a whole run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Outcome is the structured result of a run. It is always returned, never
// replaced by a bare error.
type Outcome struct {
	RunID          string       `json:"run_id"`
	WorkflowID     string       `json:"workflow_id"`
	Status         RunStatus    `json:"status"`
	FailedAtStep   *int         `json:"failed_at_step,omitempty"`
	Error          string       `json:"error,omitempty"`
	TotalSteps     int          `json:"total_steps"`
	ExecutedSteps  int          `json:"executed_steps"`
	CompletedSteps []StepResult `json:"completed_steps"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at"`
}

// clone returns a deep copy of o so callers cannot mutate engine state.
func (o *Outcome) clone() *Outcome {
	if o == nil {
		return nil
	}
	c := *o
	if o.FailedAtStep != nil {
		order := *o.FailedAtStep
		c.FailedAtStep = &order
	}
	c.CompletedSteps = cloneResults(o.CompletedSteps)
	return &c
}
