package workflow

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// StepPlan describes how the engine would execute one step, without
// executing anything.
type StepPlan struct {
	StepID           string         `json:"step_id"`
	StepName         string         `json:"step_name"`
	StepOrder        int            `json:"step_order"`
	StepType         string         `json:"step_type"`
	Mode             DeploymentMode `json:"deployment_mode"`
	ImpactLevel      ImpactLevel    `json:"impact_level"`
	RequiresApproval bool           `json:"requires_approval"`
	Monitored        bool           `json:"monitored"`
	MaxAttempts      int            `json:"max_attempts"`
	ActivityTimeout  time.Duration  `json:"activity_timeout"`
	ApprovalTimeout  time.Duration  `json:"approval_timeout,omitempty"`
	HaltsOnFailure   bool           `json:"halts_on_failure"`
}

// Describe returns a one-line description of the step's plan.
func (p StepPlan) Describe() string {
	var parts []string
	if p.RequiresApproval {
		parts = append(parts, fmt.Sprintf("wait up to %s for approval, then", p.ApprovalTimeout))
	}
	parts = append(parts, fmt.Sprintf("run %q (up to %d attempt(s), %s each)", p.StepType, p.MaxAttempts, p.ActivityTimeout))
	if p.Monitored {
		parts = append(parts, "and log metrics")
	}
	if p.HaltsOnFailure {
		parts[len(parts)-1] += "; failure halts the workflow"
	}
	return strings.Join(parts, " ")
}

// Plan fetches the steps of workflowID and describes how each would run.
// The ValidationResult is always returned when the steps could be fetched;
// plans are produced even for invalid lists so problems can be shown in
// context.
func (e *Engine) Plan(ctx context.Context, workflowID string) ([]StepPlan, *ValidationResult, error) {
	steps, err := e.provider.GetOrderedSteps(ctx, workflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching steps for workflow %q: %w", workflowID, err)
	}
	return e.BuildPlan(steps), ValidateSteps(steps, e.registry), nil
}

// BuildPlan describes every step using the engine's default timeouts.
func (e *Engine) BuildPlan(steps []StepConfig) []StepPlan {
	plans := make([]StepPlan, 0, len(steps))
	for _, step := range steps {
		decision, err := DecideExecution(step.DeploymentMode)
		p := StepPlan{
			StepID:           step.StepID,
			StepName:         step.StepName,
			StepOrder:        step.StepOrder,
			StepType:         step.StepType,
			Mode:             step.DeploymentMode,
			ImpactLevel:      step.ImpactLevel,
			RequiresApproval: err == nil && decision.RequiresApproval,
			Monitored:        err == nil && decision.Monitored,
			MaxAttempts:      MaxAttempts(step.ImpactLevel),
			ActivityTimeout:  step.ActivityTimeout(e.stepTimeout),
			HaltsOnFailure:   HaltsRun(step.ImpactLevel),
		}
		if p.RequiresApproval {
			p.ApprovalTimeout = step.ApprovalTimeout(e.approvalTimeout)
		}
		plans = append(plans, p)
	}
	return plans
}

// DryRunFormatter formats plans for terminal output. When styled is true,
// lipgloss ANSI styling is applied; when false, plain text is emitted.
type DryRunFormatter struct {
	writer io.Writer
	styled bool
}

// NewDryRunFormatter creates a new DryRunFormatter writing to w.
func NewDryRunFormatter(w io.Writer, styled bool) *DryRunFormatter {
	return &DryRunFormatter{writer: w, styled: styled}
}

// Write writes the formatted string s to f.writer.
func (f *DryRunFormatter) Write(s string) {
	fmt.Fprint(f.writer, s)
}

// FormatPlan renders the plan of a workflow, followed by any validation
// issues. The method returns a formatted string; it does not write to
// f.writer.
func (f *DryRunFormatter) FormatPlan(workflowID string, plans []StepPlan, validation *ValidationResult) string {
	headerStyle := lipgloss.NewStyle()
	stepStyle := lipgloss.NewStyle()
	gateStyle := lipgloss.NewStyle()
	detailStyle := lipgloss.NewStyle()
	errorStyle := lipgloss.NewStyle()

	if f.styled {
		headerStyle = headerStyle.Bold(true).Foreground(lipgloss.Color("12")) // bright blue
		stepStyle = stepStyle.Bold(true)
		gateStyle = gateStyle.Foreground(lipgloss.Color("11")) // yellow
		detailStyle = detailStyle.Faint(true)
		errorStyle = errorStyle.Foreground(lipgloss.Color("9")) // red
	}

	var sb strings.Builder

	header := fmt.Sprintf("Workflow: %s", workflowID)
	sb.WriteString(headerStyle.Render(header))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", len(header)))
	sb.WriteString("\n\n")

	if len(plans) == 0 {
		sb.WriteString("No steps defined.\n")
	}

	for _, p := range plans {
		name := p.StepName
		if name == "" {
			name = p.StepID
		}
		line := fmt.Sprintf("%d. %s [%s, %s]", p.StepOrder, name, p.Mode, p.ImpactLevel)
		sb.WriteString("  ")
		if p.RequiresApproval {
			sb.WriteString(gateStyle.Render(line + " (approval)"))
		} else {
			sb.WriteString(stepStyle.Render(line))
		}
		sb.WriteString("\n")
		sb.WriteString("     ")
		sb.WriteString(detailStyle.Render(p.Describe()))
		sb.WriteString("\n")
	}

	if validation != nil && (len(validation.Errors) > 0 || len(validation.Warnings) > 0) {
		sb.WriteString("\n")
		if len(validation.Errors) > 0 {
			sb.WriteString(errorStyle.Render(fmt.Sprintf("%d validation error(s): the workflow will fail before its first step", len(validation.Errors))))
			sb.WriteString("\n")
		}
		sb.WriteString(validation.String())
	}

	return sb.String()
}
