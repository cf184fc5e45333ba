package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// ImpactAnalysis is the human-facing assessment attached to an approval
// request.
type ImpactAnalysis struct {
	Warnings                 []string `json:"warnings"`
	RequiredChecks           []string `json:"required_checks"`
	ConfirmationText         *string  `json:"confirmation_text,omitempty"`
	RequireTypedConfirmation bool     `json:"require_typed_confirmation"`
}

// ImpactAnalyzer produces a preview and an impact assessment for steps that
// need approval. Both methods must be free of side effects.
type ImpactAnalyzer interface {
	Preview(step StepConfig, input map[string]any, prior []StepResult) (map[string]any, error)
	Analyze(step StepConfig, preview map[string]any) (ImpactAnalysis, error)
}

// DefaultImpactAnalyzer derives previews and warnings from the step
// configuration, its input and the results of earlier steps.
type DefaultImpactAnalyzer struct{}

var _ ImpactAnalyzer = DefaultImpactAnalyzer{}

// Preview keys.
const (
	previewStep          = "step"
	previewInput         = "input"
	previewInputKeys     = "input_keys"
	previewPriorSteps    = "prior_steps"
	previewPriorFailures = "prior_failures"
	previewLastOutput    = "last_output"
)

// Preview summarises what the step is about to do.
func (DefaultImpactAnalyzer) Preview(step StepConfig, input map[string]any, prior []StepResult) (map[string]any, error) {
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	failures := []string{}
	var lastOutput map[string]any
	for _, r := range prior {
		if !r.Success {
			failures = append(failures, r.StepName)
			continue
		}
		lastOutput = r.OutputData
	}

	preview := map[string]any{
		previewStep: map[string]any{
			"step_id":      step.StepID,
			"step_name":    step.StepName,
			"step_order":   step.StepOrder,
			"step_type":    step.StepType,
			"impact_level": string(step.ImpactLevel),
			"risk_level":   step.RiskLevel,
		},
		previewInput:         cloneMap(input),
		previewInputKeys:     keys,
		previewPriorSteps:    len(prior),
		previewPriorFailures: failures,
	}
	if lastOutput != nil {
		preview[previewLastOutput] = cloneMap(lastOutput)
	}
	return preview, nil
}

// Analyze turns the impact level, risk level and preview into warnings and
// required confirmations.
func (DefaultImpactAnalyzer) Analyze(step StepConfig, preview map[string]any) (ImpactAnalysis, error) {
	analysis := ImpactAnalysis{
		Warnings:       []string{},
		RequiredChecks: []string{},
	}

	switch step.ImpactLevel {
	case ImpactCritical:
		analysis.Warnings = append(analysis.Warnings,
			fmt.Sprintf("%s has critical impact: a failure or rejection halts the workflow", displayName(step)))
		analysis.RequiredChecks = append(analysis.RequiredChecks,
			"confirm a rollback plan exists",
			"confirm the target scope is correct")
		text := "CONFIRM " + strings.ToUpper(displayName(step))
		analysis.ConfirmationText = &text
		analysis.RequireTypedConfirmation = true
	case ImpactWrite:
		analysis.Warnings = append(analysis.Warnings,
			fmt.Sprintf("%s modifies data", displayName(step)))
		analysis.RequiredChecks = append(analysis.RequiredChecks, "review the data to be written")
	case ImpactExternal:
		analysis.Warnings = append(analysis.Warnings,
			fmt.Sprintf("%s calls an external system", displayName(step)))
		analysis.RequiredChecks = append(analysis.RequiredChecks, "verify the external endpoint and credentials")
	case ImpactRead, ImpactAccessory:
	default:
		analysis.Warnings = append(analysis.Warnings,
			fmt.Sprintf("%s has unclassified impact level %q", displayName(step), step.ImpactLevel))
	}

	switch strings.ToLower(step.RiskLevel) {
	case "high", "critical":
		analysis.Warnings = append(analysis.Warnings, fmt.Sprintf("risk level is %s", step.RiskLevel))
		if analysis.ConfirmationText == nil {
			text := "CONFIRM " + strings.ToUpper(displayName(step))
			analysis.ConfirmationText = &text
		}
	}

	if failures, ok := preview[previewPriorFailures].([]string); ok && len(failures) > 0 {
		analysis.Warnings = append(analysis.Warnings,
			fmt.Sprintf("%d earlier step(s) failed: %s", len(failures), strings.Join(failures, ", ")))
	}

	if keys, ok := preview[previewInputKeys].([]string); ok && len(keys) == 0 {
		analysis.Warnings = append(analysis.Warnings, "step input is empty")
	}

	return analysis, nil
}

// displayName prefers the step name and falls back to its ID.
func displayName(step StepConfig) string {
	if step.StepName != "" {
		return step.StepName
	}
	return step.StepID
}
