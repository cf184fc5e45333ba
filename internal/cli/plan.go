package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/netbyu/ump-sub000/internal/config"
	"github.com/netbyu/ump-sub000/internal/server"
	"github.com/netbyu/ump-sub000/internal/workflow"
)

func newPlanCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "plan <workflow-id>",
		Short: "Show how each step of a workflow would execute",
		Long: `Print the execution plan of a workflow without running anything: for each
step its deployment mode, whether it waits for approval, its attempt budget
and timeouts, and whether its failure halts the run. Validation problems are
listed after the plan.

With --server the plan is fetched from a running server instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := fetchPlan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, plan)
			}
			f := workflow.NewDryRunFormatter(out, !flagNoColor)
			f.Write(f.FormatPlan(plan.WorkflowID, plan.Steps, plan.Validation))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the plan as JSON")
	return cmd
}

func init() {
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newValidateCmd())
}

func fetchPlan(ctx context.Context, workflowID string) (server.PlanResponse, error) {
	if flagServer != "" {
		client, err := apiClient()
		if err != nil {
			return server.PlanResponse{}, err
		}
		return client.Plan(ctx, workflowID)
	}

	resolved, _, err := loadAndResolveConfig()
	if err != nil {
		return server.PlanResponse{}, err
	}
	deps, err := buildRuntimeDeps(ctx, resolved.Config)
	if err != nil {
		return server.PlanResponse{}, err
	}
	defer func() { _ = deps.Close() }()

	engine, err := deps.newEngine()
	if err != nil {
		return server.PlanResponse{}, err
	}
	steps, validation, err := engine.Plan(ctx, workflowID)
	if err != nil {
		return server.PlanResponse{}, err
	}
	return server.PlanResponse{WorkflowID: workflowID, Steps: steps, Validation: validation}, nil
}

// ---- validate ---------------------------------------------------------------

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [workflow-id...]",
		Short: "Validate the configuration and workflow definitions",
		Long: `Check stepflow.toml and then every workflow (or only the named ones)
against the registered activities. Exits non-zero when any error is found;
warnings are reported but do not fail.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, meta, err := loadAndResolveConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			cfgResult := config.Validate(resolved.Config, meta)
			printValidationResult(out, cfgResult)
			if cfgResult.HasErrors() {
				return fmt.Errorf("configuration has %d error(s)", len(cfgResult.Errors()))
			}
			fmt.Fprintln(out)

			failed, err := validateWorkflows(cmd.Context(), out, resolved.Config, args)
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d workflow(s) failed validation", failed)
			}
			return nil
		},
	}
}

// validateWorkflows prints the step validation of each workflow and returns
// how many had errors.
func validateWorkflows(ctx context.Context, out io.Writer, cfg *config.Config, ids []string) (int, error) {
	deps, err := buildRuntimeDeps(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer func() { _ = deps.Close() }()

	if len(ids) == 0 {
		ids, err = deps.lister.ListWorkflows(ctx)
		if err != nil {
			return 0, fmt.Errorf("listing workflows: %w", err)
		}
	}

	printHeader(out, "Workflow Validation")
	if len(ids) == 0 {
		fmt.Fprintln(out, "No workflows found.")
		return 0, nil
	}

	failed := 0
	for _, id := range ids {
		steps, err := deps.provider.GetOrderedSteps(ctx, id)
		if err != nil {
			fmt.Fprintf(out, "%s %s: %v\n", styleErrorLbl.Render("FAIL"), id, err)
			failed++
			continue
		}
		result := workflow.ValidateSteps(steps, deps.registry)
		switch {
		case !result.IsValid():
			failed++
			fmt.Fprintf(out, "%s %s (%d step(s))\n", styleErrorLbl.Render("FAIL"), id, len(steps))
		case len(result.Warnings) > 0:
			fmt.Fprintf(out, "%s %s (%d step(s))\n", styleWarnLbl.Render("WARN"), id, len(steps))
		default:
			fmt.Fprintf(out, "%s %s (%d step(s))\n", styleSuccess.Render("OK  "), id, len(steps))
		}
		if len(result.Errors) > 0 || len(result.Warnings) > 0 {
			fmt.Fprint(out, result.String())
		}
	}
	return failed, nil
}
