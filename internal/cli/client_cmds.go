package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/netbyu/ump-sub000/internal/server"
	"github.com/netbyu/ump-sub000/internal/tui"
	"github.com/netbyu/ump-sub000/internal/workflow"
)

// apiClient returns a client for --server, or for http://<server.addr> from
// the resolved configuration.
func apiClient() (*server.Client, error) {
	base := flagServer
	if base == "" {
		resolved, _, err := loadAndResolveConfig()
		if err != nil {
			return nil, err
		}
		base = resolved.Config.Server.Addr
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return server.NewClient(base, nil), nil
}

// ---- signal -----------------------------------------------------------------

type signalFlags struct {
	Approve bool
	Reject  bool
	User    string
	Notes   string
	Edited  string
}

func newSignalCmd() *cobra.Command {
	var flags signalFlags

	cmd := &cobra.Command{
		Use:   "signal <run-id> <step-id>",
		Short: "Approve or reject a step waiting at the approval gate",
		Long: `Send an approval signal to a run hosted by "stepflow serve" or
"stepflow run --listen". Only the first signal per step counts; later ones,
and signals for a step that already finished, are refused.

--edited replaces the step's input with the given JSON object when the step
is approved.`,
		Example: `  stepflow signal 3f2a... deploy --approve --notes "checked dashboards"
  stepflow signal 3f2a... drop-table --reject --notes "wrong database"
  stepflow signal 3f2a... deploy --approve --edited '{"replicas":2}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sig, err := buildSignal(args[1], flags)
			if err != nil {
				return err
			}
			client, err := apiClient()
			if err != nil {
				return err
			}
			if err := client.Signal(cmd.Context(), args[0], sig); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: step %s of run %s\n", sig.Action, sig.StepID, args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&flags.Approve, "approve", false, "Approve the step")
	cmd.Flags().BoolVar(&flags.Reject, "reject", false, "Reject the step")
	cmd.Flags().StringVar(&flags.User, "user", "", "User ID recorded on the decision (default: current user)")
	cmd.Flags().StringVar(&flags.Notes, "notes", "", "Approval notes or rejection reason")
	cmd.Flags().StringVar(&flags.Edited, "edited", "", "Replacement step input as a JSON object (approve only)")
	cmd.MarkFlagsMutuallyExclusive("approve", "reject")
	cmd.MarkFlagsOneRequired("approve", "reject")
	return cmd
}

func buildSignal(stepID string, flags signalFlags) (workflow.ApprovalSignal, error) {
	sig := workflow.ApprovalSignal{
		StepID: stepID,
		UserID: flags.User,
		Action: workflow.ActionApproved,
		Notes:  flags.Notes,
	}
	if sig.UserID == "" {
		sig.UserID = currentUser()
	}
	if flags.Reject {
		sig.Action = workflow.ActionRejected
	}
	if flags.Edited != "" {
		if flags.Reject {
			return sig, fmt.Errorf("--edited only applies to --approve")
		}
		if err := json.Unmarshal([]byte(flags.Edited), &sig.EditedData); err != nil {
			return sig, fmt.Errorf("--edited must be a JSON object: %w", err)
		}
	}
	return sig, sig.Validate()
}

// ---- status -----------------------------------------------------------------

type statusFlags struct {
	JSON   bool
	Status string
}

func newStatusCmd() *cobra.Command {
	var flags statusFlags

	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show a run snapshot, or list runs",
		Example: `  stepflow status
  stepflow status --status running
  stepflow status 3f2a... --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := apiClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				runs, err := client.ListRuns(cmd.Context(), flags.Status)
				if err != nil {
					return err
				}
				if flags.JSON {
					return writeJSON(out, runs)
				}
				printRunList(out, runs)
				return nil
			}

			snap, err := client.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if flags.JSON {
				return writeJSON(out, snap)
			}
			printSnapshot(out, snap)
			return nil
		},
	}

	cmd.Flags().BoolVar(&flags.JSON, "json", false, "Output JSON")
	cmd.Flags().StringVar(&flags.Status, "status", "", "Only list runs with this status")
	return cmd
}

// ---- cancel -----------------------------------------------------------------

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a live run, or forget a finished one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := apiClient()
			if err != nil {
				return err
			}
			if err := client.CancelRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancel requested for run %s\n", args[0])
			return nil
		},
	}
}

// ---- watch ------------------------------------------------------------------

func newWatchCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Follow a run live until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := apiClient()
			if err != nil {
				return err
			}
			return runWatch(cmd.Context(), client, args[0], interval, !flagNoColor)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Polling interval")
	return cmd
}

// runWatch shows the live view and reports the final status. A run that
// ends failed or cancelled makes the command fail.
func runWatch(ctx context.Context, client *server.Client, runID string, interval time.Duration, styled bool) error {
	theme := tui.PlainTheme()
	if styled {
		theme = tui.DefaultTheme()
	}
	snap, err := tui.Watch(ctx, client, runID, tui.WatchOptions{Interval: interval, Theme: theme})
	if err != nil {
		return err
	}
	if !snap.Status.Terminal() {
		return nil
	}
	if snap.Status != workflow.RunCompleted {
		return fmt.Errorf("run %s %s", runID, snap.Status)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(newSignalCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newCancelCmd())
	rootCmd.AddCommand(newWatchCmd())
}
