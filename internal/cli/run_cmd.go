package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/netbyu/ump-sub000/internal/config"
	"github.com/netbyu/ump-sub000/internal/logging"
	"github.com/netbyu/ump-sub000/internal/server"
	"github.com/netbyu/ump-sub000/internal/workflow"
)

// runFlags holds the flag values for the run command.
type runFlags struct {
	Input      string
	InputFile  string
	RunID      string
	Approve    []string
	ApproveAll bool
	User       string
	JSON       bool
	Listen     string
	DryRun     bool
}

func newRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run <workflow-id>",
		Short: "Execute one workflow in the foreground",
		Long: `Execute a workflow in this process and print its outcome.

Gated steps (validation_required, always_manual, or any step whose mode
requires it) wait for an approval signal. Pre-approve them with --approve or
--approve-all, or pass --listen to expose the HTTP API while the run is in
progress so "stepflow signal" can reach it.

The command exits non-zero when the run fails or is cancelled.`,
		Example: `  stepflow run release --input '{"version":"1.4.0"}'
  stepflow run release --approve deploy --user alice
  stepflow run release --listen 127.0.0.1:7070
  stepflow run release --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, meta, err := loadAndResolveConfig()
			if err != nil {
				return err
			}
			if err := failOnConfigErrors(resolved.Config, meta); err != nil {
				return err
			}
			input, err := parseInput(flags.Input, flags.InputFile, cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			outcome, err := runWorkflow(ctx, resolved.Config, args[0], input, flags, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if outcome == nil {
				return nil
			}
			if flags.JSON {
				if err := writeJSON(cmd.OutOrStdout(), outcome); err != nil {
					return err
				}
			} else {
				printOutcome(cmd.OutOrStdout(), outcome)
			}
			if outcome.Status != workflow.RunCompleted {
				return fmt.Errorf("run %s %s", outcome.RunID, outcome.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.Input, "input", "", "Workflow input as a JSON object")
	cmd.Flags().StringVar(&flags.InputFile, "input-file", "", "Read workflow input from a JSON file (- for stdin)")
	cmd.Flags().StringVar(&flags.RunID, "run-id", "", "Run ID to use (default: random UUID)")
	cmd.Flags().StringSliceVar(&flags.Approve, "approve", nil, "Pre-approve these step IDs")
	cmd.Flags().BoolVar(&flags.ApproveAll, "approve-all", false, "Pre-approve every gated step")
	cmd.Flags().StringVar(&flags.User, "user", "", "User recorded on pre-approvals (default: current user)")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "Print the outcome as JSON")
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "Serve the HTTP API on this address while the run executes")
	cmd.Flags().BoolVar(&flags.DryRun, "dry-run", false, "Print the execution plan and exit")
	return cmd
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}

// runWorkflow executes workflowID to completion. A nil outcome with a nil
// error means a dry run was printed instead.
func runWorkflow(ctx context.Context, cfg *config.Config, workflowID string, input map[string]any, flags runFlags, out io.Writer) (*workflow.Outcome, error) {
	deps, err := buildRuntimeDeps(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = deps.Close() }()

	engine, err := deps.newEngine()
	if err != nil {
		return nil, err
	}

	plans, validation, err := engine.Plan(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if flags.DryRun {
		f := workflow.NewDryRunFormatter(out, !flagNoColor)
		f.Write(f.FormatPlan(workflowID, plans, validation))
		return nil, nil
	}

	approvals, err := preApprovals(plans, flags)
	if err != nil {
		return nil, err
	}

	runID := flags.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	eventsCtx, stopEvents := context.WithCancel(ctx)
	defer stopEvents()
	go deps.recorder.ConsumeEvents(eventsCtx, deps.events)

	run := engine.NewRun(runID, workflowID, input)
	for _, sig := range approvals {
		if err := run.Signal(sig); err != nil {
			return nil, fmt.Errorf("pre-approving step %q: %w", sig.StepID, err)
		}
	}
	if flags.Listen == "" {
		return run.Execute(ctx), nil
	}
	return runWithAPI(ctx, deps, engine, run, flags.Listen)
}

// runWithAPI executes the prepared run under a Manager and serves the HTTP
// API until the run finishes.
func runWithAPI(ctx context.Context, deps *runtimeDeps, engine *workflow.Engine, run *workflow.Run, addr string) (*workflow.Outcome, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()

	manager := workflow.NewManager(ctx, engine)
	srv := server.New(manager,
		server.WithLogger(logging.New("server")),
		server.WithMetrics(deps.recorder),
		server.WithWorkflowLister(deps.lister),
	)

	var g errgroup.Group
	g.Go(func() error { return srv.Serve(serveCtx, ln) })

	outcome, runErr := func() (*workflow.Outcome, error) {
		if err := manager.Launch(run); err != nil {
			return nil, err
		}
		return manager.Wait(ctx, run.ID())
	}()

	stopServe()
	serveErr := g.Wait()
	_ = manager.Shutdown(context.Background())

	if runErr != nil {
		return nil, runErr
	}
	return outcome, serveErr
}

// preApprovals turns --approve and --approve-all into approval signals.
// Naming a step that does not exist is an error; naming an ungated step is
// harmless.
func preApprovals(plans []workflow.StepPlan, flags runFlags) ([]workflow.ApprovalSignal, error) {
	known := make(map[string]bool, len(plans))
	for _, p := range plans {
		known[p.StepID] = true
	}

	want := make(map[string]bool)
	var ordered []string
	add := func(id string) {
		if !want[id] {
			want[id] = true
			ordered = append(ordered, id)
		}
	}
	if flags.ApproveAll {
		for _, p := range plans {
			if p.RequiresApproval {
				add(p.StepID)
			}
		}
	}
	var unknown []string
	for _, id := range flags.Approve {
		if !known[id] {
			unknown = append(unknown, id)
			continue
		}
		add(id)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("--approve: unknown step(s) %v", unknown)
	}

	userID := flags.User
	if userID == "" {
		userID = currentUser()
	}
	sigs := make([]workflow.ApprovalSignal, 0, len(ordered))
	for _, id := range ordered {
		sigs = append(sigs, workflow.ApprovalSignal{
			StepID: id,
			UserID: userID,
			Action: workflow.ActionApproved,
			Notes:  "pre-approved from the command line",
		})
	}
	return sigs, nil
}
