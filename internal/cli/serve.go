package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/netbyu/ump-sub000/internal/config"
	"github.com/netbyu/ump-sub000/internal/logging"
	"github.com/netbyu/ump-sub000/internal/server"
	"github.com/netbyu/ump-sub000/internal/workflow"
)

// serveFlags holds the flag values for the serve command.
type serveFlags struct {
	Addr      string
	StateDir  string
	StateKind string
}

func newServeCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the workflow engine behind the HTTP API",
		Long: `Start the run manager and serve the HTTP API:

  POST   /api/v1/runs                  start a run
  GET    /api/v1/runs                  list runs (?status=running)
  GET    /api/v1/runs/{id}             run snapshot (ETag aware)
  DELETE /api/v1/runs/{id}             cancel a live run, forget a finished one
  POST   /api/v1/runs/{id}/signals     approve or reject a gated step
  GET    /api/v1/workflows             list workflow IDs
  GET    /api/v1/workflows/{id}/plan   dry-run plan and validation
  GET    /health, GET /metrics

SIGINT or SIGTERM cancels live runs and shuts the server down gracefully.`,
		Example: `  stepflow serve
  stepflow serve --addr :8080 --state redis`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := cliOverrides()
			if cmd.Flags().Changed("addr") {
				overrides.ServerAddr = &flags.Addr
			}
			if cmd.Flags().Changed("state-dir") {
				overrides.StateDir = &flags.StateDir
			}
			if cmd.Flags().Changed("state") {
				overrides.StateKind = &flags.StateKind
			}
			resolved, meta, err := loadWithOverrides(overrides)
			if err != nil {
				return err
			}
			if err := failOnConfigErrors(resolved.Config, meta); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", resolved.Config.Server.Addr)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", resolved.Config.Server.Addr, err)
			}
			return serveOn(ctx, resolved.Config, ln)
		},
	}

	cmd.Flags().StringVar(&flags.Addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().StringVar(&flags.StateDir, "state-dir", "", "Checkpoint directory (overrides state.dir)")
	cmd.Flags().StringVar(&flags.StateKind, "state", "", "Checkpoint store: file, redis or none (overrides state.kind)")
	return cmd
}

func init() {
	rootCmd.AddCommand(newServeCmd())
}

// serveOn runs the manager and API on ln until ctx is done. The server,
// the metrics event consumer and the manager shutdown run in one errgroup so
// a listener failure also stops the runs.
func serveOn(ctx context.Context, cfg *config.Config, ln net.Listener) error {
	logger := logging.New("serve")

	deps, err := buildRuntimeDeps(ctx, cfg)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() { _ = deps.Close() }()

	engine, err := deps.newEngine()
	if err != nil {
		_ = ln.Close()
		return err
	}

	shutdownTimeout, err := config.ParseDuration("server.shutdown_timeout", cfg.Server.ShutdownTimeout, server.DefaultShutdownTimeout)
	if err != nil {
		_ = ln.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	manager := workflow.NewManager(gctx, engine)
	srv := server.New(manager,
		server.WithLogger(logging.New("server")),
		server.WithMetrics(deps.recorder),
		server.WithWorkflowLister(deps.lister),
		server.WithShutdownTimeout(shutdownTimeout),
	)

	logger.Info("starting",
		"addr", ln.Addr().String(),
		"provider", cfg.Provider.Kind,
		"state", cfg.State.Kind,
		"notify", cfg.Notify.Kind,
		"activities", len(deps.registry.List()),
	)

	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})
	g.Go(func() error {
		deps.recorder.ConsumeEvents(gctx, deps.events)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout+5*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("runs still active at shutdown", "error", err)
		}
		return nil
	})

	return g.Wait()
}

// failOnConfigErrors validates cfg and returns an error listing the
// error-severity issues. Warnings are logged.
func failOnConfigErrors(cfg *config.Config, meta *toml.MetaData) error {
	result := config.Validate(cfg, meta)
	logger := logging.New("config")
	for _, w := range result.Warnings() {
		logger.Warn(w.Message, "field", w.Field)
	}
	if !result.HasErrors() {
		return nil
	}
	for _, e := range result.Errors() {
		logger.Error(e.Message, "field", e.Field)
	}
	return fmt.Errorf("configuration has %d error(s); run \"stepflow config validate\" for details", len(result.Errors()))
}
