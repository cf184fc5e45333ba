package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/netbyu/ump-sub000/internal/logging"
)

// Global flag values accessible to all subcommands.
var (
	flagVerbose      bool
	flagQuiet        bool
	flagConfig       string
	flagDir          string
	flagNoColor      bool
	flagWorkflowsDir string
	flagLogLevel     string
	flagServer       string
)

// rootCmd is the base command for stepflow.
var rootCmd = &cobra.Command{
	Use:   "stepflow",
	Short: "Per-step workflow execution engine",
	Long: `stepflow runs workflows one step at a time. Each step carries a deployment
mode (always_auto, auto_monitored, validation_required, always_manual) and an
impact level that decide whether it waits for a human approval signal and how
many times it is retried.

Run "stepflow serve" to host the engine behind an HTTP API, or "stepflow run"
to execute a single workflow in the foreground.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("verbose") && os.Getenv("STEPFLOW_VERBOSE") != "" {
			flagVerbose = true
		}
		if !cmd.Flags().Changed("quiet") && os.Getenv("STEPFLOW_QUIET") != "" {
			flagQuiet = true
		}
		if !cmd.Flags().Changed("no-color") && (os.Getenv("NO_COLOR") != "" || os.Getenv("STEPFLOW_NO_COLOR") != "") {
			flagNoColor = true
		}

		// The [log] section is applied once a command loads the config;
		// until then only the flags and STEPFLOW_LOG_FORMAT count.
		if err := logging.Configure(logging.Options{
			Format:  strings.ToLower(os.Getenv("STEPFLOW_LOG_FORMAT")),
			Verbose: flagVerbose,
			Quiet:   flagQuiet,
		}); err != nil {
			return err
		}

		if flagNoColor {
			lipgloss.SetColorProfile(termenv.Ascii)
		}

		if flagDir != "" {
			if err := os.Chdir(flagDir); err != nil {
				return fmt.Errorf("changing directory to %s: %w", flagDir, err)
			}
		}
		return nil
	},
}

func init() {
	registerPersistentFlags(rootCmd)
}

// registerPersistentFlags binds the global flags to cmd. When cmd is not the
// global rootCmd the flags are bound to throwaway variables so generators can
// build their own tree.
func registerPersistentFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	if cmd == rootCmd {
		pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose (debug) output (env: STEPFLOW_VERBOSE)")
		pf.BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress all output except errors (env: STEPFLOW_QUIET)")
		pf.StringVar(&flagConfig, "config", "", "Path to stepflow.toml config file")
		pf.StringVar(&flagDir, "dir", "", "Override working directory")
		pf.BoolVar(&flagNoColor, "no-color", false, "Disable colored output (env: STEPFLOW_NO_COLOR, NO_COLOR)")
		pf.StringVar(&flagWorkflowsDir, "workflows-dir", "", "Directory the workflow glob is resolved against")
		pf.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
		pf.StringVar(&flagServer, "server", "", "Base URL of a running stepflow server (default: http://<server.addr>)")
		return
	}
	pf.BoolP("verbose", "v", false, "Enable verbose (debug) output (env: STEPFLOW_VERBOSE)")
	pf.BoolP("quiet", "q", false, "Suppress all output except errors (env: STEPFLOW_QUIET)")
	pf.String("config", "", "Path to stepflow.toml config file")
	pf.String("dir", "", "Override working directory")
	pf.Bool("no-color", false, "Disable colored output (env: STEPFLOW_NO_COLOR, NO_COLOR)")
	pf.String("workflows-dir", "", "Directory the workflow glob is resolved against")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("server", "", "Base URL of a running stepflow server (default: http://<server.addr>)")
}

// Execute runs the root command and returns the exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// NewRootCmd returns a fresh command tree carrying the same flags and
// subcommands as rootCmd, for the completion and man page generators.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               rootCmd.Use,
		Short:             rootCmd.Short,
		Long:              rootCmd.Long,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: rootCmd.PersistentPreRunE,
	}
	registerPersistentFlags(cmd)
	for _, child := range rootCmd.Commands() {
		cmd.AddCommand(child)
	}
	return cmd
}
