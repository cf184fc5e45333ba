package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/netbyu/ump-sub000/internal/config"
	"github.com/netbyu/ump-sub000/internal/logging"
)

// configCmd groups the debug and validate subcommands.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  "Inspect, validate, and debug stepflow configuration.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var configDebugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Show resolved configuration with source annotations",
	Long: `Display every configuration value together with where it came from:
cli flag, environment variable (STEPFLOW_<SECTION>_<KEY>), config file, or default.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resolved, _, err := loadAndResolveConfig()
		if err != nil {
			return err
		}
		printResolvedConfig(cmd.OutOrStdout(), resolved)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and report issues",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resolved, meta, err := loadAndResolveConfig()
		if err != nil {
			return err
		}
		result := config.Validate(resolved.Config, meta)
		printValidationResult(cmd.OutOrStdout(), result)
		if result.HasErrors() {
			return fmt.Errorf("configuration has %d error(s)", len(result.Errors()))
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configDebugCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

// cliOverrides collects the global flags that take part in config
// resolution. Unset flags stay nil so lower layers keep their values.
func cliOverrides() *config.CLIOverrides {
	o := &config.CLIOverrides{}
	if flagWorkflowsDir != "" {
		o.WorkflowsDir = &flagWorkflowsDir
	}
	if flagLogLevel != "" {
		o.LogLevel = &flagLogLevel
	}
	return o
}

// loadAndResolveConfig resolves stepflow.toml (from --config or found by
// walking up from the working directory), STEPFLOW_* variables and flags,
// then applies the [log] section to the global logger.
func loadAndResolveConfig() (*config.ResolvedConfig, *toml.MetaData, error) {
	return loadWithOverrides(cliOverrides())
}

func loadWithOverrides(overrides *config.CLIOverrides) (*config.ResolvedConfig, *toml.MetaData, error) {
	resolved, meta, err := config.Load(flagConfig, ".", os.LookupEnv, overrides)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	if err := logging.Configure(logging.Options{
		Level:   resolved.Config.Log.Level,
		Format:  resolved.Config.Log.Format,
		Verbose: flagVerbose,
		Quiet:   flagQuiet,
	}); err != nil {
		// Validate reports the bad value; logging keeps the flag-based setup.
		logging.New("config").Warn("ignoring [log] settings", "error", err)
	}
	return resolved, meta, nil
}

// ---- Lipgloss styles --------------------------------------------------------

// sourceStyle colours a source label. --no-color switches lipgloss to the
// Ascii profile, which strips these.
func sourceStyle(src config.ConfigSource) lipgloss.Style {
	switch src {
	case config.SourceFile:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	case config.SourceEnv:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	case config.SourceCLI:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	}
}

var (
	styleHeader   = lipgloss.NewStyle().Bold(true)
	styleSection  = lipgloss.NewStyle().Bold(true)
	styleErrorLbl = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	styleWarnLbl  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	styleSuccess  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// ---- printResolvedConfig ----------------------------------------------------

const fieldWidth = 34

// printResolvedConfig writes one "key = value (source: ...)" line per
// setting, grouped under its TOML section header.
func printResolvedConfig(out io.Writer, rc *config.ResolvedConfig) {
	printHeader(out, "Configuration Debug")

	if rc.Path != "" {
		fmt.Fprintf(out, "Config file: %s\n", rc.Path)
	} else {
		fmt.Fprintln(out, "Config file: none found")
	}

	section := ""
	for _, path := range config.Paths() {
		sec, key, _ := strings.Cut(path, ".")
		if sec != section {
			fmt.Fprintln(out)
			fmt.Fprintln(out, styleSection.Render("["+sec+"]"))
			section = sec
		}
		value, _ := rc.Value(path)
		if path == "redis.password" && value != "" {
			value = "********"
		}
		printField(out, key, fmt.Sprintf("%q", value), rc.Sources[path])
	}
}

func printHeader(out io.Writer, title string) {
	fmt.Fprintln(out, styleHeader.Render(title))
	fmt.Fprintln(out, strings.Repeat("=", len(title)))
	fmt.Fprintln(out)
}

func printField(out io.Writer, name, value string, src config.ConfigSource) {
	padded := fmt.Sprintf("  %-*s", fieldWidth, name)
	srcLabel := sourceStyle(src).Render(fmt.Sprintf("(source: %s)", src))
	fmt.Fprintf(out, "%s = %-24s %s\n", padded, value, srcLabel)
}

// ---- printValidationResult --------------------------------------------------

func printValidationResult(out io.Writer, result *config.ValidationResult) {
	printHeader(out, "Configuration Validation")

	errs := result.Errors()
	warns := result.Warnings()

	if len(errs) == 0 && len(warns) == 0 {
		fmt.Fprintln(out, styleSuccess.Render("No issues found."))
		return
	}

	if len(errs) > 0 {
		fmt.Fprintln(out, styleErrorLbl.Render("Errors:"))
		for _, issue := range errs {
			fmt.Fprintf(out, "  [%s] %s\n", issue.Field, issue.Message)
		}
		fmt.Fprintln(out)
	}
	if len(warns) > 0 {
		fmt.Fprintln(out, styleWarnLbl.Render("Warnings:"))
		for _, issue := range warns {
			fmt.Fprintf(out, "  [%s] %s\n", issue.Field, issue.Message)
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintf(out, "%d error(s), %d warning(s)\n", len(errs), len(warns))
}
