package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ConfigSource identifies where a configuration value came from.
type ConfigSource string

const (
	// SourceDefault indicates the value came from built-in defaults.
	SourceDefault ConfigSource = "default"
	// SourceFile indicates the value came from the stepflow.toml config file.
	SourceFile ConfigSource = "file"
	// SourceEnv indicates the value came from an environment variable.
	SourceEnv ConfigSource = "env"
	// SourceCLI indicates the value came from a CLI flag.
	SourceCLI ConfigSource = "cli"
)

// EnvPrefix prefixes every environment variable stepflow reads.
const EnvPrefix = "STEPFLOW_"

// ResolvedConfig holds the fully-resolved configuration with source tracking.
type ResolvedConfig struct {
	Config  *Config
	Sources map[string]ConfigSource // key is dotted path, e.g. "server.addr"
	Path    string                  // config file used (empty if none)
}

// CLIOverrides captures flag values that can override configuration. A nil
// pointer means "not set".
type CLIOverrides struct {
	ServerAddr   *string
	WorkflowsDir *string
	StateDir     *string
	StateKind    *string
	LogLevel     *string
}

// EnvFunc looks up environment variables. os.LookupEnv in production.
type EnvFunc func(key string) (string, bool)

// field binds a dotted config path to the struct field holding it. ptr is
// a *string, *int or *float64.
type field struct {
	path string
	ptr  any
}

// fieldsOf lists every scalar setting of c in display order. The order is
// also the order of `stepflow config debug` output.
func fieldsOf(c *Config) []field {
	return []field{
		{"engine.default_approval_timeout_minutes", &c.Engine.DefaultApprovalTimeoutMinutes},
		{"engine.default_step_timeout_seconds", &c.Engine.DefaultStepTimeoutSeconds},
		{"engine.notify_timeout", &c.Engine.NotifyTimeout},
		{"engine.retry_initial_interval", &c.Engine.RetryInitialInterval},
		{"engine.retry_backoff_coefficient", &c.Engine.RetryBackoffCoefficient},
		{"engine.retry_max_interval", &c.Engine.RetryMaxInterval},
		{"server.addr", &c.Server.Addr},
		{"server.shutdown_timeout", &c.Server.ShutdownTimeout},
		{"provider.kind", &c.Provider.Kind},
		{"provider.workflows_dir", &c.Provider.WorkflowsDir},
		{"provider.workflows_glob", &c.Provider.WorkflowsGlob},
		{"provider.cache_ttl", &c.Provider.CacheTTL},
		{"redis.addr", &c.Redis.Addr},
		{"redis.password", &c.Redis.Password},
		{"redis.db", &c.Redis.DB},
		{"redis.key_prefix", &c.Redis.KeyPrefix},
		{"notify.kind", &c.Notify.Kind},
		{"notify.channel", &c.Notify.Channel},
		{"state.kind", &c.State.Kind},
		{"state.dir", &c.State.Dir},
		{"state.finished_ttl", &c.State.FinishedTTL},
		{"activities.scripts_dir", &c.Activities.ScriptsDir},
		{"activities.scripts_glob", &c.Activities.ScriptsGlob},
		{"log.level", &c.Log.Level},
		{"log.format", &c.Log.Format},
	}
}

// Paths returns every dotted config path in display order.
func Paths() []string {
	fields := fieldsOf(&Config{})
	paths := make([]string, len(fields))
	for i, f := range fields {
		paths[i] = f.path
	}
	return paths
}

// EnvVar returns the environment variable for a dotted path:
// "server.addr" -> "STEPFLOW_SERVER_ADDR".
func EnvVar(path string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(path, ".", "_"))
}

// Resolve merges configuration from all sources in priority order:
// CLI flags > environment variables > config file > defaults.
//
// A zero value in the file layer means "not set in file" and does not
// override the default. An environment value that does not parse for its
// field is an error.
func Resolve(defaults *Config, fileConfig *Config, envFn EnvFunc, overrides *CLIOverrides) (*ResolvedConfig, error) {
	if defaults == nil {
		defaults = &Config{}
	}
	if envFn == nil {
		envFn = func(string) (string, bool) { return "", false }
	}
	if overrides == nil {
		overrides = &CLIOverrides{}
	}

	merged := *defaults
	rc := &ResolvedConfig{
		Config:  &merged,
		Sources: make(map[string]ConfigSource),
	}
	dst := fieldsOf(rc.Config)

	// Layer 1: defaults.
	for _, f := range dst {
		rc.Sources[f.path] = SourceDefault
	}

	// Layer 2: file.
	if fileConfig != nil {
		src := fieldsOf(fileConfig)
		for i, f := range dst {
			if mergeValue(f.ptr, src[i].ptr) {
				rc.Sources[f.path] = SourceFile
			}
		}
	}

	// Layer 3: environment.
	for _, f := range dst {
		val, ok := envFn(EnvVar(f.path))
		if !ok {
			continue
		}
		if err := setFromString(f.ptr, val); err != nil {
			return nil, fmt.Errorf("%s: %w", EnvVar(f.path), err)
		}
		rc.Sources[f.path] = SourceEnv
	}

	// Layer 4: CLI overrides.
	applyOverride(rc, "server.addr", &rc.Config.Server.Addr, overrides.ServerAddr)
	applyOverride(rc, "provider.workflows_dir", &rc.Config.Provider.WorkflowsDir, overrides.WorkflowsDir)
	applyOverride(rc, "state.dir", &rc.Config.State.Dir, overrides.StateDir)
	applyOverride(rc, "state.kind", &rc.Config.State.Kind, overrides.StateKind)
	applyOverride(rc, "log.level", &rc.Config.Log.Level, overrides.LogLevel)

	return rc, nil
}

// Value returns the resolved value at path formatted for display.
func (rc *ResolvedConfig) Value(path string) (string, bool) {
	for _, f := range fieldsOf(rc.Config) {
		if f.path != path {
			continue
		}
		switch p := f.ptr.(type) {
		case *string:
			return *p, true
		case *int:
			return strconv.Itoa(*p), true
		case *float64:
			return strconv.FormatFloat(*p, 'g', -1, 64), true
		}
	}
	return "", false
}

// --- Helpers ---

// mergeValue copies src into dst when src is non-zero and reports whether
// it did.
func mergeValue(dst, src any) bool {
	switch d := dst.(type) {
	case *string:
		if s := *src.(*string); s != "" {
			*d = s
			return true
		}
	case *int:
		if s := *src.(*int); s != 0 {
			*d = s
			return true
		}
	case *float64:
		if s := *src.(*float64); s != 0 {
			*d = s
			return true
		}
	}
	return false
}

func setFromString(dst any, val string) error {
	switch d := dst.(type) {
	case *string:
		*d = val
	case *int:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return fmt.Errorf("expected an integer, got %q", val)
		}
		*d = n
	case *float64:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return fmt.Errorf("expected a number, got %q", val)
		}
		*d = f
	}
	return nil
}

func applyOverride(rc *ResolvedConfig, path string, target *string, value *string) {
	if value == nil {
		return
	}
	*target = *value
	rc.Sources[path] = SourceCLI
}
