package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
)

// ValidationSeverity indicates whether a validation issue is an error or warning.
type ValidationSeverity string

const (
	// SeverityError indicates a fatal validation issue; the configuration is unusable.
	SeverityError ValidationSeverity = "error"
	// SeverityWarning indicates an informational validation issue; the configuration works
	// but may have problems.
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue represents a single validation finding.
type ValidationIssue struct {
	Severity ValidationSeverity
	Field    string // dotted path, e.g., "server.addr"
	Message  string
}

// ValidationResult holds all validation findings.
type ValidationResult struct {
	Issues []ValidationIssue
}

// HasErrors returns true if any issue has error severity.
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors()) > 0
}

// HasWarnings returns true if any issue has warning severity.
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings()) > 0
}

// Errors returns only error-severity issues.
func (vr *ValidationResult) Errors() []ValidationIssue {
	return vr.filter(SeverityError)
}

// Warnings returns only warning-severity issues.
func (vr *ValidationResult) Warnings() []ValidationIssue {
	return vr.filter(SeverityWarning)
}

func (vr *ValidationResult) filter(sev ValidationSeverity) []ValidationIssue {
	var out []ValidationIssue
	for _, issue := range vr.Issues {
		if issue.Severity == sev {
			out = append(out, issue)
		}
	}
	return out
}

var (
	providerKinds = map[string]bool{"file": true, "redis": true}
	notifyKinds   = map[string]bool{"log": true, "redis": true, "both": true, "none": true}
	stateKinds    = map[string]bool{"file": true, "redis": true, "none": true}
	logFormats    = map[string]bool{"text": true, "json": true}
)

// Validate checks the configuration for correctness and completeness. meta
// may be nil when no file was loaded; otherwise unknown keys are reported
// as warnings.
func Validate(cfg *Config, meta *toml.MetaData) *ValidationResult {
	vr := &ValidationResult{}

	if cfg == nil {
		addError(vr, "", "configuration is nil")
		return vr
	}

	validateEngine(vr, &cfg.Engine)
	validateServer(vr, &cfg.Server)
	validateProvider(vr, &cfg.Provider)
	validateNotifyAndState(vr, cfg)
	validateActivities(vr, &cfg.Activities)
	validateLog(vr, &cfg.Log)
	validateUnknownKeys(vr, meta)

	return vr
}

func validateEngine(vr *ValidationResult, e *EngineConfig) {
	if e.DefaultApprovalTimeoutMinutes <= 0 {
		addError(vr, "engine.default_approval_timeout_minutes", "must be positive")
	}
	if e.DefaultStepTimeoutSeconds <= 0 {
		addError(vr, "engine.default_step_timeout_seconds", "must be positive")
	}
	if e.RetryBackoffCoefficient < 1 {
		addError(vr, "engine.retry_backoff_coefficient",
			fmt.Sprintf("must be at least 1, got %g", e.RetryBackoffCoefficient))
	}
	checkDuration(vr, "engine.notify_timeout", e.NotifyTimeout)
	initial := checkDuration(vr, "engine.retry_initial_interval", e.RetryInitialInterval)
	maximum := checkDuration(vr, "engine.retry_max_interval", e.RetryMaxInterval)
	if initial > 0 && maximum > 0 && maximum < initial {
		addError(vr, "engine.retry_max_interval",
			fmt.Sprintf("%s is shorter than retry_initial_interval %s", maximum, initial))
	}
}

func validateServer(vr *ValidationResult, s *ServerConfig) {
	if s.Addr == "" {
		addError(vr, "server.addr", "must not be empty")
	}
	checkDuration(vr, "server.shutdown_timeout", s.ShutdownTimeout)
}

func validateProvider(vr *ValidationResult, p *ProviderConfig) {
	if !providerKinds[p.Kind] {
		addError(vr, "provider.kind", fmt.Sprintf("unrecognized kind %q; must be one of: file, redis", p.Kind))
	}
	checkDuration(vr, "provider.cache_ttl", p.CacheTTL)
	if p.Kind != "file" {
		return
	}
	if !doublestar.ValidatePattern(p.WorkflowsGlob) {
		addError(vr, "provider.workflows_glob", fmt.Sprintf("invalid glob %q", p.WorkflowsGlob))
	}
	if info, err := os.Stat(p.WorkflowsDir); err != nil || !info.IsDir() {
		addWarning(vr, "provider.workflows_dir", fmt.Sprintf("directory %q does not exist", p.WorkflowsDir))
	}
}

func validateNotifyAndState(vr *ValidationResult, cfg *Config) {
	if !notifyKinds[cfg.Notify.Kind] {
		addError(vr, "notify.kind", fmt.Sprintf("unrecognized kind %q; must be one of: log, redis, both, none", cfg.Notify.Kind))
	}
	if !stateKinds[cfg.State.Kind] {
		addError(vr, "state.kind", fmt.Sprintf("unrecognized kind %q; must be one of: file, redis, none", cfg.State.Kind))
	}
	if cfg.State.Kind == "file" && cfg.State.Dir == "" {
		addError(vr, "state.dir", "must not be empty when state.kind is file")
	}
	checkDuration(vr, "state.finished_ttl", cfg.State.FinishedTTL)
	if cfg.State.FinishedTTL != "" && cfg.State.Kind != "redis" {
		addWarning(vr, "state.finished_ttl", "only applies when state.kind is redis")
	}
	if cfg.UsesRedis() && cfg.Redis.Addr == "" {
		addError(vr, "redis.addr", "must not be empty when a component uses redis")
	}
	if cfg.Redis.DB < 0 {
		addError(vr, "redis.db", "must not be negative")
	}
}

func validateActivities(vr *ValidationResult, a *ActivitiesConfig) {
	if a.ScriptsGlob != "" && !doublestar.ValidatePattern(a.ScriptsGlob) {
		addError(vr, "activities.scripts_glob", fmt.Sprintf("invalid glob %q", a.ScriptsGlob))
	}
}

func validateLog(vr *ValidationResult, l *LogConfig) {
	if _, err := log.ParseLevel(l.Level); err != nil {
		addError(vr, "log.level", fmt.Sprintf("unrecognized level %q; must be one of: debug, info, warn, error, fatal", l.Level))
	}
	if !logFormats[l.Format] {
		addError(vr, "log.format", fmt.Sprintf("unrecognized format %q; must be one of: text, json", l.Format))
	}
}

// validateUnknownKeys checks for TOML keys that did not map to any config struct field.
func validateUnknownKeys(vr *ValidationResult, meta *toml.MetaData) {
	if meta == nil {
		return
	}
	for _, key := range meta.Undecoded() {
		addWarning(vr, strings.Join(key, "."), "unknown configuration key")
	}
}

// checkDuration records an error for an unparsable duration and returns the
// parsed value (0 when empty or invalid).
func checkDuration(vr *ValidationResult, field, value string) time.Duration {
	parsed, err := ParseDuration(field, value, 0)
	if err != nil {
		addError(vr, field, fmt.Sprintf("invalid duration %q", value))
		return 0
	}
	if parsed < 0 {
		addError(vr, field, "must not be negative")
		return 0
	}
	return parsed
}

// addError appends an error-severity issue to the validation result.
func addError(vr *ValidationResult, field, message string) {
	vr.Issues = append(vr.Issues, ValidationIssue{
		Severity: SeverityError,
		Field:    field,
		Message:  message,
	})
}

// addWarning appends a warning-severity issue to the validation result.
func addWarning(vr *ValidationResult, field, message string) {
	vr.Issues = append(vr.Issues, ValidationIssue{
		Severity: SeverityWarning,
		Field:    field,
		Message:  message,
	})
}
