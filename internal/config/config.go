package config

import (
	"fmt"
	"time"
)

// Config is the top-level configuration structure mapping to stepflow.toml.
type Config struct {
	Engine     EngineConfig     `toml:"engine"`
	Server     ServerConfig     `toml:"server"`
	Provider   ProviderConfig   `toml:"provider"`
	Redis      RedisConfig      `toml:"redis"`
	Notify     NotifyConfig     `toml:"notify"`
	State      StateConfig      `toml:"state"`
	Activities ActivitiesConfig `toml:"activities"`
	Log        LogConfig        `toml:"log"`
}

// EngineConfig maps to the [engine] section. Durations are Go duration
// strings ("1s", "100s").
type EngineConfig struct {
	DefaultApprovalTimeoutMinutes float64 `toml:"default_approval_timeout_minutes"`
	DefaultStepTimeoutSeconds     int     `toml:"default_step_timeout_seconds"`
	NotifyTimeout                 string  `toml:"notify_timeout"`
	RetryInitialInterval          string  `toml:"retry_initial_interval"`
	RetryBackoffCoefficient       float64 `toml:"retry_backoff_coefficient"`
	RetryMaxInterval              string  `toml:"retry_max_interval"`
}

// ServerConfig maps to the [server] section.
type ServerConfig struct {
	Addr            string `toml:"addr"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// ProviderConfig maps to the [provider] section. Kind selects where step
// lists come from: "file" (TOML under WorkflowsDir) or "redis".
type ProviderConfig struct {
	Kind          string `toml:"kind"`
	WorkflowsDir  string `toml:"workflows_dir"`
	WorkflowsGlob string `toml:"workflows_glob"`
	CacheTTL      string `toml:"cache_ttl"`
}

// RedisConfig maps to the [redis] section, shared by every Redis-backed
// component.
type RedisConfig struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
}

// NotifyConfig maps to the [notify] section. Kind is "log", "redis" or
// "both".
type NotifyConfig struct {
	Kind    string `toml:"kind"`
	Channel string `toml:"channel"`
}

// StateConfig maps to the [state] section. Kind is "file", "redis" or
// "none".
type StateConfig struct {
	Kind        string `toml:"kind"`
	Dir         string `toml:"dir"`
	FinishedTTL string `toml:"finished_ttl"`
}

// ActivitiesConfig maps to the [activities] section.
type ActivitiesConfig struct {
	ScriptsDir  string `toml:"scripts_dir"`
	ScriptsGlob string `toml:"scripts_glob"`
}

// LogConfig maps to the [log] section.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// UsesRedis reports whether any configured component needs a Redis client.
func (c *Config) UsesRedis() bool {
	return c.Provider.Kind == "redis" ||
		c.State.Kind == "redis" ||
		c.Notify.Kind == "redis" || c.Notify.Kind == "both"
}

// ParseDuration parses a duration field, naming the field in the error. An
// empty value yields def.
func ParseDuration(field, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
