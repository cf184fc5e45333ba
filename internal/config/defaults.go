package config

// NewDefaults returns a Config populated with all default values.
func NewDefaults() *Config {
	return &Config{
		Engine: EngineConfig{
			DefaultApprovalTimeoutMinutes: 30,
			DefaultStepTimeoutSeconds:     60,
			NotifyTimeout:                 "10s",
			RetryInitialInterval:          "1s",
			RetryBackoffCoefficient:       2.0,
			RetryMaxInterval:              "100s",
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:7070",
			ShutdownTimeout: "10s",
		},
		Provider: ProviderConfig{
			Kind:          "file",
			WorkflowsDir:  ".",
			WorkflowsGlob: "workflows/**/*.toml",
			CacheTTL:      "5m",
		},
		Redis: RedisConfig{
			Addr:      "127.0.0.1:6379",
			KeyPrefix: "stepflow",
		},
		Notify: NotifyConfig{
			Kind:    "log",
			Channel: "stepflow:approvals",
		},
		State: StateConfig{
			Kind: "file",
			Dir:  ".stepflow/state",
		},
		Activities: ActivitiesConfig{
			ScriptsDir:  ".",
			ScriptsGlob: "activities/**/*.js",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
