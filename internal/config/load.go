package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ConfigFileName is the name of the stepflow configuration file.
const ConfigFileName = "stepflow.toml"

// FindConfigFile walks up from startDir to find stepflow.toml. It returns
// the absolute path, or "" when no file exists up to the filesystem root.
func FindConfigFile(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// LoadFromFile parses the TOML file at path. The returned metadata reports
// unknown keys via MetaData.Undecoded().
func LoadFromFile(path string) (*Config, toml.MetaData, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, md, fmt.Errorf("loading config %s: %w", path, err)
	}
	return &cfg, md, nil
}

// Load finds and parses the config file (explicitPath wins over the upward
// search from startDir), then resolves it against defaults, envFn and
// overrides. The metadata is nil when no file was used.
func Load(explicitPath, startDir string, envFn EnvFunc, overrides *CLIOverrides) (*ResolvedConfig, *toml.MetaData, error) {
	path := explicitPath
	if path == "" {
		found, err := FindConfigFile(startDir)
		if err != nil {
			return nil, nil, fmt.Errorf("finding config file: %w", err)
		}
		path = found
	}

	var (
		fileCfg *Config
		meta    *toml.MetaData
	)
	if path != "" {
		fc, md, err := LoadFromFile(path)
		if err != nil {
			return nil, nil, err
		}
		fileCfg = fc
		meta = &md
	}

	rc, err := Resolve(NewDefaults(), fileCfg, envFn, overrides)
	if err != nil {
		return nil, meta, err
	}
	rc.Path = path
	return rc, meta, nil
}
