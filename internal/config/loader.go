package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/valksor/go-cproj/internal/storage"
)

// FileName is the global configuration file inside DefaultDir.
const FileName = "config.yaml"

// Path returns the global configuration file location.
func Path() string {
	return filepath.Join(DefaultDir(), FileName)
}

// Load reads the configuration at path, falling back to defaults when the
// file does not exist, then applies CPROJ_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := NewDefault()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("CPROJ_TEMP_ROOT"); v != "" {
		cfg.TempRoot = v
	}
	if v := os.Getenv("CPROJ_REPO_PATH"); v != "" {
		cfg.RepoPath = v
	}
	if v := os.Getenv("CPROJ_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CPROJ_PORT_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CPROJ_PORT_POOL_SIZE: %w", err)
		}
		cfg.Ports.PoolSize = n
	}

	return nil
}

const configHeader = `# cproj configuration
# Durations accept Go syntax (30s, 2m, 1h).

`

// Save writes cfg to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return storage.WriteFileAtomic(path, append([]byte(configHeader), data...), 0o644)
}
