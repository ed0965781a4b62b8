// Package config holds the tool-wide cproj configuration.
//
// A Config is loaded once per invocation and passed explicitly into the
// lifecycle engine; nothing in cproj reads configuration from globals.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Merge strategies accepted by the code host.
const (
	MergeSquash = "squash"
	MergeCommit = "merge"
	MergeRebase = "rebase"
)

// Code hosting providers.
const (
	ProviderAuto   = "auto"
	ProviderGitHub = "github"
	ProviderGitLab = "gitlab"
	ProviderNone   = "none"
)

// Config is the global cproj configuration.
type Config struct {
	TempRoot    string         `yaml:"temp_root"`             // Parent directory of new workspaces
	RepoPath    string         `yaml:"repo_path,omitempty"`   // Default canonical repository
	BaseBranch  string         `yaml:"base_branch,omitempty"` // Overrides detection when set
	DataDir     string         `yaml:"data_dir,omitempty"`    // Locks and port database
	CleanupDays int            `yaml:"cleanup_days"`
	Identity    Identity       `yaml:"identity,omitempty"`
	Ports       PortsConfig    `yaml:"ports"`
	Timeouts    TimeoutsConfig `yaml:"timeouts"`
	Hosting     HostingConfig  `yaml:"hosting"`
}

// Identity is recorded as the creator of workspaces.
type Identity struct {
	Name  string `yaml:"name,omitempty"`
	Email string `yaml:"email,omitempty"`
}

// PortsConfig controls port offset allocation.
type PortsConfig struct {
	Enabled  bool `yaml:"enabled"`
	PoolSize int  `yaml:"pool_size"`
	BasePort int  `yaml:"base_port"` // Exported as CPROJ_PORT = base_port + offset
}

// TimeoutsConfig bounds every external invocation.
type TimeoutsConfig struct {
	Git     time.Duration `yaml:"git"`
	Hosting time.Duration `yaml:"hosting"`
	Install time.Duration `yaml:"install"`
	Action  time.Duration `yaml:"action"`
	Lock    time.Duration `yaml:"lock"`
	Secret  time.Duration `yaml:"secret"`
}

// HostingConfig selects and authenticates the code host.
type HostingConfig struct {
	Provider           string `yaml:"provider"`
	Token              string `yaml:"token,omitempty"` // Literal or secret reference (op://, env:, age:, file:)
	GitLabHost         string `yaml:"gitlab_host,omitempty"`
	MergeStrategy      string `yaml:"merge_strategy"`
	DeleteRemoteBranch bool   `yaml:"delete_remote_branch,omitempty"`
}

// NewDefault returns a configuration with default values.
func NewDefault() *Config {
	return &Config{
		TempRoot:    filepath.Join(os.TempDir(), "cproj-workspaces"),
		DataDir:     DefaultDir(),
		CleanupDays: 14,
		Identity: Identity{
			Name: os.Getenv("USER"),
		},
		Ports: PortsConfig{
			Enabled:  true,
			PoolSize: 100,
			BasePort: 3000,
		},
		Timeouts: TimeoutsConfig{
			Git:     2 * time.Minute,
			Hosting: 30 * time.Second,
			Install: 10 * time.Minute,
			Action:  5 * time.Minute,
			Lock:    30 * time.Second,
			Secret:  10 * time.Second,
		},
		Hosting: HostingConfig{
			Provider:      ProviderAuto,
			MergeStrategy: MergeSquash,
		},
	}
}

// Validate rejects settings the engine cannot honor.
func (c *Config) Validate() error {
	if c.TempRoot == "" {
		return fmt.Errorf("temp_root must be set")
	}
	if c.Ports.PoolSize < 1 {
		return fmt.Errorf("ports.pool_size must be at least 1, got %d", c.Ports.PoolSize)
	}
	if c.CleanupDays < 0 {
		return fmt.Errorf("cleanup_days must not be negative")
	}

	switch c.Hosting.MergeStrategy {
	case MergeSquash, MergeCommit, MergeRebase:
	default:
		return fmt.Errorf("hosting.merge_strategy %q is not one of squash, merge, rebase", c.Hosting.MergeStrategy)
	}

	switch c.Hosting.Provider {
	case ProviderAuto, ProviderGitHub, ProviderGitLab, ProviderNone:
	default:
		return fmt.Errorf("hosting.provider %q is not one of auto, github, gitlab, none", c.Hosting.Provider)
	}

	return nil
}

// DefaultDir returns the cproj configuration directory.
func DefaultDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cproj")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "cproj-config")
	}

	return filepath.Join(home, ".config", "cproj")
}

// PortsDBPath returns the port allocation database location.
func (c *Config) PortsDBPath() string {
	return filepath.Join(c.DataDir, "ports.db")
}
