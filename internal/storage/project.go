package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// ProjectDir is the per-repository directory cproj reads from.
	ProjectDir = ".cproj"
	// ProjectConfigFile is the per-repository configuration file.
	ProjectConfigFile = "project.yaml"
)

// Custom action kinds.
const (
	ActionCopyFiles = "copy_files"
	ActionCopyDir   = "copy_dir"
	ActionRun       = "run"
)

// ProjectConfig holds per-repository settings. The core only reads it.
type ProjectConfig struct {
	BaseBranch string         `yaml:"base_branch,omitempty"` // Empty: detect from origin/HEAD
	Features   Features       `yaml:"features"`
	Actions    []ActionSpec   `yaml:"actions,omitempty"`
	Python     PythonSettings `yaml:"python,omitempty"`
}

// Features toggles optional setup steps.
type Features struct {
	Python        bool `yaml:"python"`
	Node          bool `yaml:"node"`
	Java          bool `yaml:"java"`
	Ports         bool `yaml:"ports"`
	CustomActions bool `yaml:"custom_actions"`
	EnvFiles      bool `yaml:"env_files"` // Copy .env files from the canonical checkout
}

// PythonSettings tunes python environment setup.
type PythonSettings struct {
	SharedVenv bool `yaml:"shared_venv,omitempty"` // Symlink the canonical repo's .venv
}

// ActionSpec describes one custom setup action. Strings may contain the
// placeholders {workspace_path}, {repo_path}, {workspace_name} and {branch}.
type ActionSpec struct {
	Name     string   `yaml:"name,omitempty"`
	Type     string   `yaml:"type"`
	Files    []string `yaml:"files,omitempty"`   // copy_files: paths relative to the repo
	Source   string   `yaml:"source,omitempty"`  // copy_dir: directory relative to the repo
	Dest     string   `yaml:"dest,omitempty"`    // copy_dir: target relative to the workspace
	Command  []string `yaml:"command,omitempty"` // run: argv, never passed to a shell
	Dir      string   `yaml:"dir,omitempty"`     // run: working dir relative to the workspace
	Required bool     `yaml:"required,omitempty"`
}

// DisplayName returns the action name or its type.
func (a ActionSpec) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}

	return a.Type
}

// Validate checks that the action has the fields its type needs.
func (a ActionSpec) Validate() error {
	switch a.Type {
	case ActionCopyFiles:
		if len(a.Files) == 0 {
			return fmt.Errorf("action %q: copy_files needs files", a.DisplayName())
		}
	case ActionCopyDir:
		if a.Source == "" {
			return fmt.Errorf("action %q: copy_dir needs source", a.DisplayName())
		}
	case ActionRun:
		if len(a.Command) == 0 {
			return fmt.Errorf("action %q: run needs command", a.DisplayName())
		}
	default:
		return fmt.Errorf("action %q: unknown type %q", a.DisplayName(), a.Type)
	}

	return nil
}

// NewDefaultProjectConfig returns settings used when no project file exists.
func NewDefaultProjectConfig() *ProjectConfig {
	return &ProjectConfig{
		Features: Features{
			Python:        true,
			Node:          true,
			Java:          true,
			Ports:         true,
			CustomActions: true,
			EnvFiles:      true,
		},
	}
}

// ProjectConfigPath returns the project configuration path for repoPath.
func ProjectConfigPath(repoPath string) string {
	return filepath.Join(repoPath, ProjectDir, ProjectConfigFile)
}

// LoadProjectConfig reads the repository's project.yaml, returning defaults
// when the file does not exist.
func LoadProjectConfig(repoPath string) (*ProjectConfig, error) {
	data, err := os.ReadFile(ProjectConfigPath(repoPath))
	if err != nil {
		if os.IsNotExist(err) {
			return NewDefaultProjectConfig(), nil
		}

		return nil, fmt.Errorf("read project config: %w", err)
	}

	cfg := NewDefaultProjectConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse project config: %w", err)
	}

	for _, a := range cfg.Actions {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("project config: %w", err)
		}
	}

	return cfg, nil
}

const projectConfigHeader = `# cproj project configuration
# Read by cproj when creating and setting up workspaces for this repository.
#
# Custom actions run in order after environment setup. Placeholders:
#   {workspace_path} {repo_path} {workspace_name} {branch}
# Example:
# actions:
#   - type: copy_files
#     files: [.env.local, config/dev.yaml]
#   - type: copy_dir
#     source: fixtures
#   - name: bootstrap
#     type: run
#     command: [make, bootstrap, "WORKSPACE={workspace_path}"]
#     required: true

`

// SaveProjectConfig writes cfg with an explanatory header.
func SaveProjectConfig(repoPath string, cfg *ProjectConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal project config: %w", err)
	}

	return WriteFileAtomic(ProjectConfigPath(repoPath), append([]byte(projectConfigHeader), data...), 0o644)
}
