package environment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/valksor/go-cproj/internal/metadata"
)

const venvDir = ".venv"

// Python sets up a virtualenv, preferring uv over the venv module.
type Python struct{}

// NewPython creates the python kind.
func NewPython() *Python {
	return &Python{}
}

// Name returns the kind identifier.
func (p *Python) Name() string {
	return "python"
}

// Detect looks for pyproject.toml, requirements.txt or setup.py.
func (p *Python) Detect(dir string) bool {
	return anyExists(dir, "pyproject.toml", "requirements.txt", "setup.py")
}

// Reconcile creates .venv and installs dependencies. An existing .venv is
// left alone.
func (p *Python) Reconcile(ctx context.Context, t Target, tools *Toolbox) *Result {
	ws := t.Workspace
	env := &metadata.PythonEnv{
		Manager:      "none",
		Pyproject:    fileExists(filepath.Join(ws, "pyproject.toml")),
		Requirements: fileExists(filepath.Join(ws, "requirements.txt")),
	}
	res := &Result{Python: env}
	venv := filepath.Join(ws, venvDir)

	if pathExists(venv) {
		env.Manager = existingManager(venv, tools)
		env.Active = true
		res.Outcome = OutcomePresent
		res.Tool = env.Manager

		return res
	}

	if t.SharedVenv {
		shared := filepath.Join(t.RepoPath, venvDir)
		if fileExists(shared) {
			if err := os.Symlink(shared, venv); err != nil {
				res.Err = fmt.Errorf("link shared venv: %w", err)

				return res
			}
			env.Manager, env.Active = "shared", true
			res.Outcome, res.Tool = OutcomeInstalled, "shared"

			return res
		}
		res.warn(ctx, "shared venv requested but "+shared+" does not exist; creating a local one")
	}

	switch {
	case tools.Has("uv"):
		env.Manager, res.Tool = "uv", "uv"
		res.Err = p.withUV(ctx, t, tools, env)
	case tools.Has("python3"):
		res.warn(ctx, "uv not found, falling back to python3 -m venv")
		env.Manager, res.Tool = "venv", "python3"
		res.Err = p.withVenv(ctx, t, tools, env)
	default:
		res.warn(ctx, "neither uv nor python3 found, skipping python setup")
		res.Outcome = OutcomeSkipped

		return res
	}

	if res.Err == nil {
		env.Active = true
		res.Outcome = OutcomeInstalled
	}

	return res
}

func (p *Python) withUV(ctx context.Context, t Target, tools *Toolbox, env *metadata.PythonEnv) error {
	ws := t.Workspace

	if fileExists(filepath.Join(ws, "uv.lock")) {
		return tools.Run(ctx, t, ws, "uv", "sync")
	}

	if err := tools.Run(ctx, t, ws, "uv", "venv", venvDir); err != nil {
		return err
	}

	switch {
	case env.Requirements:
		return tools.Run(ctx, t, ws, "uv", "pip", "install", "-r", "requirements.txt")
	case env.Pyproject || fileExists(filepath.Join(ws, "setup.py")):
		return tools.Run(ctx, t, ws, "uv", "pip", "install", "-e", ".")
	}

	return nil
}

func (p *Python) withVenv(ctx context.Context, t Target, tools *Toolbox, env *metadata.PythonEnv) error {
	ws := t.Workspace

	if err := tools.Run(ctx, t, ws, "python3", "-m", "venv", venvDir); err != nil {
		return err
	}

	pip := filepath.Join(ws, venvDir, "bin", "pip")
	switch {
	case env.Requirements:
		return tools.Run(ctx, t, ws, pip, "install", "-r", "requirements.txt")
	case env.Pyproject || fileExists(filepath.Join(ws, "setup.py")):
		return tools.Run(ctx, t, ws, pip, "install", "-e", ".")
	}

	return nil
}

func existingManager(venv string, tools *Toolbox) string {
	if info, err := os.Lstat(venv); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return "shared"
	}
	if fileExists(filepath.Join(filepath.Dir(venv), "uv.lock")) || tools.Has("uv") {
		return "uv"
	}

	return "venv"
}
