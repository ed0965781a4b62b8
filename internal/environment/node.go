package environment

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/valksor/go-cproj/internal/metadata"
)

// DefaultNodeVersion is recorded when the project has no .nvmrc.
const DefaultNodeVersion = "lts/*"

// lockfiles map to the package manager that wrote them, in preference order.
var lockfiles = []struct {
	file    string
	manager string
}{
	{"pnpm-lock.yaml", "pnpm"},
	{"yarn.lock", "yarn"},
	{"package-lock.json", "npm"},
}

// Node installs packages with the manager matching the lockfile.
type Node struct{}

// NewNode creates the node kind.
func NewNode() *Node {
	return &Node{}
}

// Name returns the kind identifier.
func (n *Node) Name() string {
	return "node"
}

// Detect looks for package.json.
func (n *Node) Detect(dir string) bool {
	return fileExists(filepath.Join(dir, "package.json"))
}

// Reconcile installs node_modules unless it already exists.
func (n *Node) Reconcile(ctx context.Context, t Target, tools *Toolbox) *Result {
	ws := t.Workspace
	env := &metadata.NodeEnv{
		Manager:     "none",
		NodeVersion: nodeVersion(ws),
	}
	res := &Result{Node: env}

	preferred := "npm"
	for _, lf := range lockfiles {
		if fileExists(filepath.Join(ws, lf.file)) {
			env.Lockfile = lf.file
			preferred = lf.manager

			break
		}
	}

	if fileExists(filepath.Join(ws, "node_modules")) {
		env.Manager, env.Active = preferred, true
		res.Outcome, res.Tool = OutcomePresent, preferred

		return res
	}

	manager := preferred
	if !tools.Has(manager) {
		if manager == "npm" || !tools.Has("npm") {
			res.warn(ctx, manager+" not found, skipping node setup")
			res.Outcome = OutcomeSkipped

			return res
		}
		res.warn(ctx, manager+" not found, falling back to npm")
		manager = "npm"
	}

	env.Manager, res.Tool = manager, manager
	if res.Err = tools.Run(ctx, t, ws, manager, installArgs(manager, env.Lockfile)...); res.Err != nil {
		return res
	}

	env.Active = true
	res.Outcome = OutcomeInstalled

	return res
}

func installArgs(manager, lockfile string) []string {
	if manager == "npm" && lockfile == "package-lock.json" {
		return []string{"ci"}
	}

	return []string{"install"}
}

func nodeVersion(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, ".nvmrc"))
	if err != nil {
		return DefaultNodeVersion
	}
	if v := strings.TrimSpace(string(data)); v != "" {
		return v
	}

	return DefaultNodeVersion
}
