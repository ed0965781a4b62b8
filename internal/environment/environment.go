// Package environment makes a workspace runnable: it detects project kinds
// from marker files, installs dependencies with the best available tool,
// copies environment files and runs the project's custom actions.
//
// Every step is idempotent. A kind whose marker is absent does not apply;
// a kind whose tools are missing is skipped with a warning. Kinds never
// block each other.
package environment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/valksor/go-cproj/internal/command"
	"github.com/valksor/go-cproj/internal/log"
	"github.com/valksor/go-cproj/internal/metadata"
)

// Outcome is what reconciling one kind did.
type Outcome string

const (
	OutcomeInstalled Outcome = "installed"
	OutcomePresent   Outcome = "present" // Already set up; nothing to do
	OutcomeSkipped   Outcome = "skipped" // No usable tool on this host
	OutcomeFailed    Outcome = "failed"
)

// Default timeouts.
const (
	DefaultInstallTimeout = 10 * time.Minute
	DefaultActionTimeout  = 5 * time.Minute
)

// Target is the workspace being reconciled.
type Target struct {
	Workspace string
	RepoPath  string
	Branch    string
	// SharedVenv links the canonical repository's .venv instead of
	// creating one.
	SharedVenv bool
	// Env is extra KEY=VALUE pairs for every command, e.g. port variables.
	Env []string
}

// Name is the workspace directory name.
func (t Target) Name() string {
	return filepath.Base(t.Workspace)
}

// vars are the CPROJ_* variables exported to setup commands.
func (t Target) vars() []string {
	env := []string{
		"CPROJ_WORKSPACE_PATH=" + t.Workspace,
		"CPROJ_REPO_PATH=" + t.RepoPath,
		"CPROJ_WORKSPACE_NAME=" + t.Name(),
		"CPROJ_BRANCH=" + t.Branch,
	}

	return append(env, t.Env...)
}

// Result describes one kind's reconciliation.
type Result struct {
	Kind     string
	Outcome  Outcome
	Tool     string
	Warnings []string
	Err      error
	Duration time.Duration

	Python *metadata.PythonEnv
	Node   *metadata.NodeEnv
	Java   *metadata.JavaEnv
}

func (r *Result) warn(ctx context.Context, msg string) {
	r.Warnings = append(r.Warnings, msg)
	log.WarnContext(ctx, msg, "kind", r.Kind)
}

// Kind is one project ecosystem.
type Kind interface {
	// Name returns the kind identifier (e.g., "python", "node").
	Name() string

	// Detect reports whether the kind's marker files exist in dir.
	Detect(dir string) bool

	// Reconcile installs what the workspace needs. Errors are reported in
	// the result; the returned Result is never nil.
	Reconcile(ctx context.Context, t Target, tools *Toolbox) *Result
}

// Toolbox runs installers with a bounded timeout.
type Toolbox struct {
	runner  command.Runner
	timeout time.Duration
}

// Has reports whether a tool is on PATH.
func (tb *Toolbox) Has(name string) bool {
	_, err := tb.runner.LookPath(name)

	return err == nil
}

// Run executes name in dir with the target's variables.
func (tb *Toolbox) Run(ctx context.Context, t Target, dir, name string, args ...string) error {
	c := command.New(name, args...).
		InDir(dir).
		WithTimeout(tb.timeout).
		WithEnv(t.vars()...)

	_, err := tb.runner.Run(ctx, c)

	return err
}

// Reconciler runs every registered kind against a workspace.
type Reconciler struct {
	kinds         []Kind
	tools         *Toolbox
	actionTimeout time.Duration
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithRunner sets the command runner.
func WithRunner(r command.Runner) Option {
	return func(rc *Reconciler) { rc.tools.runner = r }
}

// WithInstallTimeout bounds each installer invocation.
func WithInstallTimeout(d time.Duration) Option {
	return func(rc *Reconciler) {
		if d > 0 {
			rc.tools.timeout = d
		}
	}
}

// WithActionTimeout bounds each custom run action.
func WithActionTimeout(d time.Duration) Option {
	return func(rc *Reconciler) {
		if d > 0 {
			rc.actionTimeout = d
		}
	}
}

// WithKinds replaces the registered kinds.
func WithKinds(kinds ...Kind) Option {
	return func(rc *Reconciler) { rc.kinds = kinds }
}

// NewReconciler creates a reconciler with python, node and java
// registered, in that order.
func NewReconciler(opts ...Option) *Reconciler {
	rc := &Reconciler{
		kinds:         []Kind{NewPython(), NewNode(), NewJava()},
		tools:         &Toolbox{runner: command.NewExecRunner(), timeout: DefaultInstallTimeout},
		actionTimeout: DefaultActionTimeout,
	}
	for _, opt := range opts {
		opt(rc)
	}

	return rc
}

// Report aggregates a reconciliation run.
type Report struct {
	Results []*Result
}

// Failed returns the results that failed.
func (r *Report) Failed() []*Result {
	var failed []*Result
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			failed = append(failed, res)
		}
	}

	return failed
}

// Err joins the errors of failed kinds, or nil.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", res.Kind, res.Err))
	}

	return errors.Join(errs...)
}

// Apply copies environment summaries into env. Kinds that were not
// reconciled keep their previous entry.
func (r *Report) Apply(env *metadata.Environment) {
	for _, res := range r.Results {
		if res.Python != nil {
			env.Python = res.Python
		}
		if res.Node != nil {
			env.Node = res.Node
		}
		if res.Java != nil {
			env.Java = res.Java
		}
	}
}

// Reconcile runs each detected kind that enabled accepts. A nil enabled
// accepts every kind.
func (rc *Reconciler) Reconcile(ctx context.Context, t Target, enabled func(kind string) bool) *Report {
	report := &Report{}

	for _, k := range rc.kinds {
		if enabled != nil && !enabled(k.Name()) {
			continue
		}
		if !k.Detect(t.Workspace) {
			continue
		}
		if ctx.Err() != nil {
			report.Results = append(report.Results, &Result{Kind: k.Name(), Outcome: OutcomeFailed, Err: ctx.Err()})

			continue
		}

		start := time.Now()
		res := k.Reconcile(ctx, t, rc.tools)
		res.Kind = k.Name()
		res.Duration = time.Since(start)
		if res.Err != nil {
			res.Outcome = OutcomeFailed
			log.WarnContext(ctx, "environment setup failed", "kind", res.Kind, log.Err(res.Err))
		} else {
			log.InfoContext(ctx, "environment ready", "kind", res.Kind,
				"outcome", string(res.Outcome), "tool", res.Tool, log.Duration(res.Duration))
		}
		report.Results = append(report.Results, res)
	}

	return report
}

func fileExists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}

func anyExists(dir string, names ...string) bool {
	for _, n := range names {
		if fileExists(filepath.Join(dir, n)) {
			return true
		}
	}

	return false
}

// pathExists is like fileExists but does not follow a final symlink.
func pathExists(path string) bool {
	_, err := os.Lstat(path)

	return err == nil
}
