// Package lifecycle is the workspace lifecycle engine: it creates
// workspaces, derives their state from live facts and applies the review,
// merge and cleanup transitions.
//
// Transitions that can destroy work are split in two. A Plan* method
// gathers live facts, checks the transition's guards and describes what it
// would do without mutating anything. The matching Apply* method re-checks
// the facts that matter for safety and performs the plan. The presentation
// layer decides whether to ask for confirmation in between.
//
// Locking:
//   - The canonical repository lock covers fetch, base branch
//     fast-forward and worktree creation.
//   - A workspace lock covers every mutation of one workspace.
//
// No lock is ever acquired while another is held by the same call.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/valksor/go-cproj/internal/apperr"
	"github.com/valksor/go-cproj/internal/config"
	"github.com/valksor/go-cproj/internal/environment"
	"github.com/valksor/go-cproj/internal/hosting"
	"github.com/valksor/go-cproj/internal/metadata"
	"github.com/valksor/go-cproj/internal/storage"
	"github.com/valksor/go-cproj/internal/vcs"
)

// Steps named in errors and recorded as failed setup steps.
const (
	StepValidate    = "validate"
	StepFetch       = "fetch"
	StepBaseBranch  = "base-branch"
	StepWorktree    = "worktree"
	StepMetadata    = "metadata"
	StepEnvFiles    = "env-files"
	StepEnvironment = "environment"
	StepPorts       = "ports"
	StepActions     = "actions"
	StepFacts       = "facts"
	StepPush        = "push"
	StepPullRequest = "pull-request"
	StepMerge       = "merge"
	StepRemove      = "remove"
)

var (
	// ErrNoHosting means the operation needs a code-hosting backend.
	ErrNoHosting = fmt.Errorf("%w: no code hosting configured", apperr.ErrPreconditionFailed)

	// ErrNotWorkspace means a path is not a linked worktree of the repository.
	ErrNotWorkspace = fmt.Errorf("%w: not a workspace of this repository", apperr.ErrPreconditionFailed)

	// ErrNoPullRequest means merge found nothing to merge.
	ErrNoPullRequest = fmt.Errorf("%w: no pull request for branch", apperr.ErrPreconditionFailed)
)

// StepError names the transition step that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func stepErr(step string, err error) error {
	if err == nil {
		return nil
	}
	var se *StepError
	if errors.As(err, &se) {
		return err
	}

	return &StepError{Step: step, Err: err}
}

// PortPool is the part of the port allocator the engine uses.
type PortPool interface {
	Allocate(ctx context.Context, workspacePath string) (int, error)
	FreeByWorkspace(ctx context.Context, workspacePath string) (bool, error)
	Lookup(ctx context.Context, workspacePath string) (int, bool, error)
}

// Engine applies lifecycle transitions to the workspaces of one canonical
// repository.
type Engine struct {
	cfg     *config.Config
	repo    *vcs.Git
	project *storage.ProjectConfig
	hosting hosting.Gateway
	ports   PortPool
	env     *environment.Reconciler
	store   *metadata.Store
	locks   *storage.Locks
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithHosting sets the code-hosting gateway. Without one, review and merge
// are refused and status reports no pull request state.
func WithHosting(g hosting.Gateway) Option {
	return func(e *Engine) { e.hosting = g }
}

// WithPorts sets the port pool. Without one, port allocation is skipped.
func WithPorts(p PortPool) Option {
	return func(e *Engine) { e.ports = p }
}

// WithReconciler sets the environment reconciler.
func WithReconciler(rc *environment.Reconciler) Option {
	return func(e *Engine) { e.env = rc }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetadataStore sets the metadata store.
func WithMetadataStore(s *metadata.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithLocks sets the lock layout.
func WithLocks(l *storage.Locks) Option {
	return func(e *Engine) { e.locks = l }
}

// WithProjectConfig overrides the repository's project.yaml.
func WithProjectConfig(p *storage.ProjectConfig) Option {
	return func(e *Engine) { e.project = p }
}

// New creates an engine for the canonical repository repo. The project
// configuration is read from the repository unless WithProjectConfig is
// given.
func New(cfg *config.Config, repo *vcs.Git, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("lifecycle: nil config")
	}
	if repo == nil {
		return nil, errors.New("lifecycle: nil repository")
	}

	e := &Engine{
		cfg:   cfg,
		repo:  repo,
		store: metadata.NewStore(),
		locks: storage.NewLocks(cfg.DataDir, cfg.Timeouts.Lock),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.env == nil {
		e.env = environment.NewReconciler(
			environment.WithInstallTimeout(cfg.Timeouts.Install),
			environment.WithActionTimeout(cfg.Timeouts.Action),
		)
	}
	if e.project == nil {
		p, err := storage.LoadProjectConfig(repo.Root())
		if err != nil {
			return nil, err
		}
		e.project = p
	}

	return e, nil
}

// Repo returns the canonical repository.
func (e *Engine) Repo() *vcs.Git {
	return e.repo
}

// Project returns the project configuration in effect.
func (e *Engine) Project() *storage.ProjectConfig {
	return e.project
}

// Hosting returns the code-hosting gateway, or nil.
func (e *Engine) Hosting() hosting.Gateway {
	return e.hosting
}

// baseBranch picks the base for a new workspace: explicit request, global
// config, project config, then the remote default.
func (e *Engine) baseBranch(ctx context.Context, requested string) (string, error) {
	for _, b := range []string{requested, e.cfg.BaseBranch, e.project.BaseBranch} {
		if b != "" {
			return b, nil
		}
	}

	return e.repo.DefaultBranch(ctx)
}

// resolveWorkspace maps any path inside a workspace to the workspace root
// and checks that it is a linked worktree of the canonical repository.
func (e *Engine) resolveWorkspace(ctx context.Context, path string) (*vcs.Worktree, error) {
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		path = wd
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	worktrees, err := e.repo.ListWorktrees(ctx)
	if err != nil {
		return nil, err
	}

	var match *vcs.Worktree
	for i := range worktrees {
		wt := worktrees[i]
		if vcs.SamePath(wt.Path, abs) || within(wt.Path, abs) {
			if match == nil || len(wt.Path) > len(match.Path) {
				match = &wt
			}
		}
	}

	switch {
	case match == nil:
		return nil, fmt.Errorf("%w: %s", ErrNotWorkspace, abs)
	case match.Main:
		return nil, fmt.Errorf("%w: %s is the canonical repository", ErrNotWorkspace, match.Path)
	case match.Prunable:
		return nil, fmt.Errorf("%w: %s no longer exists", ErrNotWorkspace, match.Path)
	}

	return match, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)

	return err == nil && filepath.IsLocal(rel)
}

// hostingCtx bounds one call to the code host.
func (e *Engine) hostingCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Timeouts.Hosting <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, e.cfg.Timeouts.Hosting)
}

// readRecord returns the workspace record, or nil when it has none.
func (e *Engine) readRecord(path string) (*metadata.Record, error) {
	rec, err := e.store.Read(path)
	if errors.Is(err, metadata.ErrNotFound) {
		return nil, nil
	}

	return rec, err
}

func (e *Engine) identity(ctx context.Context) metadata.Agent {
	a := metadata.Agent{Name: e.cfg.Identity.Name, Email: e.cfg.Identity.Email}
	if a.Email == "" {
		a.Email = e.repo.ConfigValue(ctx, "user.email")
	}
	if a.Name == "" {
		a.Name = e.repo.ConfigValue(ctx, "user.name")
	}

	return a
}
