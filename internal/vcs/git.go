// Package vcs is the version-control gateway of cproj.
//
// The Git type translates workspace lifecycle intents into git invocations
// and normalizes git's output into typed facts:
//   - Fetching and base branch synchronization
//   - Worktree creation, attachment and removal
//   - Dirty and ahead/behind queries
//   - Branch push and deletion
//
// Every invocation goes through a command.Runner with a bounded timeout.
// Unexpected failures are returned as *command.Error carrying git's exit
// status and stderr verbatim; expected conditions (dirty working copy,
// branch checked out elsewhere, missing repository) are mapped to typed
// errors that wrap apperr.ErrPreconditionFailed.
//
// Thread safety:
//   - Git methods are safe for concurrent use as they don't maintain mutable state.
//   - Serializing operations on shared refs is the caller's job (see storage.Locks).
//
// Usage:
//
//	g, err := vcs.New(ctx, "/path/to/repo")
//	if err != nil {
//	    return err
//	}
//	dirty, err := g.IsDirty(ctx, worktreePath)
package vcs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/valksor/go-cproj/internal/command"
)

// DefaultRemote is the remote cproj pushes to and syncs from.
const DefaultRemote = "origin"

// Git porcelain v1 format constants
// Format: XY PATH where X=index status, Y=worktree status
// See: https://git-scm.com/docs/git-status#_short_format
const (
	gitStatusIndexPos   = 0
	gitStatusWorkDirPos = 1
	gitStatusPathStart  = 3
	gitStatusMinLength  = 4
)

// Git provides git operations for a repository
type Git struct {
	repoRoot string
	runner   command.Runner
	timeout  time.Duration
}

// Option configures a Git instance.
type Option func(*Git)

// WithRunner sets the command runner.
func WithRunner(r command.Runner) Option {
	return func(g *Git) { g.runner = r }
}

// WithTimeout bounds each git invocation.
func WithTimeout(d time.Duration) Option {
	return func(g *Git) { g.timeout = d }
}

// New creates a Git instance for the repository containing path.
func New(ctx context.Context, path string, opts ...Option) (*Git, error) {
	g := &Git{runner: command.NewExecRunner(), timeout: command.DefaultTimeout}
	for _, opt := range opts {
		opt(g)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(absPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRepositoryNotFound, absPath)
	}

	out, err := g.runIn(ctx, absPath, "rev-parse", "--show-toplevel")
	if err != nil {
		var cerr *command.Error
		if errors.As(err, &cerr) && !cerr.TimedOut {
			return nil, fmt.Errorf("%w: %s: %s", ErrRepositoryNotFound, absPath, strings.TrimSpace(cerr.Stderr))
		}

		return nil, err
	}
	g.repoRoot = strings.TrimSpace(out)

	return g, nil
}

// Root returns the repository root path
func (g *Git) Root() string {
	return g.repoRoot
}

// Canonical returns a Git for the main worktree of this repository. When
// g already is the main worktree it is returned unchanged.
func (g *Git) Canonical(ctx context.Context) (*Git, error) {
	main, err := g.MainWorktreePath(ctx)
	if err != nil {
		return nil, err
	}
	if samePath(main, g.repoRoot) {
		return g, nil
	}

	return &Git{repoRoot: main, runner: g.runner, timeout: g.timeout}, nil
}

// IsWorktree reports whether the root is a linked worktree (.git is a file).
func (g *Git) IsWorktree() bool {
	info, err := os.Stat(filepath.Join(g.repoRoot, ".git"))

	return err == nil && !info.IsDir()
}

// MainWorktreePath returns the path of the main worktree.
func (g *Git) MainWorktreePath(ctx context.Context) (string, error) {
	commonDir, err := g.commonDir(ctx)
	if err != nil {
		return "", err
	}

	if filepath.Base(commonDir) == ".git" {
		return filepath.Dir(commonDir), nil
	}

	// Bare repository: the common dir is the repository.
	return commonDir, nil
}

// ProjectName returns the canonical repository's directory name.
func (g *Git) ProjectName(ctx context.Context) (string, error) {
	main, err := g.MainWorktreePath(ctx)
	if err != nil {
		return "", err
	}

	return filepath.Base(main), nil
}

func (g *Git) commonDir(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--git-common-dir")
	if err != nil {
		return "", fmt.Errorf("get git common dir: %w", err)
	}

	dir := strings.TrimSpace(out)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(g.repoRoot, dir)
	}

	return filepath.Clean(dir), nil
}

// RemoteURL returns the URL of a remote.
func (g *Git) RemoteURL(ctx context.Context, remote string) (string, error) {
	out, err := g.run(ctx, "remote", "get-url", remote)
	if err != nil {
		return "", fmt.Errorf("get remote url: %w", err)
	}

	return strings.TrimSpace(out), nil
}

// FetchAll fetches every remote and prunes deleted remote branches. A
// repository without remotes has nothing to fetch.
func (g *Git) FetchAll(ctx context.Context) error {
	out, err := g.run(ctx, "remote")
	if err != nil {
		return fmt.Errorf("list remotes: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return nil
	}

	if _, err := g.run(ctx, "fetch", "--all", "--prune"); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	return nil
}

// ConfigValue returns a git config value, or "" when it is unset.
func (g *Git) ConfigValue(ctx context.Context, key string) string {
	out, err := g.run(ctx, "config", "--get", key)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(out)
}

// FileStatus represents a file's git status
type FileStatus struct {
	Index   byte
	WorkDir byte
	Path    string
}

// Status returns uncommitted changes of the worktree at path.
func (g *Git) Status(ctx context.Context, path string) ([]FileStatus, error) {
	out, err := g.runIn(ctx, path, "status", "--porcelain", "-z")
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}

	if out == "" {
		return nil, nil
	}

	var files []FileStatus
	entries := strings.Split(strings.TrimSuffix(out, "\x00"), "\x00")
	for i := 0; i < len(entries); i++ {
		entry := entries[i]
		if len(entry) < gitStatusMinLength {
			continue
		}
		fs := FileStatus{
			Index:   entry[gitStatusIndexPos],
			WorkDir: entry[gitStatusWorkDirPos],
			Path:    entry[gitStatusPathStart:],
		}
		files = append(files, fs)

		// Renames and copies carry the source path as the next entry.
		if fs.Index == 'R' || fs.Index == 'C' {
			i++
		}
	}

	return files, nil
}

// IsDirty reports whether the worktree at path has uncommitted changes,
// including untracked files.
func (g *Git) IsDirty(ctx context.Context, path string) (bool, error) {
	files, err := g.Status(ctx, path)
	if err != nil {
		return false, err
	}

	return len(files) > 0, nil
}

// CurrentBranch returns the branch checked out at path, or "" when HEAD is
// detached.
func (g *Git) CurrentBranch(ctx context.Context, path string) (string, error) {
	out, err := g.runIn(ctx, path, "branch", "--show-current")
	if err != nil {
		return "", fmt.Errorf("get current branch: %w", err)
	}

	return strings.TrimSpace(out), nil
}

// AheadBehind counts commits of HEAD at path not in ref (ahead) and of ref
// not in HEAD (behind).
func (g *Git) AheadBehind(ctx context.Context, path, ref string) (int, int, error) {
	out, err := g.runIn(ctx, path, "rev-list", "--left-right", "--count", "HEAD..."+ref)
	if err != nil {
		return 0, 0, fmt.Errorf("ahead/behind %s: %w", ref, err)
	}

	var ahead, behind int
	if _, err := fmt.Sscanf(strings.TrimSpace(out), "%d\t%d", &ahead, &behind); err != nil {
		return 0, 0, fmt.Errorf("parse ahead/behind %q: %w", out, err)
	}

	return ahead, behind, nil
}

// EnsureExcluded adds pattern to the repository's shared info/exclude so
// files matching it never show up as untracked in any worktree.
func (g *Git) EnsureExcluded(ctx context.Context, pattern string) error {
	commonDir, err := g.commonDir(ctx)
	if err != nil {
		return err
	}

	path := filepath.Join(commonDir, "info", "exclude")
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read exclude file: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == pattern {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create info directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open exclude file: %w", err)
	}
	defer func() { _ = f.Close() }()

	prefix := ""
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		prefix = "\n"
	}
	if _, err := f.WriteString(prefix + pattern + "\n"); err != nil {
		return fmt.Errorf("write exclude file: %w", err)
	}

	return nil
}

// run executes a git command in the repository root.
func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	return g.runIn(ctx, g.repoRoot, args...)
}

// runIn executes a git command in dir.
func (g *Git) runIn(ctx context.Context, dir string, args ...string) (string, error) {
	c := command.New("git", args...).
		InDir(dir).
		WithTimeout(g.timeout).
		WithEnv("GIT_TERMINAL_PROMPT=0", "LC_ALL=C")

	res, err := g.runner.Run(ctx, c)
	if err != nil {
		return "", err
	}

	return res.Stdout, nil
}

// exitCode returns the exit status of a failed git invocation, or -1 when
// err is not a plain non-zero exit.
func exitCode(err error) int {
	var cerr *command.Error
	if errors.As(err, &cerr) && !cerr.TimedOut && cerr.Err == nil {
		return cerr.ExitCode
	}

	return -1
}

func samePath(a, b string) bool {
	if a == b {
		return true
	}
	ra, errA := filepath.EvalSymlinks(a)
	rb, errB := filepath.EvalSymlinks(b)

	return errA == nil && errB == nil && ra == rb
}

// SamePath reports whether two paths name the same location.
func SamePath(a, b string) bool {
	return samePath(filepath.Clean(a), filepath.Clean(b))
}
