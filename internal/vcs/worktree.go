package vcs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Worktree represents a git worktree.
type Worktree struct {
	Path     string // Absolute path to worktree
	Branch   string // Branch checked out in worktree, empty when detached
	Commit   string // HEAD commit
	Bare     bool   // Is this the bare repository
	Main     bool   // Is this the main worktree
	Detached bool
	Locked   bool
	Prunable bool // Directory is gone; git will prune it
}

// ListWorktrees returns all worktrees in the repository.
func (g *Git) ListWorktrees(ctx context.Context) ([]Worktree, error) {
	out, err := g.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}

	return parseWorktreeList(out), nil
}

func parseWorktreeList(out string) []Worktree {
	var (
		worktrees []Worktree
		current   Worktree
	)

	flush := func() {
		if current.Path != "" {
			worktrees = append(worktrees, current)
		}
		current = Worktree{}
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.Commit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "bare":
			current.Bare = true
		case line == "detached":
			current.Detached = true
		case line == "locked" || strings.HasPrefix(line, "locked "):
			current.Locked = true
		case line == "prunable" || strings.HasPrefix(line, "prunable "):
			current.Prunable = true
		}
	}
	flush()

	if len(worktrees) > 0 {
		worktrees[0].Main = true
	}

	return worktrees
}

// WorktreeForBranch returns the worktree that has branch checked out, or
// nil when none does.
func (g *Git) WorktreeForBranch(ctx context.Context, branch string) (*Worktree, error) {
	worktrees, err := g.ListWorktrees(ctx)
	if err != nil {
		return nil, err
	}

	for _, wt := range worktrees {
		if wt.Branch == branch && !wt.Prunable {
			return &wt, nil
		}
	}

	return nil, nil
}

// FindWorktree returns the worktree registered at path, or nil.
func (g *Git) FindWorktree(ctx context.Context, path string) (*Worktree, error) {
	worktrees, err := g.ListWorktrees(ctx)
	if err != nil {
		return nil, err
	}

	for _, wt := range worktrees {
		if SamePath(wt.Path, path) {
			return &wt, nil
		}
	}

	return nil, nil
}

// CreateWorktree creates a worktree at path for branch.
//
// When branch already exists it is attached if attachExisting is set and
// it is not checked out in any live worktree; otherwise a ConflictError or
// ErrBranchExists is returned. A missing branch is created from base.
// Nothing is created when an error is returned.
func (g *Git) CreateWorktree(ctx context.Context, path, branch, base string, attachExisting bool) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	if entries, err := os.ReadDir(absPath); err == nil && len(entries) > 0 {
		return fmt.Errorf("%w: %s", ErrPathExists, absPath)
	}

	exists, err := g.BranchExists(ctx, branch)
	if err != nil {
		return err
	}

	if exists {
		wt, err := g.WorktreeForBranch(ctx, branch)
		if err != nil {
			return err
		}
		if wt != nil {
			return &ConflictError{Branch: branch, Path: wt.Path}
		}
		if !attachExisting {
			return fmt.Errorf("%w: %s", ErrBranchExists, branch)
		}
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	args := []string{"worktree", "add", absPath, branch}
	if !exists {
		args = []string{"worktree", "add", "-b", branch, absPath}
		if base != "" {
			args = append(args, base)
		}
	}

	if _, err := g.run(ctx, args...); err != nil {
		if strings.Contains(err.Error(), "is already checked out at") ||
			strings.Contains(err.Error(), "is already used by worktree at") {
			return &ConflictError{Branch: branch, Path: conflictPath(err.Error())}
		}

		return fmt.Errorf("create worktree: %w", err)
	}

	return nil
}

// conflictPath pulls the quoted path from git's "already checked out at" message.
func conflictPath(msg string) string {
	i := strings.LastIndex(msg, " at ")
	if i < 0 {
		return ""
	}

	return strings.Trim(strings.TrimSpace(msg[i+len(" at "):]), "'\"")
}

// RemoveWorktree removes the worktree at path. Without force a worktree
// with uncommitted changes is refused with a DirtyError.
func (g *Git) RemoveWorktree(ctx context.Context, path string, force bool) error {
	if !force {
		files, err := g.Status(ctx, path)
		if err != nil {
			return err
		}
		if len(files) > 0 {
			names := make([]string, 0, len(files))
			for _, f := range files {
				names = append(names, f.Path)
			}

			return &DirtyError{Path: path, Files: names}
		}
	}

	args := []string{"worktree", "remove", path}
	if force {
		args = []string{"worktree", "remove", "--force", path}
	}

	if _, err := g.run(ctx, args...); err != nil {
		msg := err.Error()
		if strings.Contains(msg, "is dirty") || strings.Contains(msg, "contains modified or untracked files") {
			return fmt.Errorf("%w: %w", &DirtyError{Path: path}, err)
		}

		return fmt.Errorf("remove worktree: %w", err)
	}

	return nil
}

// PruneWorktrees removes stale worktree information.
func (g *Git) PruneWorktrees(ctx context.Context) error {
	if _, err := g.run(ctx, "worktree", "prune"); err != nil {
		return fmt.Errorf("prune worktrees: %w", err)
	}

	return nil
}
