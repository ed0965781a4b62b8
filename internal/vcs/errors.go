package vcs

import (
	"errors"
	"fmt"

	"github.com/valksor/go-cproj/internal/apperr"
)

var (
	// ErrRepositoryNotFound means the path is not inside a git repository.
	ErrRepositoryNotFound = fmt.Errorf("%w: repository not found", apperr.ErrPreconditionFailed)

	// ErrWorktreeConflict means the branch is already checked out elsewhere.
	ErrWorktreeConflict = fmt.Errorf("%w: branch already checked out", apperr.ErrPreconditionFailed)

	// ErrDirtyWorkingCopy means the worktree has uncommitted changes.
	ErrDirtyWorkingCopy = fmt.Errorf("%w: working copy has uncommitted changes", apperr.ErrPreconditionFailed)

	// ErrBranchNotFound means a branch exists neither locally nor on the remote.
	ErrBranchNotFound = fmt.Errorf("%w: branch not found", apperr.ErrPreconditionFailed)

	// ErrBranchExists means a branch exists and attaching was not allowed.
	ErrBranchExists = fmt.Errorf("%w: branch already exists", apperr.ErrPreconditionFailed)

	// ErrPathExists means the worktree target path is already taken.
	ErrPathExists = fmt.Errorf("%w: path already exists", apperr.ErrPreconditionFailed)

	// ErrInvalidBranchName means a branch name failed validation.
	ErrInvalidBranchName = fmt.Errorf("%w: invalid branch name", apperr.ErrPreconditionFailed)
)

// ConflictError names the worktree that already holds a branch.
type ConflictError struct {
	Branch string
	Path   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("branch %q is already checked out at %s", e.Branch, e.Path)
}

// Unwrap makes errors.Is(err, ErrWorktreeConflict) hold.
func (e *ConflictError) Unwrap() error {
	return ErrWorktreeConflict
}

// DirtyError carries the worktree path and the first changed files.
type DirtyError struct {
	Path  string
	Files []string
}

func (e *DirtyError) Error() string {
	if len(e.Files) == 0 {
		return fmt.Sprintf("%s has uncommitted changes", e.Path)
	}

	return fmt.Sprintf("%s has uncommitted changes (%d files, e.g. %s)", e.Path, len(e.Files), e.Files[0])
}

// Unwrap makes errors.Is(err, ErrDirtyWorkingCopy) hold.
func (e *DirtyError) Unwrap() error {
	return ErrDirtyWorkingCopy
}

// AsConflict extracts a ConflictError from err.
func AsConflict(err error) (*ConflictError, bool) {
	var c *ConflictError
	ok := errors.As(err, &c)

	return c, ok
}
