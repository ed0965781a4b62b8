package workflow

import (
	"fmt"

	"github.com/valksor/go-cproj/internal/apperr"
)

var (
	// ErrTransitionNotAllowed means a guard of the requested operation failed.
	ErrTransitionNotAllowed = fmt.Errorf("%w: operation not allowed in this state", apperr.ErrPreconditionFailed)

	// ErrDirtyWorkspace means the clean guard failed.
	ErrDirtyWorkspace = fmt.Errorf("%w: workspace has uncommitted changes", apperr.ErrPreconditionFailed)
)

// Guard is a named predicate that must hold for an operation.
type Guard struct {
	Name      string
	Check     func(f Facts) bool
	Reason    string // Shown when Check fails
	Forceable bool   // Skipped when the caller forces the operation
	Err       error  // Wrapped by the GuardError; ErrTransitionNotAllowed when nil
}

// GuardError reports the first guard that failed.
type GuardError struct {
	Op     Operation
	Guard  string
	Reason string
	State  State
	err    error
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("cannot %s: %s (state %s)", e.Op, e.Reason, e.State)
}

func (e *GuardError) Unwrap() error {
	return e.err
}

// GuardClean requires no uncommitted changes.
var GuardClean = Guard{
	Name:      "clean",
	Check:     func(f Facts) bool { return !f.Dirty },
	Reason:    "workspace has uncommitted changes",
	Forceable: true,
	Err:       ErrDirtyWorkspace,
}

// GuardAhead requires at least one commit ahead of base.
var GuardAhead = Guard{
	Name:   "ahead",
	Check:  func(f Facts) bool { return f.AheadOfBase > 0 },
	Reason: "branch has no commits ahead of base",
}

// GuardNotClosed requires the workspace not to be closed.
var GuardNotClosed = Guard{
	Name:   "not-closed",
	Check:  func(f Facts) bool { return !f.Closed },
	Reason: "workspace is already closed",
}

// GuardPRNotClosed refuses a pull request closed without merging.
var GuardPRNotClosed = Guard{
	Name:   "pr-not-closed",
	Check:  func(f Facts) bool { return f.PR != PRClosed },
	Reason: "pull request was closed without merging",
}

// EvaluateGuards returns the first failing guard, skipping forceable ones
// when force is set.
func EvaluateGuards(f Facts, guards []Guard, force bool) (Guard, bool) {
	for _, g := range guards {
		if force && g.Forceable {
			continue
		}
		if !g.Check(f) {
			return g, false
		}
	}

	return Guard{}, true
}
