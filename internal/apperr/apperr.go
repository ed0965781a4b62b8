// Package apperr defines the error taxonomy shared by all cproj components.
//
// Component packages declare their own sentinels and wrap one of these so a
// caller can match either the specific failure or its category:
//
//	var ErrDirtyWorkingCopy = fmt.Errorf("%w: working copy has uncommitted changes", apperr.ErrPreconditionFailed)
//
//	errors.Is(err, vcs.ErrDirtyWorkingCopy)     // specific
//	errors.Is(err, apperr.ErrPreconditionFailed) // category
package apperr

import "errors"

var (
	// ErrPreconditionFailed aborts a transition before any mutation.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrExternalToolFailure is a non-zero exit or API failure of git, the
	// code host or a package manager. It is never retried automatically.
	ErrExternalToolFailure = errors.New("external tool failed")

	// ErrResourceExhausted means a bounded pool has no free slot.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrPartialSetupFailure means the workspace exists but some setup
	// step failed. Re-running setup is the recovery path.
	ErrPartialSetupFailure = errors.New("partial setup failure")

	// ErrStaleMetadata means recorded metadata disagrees with live facts.
	ErrStaleMetadata = errors.New("stale metadata")

	// ErrNotFound is returned when a record or resource does not exist.
	ErrNotFound = errors.New("not found")
)

// Category returns the taxonomy sentinel err belongs to, or nil.
func Category(err error) error {
	for _, c := range []error{
		ErrPreconditionFailed,
		ErrResourceExhausted,
		ErrPartialSetupFailure,
		ErrExternalToolFailure,
		ErrStaleMetadata,
		ErrNotFound,
	} {
		if errors.Is(err, c) {
			return c
		}
	}

	return nil
}
