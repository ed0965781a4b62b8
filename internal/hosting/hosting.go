// Package hosting is the code-hosting gateway: pull request creation,
// lookup, status and merge against GitHub or GitLab.
package hosting

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valksor/go-cproj/internal/apperr"
)

// PRState is the normalized pull request state.
type PRState string

const (
	PROpen    PRState = "open"
	PRMerged  PRState = "merged"
	PRClosed  PRState = "closed"
	PRUnknown PRState = "unknown"
)

// MergeStrategy selects how a pull request is merged.
type MergeStrategy string

const (
	MergeSquash MergeStrategy = "squash"
	MergeCommit MergeStrategy = "merge"
	MergeRebase MergeStrategy = "rebase"
)

// ParseMergeStrategy accepts squash, merge or rebase. Empty means squash.
func ParseMergeStrategy(s string) (MergeStrategy, error) {
	switch MergeStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", MergeSquash:
		return MergeSquash, nil
	case MergeCommit:
		return MergeCommit, nil
	case MergeRebase:
		return MergeRebase, nil
	}

	return "", fmt.Errorf("%w: unknown merge strategy %q", apperr.ErrPreconditionFailed, s)
}

var (
	// ErrPullRequestNotFound means no pull request exists for a branch.
	ErrPullRequestNotFound = fmt.Errorf("%w: pull request not found", apperr.ErrNotFound)

	// ErrNotMergeable means the host refuses to merge the pull request as is.
	ErrNotMergeable = fmt.Errorf("%w: pull request is not mergeable", apperr.ErrPreconditionFailed)

	// ErrUnsupported means the backend cannot perform the requested operation.
	ErrUnsupported = fmt.Errorf("%w: not supported by hosting backend", apperr.ErrPreconditionFailed)

	// ErrNoToken means no credentials could be resolved.
	ErrNoToken = fmt.Errorf("%w: hosting token not found", apperr.ErrPreconditionFailed)

	// ErrUnauthorized means the host rejected the credentials.
	ErrUnauthorized = fmt.Errorf("%w: hosting token unauthorized or expired", apperr.ErrExternalToolFailure)

	// ErrRateLimited means the host's API rate limit was hit.
	ErrRateLimited = fmt.Errorf("%w: hosting api rate limit exceeded", apperr.ErrExternalToolFailure)

	// ErrNetwork means the host could not be reached.
	ErrNetwork = fmt.Errorf("%w: network error communicating with hosting service", apperr.ErrExternalToolFailure)

	// ErrNoBackend means no registered backend recognizes the remote.
	ErrNoBackend = fmt.Errorf("%w: no hosting backend for remote", apperr.ErrPreconditionFailed)
)

// PullRequest is a backend-neutral view of a pull or merge request.
type PullRequest struct {
	URL       string  `json:"url"`
	Number    int64   `json:"number"`
	State     PRState `json:"state"`
	Branch    string  `json:"branch"`
	Base      string  `json:"base"`
	Title     string  `json:"title"`
	Draft     bool    `json:"draft"`
	Mergeable bool    `json:"mergeable"`
	// Reason explains why Mergeable is false when the host says so.
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// PullRequestRequest describes a pull request to open.
type PullRequestRequest struct {
	Branch    string   `json:"branch"`
	Base      string   `json:"base"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Draft     bool     `json:"draft"`
	Assignees []string `json:"assignees,omitempty"`
}

// Gateway talks to a code-hosting service.
type Gateway interface {
	// Name identifies the backend, e.g. "github".
	Name() string

	CreatePullRequest(ctx context.Context, req PullRequestRequest) (*PullRequest, error)

	// FindPullRequest returns the most recent pull request whose head is
	// branch, or ErrPullRequestNotFound.
	FindPullRequest(ctx context.Context, branch string) (*PullRequest, error)

	PullRequestStatus(ctx context.Context, prURL string) (*PullRequest, error)

	MergePullRequest(ctx context.Context, prURL string, strategy MergeStrategy, deleteBranch bool) error
}

// PullRequestNumber extracts the trailing number from a pull request URL
// such as https://github.com/o/r/pull/12 or .../-/merge_requests/7.
func PullRequestNumber(prURL string) (int64, error) {
	u, err := url.Parse(strings.TrimSpace(prURL))
	if err != nil || u.Path == "" {
		return 0, fmt.Errorf("%w: invalid pull request url %q", apperr.ErrPreconditionFailed, prURL)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return 0, fmt.Errorf("%w: invalid pull request url %q", apperr.ErrPreconditionFailed, prURL)
	}
	kind := parts[len(parts)-2]
	if kind != "pull" && kind != "pulls" && kind != "merge_requests" {
		return 0, fmt.Errorf("%w: not a pull request url %q", apperr.ErrPreconditionFailed, prURL)
	}

	n, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: invalid pull request number in %q", apperr.ErrPreconditionFailed, prURL)
	}

	return n, nil
}

// IsNotFound reports whether err means there is no pull request.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPullRequestNotFound)
}
