package github

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/google/go-github/v67/github"

	"github.com/valksor/go-cproj/internal/hosting"
)

// ErrRepoNotDetected means the remote URL does not name a GitHub repository.
var ErrRepoNotDetected = fmt.Errorf("%w: could not detect github repository from remote", hosting.ErrNoBackend)

// wrapAPIError converts GitHub API errors to hosting errors.
func wrapAPIError(err error) error {
	if err == nil {
		return nil
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("%w: retry after %s", hosting.ErrRateLimited, rateErr.Rate.Reset.Time)
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %w", hosting.ErrUnauthorized, err)
		case http.StatusForbidden:
			if strings.Contains(strings.ToLower(ghErr.Message), "rate limit") {
				return fmt.Errorf("%w: retry after %s", hosting.ErrRateLimited,
					ghErr.Response.Header.Get("X-RateLimit-Reset"))
			}

			return fmt.Errorf("%w: token lacks required scope: %w", hosting.ErrUnauthorized, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", hosting.ErrPullRequestNotFound, err)
		case http.StatusMethodNotAllowed, http.StatusConflict:
			return fmt.Errorf("%w: %s", hosting.ErrNotMergeable, ghErr.Message)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", hosting.ErrNetwork, err)
	}

	return err
}
