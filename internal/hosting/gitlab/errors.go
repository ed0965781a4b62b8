package gitlab

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/valksor/go-cproj/internal/hosting"
)

// ErrProjectNotDetected means the remote URL does not name a GitLab project.
var ErrProjectNotDetected = fmt.Errorf("%w: could not detect gitlab project from remote", hosting.ErrNoBackend)

// wrapAPIError converts GitLab API errors to hosting errors.
func wrapAPIError(err error) error {
	if err == nil {
		return nil
	}

	status := 0
	var glErr *gitlab.ErrorResponse
	if errors.As(err, &glErr) && glErr.Response != nil {
		status = glErr.Response.StatusCode
	}
	errMsg := err.Error()

	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", hosting.ErrUnauthorized, err)
	case status == http.StatusTooManyRequests,
		status == http.StatusForbidden && strings.Contains(errMsg, "rate limit"):
		return fmt.Errorf("%w: %w", hosting.ErrRateLimited, err)
	case status == http.StatusForbidden:
		return fmt.Errorf("%w: token lacks required scope: %w", hosting.ErrUnauthorized, err)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %w", hosting.ErrPullRequestNotFound, err)
	case status == http.StatusMethodNotAllowed, status == http.StatusNotAcceptable, status == http.StatusConflict:
		return fmt.Errorf("%w: %w", hosting.ErrNotMergeable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", hosting.ErrNetwork, err)
	}

	return err
}
