package gitlab

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultHost is used when no self-managed host is configured.
const DefaultHost = "gitlab.com"

// DetectProject parses the project path (group/sub/project) from a git
// remote URL on host.
func DetectProject(remoteURL, host string) (string, error) {
	remoteURL = strings.TrimSpace(remoteURL)
	if remoteURL == "" {
		return "", ErrProjectNotDetected
	}
	host = hostOnly(host)

	var path string
	if rest, ok := strings.CutPrefix(remoteURL, "git@"+host+":"); ok {
		path = rest
	} else {
		u, err := url.Parse(remoteURL)
		if err != nil || !strings.EqualFold(u.Hostname(), host) {
			return "", fmt.Errorf("%w: not a GitLab URL: %s", ErrProjectNotDetected, remoteURL)
		}
		path = u.Path
	}

	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	if strings.Count(path, "/") < 1 || strings.Contains(path, "//") {
		return "", fmt.Errorf("%w: unexpected path in %s", ErrProjectNotDetected, remoteURL)
	}

	return path, nil
}

// IsGitLabRemote reports whether remoteURL points at gitlab.com.
func IsGitLabRemote(remoteURL string) bool {
	_, err := DetectProject(remoteURL, DefaultHost)

	return err == nil
}

func hostOnly(host string) string {
	if host == "" {
		return DefaultHost
	}
	if u, err := url.Parse(host); err == nil && u.Host != "" {
		return u.Hostname()
	}

	return strings.TrimSuffix(host, "/")
}
