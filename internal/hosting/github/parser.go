package github

import (
	"fmt"
	"net/url"
	"strings"
)

// DetectRepository parses the GitHub owner/repo from a git remote URL.
// Supports:
//   - git@github.com:owner/repo.git
//   - ssh://git@github.com/owner/repo.git
//   - https://github.com/owner/repo(.git)
//
// host may name a GitHub Enterprise server instead of github.com.
func DetectRepository(remoteURL, host string) (string, string, error) {
	remoteURL = strings.TrimSpace(remoteURL)
	if remoteURL == "" {
		return "", "", ErrRepoNotDetected
	}
	if host == "" {
		host = "github.com"
	}
	host = hostOnly(host)

	var path string
	switch {
	case strings.HasPrefix(remoteURL, "git@"+host+":"):
		path = strings.TrimPrefix(remoteURL, "git@"+host+":")
	default:
		u, err := url.Parse(remoteURL)
		if err != nil || !strings.EqualFold(u.Hostname(), host) {
			return "", "", fmt.Errorf("%w: not a GitHub URL: %s", ErrRepoNotDetected, remoteURL)
		}
		path = u.Path
	}

	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: unexpected path in %s", ErrRepoNotDetected, remoteURL)
	}

	return parts[0], parts[1], nil
}

// IsGitHubRemote reports whether remoteURL points at github.com.
func IsGitHubRemote(remoteURL string) bool {
	_, _, err := DetectRepository(remoteURL, "")

	return err == nil
}

func hostOnly(host string) string {
	if u, err := url.Parse(host); err == nil && u.Host != "" {
		return u.Hostname()
	}

	return strings.TrimSuffix(host, "/")
}
