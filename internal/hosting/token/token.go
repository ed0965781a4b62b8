// Package token resolves hosting credentials from the environment, the
// configuration and provider CLIs.
package token

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/valksor/go-cproj/internal/command"
	"github.com/valksor/go-cproj/internal/hosting"
)

// EnvPrefix namespaces cproj's own token variables, e.g. CPROJ_GITHUB_TOKEN.
const EnvPrefix = "CPROJ_"

// cliTimeout bounds CLI fallbacks such as `gh auth token`.
const cliTimeout = 5 * time.Second

// Source defines where a backend's token may come from.
type Source struct {
	// Provider builds the CPROJ_{PROVIDER}_TOKEN variable. Uppercase.
	Provider string

	// EnvVars are checked after the prefixed variable, in order.
	EnvVars []string

	// ConfigToken comes from the config file, already secret-resolved.
	ConfigToken string

	// CLI is an optional last resort.
	CLI func(ctx context.Context) string
}

// For starts a Source with the config token.
func For(provider, configToken string) Source {
	return Source{Provider: provider, ConfigToken: configToken}
}

// WithEnvVars adds fallback environment variables.
func (s Source) WithEnvVars(vars ...string) Source {
	s.EnvVars = append(s.EnvVars, vars...)

	return s
}

// WithCLI sets the CLI fallback.
func (s Source) WithCLI(fn func(ctx context.Context) string) Source {
	s.CLI = fn

	return s
}

// Resolve returns the first token found.
// Priority order:
//  1. CPROJ_{PROVIDER}_TOKEN env var
//  2. EnvVars (e.g., GITHUB_TOKEN)
//  3. ConfigToken
//  4. CLI result
//
// Returns hosting.ErrNoToken if none is found.
func Resolve(ctx context.Context, s Source) (string, error) {
	if s.Provider != "" {
		if tok := os.Getenv(EnvPrefix + s.Provider + "_TOKEN"); tok != "" {
			return tok, nil
		}
	}

	for _, name := range s.EnvVars {
		if tok := os.Getenv(name); tok != "" {
			return tok, nil
		}
	}

	if s.ConfigToken != "" {
		return s.ConfigToken, nil
	}

	if s.CLI != nil {
		if tok := s.CLI(ctx); tok != "" {
			return tok, nil
		}
	}

	return "", hosting.ErrNoToken
}

// FromCLI returns a CLI fallback that runs name with args and uses its
// trimmed stdout. Failures yield "".
func FromCLI(runner command.Runner, name string, args ...string) func(ctx context.Context) string {
	return func(ctx context.Context) string {
		if runner == nil {
			runner = command.NewExecRunner()
		}
		if _, err := runner.LookPath(name); err != nil {
			return ""
		}
		res, err := runner.Run(ctx, command.New(name, args...).WithTimeout(cliTimeout))
		if err != nil {
			return ""
		}

		return strings.TrimSpace(res.Stdout)
	}
}
