// Package secrets resolves secret references used in configuration.
//
// Supported forms:
//   - op://vault/item/field  read through the 1Password CLI
//   - env:NAME               read from the environment
//   - age:/path/file.age     decrypted with the user's age identity
//   - file:/path/token       read from a file
//
// Anything else is returned as a literal. Resolved values are only held in
// memory; callers must not persist them.
package secrets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/valksor/go-cproj/internal/apperr"
	"github.com/valksor/go-cproj/internal/command"
)

// IdentityEnv names the age identity file override.
const IdentityEnv = "CPROJ_AGE_IDENTITY"

// DefaultTimeout bounds a secret manager lookup.
const DefaultTimeout = 10 * time.Second

// ErrUnresolved means a reference could not be turned into a value.
var ErrUnresolved = fmt.Errorf("%w: secret reference could not be resolved", apperr.ErrPreconditionFailed)

// Resolver turns references into values.
type Resolver struct {
	runner       command.Runner
	timeout      time.Duration
	identityPath string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRunner sets the command runner used for op.
func WithRunner(r command.Runner) Option {
	return func(res *Resolver) { res.runner = r }
}

// WithTimeout bounds each secret manager call.
func WithTimeout(d time.Duration) Option {
	return func(res *Resolver) { res.timeout = d }
}

// WithIdentity sets the age identity file. Defaults to $CPROJ_AGE_IDENTITY.
func WithIdentity(path string) Option {
	return func(res *Resolver) { res.identityPath = path }
}

// NewResolver creates a resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		runner:       command.NewExecRunner(),
		timeout:      DefaultTimeout,
		identityPath: os.Getenv(IdentityEnv),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// IsReference reports whether value uses one of the reference forms.
func IsReference(value string) bool {
	for _, prefix := range []string{"op://", "env:", "age:", "file:"} {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}

	return false
}

// Resolve returns the value behind ref. An empty ref yields "".
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)

	switch {
	case ref == "":
		return "", nil
	case strings.HasPrefix(ref, "op://"):
		return r.onePassword(ctx, ref)
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		val, ok := os.LookupEnv(name)
		if !ok || val == "" {
			return "", fmt.Errorf("%w: environment variable %s is not set", ErrUnresolved, name)
		}

		return val, nil
	case strings.HasPrefix(ref, "file:"):
		data, err := os.ReadFile(expandHome(strings.TrimPrefix(ref, "file:")))
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrUnresolved, err)
		}

		return strings.TrimSpace(string(data)), nil
	case strings.HasPrefix(ref, "age:"):
		return r.ageFile(expandHome(strings.TrimPrefix(ref, "age:")))
	}

	return ref, nil
}

func (r *Resolver) onePassword(ctx context.Context, ref string) (string, error) {
	if _, err := r.runner.LookPath("op"); err != nil {
		return "", fmt.Errorf("%w: 1Password CLI (op) not found for %s", ErrUnresolved, ref)
	}

	res, err := r.runner.Run(ctx, command.New("op", "read", "--no-newline", ref).WithTimeout(r.timeout))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", ref, err)
	}

	return strings.TrimRight(res.Stdout, "\r\n"), nil
}

func (r *Resolver) ageFile(path string) (string, error) {
	if r.identityPath == "" {
		return "", fmt.Errorf("%w: no age identity configured (set %s)", ErrUnresolved, IdentityEnv)
	}

	keys, err := os.Open(expandHome(r.identityPath))
	if err != nil {
		return "", fmt.Errorf("%w: open age identity: %w", ErrUnresolved, err)
	}
	defer func() { _ = keys.Close() }()

	identities, err := age.ParseIdentities(keys)
	if err != nil {
		return "", fmt.Errorf("%w: parse age identity: %w", ErrUnresolved, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnresolved, err)
	}

	var src io.Reader = bytes.NewReader(data)
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte(armor.Header)) {
		src = armor.NewReader(bytes.NewReader(bytes.TrimSpace(data)))
	}

	plain, err := age.Decrypt(src, identities...)
	if err != nil {
		return "", fmt.Errorf("%w: decrypt %s: %w", ErrUnresolved, path, err)
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("%w: read decrypted %s: %w", ErrUnresolved, path, err)
	}

	return strings.TrimSpace(string(out)), nil
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}

	return path
}
