package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/valksor/go-cproj/internal/apperr"
	"github.com/valksor/go-cproj/internal/command"
	"github.com/valksor/go-cproj/internal/config"
	"github.com/valksor/go-cproj/internal/display"
	"github.com/valksor/go-cproj/internal/hosting"
	"github.com/valksor/go-cproj/internal/hosting/github"
	"github.com/valksor/go-cproj/internal/hosting/gitlab"
	"github.com/valksor/go-cproj/internal/lifecycle"
	"github.com/valksor/go-cproj/internal/log"
	"github.com/valksor/go-cproj/internal/ports"
	"github.com/valksor/go-cproj/internal/secrets"
	"github.com/valksor/go-cproj/internal/vcs"
)

// hostingMode says how much a command depends on the code host.
type hostingMode int

const (
	hostingOff      hostingMode = iota // Never contacted
	hostingOptional                    // Used when available; failures degrade to warnings
	hostingRequired                    // Failures abort the command
)

// session bundles the engine and the resources it holds open.
type session struct {
	engine *lifecycle.Engine
	pool   *ports.Allocator
}

func (s *session) Close() {
	if s.pool != nil {
		_ = s.pool.Close()
	}
}

// openRepo resolves the canonical repository from --repo, the configured
// repo_path or the current directory. Running inside a workspace resolves
// to the repository it belongs to.
func openRepo(ctx context.Context) (*vcs.Git, error) {
	path := repoFlag
	if path == "" {
		path = cfg.RepoPath
	}
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		path = cwd
	}

	g, err := vcs.New(ctx, path, vcs.WithTimeout(cfg.Timeouts.Git))
	if err != nil {
		return nil, err
	}

	return g.Canonical(ctx)
}

// openSession builds the lifecycle engine for the current repository.
func openSession(ctx context.Context, mode hostingMode) (*session, error) {
	repo, err := openRepo(ctx)
	if err != nil {
		return nil, err
	}

	s := &session{}
	var opts []lifecycle.Option

	if cfg.Ports.Enabled {
		pool, err := openPool(ctx)
		if err != nil {
			return nil, err
		}
		s.pool = pool
		opts = append(opts, lifecycle.WithPorts(pool))
	}

	if mode != hostingOff {
		gw, err := openHosting(ctx, repo)
		switch {
		case err != nil && mode == hostingRequired:
			s.Close()

			return nil, err
		case err != nil:
			log.WarnContext(ctx, "code host unavailable", log.Err(err))
		case gw != nil:
			opts = append(opts, lifecycle.WithHosting(gw))
		}
	}

	engine, err := lifecycle.New(cfg, repo, opts...)
	if err != nil {
		s.Close()

		return nil, err
	}
	s.engine = engine

	return s, nil
}

func openPool(ctx context.Context) (*ports.Allocator, error) {
	return ports.Open(ctx, cfg.PortsDBPath(), cfg.Ports.PoolSize)
}

// newHostingRegistry returns the registry of supported code hosts.
func newHostingRegistry() *hosting.Registry {
	r := hosting.NewRegistry()
	github.Register(r)
	gitlab.Register(r)

	return r
}

// openHosting connects to the code host serving the origin remote. It
// returns nil without error when hosting is disabled.
func openHosting(ctx context.Context, repo *vcs.Git) (hosting.Gateway, error) {
	if cfg.Hosting.Provider == config.ProviderNone {
		return nil, nil
	}

	remoteURL, err := repo.RemoteURL(ctx, vcs.DefaultRemote)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", hosting.ErrNoBackend, err)
	}

	registry := newHostingRegistry()
	provider := cfg.Hosting.Provider
	if provider == config.ProviderAuto || provider == "" {
		name, ok := registry.Detect(remoteURL)
		if !ok && cfg.Hosting.GitLabHost != "" && strings.Contains(remoteURL, cfg.Hosting.GitLabHost) {
			name, ok = gitlab.Name, true
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", hosting.ErrNoBackend, remoteURL)
		}
		provider = name
	}

	tok, err := resolveToken(ctx)
	if err != nil {
		return nil, err
	}

	hc := hosting.Config{
		RemoteURL: remoteURL,
		Token:     tok,
		Runner:    command.NewExecRunner(),
	}
	if provider == gitlab.Name {
		hc.Host = cfg.Hosting.GitLabHost
	}

	return registry.Open(ctx, provider, hc)
}

// resolveToken resolves hosting.token, which may be a secret reference.
func resolveToken(ctx context.Context) (string, error) {
	identity := os.Getenv(secrets.IdentityEnv)
	if identity == "" {
		identity = filepath.Join(config.DefaultDir(), "age.key")
	}

	r := secrets.NewResolver(
		secrets.WithTimeout(cfg.Timeouts.Secret),
		secrets.WithIdentity(identity),
	)

	return r.Resolve(ctx, cfg.Hosting.Token)
}

// workspaceArg returns the workspace path named by args, or the current
// directory.
func workspaceArg(args []string) (string, error) {
	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		path = cwd
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	lastWorkspace = abs

	return abs, nil
}

// stdinIsTerminal is replaced in tests.
var stdinIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// errConfirmationRequired refuses destructive commands without a terminal.
var errConfirmationRequired = fmt.Errorf("%w: confirmation required but stdin is not a terminal; re-run with --yes", apperr.ErrPreconditionFailed)

// confirmAction prompts the user for confirmation unless skipConfirm is true.
// Returns true if the action should proceed, false if cancelled.
func confirmAction(cmd *cobra.Command, prompt string, skipConfirm bool) (bool, error) {
	if skipConfirm {
		return true, nil
	}
	if !stdinIsTerminal() {
		return false, errConfirmationRequired
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s\nAre you sure? [y/N]: ", prompt)

	reader := bufio.NewReader(cmd.InOrStdin())
	response, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read response: %w", err)
	}

	response = strings.TrimSpace(strings.ToLower(response))

	return response == "y" || response == "yes", nil
}

// printJSON writes v as indented JSON.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// infof prints a line unless --quiet is set.
func infof(cmd *cobra.Command, format string, args ...any) {
	if quiet {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}

// warnAll prints warnings to stderr.
func warnAll(cmd *cobra.Command, warnings []string) {
	fmt.Fprint(cmd.ErrOrStderr(), display.FormatWarnings(warnings))
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
