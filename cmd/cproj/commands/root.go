package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/valksor/go-cproj/internal/config"
	"github.com/valksor/go-cproj/internal/display"
	"github.com/valksor/go-cproj/internal/log"
)

// ErrUsage marks errors caused by invalid flags or arguments.
var ErrUsage = errors.New("usage error")

var (
	cfg *config.Config

	// Global flags.
	repoFlag string
	verbose  bool
	quiet    bool
	noColor  bool
	logJSON  bool

	// lastWorkspace is the workspace the running command acted on, used
	// for error suggestions.
	lastWorkspace string
)

var rootCmd = &cobra.Command{
	Use:   "cproj",
	Short: "Parallel git worktree workspaces",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	Long: `cproj creates isolated git worktree workspaces for parallel work on one
repository and walks each of them through commit, push, review, merge and
cleanup.

Every workspace gets its own branch, copied .env files, installed
dependencies (Python, Node, Java), a reserved port offset and a metadata
record in .cproj/.agent.json.

Quick Start:
  cproj create feature/login   Create a workspace
  cproj status                 Where is this workspace in its lifecycle?
  cproj review open            Push and open a pull request
  cproj merge                  Merge the pull request and remove the workspace
  cproj cleanup --merged       Remove workspaces whose work has landed`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.Configure(log.Options{
			Verbose: verbose,
			Quiet:   quiet,
			JSON:    logJSON,
		})

		display.InitColors(noColor)

		// Dotenv first so CPROJ_* overrides from .env files reach the config.
		if err := config.LoadDotEnv(dotEnvRepo()); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env: %v\n", err)
		}

		var err error
		cfg, err = config.Load(config.Path())
		if err != nil {
			return err
		}

		log.Debug("initialized", "config", config.Path(), "temp_root", cfg.TempRoot)

		return nil
	},
}

// dotEnvRepo guesses the repository whose .cproj/.env should be loaded
// before the configuration exists.
func dotEnvRepo() string {
	if repoFlag != "" {
		return repoFlag
	}
	if v := os.Getenv("CPROJ_REPO_PATH"); v != "" {
		return v
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	return cwd
}

// Execute runs the root command with signal handling.
func Execute() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil && strings.HasPrefix(err.Error(), "unknown command") {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}

	return err
}

// LastWorkspace returns the workspace path the last command acted on.
func LastWorkspace() string {
	return lastWorkspace
}

// usageArgs wraps a cobra argument validator so its errors carry ErrUsage.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return fmt.Errorf("%w: %w", ErrUsage, err)
		}

		return nil
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "", "Canonical repository (default: current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable color output")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs as JSON")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	})

	rootCmd.AddGroup(&cobra.Group{
		ID:    "workspace",
		Title: "Workspace Commands:",
	}, &cobra.Group{
		ID:    "review",
		Title: "Review Commands:",
	}, &cobra.Group{
		ID:    "info",
		Title: "Information Commands:",
	}, &cobra.Group{
		ID:    "config",
		Title: "Configuration Commands:",
	})
}
