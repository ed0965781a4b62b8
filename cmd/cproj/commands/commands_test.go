package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/valksor/go-cproj/internal/apperr"
	"github.com/valksor/go-cproj/internal/storage"
)

// executeCommand runs the root command with args against an isolated
// configuration and data directory.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("CPROJ_DATA_DIR", t.TempDir())
	t.Setenv("CPROJ_REPO_PATH", "")
	t.Setenv("NO_COLOR", "1")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		repoFlag = ""
		portsJSON = false
		portsWorkspace = ""
		listJSON = false
		initForce = false
		initGlobal = false
	})

	err := rootCmd.ExecuteContext(context.Background())

	return out.String(), err
}

// initRepo creates an empty git repository.
func initRepo(t *testing.T) string {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	c := exec.Command("git", "init", "-q", dir)
	if out, err := c.CombinedOutput(); err != nil {
		t.Fatalf("git init: %v: %s", err, out)
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}

	return resolved
}

func TestCommands_Properties(t *testing.T) {
	tests := []struct {
		cmd     *cobra.Command
		use     string
		group   string
		hasLong bool
	}{
		{createCmd, "create <branch>", "workspace", true},
		{setupCmd, "setup [path]", "workspace", true},
		{statusCmd, "status [path]", "info", true},
		{listCmd, "list", "info", true},
		{reviewOpenCmd, "open [path]", "", true},
		{mergeCmd, "merge [path]", "review", true},
		{cleanupCmd, "cleanup", "workspace", true},
		{portsListCmd, "list", "", true},
		{portsFreeCmd, "free [offset]", "", true},
		{noteCmd, "note <text...>", "workspace", true},
		{initCmd, "init", "config", true},
		{versionCmd, "version", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.cmd.CommandPath(), func(t *testing.T) {
			if tt.cmd.Use != tt.use {
				t.Errorf("Use = %q, want %q", tt.cmd.Use, tt.use)
			}
			if tt.cmd.Short == "" {
				t.Error("Short description is empty")
			}
			if tt.hasLong && tt.cmd.Long == "" {
				t.Error("Long description is empty")
			}
			if tt.cmd.GroupID != tt.group {
				t.Errorf("GroupID = %q, want %q", tt.cmd.GroupID, tt.group)
			}
			if tt.cmd.RunE == nil {
				t.Error("RunE not set")
			}
		})
	}
}

func TestCommands_Flags(t *testing.T) {
	tests := []struct {
		cmd          *cobra.Command
		flagName     string
		shorthand    string
		defaultValue string
	}{
		{createCmd, "base", "b", ""},
		{createCmd, "no-setup", "", "false"},
		{createCmd, "no-attach", "", "false"},
		{statusCmd, "offline", "", "false"},
		{listCmd, "status", "s", "false"},
		{reviewOpenCmd, "draft", "", "false"},
		{reviewOpenCmd, "assignee", "", "[]"},
		{reviewOpenCmd, "yes", "y", "false"},
		{reviewOpenCmd, "dry-run", "", "false"},
		{mergeCmd, "strategy", "", ""},
		{mergeCmd, "force", "f", "false"},
		{mergeCmd, "keep", "", "false"},
		{mergeCmd, "yes", "y", "false"},
		{cleanupCmd, "older-than", "", "0"},
		{cleanupCmd, "newer-than", "", "0"},
		{cleanupCmd, "merged", "", "false"},
		{cleanupCmd, "pattern", "", ""},
		{cleanupCmd, "dry-run", "", "false"},
		{portsFreeCmd, "workspace", "w", ""},
		{noteCmd, "path", "p", ""},
		{initCmd, "force", "f", "false"},
	}

	for _, tt := range tests {
		t.Run(tt.cmd.Name()+"/"+tt.flagName, func(t *testing.T) {
			flag := tt.cmd.Flags().Lookup(tt.flagName)
			if flag == nil {
				t.Fatalf("flag %q not found", tt.flagName)
			}
			if flag.DefValue != tt.defaultValue {
				t.Errorf("flag %q default value = %q, want %q", tt.flagName, flag.DefValue, tt.defaultValue)
			}
			if tt.shorthand != "" && flag.Shorthand != tt.shorthand {
				t.Errorf("flag %q shorthand = %q, want %q", tt.flagName, flag.Shorthand, tt.shorthand)
			}
		})
	}
}

func TestConfirmAction(t *testing.T) {
	orig := stdinIsTerminal
	t.Cleanup(func() { stdinIsTerminal = orig })

	tests := []struct {
		name     string
		skip     bool
		terminal bool
		input    string
		want     bool
		wantErr  error
	}{
		{"skip", true, false, "", true, nil},
		{"not a terminal", false, false, "y\n", false, errConfirmationRequired},
		{"yes", false, true, "y\n", true, nil},
		{"full yes", false, true, "YES\n", true, nil},
		{"no", false, true, "n\n", false, nil},
		{"empty", false, true, "\n", false, nil},
		{"eof", false, true, "", false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdinIsTerminal = func() bool { return tt.terminal }

			cmd := &cobra.Command{}
			var out bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetIn(strings.NewReader(tt.input))

			got, err := confirmAction(cmd, "Remove things.", tt.skip)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("confirmAction() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("confirmAction() = %v, want %v", got, tt.want)
			}
			if tt.wantErr != nil && !errors.Is(err, apperr.ErrPreconditionFailed) {
				t.Error("refusal should be a precondition failure")
			}
		})
	}
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"create without branch", []string{"create"}},
		{"status too many args", []string{"status", "a", "b"}},
		{"unknown flag", []string{"list", "--bogus"}},
		{"note without text", []string{"note"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, tt.args...)
			if !errors.Is(err, ErrUsage) {
				t.Errorf("error = %v, want ErrUsage", err)
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	origVersion, origCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = origVersion, origCommit })
	Version = "1.2.3"
	Commit = "abc123"

	out, err := executeCommand(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	for _, want := range []string{"cproj 1.2.3", "abc123"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPortsList_Empty(t *testing.T) {
	out, err := executeCommand(t, "ports", "list", "--json")
	if err != nil {
		t.Fatalf("ports list: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("output = %q, want []", out)
	}
}

func TestPortsFree_NeedsOneTarget(t *testing.T) {
	_, err := executeCommand(t, "ports", "free")
	if !errors.Is(err, ErrUsage) {
		t.Errorf("error = %v, want ErrUsage", err)
	}
}

func TestList_EmptyRepository(t *testing.T) {
	repo := initRepo(t)

	out, err := executeCommand(t, "--repo", repo, "list", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("output = %q, want []", out)
	}
}

func TestInit_WritesProjectConfig(t *testing.T) {
	repo := initRepo(t)

	if _, err := executeCommand(t, "--repo", repo, "init"); err != nil {
		t.Fatalf("init: %v", err)
	}
	data, err := os.ReadFile(storage.ProjectConfigPath(repo))
	if err != nil {
		t.Fatalf("read project config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# cproj project configuration") {
		t.Errorf("project config lacks header:\n%s", data)
	}

	_, err = executeCommand(t, "--repo", repo, "init")
	if !errors.Is(err, apperr.ErrPreconditionFailed) {
		t.Errorf("second init error = %v, want precondition failure", err)
	}

	if _, err := executeCommand(t, "--repo", repo, "init", "--force"); err != nil {
		t.Errorf("init --force: %v", err)
	}
}
