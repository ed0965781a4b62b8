package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// initTestRepo initializes a git repository with one commit on main.
func initTestRepo(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := filepath.Join(t.TempDir(), "repo")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	mustGit(t, dir, "init", "-b", "main")
	mustGit(t, dir, "config", "user.email", "test@example.com")
	mustGit(t, dir, "config", "user.name", "Test User")
	writeFile(t, filepath.Join(dir, "README.md"), "# Test\n")
	mustGit(t, dir, "add", ".")
	mustGit(t, dir, "commit", "-m", "initial")

	return dir
}

// initTestRepoWithOrigin adds a bare origin to a fresh repo and pushes main.
func initTestRepoWithOrigin(t *testing.T) (repo, origin string) {
	t.Helper()
	repo = initTestRepo(t)

	origin = filepath.Join(t.TempDir(), "origin.git")
	mustGit(t, filepath.Dir(origin), "init", "--bare", "-b", "main", origin)
	mustGit(t, repo, "remote", "add", "origin", origin)
	mustGit(t, repo, "push", "-u", "origin", "main")
	mustGit(t, repo, "remote", "set-head", "origin", "main")

	return repo, origin
}

// pushFromClone commits a file on branch through a separate clone of origin.
func pushFromClone(t *testing.T, origin, branch, file string) {
	t.Helper()
	clone := filepath.Join(t.TempDir(), "clone")
	mustGit(t, filepath.Dir(clone), "clone", origin, clone)
	mustGit(t, clone, "config", "user.email", "test@example.com")
	mustGit(t, clone, "config", "user.name", "Test User")
	mustGit(t, clone, "checkout", "-B", branch, "origin/"+branch)
	writeFile(t, filepath.Join(clone, file), file+"\n")
	mustGit(t, clone, "add", ".")
	mustGit(t, clone, "commit", "-m", "add "+file)
	mustGit(t, clone, "push", "origin", branch)
}

func mustGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.CommandContext(context.Background(), "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}

	return strings.TrimSpace(string(out))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func newTestGit(t *testing.T, dir string) *Git {
	t.Helper()
	g, err := New(context.Background(), dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return g
}
