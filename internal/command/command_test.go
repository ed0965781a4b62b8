package command

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/valksor/go-cproj/internal/apperr"
)

func TestCmdBuilder(t *testing.T) {
	c := New("git", "worktree", "add").
		ArgIf(true, "-b", "feature/x").
		ArgIf(false, "--force").
		Arg("/tmp/a b", "main").
		InDir("/repo").
		WithEnv("GIT_TERMINAL_PROMPT=0").
		WithTimeout(time.Second)

	want := []string{"worktree", "add", "-b", "feature/x", "/tmp/a b", "main"}
	if strings.Join(c.Args, "|") != strings.Join(want, "|") {
		t.Errorf("Args = %v, want %v", c.Args, want)
	}
	if c.Dir != "/repo" {
		t.Errorf("Dir = %q, want %q", c.Dir, "/repo")
	}
	if got := c.String(); got != `git worktree add -b feature/x "/tmp/a b" main` {
		t.Errorf("String() = %q", got)
	}
}

func TestCmdArgumentsAreNotInterpreted(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}

	payload := "x; rm -rf / $(whoami) `id`"
	res, err := NewExecRunner().Run(context.Background(), New("echo", payload))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != payload {
		t.Errorf("Stdout = %q, want %q", res.Stdout, payload)
	}
}

func TestExecRunnerFailureKeepsStderr(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	_, err := NewExecRunner().Run(context.Background(), New("sh", "-c", "echo 'fatal: nope' >&2; exit 3"))
	if err == nil {
		t.Fatal("expected error")
	}

	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if cerr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", cerr.ExitCode)
	}
	if !strings.Contains(err.Error(), "fatal: nope") {
		t.Errorf("Error() = %q, want verbatim stderr", err.Error())
	}
	if !errors.Is(err, apperr.ErrExternalToolFailure) {
		t.Error("expected ErrExternalToolFailure category")
	}
}

func TestExecRunnerTimeout(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	_, err := NewExecRunner().Run(context.Background(), New("sleep", "5").WithTimeout(50*time.Millisecond))

	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if !cerr.TimedOut {
		t.Error("TimedOut = false, want true")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected context.DeadlineExceeded in chain")
	}
}

func TestFakeRunner(t *testing.T) {
	f := NewFakeRunner("uv").
		Fail("npm ci", "npm ERR! missing lockfile").
		On("npm", func(c *Cmd) (*Result, error) { return &Result{Stdout: "generic"}, nil })

	if _, err := f.LookPath("uv"); err != nil {
		t.Errorf("LookPath(uv) = %v", err)
	}
	if _, err := f.LookPath("pnpm"); err == nil {
		t.Error("LookPath(pnpm) should fail")
	}

	if _, err := f.Run(context.Background(), New("npm", "ci")); err == nil {
		t.Error("npm ci should fail")
	}
	res, err := f.Run(context.Background(), New("npm", "install"))
	if err != nil || res.Stdout != "generic" {
		t.Errorf("npm install = %v, %v", res, err)
	}

	if got := f.Commands(); len(got) != 2 || got[0] != "npm ci" {
		t.Errorf("Commands() = %v", got)
	}
}
