// Package command builds and runs external tool invocations.
//
// Commands are always argument vectors. Nothing is ever passed through a
// shell, so branch names, paths and URLs cannot change the meaning of a
// command line no matter what they contain.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/valksor/go-cproj/internal/apperr"
	"github.com/valksor/go-cproj/internal/log"
)

// DefaultTimeout bounds a command that does not set its own timeout.
const DefaultTimeout = 2 * time.Minute

// Cmd describes one external invocation.
type Cmd struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string // appended to the process environment
	Timeout time.Duration
}

// New starts a command description for name with the given arguments.
func New(name string, args ...string) *Cmd {
	return &Cmd{Name: name, Args: append([]string(nil), args...)}
}

// Arg appends arguments.
func (c *Cmd) Arg(args ...string) *Cmd {
	c.Args = append(c.Args, args...)

	return c
}

// ArgIf appends arguments only when cond holds.
func (c *Cmd) ArgIf(cond bool, args ...string) *Cmd {
	if cond {
		c.Args = append(c.Args, args...)
	}

	return c
}

// InDir sets the working directory.
func (c *Cmd) InDir(dir string) *Cmd {
	c.Dir = dir

	return c
}

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func (c *Cmd) WithEnv(kv ...string) *Cmd {
	c.Env = append(c.Env, kv...)

	return c
}

// WithTimeout bounds the run time.
func (c *Cmd) WithTimeout(d time.Duration) *Cmd {
	c.Timeout = d

	return c
}

// String renders the argv for messages. It is not meant to be executed.
func (c *Cmd) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t\n\"'") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}

	return strings.Join(parts, " ")
}

// Result is the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Error reports a failed invocation with the tool's own output kept verbatim.
type Error struct {
	Cmd      string
	Dir      string
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(e.Stdout)
	}

	switch {
	case e.TimedOut:
		return fmt.Sprintf("%s: timed out", e.Cmd)
	case msg != "":
		return fmt.Sprintf("%s: exit %d: %s", e.Cmd, e.ExitCode, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Cmd, e.Err)
	default:
		return fmt.Sprintf("%s: exit %d", e.Cmd, e.ExitCode)
	}
}

// Unwrap exposes both the taxonomy category and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{apperr.ErrExternalToolFailure}
	}

	return []error{apperr.ErrExternalToolFailure, e.Err}
}

// Runner executes commands. Tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, c *Cmd) (*Result, error)
	LookPath(name string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// DefaultTimeout applies when a Cmd has no timeout of its own.
	DefaultTimeout time.Duration
}

// NewExecRunner returns a runner with the package default timeout.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{DefaultTimeout: DefaultTimeout}
}

// LookPath reports whether a tool is on PATH.
func (r *ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Run executes c and returns its output. A non-zero exit, a timeout or a
// spawn failure yields *Error; the Result is still returned when available.
func (r *ExecRunner) Run(ctx context.Context, c *Cmd) (*Result, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = r.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	log.Component("exec").Debug("run",
		"cmd", c.String(),
		"dir", c.Dir,
		"exit", res.ExitCode,
		log.Duration(res.Duration),
	)

	if err == nil {
		return res, nil
	}

	cerr := &Error{
		Cmd:      c.String(),
		Dir:      c.Dir,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		cerr.TimedOut = true
		cerr.Err = context.DeadlineExceeded
	case ctx.Err() != nil:
		cerr.Err = ctx.Err()
	default:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			cerr.Err = err
		}
	}

	return res, cerr
}
