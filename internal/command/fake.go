package command

import (
	"context"
	"os/exec"
	"strings"
	"sync"
)

// FakeRunner records invocations and answers them from canned handlers.
// It is used by tests of packages that shell out through a Runner.
type FakeRunner struct {
	mu sync.Mutex

	// Tools lists binaries LookPath should find.
	Tools map[string]bool

	// Handlers are matched by the rendered command prefix, longest first.
	Handlers map[string]func(c *Cmd) (*Result, error)

	Calls []*Cmd
}

// NewFakeRunner returns a fake that knows the given tools.
func NewFakeRunner(tools ...string) *FakeRunner {
	f := &FakeRunner{
		Tools:    make(map[string]bool),
		Handlers: make(map[string]func(c *Cmd) (*Result, error)),
	}
	for _, t := range tools {
		f.Tools[t] = true
	}

	return f
}

// On registers a handler for commands whose rendered form starts with prefix.
func (f *FakeRunner) On(prefix string, h func(c *Cmd) (*Result, error)) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Handlers[prefix] = h

	return f
}

// Fail makes commands with the given prefix exit 1 with stderr.
func (f *FakeRunner) Fail(prefix, stderr string) *FakeRunner {
	return f.On(prefix, func(c *Cmd) (*Result, error) {
		res := &Result{Stderr: stderr, ExitCode: 1}

		return res, &Error{Cmd: c.String(), Dir: c.Dir, ExitCode: 1, Stderr: stderr}
	})
}

// LookPath implements Runner.
func (f *FakeRunner) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Tools[name] {
		return "/usr/bin/" + name, nil
	}

	return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
}

// Run implements Runner.
func (f *FakeRunner) Run(_ context.Context, c *Cmd) (*Result, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, c)
	rendered := c.String()
	var (
		best    string
		handler func(c *Cmd) (*Result, error)
	)
	for prefix, h := range f.Handlers {
		if strings.HasPrefix(rendered, prefix) && len(prefix) >= len(best) {
			best, handler = prefix, h
		}
	}
	f.mu.Unlock()

	if handler != nil {
		return handler(c)
	}

	return &Result{}, nil
}

// Commands returns the rendered form of every recorded call.
func (f *FakeRunner) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.Calls))
	for _, c := range f.Calls {
		out = append(out, c.String())
	}

	return out
}
