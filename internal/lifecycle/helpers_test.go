package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/valksor/go-cproj/internal/command"
	"github.com/valksor/go-cproj/internal/config"
	"github.com/valksor/go-cproj/internal/environment"
	"github.com/valksor/go-cproj/internal/hosting"
	"github.com/valksor/go-cproj/internal/ports"
	"github.com/valksor/go-cproj/internal/storage"
	"github.com/valksor/go-cproj/internal/vcs"
)

// fakeHost is an in-memory code host.
type fakeHost struct {
	mu        sync.Mutex
	byBranch  map[string]*hosting.PullRequest
	created   int
	merges    int
	next      int64
	mergeErr  error
	createErr error
	strategy  hosting.MergeStrategy
	// unmergeable makes new pull requests report a conflict.
	unmergeable bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{byBranch: map[string]*hosting.PullRequest{}}
}

func (f *fakeHost) Name() string { return "fake" }

func (f *fakeHost) CreatePullRequest(_ context.Context, req hosting.PullRequestRequest) (*hosting.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}

	f.next++
	f.created++
	pr := &hosting.PullRequest{
		URL:       fmt.Sprintf("https://example.test/acme/repo/pull/%d", f.next),
		Number:    f.next,
		State:     hosting.PROpen,
		Branch:    req.Branch,
		Base:      req.Base,
		Title:     req.Title,
		Draft:     req.Draft,
		Mergeable: !f.unmergeable,
	}
	if f.unmergeable {
		pr.Reason = "merge conflicts"
	}
	f.byBranch[req.Branch] = pr
	cp := *pr

	return &cp, nil
}

func (f *fakeHost) FindPullRequest(_ context.Context, branch string) (*hosting.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pr, ok := f.byBranch[branch]
	if !ok {
		return nil, hosting.ErrPullRequestNotFound
	}
	cp := *pr

	return &cp, nil
}

func (f *fakeHost) PullRequestStatus(_ context.Context, prURL string) (*hosting.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pr := range f.byBranch {
		if pr.URL == prURL {
			cp := *pr

			return &cp, nil
		}
	}

	return nil, hosting.ErrPullRequestNotFound
}

func (f *fakeHost) MergePullRequest(_ context.Context, prURL string, strategy hosting.MergeStrategy, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mergeErr != nil {
		return f.mergeErr
	}
	for _, pr := range f.byBranch {
		if pr.URL == prURL {
			pr.State = hosting.PRMerged
			f.merges++
			f.strategy = strategy

			return nil
		}
	}

	return hosting.ErrPullRequestNotFound
}

// clock advances one second per reading so workspace paths never collide.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)

	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	repo    string
	origin  string
	cfg     *config.Config
	host    *fakeHost
	runner  *command.FakeRunner
	pool    *ports.Allocator
	clock   *clock
	project *storage.ProjectConfig
	engine  *Engine
}

// newFixture creates a repository with a bare origin and an engine over
// it. Tests skip without git or in short mode.
func newFixture(t *testing.T, configure ...func(f *fixture)) *fixture {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	root := t.TempDir()
	f := &fixture{
		repo:    filepath.Join(root, "repo"),
		origin:  filepath.Join(root, "origin.git"),
		host:    newFakeHost(),
		runner:  command.NewFakeRunner(),
		clock:   &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		project: storage.NewDefaultProjectConfig(),
	}

	require.NoError(t, os.MkdirAll(f.repo, 0o755))
	mustGit(t, f.repo, "init", "-b", "main")
	mustGit(t, f.repo, "config", "user.email", "test@example.com")
	mustGit(t, f.repo, "config", "user.name", "Test User")
	writeFile(t, filepath.Join(f.repo, "README.md"), "# Test\n")
	mustGit(t, f.repo, "add", ".")
	mustGit(t, f.repo, "commit", "-m", "initial")
	mustGit(t, root, "init", "--bare", "-b", "main", f.origin)
	mustGit(t, f.repo, "remote", "add", "origin", f.origin)
	mustGit(t, f.repo, "push", "-u", "origin", "main")
	mustGit(t, f.repo, "remote", "set-head", "origin", "main")

	f.cfg = config.NewDefault()
	f.cfg.TempRoot = filepath.Join(root, "workspaces")
	f.cfg.DataDir = filepath.Join(root, "data")
	f.cfg.Identity = config.Identity{Name: "tester"}
	f.cfg.Ports.PoolSize = 3

	for _, fn := range configure {
		fn(f)
	}

	pool, err := ports.Open(context.Background(), f.cfg.PortsDBPath(), f.cfg.Ports.PoolSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	f.pool = pool

	g, err := vcs.New(context.Background(), f.repo)
	require.NoError(t, err)

	opts := []Option{
		WithPorts(pool),
		WithReconciler(environment.NewReconciler(environment.WithRunner(f.runner))),
		WithClock(f.clock.Now),
		WithProjectConfig(f.project),
	}
	if f.host != nil {
		opts = append(opts, WithHosting(f.host))
	}
	f.engine, err = New(f.cfg, g, opts...)
	require.NoError(t, err)

	return f
}

func (f *fixture) create(t *testing.T, branch string) *CreateResult {
	t.Helper()
	res, err := f.engine.Create(context.Background(), CreateRequest{Branch: branch})
	require.NoError(t, err)

	return res
}

// commit adds a file in the workspace and commits it.
func commit(t *testing.T, ws, file string) {
	t.Helper()
	writeFile(t, filepath.Join(ws, file), file+"\n")
	mustGit(t, ws, "add", file)
	mustGit(t, ws, "commit", "-m", "add "+file)
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
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
