package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valksor/go-cproj/internal/apperr"
	"github.com/valksor/go-cproj/internal/command"
	"github.com/valksor/go-cproj/internal/metadata"
	"github.com/valksor/go-cproj/internal/ports"
	"github.com/valksor/go-cproj/internal/storage"
	"github.com/valksor/go-cproj/internal/vcs"
)

func TestCreate_NewBranch(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.repo, ".gitignore"), ".env*\n")
	mustGit(t, f.repo, "add", ".gitignore")
	mustGit(t, f.repo, "commit", "-m", "ignore env files")
	mustGit(t, f.repo, "push", "origin", "main")
	writeFile(t, filepath.Join(f.repo, "config", ".env.local"), "SECRET=1\n")

	res, err := f.engine.Create(context.Background(), CreateRequest{
		Branch: "feature/login",
		Ticket: "https://tickets.example/T-1",
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(f.cfg.TempRoot, "repo_feature-login_20260301_090001"), res.Path)
	assert.Equal(t, "main", res.Base)
	assert.False(t, res.Attached)
	assert.Equal(t, vcs.BranchUpToDate, res.BaseSync)
	assert.DirExists(t, res.Path)
	assert.Equal(t, "feature/login", mustGit(t, res.Path, "branch", "--show-current"))

	rec, err := metadata.NewStore().Read(res.Path)
	require.NoError(t, err)
	assert.Equal(t, metadata.SchemaVersion, rec.SchemaVersion)
	assert.Equal(t, "feature/login", rec.Workspace.Branch)
	assert.Equal(t, "main", rec.Workspace.Base)
	assert.Equal(t, "tester", rec.Workspace.CreatedBy)
	assert.Equal(t, "test@example.com", rec.Agent.Email)
	assert.Equal(t, "repo", rec.Project.Name)
	assert.Equal(t, "https://tickets.example/T-1", rec.Links.Ticket)
	require.NotNil(t, rec.Port)
	assert.Equal(t, 0, rec.Port.Offset)
	assert.NotNil(t, rec.Setup.CompletedAt)
	assert.False(t, rec.Partial())

	assert.FileExists(t, ports.EnvPath(res.Path))
	assert.FileExists(t, filepath.Join(res.Path, "config", ".env.local"))
	assert.Equal(t, []string{filepath.Join("config", ".env.local")}, res.Setup.EnvFiles)

	dirty, err := f.engine.Repo().IsDirty(context.Background(), res.Path)
	require.NoError(t, err)
	assert.False(t, dirty, ".cproj must not make the workspace dirty")
}

func TestCreate_InvalidBranch(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Create(context.Background(), CreateRequest{Branch: "bad..name"})
	require.Error(t, err)
	assert.ErrorIs(t, err, vcs.ErrInvalidBranchName)
	assert.ErrorIs(t, err, apperr.ErrPreconditionFailed)

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StepValidate, se.Step)
	assert.NoDirExists(t, f.cfg.TempRoot)
}

func TestCreate_SameBranchTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	first := f.create(t, "feature/x")

	_, err := f.engine.Create(context.Background(), CreateRequest{Branch: "feature/x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, vcs.ErrWorktreeConflict)

	conflict, ok := vcs.AsConflict(err)
	require.True(t, ok)
	assert.True(t, vcs.SamePath(first.Path, conflict.Path), "conflict should name %s, got %s", first.Path, conflict.Path)

	entries, err := os.ReadDir(f.cfg.TempRoot)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no second workspace may exist")
}

func TestCreate_AttachesExistingBranch(t *testing.T) {
	f := newFixture(t)
	mustGit(t, f.repo, "branch", "existing")

	res := f.create(t, "existing")
	assert.True(t, res.Attached)

	_, err := f.engine.Create(context.Background(), CreateRequest{Branch: "other-existing", NoAttach: true})
	require.NoError(t, err, "a missing branch is created even with NoAttach")

	mustGit(t, f.repo, "branch", "kept")
	_, err = f.engine.Create(context.Background(), CreateRequest{Branch: "kept", NoAttach: true})
	assert.ErrorIs(t, err, vcs.ErrBranchExists)
}

func TestCreate_FastForwardsBase(t *testing.T) {
	f := newFixture(t)

	clone := filepath.Join(t.TempDir(), "clone")
	mustGit(t, filepath.Dir(clone), "clone", f.origin, clone)
	mustGit(t, clone, "config", "user.email", "test@example.com")
	mustGit(t, clone, "config", "user.name", "Test User")
	commit(t, clone, "upstream.txt")
	mustGit(t, clone, "push", "origin", "main")

	res := f.create(t, "feature/ff")
	assert.Equal(t, vcs.BranchFastForwarded, res.BaseSync)
	assert.FileExists(t, filepath.Join(res.Path, "upstream.txt"))
}

func TestCreate_PartialSetupThenRerun(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.project.Actions = []storage.ActionSpec{
			{Name: "bootstrap", Type: storage.ActionRun, Command: []string{"make", "bootstrap"}, Required: true},
		}
	})
	f.runner.Fail("make bootstrap", "no rule to make target")

	res, err := f.engine.Create(context.Background(), CreateRequest{Branch: "feature/partial"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrPartialSetupFailure)
	require.NotNil(t, res)
	assert.DirExists(t, res.Path)
	assert.Contains(t, err.Error(), "no rule to make target")

	rec, err := metadata.NewStore().Read(res.Path)
	require.NoError(t, err)
	require.True(t, rec.Partial())
	assert.Equal(t, StepActions, rec.Setup.FailedSteps[0].Step)
	assert.Nil(t, rec.Setup.CompletedAt)

	f.runner.On("make bootstrap", func(*command.Cmd) (*command.Result, error) {
		return &command.Result{}, nil
	})
	report, err := f.engine.Setup(context.Background(), res.Path)
	require.NoError(t, err)
	assert.False(t, report.Record.Partial())
	assert.NotNil(t, report.Record.Setup.CompletedAt)
	require.NotNil(t, report.Record.Port)
	assert.Equal(t, 0, report.Record.Port.Offset, "re-running setup keeps the same port")
}

func TestCreate_PoolExhaustedIsPartial(t *testing.T) {
	f := newFixture(t, func(f *fixture) { f.cfg.Ports.PoolSize = 1 })
	f.create(t, "one")

	res, err := f.engine.Create(context.Background(), CreateRequest{Branch: "two"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrPartialSetupFailure)
	assert.ErrorIs(t, err, ports.ErrPoolExhausted)
	assert.DirExists(t, res.Path)
}

func TestCreate_NoSetup(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.Create(context.Background(), CreateRequest{Branch: "bare", NoSetup: true})
	require.NoError(t, err)
	assert.Nil(t, res.Setup)
	assert.NoFileExists(t, ports.EnvPath(res.Path))

	_, held, err := f.pool.Lookup(context.Background(), res.Path)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestCreate_ConcurrentDistinctBranches(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	results := make([]*CreateResult, 3)
	errs := make([]error, 3)
	for i, b := range []string{"c/one", "c/two", "c/three"} {
		wg.Add(1)
		go func(i int, b string) {
			defer wg.Done()
			results[i], errs[i] = f.engine.Create(context.Background(), CreateRequest{Branch: b})
		}(i, b)
	}
	wg.Wait()

	offsets := map[int]bool{}
	for i := range results {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i].Record.Port)
		offsets[results[i].Record.Port.Offset] = true
	}
	assert.Len(t, offsets, 3)
}

func TestSetup_NotAWorkspace(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Setup(context.Background(), f.repo)
	assert.ErrorIs(t, err, ErrNotWorkspace)

	_, err = f.engine.Setup(context.Background(), t.TempDir())
	assert.True(t, errors.Is(err, ErrNotWorkspace))
}

func TestSetup_RebuildsMissingRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Create(ctx, CreateRequest{Branch: "feature/lost", NoSetup: true})
	require.NoError(t, err)
	require.NoError(t, os.Remove(metadata.Path(res.Path)))

	report, err := f.engine.Setup(ctx, res.Path)
	require.NoError(t, err)
	require.NotNil(t, report.Record)
	assert.Equal(t, "feature/lost", report.Record.Workspace.Branch)
	assert.Equal(t, "main", report.Record.Workspace.Base)
	assert.Equal(t, "tester", report.Record.Agent.Name)
	assert.NotNil(t, report.Record.Setup.CompletedAt)

	got, err := metadata.NewStore().Read(res.Path)
	require.NoError(t, err)
	assert.Equal(t, report.Record.ID, got.ID)
	require.NotNil(t, got.Port)

	_, held, err := f.pool.Lookup(ctx, res.Path)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestCreate_RecordsBaseCommit(t *testing.T) {
	f := newFixture(t)

	res := f.create(t, "feature/cut")
	assert.Equal(t, mustGit(t, f.repo, "rev-parse", "main"), res.Record.Workspace.BaseCommit)
}
