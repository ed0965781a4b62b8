package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valksor/go-cproj/internal/apperr"
	"github.com/valksor/go-cproj/internal/hosting"
	"github.com/valksor/go-cproj/internal/metadata"
	"github.com/valksor/go-cproj/internal/workflow"
)

func TestStatus_DerivesState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws := f.create(t, "feature/status").Path

	st, err := f.engine.Status(ctx, ws, false)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateClean, st.State)
	require.NotNil(t, st.Port)

	commit(t, ws, "a.txt")
	st, err = f.engine.Status(ctx, filepath.Join(ws, "."), false)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateNeedsPush, st.State)
	assert.Equal(t, 1, st.Facts.AheadOfBase)
	assert.False(t, st.Facts.RemoteBranchExists)

	writeFile(t, filepath.Join(ws, "scratch.txt"), "wip\n")
	st, err = f.engine.Status(ctx, ws, true)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateNeedsCommit, st.State)
}

func TestStatus_IsReadOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws := f.create(t, "feature/ro").Path
	commit(t, ws, "a.txt")

	before, err := os.ReadFile(metadata.Path(ws))
	require.NoError(t, err)
	refsBefore := mustGit(t, f.repo, "show-ref")

	for range 3 {
		_, err := f.engine.Status(ctx, ws, false)
		require.NoError(t, err)
	}

	after, err := os.ReadFile(metadata.Path(ws))
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.Equal(t, refsBefore, mustGit(t, f.repo, "show-ref"))
}

func TestStatus_StaleMetadataWarns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws := f.create(t, "feature/stale").Path

	_, err := metadata.NewStore().Update(ws, func(r *metadata.Record) error {
		r.Workspace.Branch = "feature/renamed"
		r.Links.PR = "https://example.test/acme/repo/pull/99"

		return nil
	})
	require.NoError(t, err)

	st, err := f.engine.Status(ctx, ws, false)
	require.NoError(t, err)
	assert.Equal(t, "feature/stale", st.Branch, "live facts win")
	require.Len(t, st.Warnings, 2)
	assert.Contains(t, st.Warnings[0], "stale metadata")
	assert.Contains(t, st.Warnings[1], "pull/99")
}

func TestReview_PushesAndCreatesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.engine.Create(ctx, CreateRequest{Branch: "feature/login", Ticket: "https://tickets.example/T-7"})
	require.NoError(t, err)
	ws := res.Path
	commit(t, ws, "login.go")

	plan, err := f.engine.PlanReview(ctx, ReviewRequest{Path: ws})
	require.NoError(t, err)
	assert.True(t, plan.Push)
	assert.Equal(t, workflow.StateNeedsPush, plan.State)
	require.NotNil(t, plan.Create)
	assert.Equal(t, "feat: feature/login", plan.Create.Title)
	assert.Equal(t, "Branch: feature/login\n\nTicket: https://tickets.example/T-7", plan.Create.Body)
	assert.Equal(t, "main", plan.Create.Base)

	out, err := f.engine.ApplyReview(ctx, plan)
	require.NoError(t, err)
	assert.True(t, out.Pushed)
	assert.True(t, out.Created)
	assert.Equal(t, 1, f.host.created)
	mustGit(t, f.origin, "show-ref", "--verify", "refs/heads/feature/login")

	rec, err := metadata.NewStore().Read(ws)
	require.NoError(t, err)
	assert.Equal(t, out.PR.URL, rec.Links.PR)

	st, err := f.engine.Status(ctx, ws, false)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateInReview, st.State)

	again, err := f.engine.PlanReview(ctx, ReviewRequest{Path: ws})
	require.NoError(t, err)
	assert.False(t, again.Push)
	require.NotNil(t, again.Existing)
	out, err = f.engine.ApplyReview(ctx, again)
	require.NoError(t, err)
	assert.False(t, out.Created)
	assert.Equal(t, 1, f.host.created, "no duplicate pull request")
}

func TestReview_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws := f.create(t, "feature/empty").Path

	_, err := f.engine.PlanReview(ctx, ReviewRequest{Path: ws})
	require.Error(t, err)
	assert.ErrorIs(t, err, workflow.ErrTransitionNotAllowed)
	assert.ErrorIs(t, err, apperr.ErrPreconditionFailed)

	f.engine.hosting = nil
	_, err = f.engine.PlanReview(ctx, ReviewRequest{Path: ws})
	assert.ErrorIs(t, err, ErrNoHosting)
}

func TestReview_CreateFailureKeepsPush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws := f.create(t, "feature/fail").Path
	commit(t, ws, "x.txt")
	f.host.createErr = fmt.Errorf("%w: 422 validation failed", apperr.ErrExternalToolFailure)

	plan, err := f.engine.PlanReview(ctx, ReviewRequest{Path: ws})
	require.NoError(t, err)
	out, err := f.engine.ApplyReview(ctx, plan)
	require.Error(t, err)
	assert.True(t, out.Pushed)

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StepPullRequest, se.Step)
	assert.Contains(t, err.Error(), "422 validation failed")

	rec, err := metadata.NewStore().Read(ws)
	require.NoError(t, err)
	assert.Empty(t, rec.Links.PR)
}

// reviewed returns a workspace with one commit and an open pull request.
func reviewed(t *testing.T, f *fixture, branch string) string {
	t.Helper()
	ctx := context.Background()
	ws := f.create(t, branch).Path
	commit(t, ws, strings.ReplaceAll(branch, "/", "_")+".txt")

	plan, err := f.engine.PlanReview(ctx, ReviewRequest{Path: ws})
	require.NoError(t, err)
	_, err = f.engine.ApplyReview(ctx, plan)
	require.NoError(t, err)

	return ws
}

func TestMerge_RemovesAfterConfirmedMerge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws := reviewed(t, f, "feature/merge")

	plan, err := f.engine.PlanMerge(ctx, MergeRequest{Path: ws, DeleteBranch: true})
	require.NoError(t, err)
	assert.Equal(t, hosting.MergeSquash, plan.Strategy)
	assert.True(t, plan.Remove)
	assert.DirExists(t, ws, "planning must not mutate")

	res, err := f.engine.ApplyMerge(ctx, plan)
	require.NoError(t, err)
	assert.True(t, res.Merged)
	assert.True(t, res.Removed)
	assert.True(t, res.PortFreed)
	assert.True(t, res.BranchDeleted)
	assert.Equal(t, 1, f.host.merges)
	assert.NoDirExists(t, ws)

	_, held, err := f.pool.Lookup(ctx, ws)
	require.NoError(t, err)
	assert.False(t, held)

	exists, err := f.engine.Repo().BranchExists(ctx, "feature/merge")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMerge_KeepRecordsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws := reviewed(t, f, "feature/keep")

	plan, err := f.engine.PlanMerge(ctx, MergeRequest{Path: ws, Keep: true, Strategy: hosting.MergeCommit})
	require.NoError(t, err)
	res, err := f.engine.ApplyMerge(ctx, plan)
	require.NoError(t, err)
	assert.True(t, res.Merged)
	assert.False(t, res.Removed)
	assert.Equal(t, hosting.MergeCommit, f.host.strategy)

	rec, err := metadata.NewStore().Read(ws)
	require.NoError(t, err)
	assert.True(t, rec.Closed())

	st, err := f.engine.Status(ctx, ws, false)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateReadyToCleanup, st.State)
}

func TestMerge_HostFailureKeepsWorkspace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws := reviewed(t, f, "feature/hostfail")

	plan, err := f.engine.PlanMerge(ctx, MergeRequest{Path: ws})
	require.NoError(t, err)

	f.host.mergeErr = fmt.Errorf("%w: 502 bad gateway", apperr.ErrExternalToolFailure)
	_, err = f.engine.ApplyMerge(ctx, plan)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrExternalToolFailure)

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StepMerge, se.Step)

	assert.DirExists(t, ws)
	rec, err := metadata.NewStore().Read(ws)
	require.NoError(t, err)
	assert.False(t, rec.Closed())

	_, held, err := f.pool.Lookup(ctx, ws)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestMerge_DirtyRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws := reviewed(t, f, "feature/dirty")
	writeFile(t, filepath.Join(ws, "wip.txt"), "wip\n")
	head := mustGit(t, ws, "rev-parse", "HEAD")

	_, err := f.engine.PlanMerge(ctx, MergeRequest{Path: ws})
	require.Error(t, err)
	assert.ErrorIs(t, err, workflow.ErrDirtyWorkspace)
	assert.ErrorIs(t, err, apperr.ErrPreconditionFailed)
	assert.Equal(t, 0, f.host.merges)
	assert.Equal(t, head, mustGit(t, ws, "rev-parse", "HEAD"))

	plan, err := f.engine.PlanMerge(ctx, MergeRequest{Path: ws, Force: true})
	require.NoError(t, err)
	assert.True(t, plan.Force)
}

func TestMerge_DirtyAfterPlanRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws := reviewed(t, f, "feature/late")

	plan, err := f.engine.PlanMerge(ctx, MergeRequest{Path: ws})
	require.NoError(t, err)
	writeFile(t, filepath.Join(ws, "late.txt"), "late\n")

	_, err = f.engine.ApplyMerge(ctx, plan)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrPreconditionFailed)
	assert.Equal(t, 0, f.host.merges)
	assert.DirExists(t, ws)
}

func TestMerge_NotMergeable(t *testing.T) {
	f := newFixture(t)
	f.host.unmergeable = true
	ctx := context.Background()
	ws := reviewed(t, f, "feature/conflict")

	_, err := f.engine.PlanMerge(ctx, MergeRequest{Path: ws})
	require.Error(t, err)
	assert.ErrorIs(t, err, hosting.ErrNotMergeable)
	assert.Contains(t, err.Error(), "merge conflicts")
}

func TestMerge_NoPullRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws := f.create(t, "feature/nopr").Path
	commit(t, ws, "a.txt")

	_, err := f.engine.PlanMerge(ctx, MergeRequest{Path: ws})
	assert.ErrorIs(t, err, ErrNoPullRequest)
}

func TestCleanup_DryRunMatchesApply(t *testing.T) {
	f := newFixture(t, func(f *fixture) { f.cfg.CleanupDays = 14 })
	ctx := context.Background()

	old := f.create(t, "old").Path
	oldDirty := f.create(t, "old-dirty").Path
	writeFile(t, filepath.Join(oldDirty, "wip.txt"), "wip\n")
	f.clock.Advance(20 * Day)
	fresh := f.create(t, "fresh").Path

	plan, err := f.engine.PlanCleanup(ctx, Selector{})
	require.NoError(t, err)
	assert.Equal(t, 14*Day, plan.Selector.OlderThan)
	require.Len(t, plan.Remove, 1)
	assert.Equal(t, "old", plan.Remove[0].Branch)
	require.Len(t, plan.Skip, 1)
	assert.Equal(t, "old-dirty", plan.Skip[0].Branch)

	again, err := f.engine.PlanCleanup(ctx, Selector{})
	require.NoError(t, err)
	require.Len(t, again.Remove, 1)
	assert.Equal(t, plan.Remove[0].Path, again.Remove[0].Path, "planning is repeatable")
	for _, p := range []string{old, oldDirty, fresh} {
		assert.DirExists(t, p)
	}

	res, err := f.engine.ApplyCleanup(ctx, plan)
	require.NoError(t, err)
	require.Len(t, res.Removed, 1)
	assert.Equal(t, plan.Remove[0].Path, res.Removed[0].Path)
	assert.Empty(t, res.Failed)
	assert.NoDirExists(t, old)
	assert.DirExists(t, oldDirty)
	assert.DirExists(t, fresh)

	_, held, err := f.pool.Lookup(ctx, old)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestCleanup_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	closed := f.create(t, "feature/closed").Path
	landed := f.create(t, "feature/landed").Path

	_, err := metadata.NewStore().Update(closed, func(r *metadata.Record) error {
		at := time.Now()
		r.Workspace.ClosedAt = &at

		return nil
	})
	require.NoError(t, err)

	commit(t, landed, "landed.txt")
	mustGit(t, f.repo, "merge", "--ff-only", "feature/landed")
	f.create(t, "chore/untouched")

	plan, err := f.engine.PlanCleanup(ctx, Selector{MergedOnly: true})
	require.NoError(t, err)
	var branches []string
	for _, c := range plan.Remove {
		branches = append(branches, c.Branch)
		assert.True(t, c.Merged)
	}
	assert.ElementsMatch(t, []string{"feature/closed", "feature/landed"}, branches)

	plan, err = f.engine.PlanCleanup(ctx, Selector{Pattern: "chore/*", NewerThan: Day})
	require.NoError(t, err)
	require.Len(t, plan.Remove, 1)
	assert.Equal(t, "chore/untouched", plan.Remove[0].Branch)

	_, err = f.engine.PlanCleanup(ctx, Selector{Pattern: "[unclosed"})
	assert.Error(t, err)
}

func TestCleanup_FastForwardMergedBranch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	landed := f.create(t, "feature/ff-landed").Path
	commit(t, landed, "ff.txt")
	mustGit(t, f.repo, "merge", "--ff-only", "feature/ff-landed")
	require.Equal(t, mustGit(t, f.repo, "rev-parse", "main"), mustGit(t, landed, "rev-parse", "HEAD"))

	fresh := f.create(t, "feature/fresh").Path
	legacy := f.create(t, "feature/legacy").Path
	_, err := metadata.NewStore().Update(legacy, func(r *metadata.Record) error {
		r.Workspace.BaseCommit = ""

		return nil
	})
	require.NoError(t, err)

	plan, err := f.engine.PlanCleanup(ctx, Selector{MergedOnly: true})
	require.NoError(t, err)
	require.Len(t, plan.Remove, 1)
	assert.Equal(t, "feature/ff-landed", plan.Remove[0].Branch)
	assert.True(t, plan.Remove[0].Merged)

	res, err := f.engine.ApplyCleanup(ctx, plan)
	require.NoError(t, err)
	require.Len(t, res.Removed, 1)
	assert.NoDirExists(t, landed)
	assert.DirExists(t, fresh)
	assert.DirExists(t, legacy)
}

func TestCleanup_IgnoresUnmanagedWorktrees(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	managed := f.create(t, "feature/managed").Path
	outside := filepath.Join(t.TempDir(), "hand-made")
	mustGit(t, f.repo, "worktree", "add", outside, "-b", "hand-made")
	inside := filepath.Join(f.cfg.TempRoot, "repo_by-hand_20260101_000000")
	mustGit(t, f.repo, "worktree", "add", inside, "-b", "by-hand")
	gone := filepath.Join(t.TempDir(), "gone")
	mustGit(t, f.repo, "worktree", "add", gone, "-b", "gone-by-hand")
	require.NoError(t, os.RemoveAll(gone))

	f.clock.Advance(30 * Day)
	old := f.clock.Now().Add(-30 * Day)
	for _, p := range []string{outside, inside} {
		require.NoError(t, os.Chtimes(p, old, old))
	}

	plan, err := f.engine.PlanCleanup(ctx, Selector{OlderThan: 7 * Day, Force: true})
	require.NoError(t, err)
	require.Len(t, plan.Remove, 1)
	assert.Equal(t, "feature/managed", plan.Remove[0].Branch)
	assert.Empty(t, plan.Skip)

	res, err := f.engine.ApplyCleanup(ctx, plan)
	require.NoError(t, err)
	assert.Len(t, res.Removed, 1)
	assert.NoDirExists(t, managed)
	assert.DirExists(t, outside)
	assert.DirExists(t, inside)
}

func TestCleanup_AgeInWholeDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.create(t, "feature/week-and-a-half-day")
	f.clock.Advance(7*Day + 12*time.Hour)

	plan, err := f.engine.PlanCleanup(ctx, Selector{OlderThan: 7 * Day})
	require.NoError(t, err)
	assert.Empty(t, plan.Remove, "7.5 days is 7 whole days, not older than 7")

	plan, err = f.engine.PlanCleanup(ctx, Selector{NewerThan: 7 * Day})
	require.NoError(t, err)
	require.Len(t, plan.Remove, 1)

	f.clock.Advance(Day)
	plan, err = f.engine.PlanCleanup(ctx, Selector{OlderThan: 7 * Day})
	require.NoError(t, err)
	require.Len(t, plan.Remove, 1)
	assert.Equal(t, "feature/week-and-a-half-day", plan.Remove[0].Branch)
}

func TestCleanup_ForceAndMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dirty := f.create(t, "dirty").Path
	writeFile(t, filepath.Join(dirty, "wip.txt"), "wip\n")
	gone := f.create(t, "gone").Path
	require.NoError(t, os.RemoveAll(gone))

	plan, err := f.engine.PlanCleanup(ctx, Selector{NewerThan: Day, Force: true})
	require.NoError(t, err)
	require.Len(t, plan.Remove, 2)
	assert.Empty(t, plan.Skip)

	res, err := f.engine.ApplyCleanup(ctx, plan)
	require.NoError(t, err)
	assert.Len(t, res.Removed, 2)
	assert.NoDirExists(t, dirty)

	entries, err := f.engine.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, held, err := f.pool.Lookup(ctx, gone)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "list/a").Path
	f.create(t, "list/b")
	commit(t, a, "a.txt")
	mustGit(t, f.repo, "worktree", "add", filepath.Join(t.TempDir(), "manual"), "-b", "manual")

	entries, err := f.engine.List(ctx, ListOptions{WithStatus: true, Offline: true})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	byBranch := map[string]*Entry{}
	for _, e := range entries {
		byBranch[e.Branch] = e
	}
	assert.True(t, byBranch["list/a"].Managed)
	assert.False(t, byBranch["manual"].Managed)
	assert.Equal(t, workflow.StateNeedsPush, byBranch["list/a"].Status.State)
	assert.Equal(t, workflow.StateClean, byBranch["list/b"].Status.State)
	assert.NotNil(t, byBranch["list/b"].Port)
}

func TestAddNote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws := f.create(t, "feature/notes").Path

	_, err := f.engine.AddNote(ctx, ws, "first")
	require.NoError(t, err)
	rec, err := f.engine.AddNote(ctx, filepath.Join(ws, "."), "second")
	require.NoError(t, err)

	lines := strings.Split(rec.Notes, "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], " first"))
	assert.True(t, strings.HasSuffix(lines[1], " second"))

	_, err = f.engine.AddNote(ctx, ws, "   ")
	assert.ErrorIs(t, err, apperr.ErrPreconditionFailed)
}
