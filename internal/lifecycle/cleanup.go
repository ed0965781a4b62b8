package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/valksor/go-cproj/internal/log"
	"github.com/valksor/go-cproj/internal/metadata"
	"github.com/valksor/go-cproj/internal/vcs"
	"github.com/valksor/go-cproj/internal/workflow"
)

// Day is the unit of the age filters.
const Day = 24 * time.Hour

// Selector filters cleanup candidates. Set filters combine with AND; a
// selector without any filter selects workspaces older than the configured
// cleanup_days.
//
// Ages compare in whole days: a workspace 7.5 days old is 7 days old, so it
// matches NewerThan 7*Day and not OlderThan 7*Day.
type Selector struct {
	OlderThan  time.Duration // Whole-day age strictly greater
	NewerThan  time.Duration // Whole-day age less than or equal
	MergedOnly bool          // closed_at recorded, or branch merged into base
	Pattern    string        // path.Match glob against the branch name
	Force      bool          // Remove dirty workspaces too
}

func (s Selector) empty() bool {
	return s.OlderThan == 0 && s.NewerThan == 0 && !s.MergedOnly && s.Pattern == ""
}

// Candidate is one workspace considered by cleanup.
type Candidate struct {
	Path    string        `json:"path"`
	Branch  string        `json:"branch"`
	Age     time.Duration `json:"age"`
	Merged  bool          `json:"merged"`
	Dirty   bool          `json:"dirty"`
	Missing bool          `json:"missing,omitempty"` // Directory already gone
	Port    *int          `json:"port_offset,omitempty"`
	Reason  string        `json:"reason,omitempty"` // Why it is skipped
}

// CleanupPlan lists the workspaces ApplyCleanup will remove and the
// matching ones it will skip.
type CleanupPlan struct {
	Selector Selector    `json:"-"`
	Remove   []Candidate `json:"remove"`
	Skip     []Candidate `json:"skip,omitempty"`
}

// CleanupFailure is a candidate whose removal failed.
type CleanupFailure struct {
	Candidate
	Err string `json:"error"`
}

// CleanupResult reports what ApplyCleanup did.
type CleanupResult struct {
	Removed []Candidate      `json:"removed"`
	Skipped []Candidate      `json:"skipped,omitempty"`
	Failed  []CleanupFailure `json:"failed,omitempty"`
}

// PlanCleanup selects the workspaces sel matches. It never mutates, so the
// plan of a dry run is exactly the set a real run acts on.
func (e *Engine) PlanCleanup(ctx context.Context, sel Selector) (*CleanupPlan, error) {
	if sel.empty() {
		sel.OlderThan = time.Duration(e.cfg.CleanupDays) * Day
	}
	if sel.Pattern != "" {
		if _, err := path.Match(sel.Pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", sel.Pattern, err)
		}
	}

	worktrees, err := e.repo.ListWorktrees(ctx)
	if err != nil {
		return nil, err
	}

	plan := &CleanupPlan{Selector: sel}
	now := e.now()
	for i := range worktrees {
		wt := worktrees[i]
		if wt.Main || wt.Bare {
			continue
		}

		c, ok, err := e.candidate(ctx, &wt, sel, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if e.ports != nil {
			if off, held, err := e.ports.Lookup(ctx, wt.Path); err == nil && held {
				c.Port = &off
			}
		}

		if c.Dirty && !sel.Force {
			c.Reason = "uncommitted changes (use --force)"
			plan.Skip = append(plan.Skip, c)

			continue
		}
		plan.Remove = append(plan.Remove, c)
	}

	return plan, nil
}

func (e *Engine) candidate(ctx context.Context, wt *vcs.Worktree, sel Selector, now time.Time) (Candidate, bool, error) {
	c := Candidate{Path: wt.Path, Branch: wt.Branch}

	if sel.Pattern != "" {
		if ok, _ := path.Match(sel.Pattern, wt.Branch); !ok {
			return c, false, nil
		}
	}

	// A vanished workspace only leaves stale git bookkeeping and maybe a
	// port behind; it always matches.
	info, statErr := os.Stat(wt.Path)
	if wt.Prunable || statErr != nil {
		if !e.underTempRoot(wt.Path) {
			return c, false, nil
		}
		c.Missing = true

		return c, true, nil
	}

	// Worktrees without a record were not made by cproj.
	rec, err := e.readRecord(wt.Path)
	if err != nil || rec == nil {
		if err != nil {
			log.WarnContext(ctx, "unreadable metadata, not a cleanup candidate", log.Workspace(wt.Path), log.Err(err))
		}

		return c, false, nil
	}

	created := info.ModTime()
	if !rec.Workspace.CreatedAt.IsZero() {
		created = rec.Workspace.CreatedAt
	}
	c.Age = now.Sub(created)

	days := wholeDays(c.Age)
	if sel.OlderThan > 0 && days <= wholeDays(sel.OlderThan) {
		return c, false, nil
	}
	if sel.NewerThan > 0 && days > wholeDays(sel.NewerThan) {
		return c, false, nil
	}

	if sel.MergedOnly {
		merged, err := e.merged(ctx, wt, rec)
		if err != nil {
			return c, false, err
		}
		if !merged {
			return c, false, nil
		}
		c.Merged = true
	}

	dirty, err := e.repo.IsDirty(ctx, wt.Path)
	if err != nil {
		return c, false, err
	}
	c.Dirty = dirty

	return c, true, nil
}

func wholeDays(d time.Duration) int64 {
	return int64(d / Day)
}

func (e *Engine) underTempRoot(p string) bool {
	root := e.cfg.TempRoot
	if resolved, err := filepath.EvalSymlinks(root); err == nil && !within(root, p) {
		root = resolved
	}

	return within(root, p) && !vcs.SamePath(root, p)
}

// merged reports whether the workspace's work has landed: closed in
// metadata, or the branch moved past the commit it was cut from and its
// tip is in base. Fast-forward merges count. A record without the
// creation-time base commit falls back to requiring the branch to differ
// from base.
func (e *Engine) merged(ctx context.Context, wt *vcs.Worktree, rec *metadata.Record) (bool, error) {
	if rec.Closed() {
		return true, nil
	}
	if wt.Branch == "" {
		return false, nil
	}
	base := rec.Workspace.Base
	if base == "" {
		b, err := e.baseBranch(ctx, "")
		if err != nil {
			return false, err
		}
		base = b
	}

	if ok, err := e.repo.BranchExists(ctx, base); err != nil || !ok {
		return false, err
	}
	tip, err := e.repo.RevParse(ctx, "refs/heads/"+wt.Branch)
	if err != nil {
		return false, err
	}

	cut := rec.Workspace.BaseCommit
	if cut == "" {
		if cut, err = e.repo.RevParse(ctx, "refs/heads/"+base); err != nil {
			return false, err
		}
	}
	if tip == cut {
		return false, nil
	}

	return e.repo.IsMerged(ctx, wt.Branch, "refs/heads/"+base)
}

// ApplyCleanup removes the planned workspaces and releases their ports.
// Each workspace is re-checked under its lock: one that became dirty since
// the plan is skipped unless the selector forces removal. Failures are
// reported per workspace and do not stop the others.
func (e *Engine) ApplyCleanup(ctx context.Context, plan *CleanupPlan) (*CleanupResult, error) {
	res := &CleanupResult{Skipped: plan.Skip}
	pruned := false

	for _, c := range plan.Remove {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if c.Missing {
			if !pruned {
				if err := e.repo.PruneWorktrees(ctx); err != nil {
					res.Failed = append(res.Failed, CleanupFailure{Candidate: c, Err: err.Error()})

					continue
				}
				pruned = true
			}
			e.releasePort(ctx, c.Path, func(msg string) { log.WarnContext(ctx, msg, log.Workspace(c.Path)) })
			res.Removed = append(res.Removed, c)

			continue
		}

		skipped, err := e.removeCandidate(ctx, c, plan.Selector.Force)
		switch {
		case err != nil:
			res.Failed = append(res.Failed, CleanupFailure{Candidate: c, Err: err.Error()})
		case skipped != "":
			c.Reason = skipped
			res.Skipped = append(res.Skipped, c)
		default:
			res.Removed = append(res.Removed, c)
		}
	}

	return res, nil
}

func (e *Engine) removeCandidate(ctx context.Context, c Candidate, force bool) (string, error) {
	var skipped string

	err := e.locks.WithWorkspace(ctx, c.Path, func() error {
		dirty, err := e.repo.IsDirty(ctx, c.Path)
		if err != nil {
			return err
		}
		if err := workflow.CanApply(workflow.OpCleanup, workflow.Facts{Dirty: dirty}, force); err != nil {
			skipped = "uncommitted changes appeared since the plan"

			return nil
		}

		if err := e.repo.RemoveWorktree(ctx, c.Path, true); err != nil {
			return stepErr(StepRemove, err)
		}
		log.InfoContext(ctx, "workspace removed", log.Workspace(c.Path), log.Branch(c.Branch))

		return nil
	})
	if err != nil || skipped != "" {
		return skipped, err
	}

	e.releasePort(ctx, c.Path, func(msg string) { log.WarnContext(ctx, msg, log.Workspace(c.Path)) })

	return "", nil
}
