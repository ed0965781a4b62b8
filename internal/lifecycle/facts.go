package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/valksor/go-cproj/internal/hosting"
	"github.com/valksor/go-cproj/internal/log"
	"github.com/valksor/go-cproj/internal/metadata"
	"github.com/valksor/go-cproj/internal/vcs"
	"github.com/valksor/go-cproj/internal/workflow"
)

// observation is everything the engine learned about one workspace.
type observation struct {
	Path     string
	Branch   string
	Base     string
	Record   *metadata.Record
	Facts    workflow.Facts
	PR       *hosting.PullRequest
	Warnings []string
}

func (o *observation) warn(ctx context.Context, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	o.Warnings = append(o.Warnings, msg)
	log.WarnContext(ctx, msg, log.Workspace(o.Path))
}

// createdAt is the record's creation time, or the zero time.
func (o *observation) createdAt() time.Time {
	if o.Record == nil {
		return time.Time{}
	}

	return o.Record.Workspace.CreatedAt
}

// observe collects live facts for the worktree wt. It never writes. When
// offline is set, or no hosting is configured, the code host is not
// contacted.
func (e *Engine) observe(ctx context.Context, wt *vcs.Worktree, offline bool) (*observation, error) {
	o := &observation{Path: wt.Path, Branch: wt.Branch}

	rec, err := e.readRecord(wt.Path)
	if err != nil {
		o.warn(ctx, "unreadable metadata: %v", err)
	}
	o.Record = rec

	if rec != nil {
		o.Facts.Closed = rec.Closed()
		o.Facts.PRURL = rec.Links.PR
		if rec.Workspace.Branch != "" && wt.Branch != "" && rec.Workspace.Branch != wt.Branch {
			o.warn(ctx, "stale metadata: records branch %s but %s is checked out", rec.Workspace.Branch, wt.Branch)
		}
		o.Base = rec.Workspace.Base
	}
	if o.Base == "" {
		base, err := e.baseBranch(ctx, "")
		if err != nil {
			return nil, err
		}
		o.Base = base
	}

	dirty, err := e.repo.IsDirty(ctx, wt.Path)
	if err != nil {
		return nil, err
	}
	o.Facts.Dirty = dirty

	if ok, err := e.repo.BranchExists(ctx, o.Base); err != nil {
		return nil, err
	} else if ok {
		ahead, behind, err := e.repo.AheadBehind(ctx, wt.Path, "refs/heads/"+o.Base)
		if err != nil {
			return nil, err
		}
		o.Facts.AheadOfBase, o.Facts.BehindBase = ahead, behind
	} else {
		o.warn(ctx, "base branch %s not found locally", o.Base)
	}

	if wt.Branch != "" {
		remote, err := e.repo.RemoteBranchExists(ctx, vcs.DefaultRemote, wt.Branch)
		if err != nil {
			return nil, err
		}
		o.Facts.RemoteBranchExists = remote
		if remote {
			unpushed, _, err := e.repo.AheadBehind(ctx, wt.Path, "refs/remotes/"+vcs.DefaultRemote+"/"+wt.Branch)
			if err != nil {
				return nil, err
			}
			o.Facts.Unpushed = unpushed
		}
	}

	e.observePR(ctx, o, offline)

	return o, nil
}

// observePR fills the pull request facts. Hosting errors degrade to an
// unknown state with a warning.
func (e *Engine) observePR(ctx context.Context, o *observation, offline bool) {
	if e.hosting == nil || offline || o.Branch == "" {
		if o.Facts.PRURL != "" {
			o.Facts.PR = workflow.PRUnknown
		}

		return
	}

	hctx, cancel := e.hostingCtx(ctx)
	defer cancel()

	var (
		pr  *hosting.PullRequest
		err error
	)
	if o.Facts.PRURL != "" {
		pr, err = e.hosting.PullRequestStatus(hctx, o.Facts.PRURL)
	} else {
		pr, err = e.hosting.FindPullRequest(hctx, o.Branch)
	}

	switch {
	case hosting.IsNotFound(err):
		if o.Facts.PRURL != "" {
			o.warn(ctx, "stale metadata: pull request %s not found", o.Facts.PRURL)
		}
		o.Facts.PR = workflow.PRNone
	case err != nil:
		o.warn(ctx, "pull request status unavailable: %v", err)
		o.Facts.PR = workflow.PRUnknown
	default:
		if o.Facts.PRURL == "" {
			o.warn(ctx, "stale metadata: pull request %s is not recorded", pr.URL)
		}
		o.PR = pr
		o.Facts.PR = prStatus(pr.State)
		o.Facts.PRURL = pr.URL
	}
}

func prStatus(s hosting.PRState) workflow.PRStatus {
	switch s {
	case hosting.PROpen:
		return workflow.PROpen
	case hosting.PRMerged:
		return workflow.PRMerged
	case hosting.PRClosed:
		return workflow.PRClosed
	}

	return workflow.PRUnknown
}
