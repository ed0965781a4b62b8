package lifecycle

import (
	"context"
	"fmt"

	"github.com/valksor/go-cproj/internal/apperr"
	"github.com/valksor/go-cproj/internal/hosting"
	"github.com/valksor/go-cproj/internal/log"
	"github.com/valksor/go-cproj/internal/metadata"
	"github.com/valksor/go-cproj/internal/ports"
	"github.com/valksor/go-cproj/internal/vcs"
	"github.com/valksor/go-cproj/internal/workflow"
)

// MergeRequest asks to merge a workspace's pull request.
type MergeRequest struct {
	Path         string
	Strategy     hosting.MergeStrategy // Empty: configured strategy
	Force        bool                  // Merge even with uncommitted changes
	Keep         bool                  // Keep the workspace after merging
	DeleteBranch bool                  // Delete the local branch
	DeleteRemote bool                  // Delete the remote branch
}

// MergePlan is what ApplyMerge will do.
type MergePlan struct {
	Path          string                `json:"path"`
	Branch        string                `json:"branch"`
	Base          string                `json:"base"`
	State         workflow.State        `json:"state"`
	PR            *hosting.PullRequest  `json:"pull_request"`
	AlreadyMerged bool                  `json:"already_merged"`
	Strategy      hosting.MergeStrategy `json:"strategy"`
	Force         bool                  `json:"force"`
	Remove        bool                  `json:"remove"`
	DeleteBranch  bool                  `json:"delete_branch"`
	DeleteRemote  bool                  `json:"delete_remote"`
	Warnings      []string              `json:"warnings,omitempty"`
}

// MergeResult reports what ApplyMerge did.
type MergeResult struct {
	Merged        bool     `json:"merged"`
	Removed       bool     `json:"removed"`
	BranchDeleted bool     `json:"branch_deleted"`
	PortFreed     bool     `json:"port_freed"`
	Warnings      []string `json:"warnings,omitempty"`
}

func (r *MergeResult) warn(ctx context.Context, path, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.Warnings = append(r.Warnings, msg)
	log.WarnContext(ctx, msg, log.Workspace(path))
}

// PlanMerge checks that the workspace is clean (unless forced) and that
// its pull request can be merged.
func (e *Engine) PlanMerge(ctx context.Context, req MergeRequest) (*MergePlan, error) {
	if e.hosting == nil {
		return nil, ErrNoHosting
	}

	strategy := req.Strategy
	if strategy == "" {
		s, err := hosting.ParseMergeStrategy(e.cfg.Hosting.MergeStrategy)
		if err != nil {
			return nil, err
		}
		strategy = s
	}

	wt, err := e.resolveWorkspace(ctx, req.Path)
	if err != nil {
		return nil, err
	}

	o, err := e.observe(ctx, wt, false)
	if err != nil {
		return nil, stepErr(StepFacts, err)
	}
	if err := workflow.CanApply(workflow.OpMerge, o.Facts, req.Force); err != nil {
		return nil, err
	}
	if err := mergeablePR(o); err != nil {
		return nil, err
	}

	return &MergePlan{
		Path:          wt.Path,
		Branch:        wt.Branch,
		Base:          o.Base,
		State:         workflow.Derive(o.Facts),
		PR:            o.PR,
		AlreadyMerged: o.PR.State == hosting.PRMerged,
		Strategy:      strategy,
		Force:         req.Force,
		Remove:        !req.Keep,
		DeleteBranch:  req.DeleteBranch && !req.Keep,
		DeleteRemote:  req.DeleteRemote || e.cfg.Hosting.DeleteRemoteBranch,
		Warnings:      o.Warnings,
	}, nil
}

func mergeablePR(o *observation) error {
	switch {
	case o.PR == nil && o.Facts.PR == workflow.PRUnknown:
		return fmt.Errorf("%w: pull request state unavailable", apperr.ErrExternalToolFailure)
	case o.PR == nil:
		return fmt.Errorf("%w: %s (run cproj review open)", ErrNoPullRequest, o.Branch)
	case o.PR.State == hosting.PRMerged:
		return nil
	case o.PR.State != hosting.PROpen:
		return fmt.Errorf("%w: pull request %s is %s", hosting.ErrNotMergeable, o.PR.URL, o.PR.State)
	case !o.PR.Mergeable:
		reason := o.PR.Reason
		if reason == "" {
			reason = "host reports it cannot be merged"
		}

		return fmt.Errorf("%w: %s: %s", hosting.ErrNotMergeable, o.PR.URL, reason)
	}

	return nil
}

// ApplyMerge merges the pull request and, only once the host confirms the
// merge, closes and removes the workspace. Any failure before the
// confirmation leaves the workspace untouched. Branch deletion and port
// release after the merge are best effort and reported as warnings.
func (e *Engine) ApplyMerge(ctx context.Context, plan *MergePlan) (*MergeResult, error) {
	if e.hosting == nil {
		return nil, ErrNoHosting
	}

	res := &MergeResult{}
	err := e.locks.WithWorkspace(ctx, plan.Path, func() error {
		if !plan.Force {
			files, err := e.repo.Status(ctx, plan.Path)
			if err != nil {
				return stepErr(StepFacts, err)
			}
			if len(files) > 0 {
				names := make([]string, 0, len(files))
				for _, f := range files {
					names = append(names, f.Path)
				}

				return stepErr(StepMerge, &vcs.DirtyError{Path: plan.Path, Files: names})
			}
		}

		if err := e.mergeConfirmed(ctx, plan); err != nil {
			return stepErr(StepMerge, err)
		}
		res.Merged = true

		_, err := e.store.Update(plan.Path, func(r *metadata.Record) error {
			if r.Workspace.ClosedAt == nil {
				at := e.now().UTC()
				r.Workspace.ClosedAt = &at
			}
			r.Links.PR = plan.PR.URL

			return nil
		})
		if err != nil {
			res.warn(ctx, plan.Path, "could not record closed_at: %v", err)
		}
		log.InfoContext(ctx, "pull request merged", log.Workspace(plan.Path),
			log.State(string(plan.State), string(workflow.StateReadyToCleanup)))

		if !plan.Remove {
			return nil
		}
		if err := e.repo.RemoveWorktree(ctx, plan.Path, true); err != nil {
			return stepErr(StepRemove, err)
		}
		res.Removed = true
		log.InfoContext(ctx, "workspace removed", log.Workspace(plan.Path))

		return nil
	})
	if err != nil {
		return res, err
	}

	if res.Removed {
		res.PortFreed = e.releasePort(ctx, plan.Path, func(msg string) { res.warn(ctx, plan.Path, "%s", msg) })
	}
	// The remote branch, if requested, was deleted by the host.
	if plan.DeleteBranch && res.Removed {
		if err := e.repo.DeleteBranch(ctx, plan.Branch, false); err != nil {
			res.warn(ctx, plan.Path, "branch %s not deleted: %v", plan.Branch, err)
		} else {
			res.BranchDeleted = true
		}
	}

	return res, nil
}

// mergeConfirmed asks the host to merge and then reads the pull request
// back. Only a merged state counts as success.
func (e *Engine) mergeConfirmed(ctx context.Context, plan *MergePlan) error {
	hctx, cancel := e.hostingCtx(ctx)
	defer cancel()

	current, err := e.hosting.PullRequestStatus(hctx, plan.PR.URL)
	if err != nil {
		return err
	}

	if current.State != hosting.PRMerged {
		if err := mergeablePR(&observation{Branch: plan.Branch, PR: current}); err != nil {
			return err
		}
		if err := e.hosting.MergePullRequest(hctx, plan.PR.URL, plan.Strategy, plan.DeleteRemote); err != nil {
			return err
		}

		current, err = e.hosting.PullRequestStatus(hctx, plan.PR.URL)
		if err != nil {
			return fmt.Errorf("confirm merge: %w", err)
		}
		if current.State != hosting.PRMerged {
			return fmt.Errorf("%w: host reports %s after merge", hosting.ErrNotMergeable, current.State)
		}
	}
	log.InfoContext(ctx, "pull request merged", "url", plan.PR.URL, "strategy", string(plan.Strategy))

	return nil
}

// releasePort frees the workspace's port offset and removes its env file.
func (e *Engine) releasePort(ctx context.Context, path string, warn func(string)) bool {
	if e.ports == nil {
		return false
	}

	freed, err := e.ports.FreeByWorkspace(ctx, path)
	if err != nil {
		warn(fmt.Sprintf("port not released: %v", err))

		return false
	}
	if err := ports.RemoveEnv(path); err != nil {
		warn(fmt.Sprintf("ports env not removed: %v", err))
	}

	return freed
}
