package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/valksor/go-cproj/internal/apperr"
	"github.com/valksor/go-cproj/internal/hosting"
	"github.com/valksor/go-cproj/internal/log"
	"github.com/valksor/go-cproj/internal/metadata"
	"github.com/valksor/go-cproj/internal/workflow"
)

// ReviewRequest asks to open a workspace for review.
type ReviewRequest struct {
	Path      string
	Title     string // Default "feat: <branch>"
	Body      string // Default "Branch: <branch>" plus the ticket
	Draft     bool
	Assignees []string
}

// ReviewPlan is what ApplyReview will do.
type ReviewPlan struct {
	Path     string                      `json:"path"`
	Branch   string                      `json:"branch"`
	Base     string                      `json:"base"`
	State    workflow.State              `json:"state"`
	Push     bool                        `json:"push"`
	Existing *hosting.PullRequest        `json:"existing,omitempty"` // Reused instead of creating
	Create   *hosting.PullRequestRequest `json:"create,omitempty"`
	Warnings []string                    `json:"warnings,omitempty"`
}

// ReviewResult reports what ApplyReview did.
type ReviewResult struct {
	PR      *hosting.PullRequest `json:"pull_request"`
	Pushed  bool                 `json:"pushed"`
	Created bool                 `json:"created"`
}

// PlanReview checks that the workspace has commits to review and decides
// whether to push and whether a pull request must be created.
func (e *Engine) PlanReview(ctx context.Context, req ReviewRequest) (*ReviewPlan, error) {
	if e.hosting == nil {
		return nil, ErrNoHosting
	}

	wt, err := e.resolveWorkspace(ctx, req.Path)
	if err != nil {
		return nil, err
	}
	if wt.Branch == "" {
		return nil, fmt.Errorf("%w: %s has a detached HEAD", apperr.ErrPreconditionFailed, wt.Path)
	}

	o, err := e.observe(ctx, wt, false)
	if err != nil {
		return nil, stepErr(StepFacts, err)
	}
	if err := workflow.CanApply(workflow.OpReview, o.Facts, false); err != nil {
		return nil, err
	}
	if o.Facts.PR == workflow.PRMerged {
		return nil, fmt.Errorf("%w: pull request %s is already merged", apperr.ErrPreconditionFailed, o.Facts.PRURL)
	}

	plan := &ReviewPlan{
		Path:     wt.Path,
		Branch:   wt.Branch,
		Base:     o.Base,
		State:    workflow.Derive(o.Facts),
		Push:     !o.Facts.RemoteBranchExists || o.Facts.Unpushed > 0,
		Warnings: o.Warnings,
	}

	if o.PR != nil && o.PR.State == hosting.PROpen {
		plan.Existing = o.PR

		return plan, nil
	}

	ticket := ""
	if o.Record != nil {
		ticket = o.Record.Links.Ticket
	}
	plan.Create = &hosting.PullRequestRequest{
		Branch:    wt.Branch,
		Base:      o.Base,
		Title:     firstNonEmpty(req.Title, "feat: "+wt.Branch),
		Body:      firstNonEmpty(req.Body, defaultBody(wt.Branch, ticket)),
		Draft:     req.Draft,
		Assignees: req.Assignees,
	}

	return plan, nil
}

// ApplyReview pushes the branch, creates the pull request unless one is
// already open, and records its URL. Re-running it after success reuses
// the existing pull request.
func (e *Engine) ApplyReview(ctx context.Context, plan *ReviewPlan) (*ReviewResult, error) {
	if e.hosting == nil {
		return nil, ErrNoHosting
	}

	res := &ReviewResult{}
	err := e.locks.WithWorkspace(ctx, plan.Path, func() error {
		if plan.Push {
			if err := e.repo.Push(ctx, plan.Path, plan.Branch); err != nil {
				return stepErr(StepPush, err)
			}
			res.Pushed = true
			log.InfoContext(ctx, "branch pushed", log.Workspace(plan.Path), log.Branch(plan.Branch))
		}

		pr, err := e.openPullRequest(ctx, plan)
		if err != nil {
			return stepErr(StepPullRequest, err)
		}
		res.PR = pr.pr
		res.Created = pr.created

		_, err = e.store.Update(plan.Path, func(r *metadata.Record) error {
			r.Links.PR = pr.pr.URL

			return nil
		})
		if err != nil {
			return stepErr(StepMetadata, err)
		}
		log.InfoContext(ctx, "workspace in review", log.Workspace(plan.Path),
			log.State(string(plan.State), string(workflow.StateInReview)))

		return nil
	})
	if err != nil {
		return res, err
	}

	return res, nil
}

type openedPR struct {
	pr      *hosting.PullRequest
	created bool
}

// openPullRequest looks for an open pull request again before creating
// one, so concurrent or repeated runs never create a duplicate.
func (e *Engine) openPullRequest(ctx context.Context, plan *ReviewPlan) (openedPR, error) {
	hctx, cancel := e.hostingCtx(ctx)
	defer cancel()

	found, err := e.hosting.FindPullRequest(hctx, plan.Branch)
	switch {
	case err == nil && found.State == hosting.PROpen:
		return openedPR{pr: found}, nil
	case err != nil && !hosting.IsNotFound(err):
		return openedPR{}, err
	}

	req := plan.Create
	if req == nil {
		req = &hosting.PullRequestRequest{
			Branch: plan.Branch,
			Base:   plan.Base,
			Title:  "feat: " + plan.Branch,
			Body:   defaultBody(plan.Branch, ""),
		}
	}

	created, err := e.hosting.CreatePullRequest(hctx, *req)
	if err != nil {
		return openedPR{}, err
	}
	log.InfoContext(ctx, "pull request created", log.Branch(plan.Branch), "url", created.URL)

	return openedPR{pr: created, created: true}, nil
}

func defaultBody(branch, ticket string) string {
	var b strings.Builder
	b.WriteString("Branch: " + branch)
	if ticket != "" {
		b.WriteString("\n\nTicket: " + ticket)
	}

	return b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
