// Package gitlab implements the hosting gateway on the GitLab REST API.
package gitlab

import (
	"context"
	"fmt"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/valksor/go-cproj/internal/hosting"
	"github.com/valksor/go-cproj/internal/hosting/token"
	"github.com/valksor/go-cproj/internal/log"
)

// Name is the backend name used in configuration.
const Name = "gitlab"

// ptr is a helper to create a pointer to a value.
func ptr[T any](v T) *T {
	return &v
}

// Info returns the backend registration info.
func Info() hosting.Info {
	return hosting.Info{
		Name:     Name,
		Match:    IsGitLabRemote,
		Priority: 5,
	}
}

// Register adds the GitLab backend to the registry.
func Register(r *hosting.Registry) {
	_ = r.Register(Info(), New)
}

// Gateway talks to one GitLab project.
type Gateway struct {
	gl          *gitlab.Client
	projectPath string
}

// New resolves credentials and builds a gateway for cfg.RemoteURL.
func New(ctx context.Context, cfg hosting.Config) (hosting.Gateway, error) {
	host := hostOnly(cfg.Host)
	projectPath, err := DetectProject(cfg.RemoteURL, host)
	if err != nil {
		return nil, err
	}

	tok, err := token.Resolve(ctx, token.For("GITLAB", cfg.Token).
		WithEnvVars("GITLAB_TOKEN").
		WithCLI(token.FromCLI(cfg.Runner, "glab", "config", "get", "token", "--host", host)))
	if err != nil {
		return nil, fmt.Errorf("gitlab: %w", err)
	}

	var options []gitlab.ClientOptionFunc
	if host != DefaultHost {
		options = append(options, gitlab.WithBaseURL("https://"+host+"/api/v4"))
	}

	client, err := gitlab.NewClient(tok, options...)
	if err != nil {
		return nil, fmt.Errorf("create gitlab client: %w", err)
	}

	return NewGateway(client, projectPath), nil
}

// NewGateway wraps an existing client.
func NewGateway(client *gitlab.Client, projectPath string) *Gateway {
	return &Gateway{gl: client, projectPath: projectPath}
}

// Name implements hosting.Gateway.
func (g *Gateway) Name() string {
	return Name
}

// CreatePullRequest opens a merge request. Draft requests get GitLab's
// "Draft:" title prefix.
func (g *Gateway) CreatePullRequest(ctx context.Context, req hosting.PullRequestRequest) (*hosting.PullRequest, error) {
	title := req.Title
	if req.Draft && !strings.HasPrefix(title, "Draft:") {
		title = "Draft: " + title
	}
	if len(req.Assignees) > 0 {
		log.WarnContext(ctx, "assignees are not applied on gitlab", "assignees", strings.Join(req.Assignees, ","))
	}

	mr, _, err := g.gl.MergeRequests.CreateMergeRequest(g.projectPath, &gitlab.CreateMergeRequestOptions{
		Title:        ptr(title),
		Description:  ptr(req.Body),
		SourceBranch: ptr(req.Branch),
		TargetBranch: ptr(req.Base),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("create merge request: %w", wrapAPIError(err))
	}

	return convert(&mr.BasicMergeRequest), nil
}

// FindPullRequest returns the open merge request for branch, else the most
// recent merged or closed one.
func (g *Gateway) FindPullRequest(ctx context.Context, branch string) (*hosting.PullRequest, error) {
	mrs, _, err := g.gl.MergeRequests.ListProjectMergeRequests(g.projectPath, &gitlab.ListProjectMergeRequestsOptions{
		ListOptions:  gitlab.ListOptions{PerPage: 20},
		SourceBranch: ptr(branch),
		OrderBy:      ptr("created_at"),
		Sort:         ptr("desc"),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list merge requests: %w", wrapAPIError(err))
	}
	if len(mrs) == 0 {
		return nil, fmt.Errorf("%w: branch %s", hosting.ErrPullRequestNotFound, branch)
	}

	for _, mr := range mrs {
		if mr.State == "opened" {
			return convert(mr), nil
		}
	}

	return convert(mrs[0]), nil
}

// PullRequestStatus fetches the current state of the merge request at prURL.
func (g *Gateway) PullRequestStatus(ctx context.Context, prURL string) (*hosting.PullRequest, error) {
	iid, err := hosting.PullRequestNumber(prURL)
	if err != nil {
		return nil, err
	}

	mr, _, err := g.gl.MergeRequests.GetMergeRequest(g.projectPath, iid, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get merge request !%d: %w", iid, wrapAPIError(err))
	}

	return convert(&mr.BasicMergeRequest), nil
}

// MergePullRequest accepts the merge request at prURL. GitLab has no
// rebase-merge through this API, so MergeRebase is refused.
func (g *Gateway) MergePullRequest(ctx context.Context, prURL string, strategy hosting.MergeStrategy, deleteBranch bool) error {
	if strategy == hosting.MergeRebase {
		return fmt.Errorf("%w: gitlab merge strategy %q", hosting.ErrUnsupported, strategy)
	}

	current, err := g.PullRequestStatus(ctx, prURL)
	if err != nil {
		return err
	}

	switch current.State {
	case hosting.PRMerged:
		return nil
	case hosting.PRClosed:
		return fmt.Errorf("%w: merge request !%d is closed", hosting.ErrNotMergeable, current.Number)
	}

	mr, _, err := g.gl.MergeRequests.AcceptMergeRequest(g.projectPath, current.Number, &gitlab.AcceptMergeRequestOptions{
		Squash:                   ptr(strategy == hosting.MergeSquash),
		ShouldRemoveSourceBranch: ptr(deleteBranch),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("merge merge request !%d: %w", current.Number, wrapAPIError(err))
	}
	if mr.State != "merged" {
		return fmt.Errorf("%w: merge request !%d is %s", hosting.ErrNotMergeable, current.Number, mr.State)
	}

	return nil
}

func convert(mr *gitlab.BasicMergeRequest) *hosting.PullRequest {
	out := &hosting.PullRequest{
		URL:    mr.WebURL,
		Number: mr.IID,
		Branch: mr.SourceBranch,
		Base:   mr.TargetBranch,
		Title:  mr.Title,
		Draft:  mr.Draft,
	}
	if mr.UpdatedAt != nil {
		out.UpdatedAt = *mr.UpdatedAt
	}

	switch mr.State {
	case "opened":
		out.State = hosting.PROpen
	case "merged":
		out.State = hosting.PRMerged
	case "closed", "locked":
		out.State = hosting.PRClosed
	default:
		out.State = hosting.PRUnknown
	}

	if out.State == hosting.PROpen {
		out.Mergeable, out.Reason = mergeability(mr.DetailedMergeStatus, mr.Draft)
	}

	return out
}

func mergeability(status string, draft bool) (bool, string) {
	if draft {
		return false, "merge request is a draft"
	}

	switch status {
	case "mergeable", "":
		return true, ""
	case "checking", "unchecked", "preparing", "approvals_syncing":
		return false, "mergeability is still being computed"
	case "conflict", "broken_status":
		return false, "merge request has conflicts"
	case "need_rebase":
		return false, "source branch needs a rebase"
	case "ci_must_pass", "ci_still_running":
		return false, "pipeline must succeed first"
	case "not_approved":
		return false, "merge request is not approved"
	case "discussions_not_resolved":
		return false, "open discussions must be resolved"
	case "draft_status":
		return false, "merge request is a draft"
	}

	return false, "blocked: " + status
}
