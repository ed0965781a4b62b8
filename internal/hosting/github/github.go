// Package github implements the hosting gateway on the GitHub REST API.
package github

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v67/github"
	"golang.org/x/oauth2"

	"github.com/valksor/go-cproj/internal/hosting"
	"github.com/valksor/go-cproj/internal/hosting/token"
	"github.com/valksor/go-cproj/internal/log"
)

// Name is the backend name used in configuration.
const Name = "github"

// ptr is a helper to create a pointer to a value
func ptr[T any](v T) *T {
	return &v
}

// Info returns the backend registration info.
func Info() hosting.Info {
	return hosting.Info{
		Name:     Name,
		Match:    IsGitHubRemote,
		Priority: 10,
	}
}

// Register adds the GitHub backend to the registry.
func Register(r *hosting.Registry) {
	_ = r.Register(Info(), New)
}

// Gateway talks to one GitHub repository.
type Gateway struct {
	gh    *github.Client
	owner string
	repo  string
}

// New resolves credentials and builds a gateway for cfg.RemoteURL.
func New(ctx context.Context, cfg hosting.Config) (hosting.Gateway, error) {
	owner, repo, err := DetectRepository(cfg.RemoteURL, cfg.Host)
	if err != nil {
		return nil, err
	}

	tok, err := token.Resolve(ctx, token.For("GITHUB", cfg.Token).
		WithEnvVars("GITHUB_TOKEN", "GH_TOKEN").
		WithCLI(token.FromCLI(cfg.Runner, "gh", "auth", "token")))
	if err != nil {
		return nil, fmt.Errorf("github: %w", err)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok})
	client := github.NewClient(oauth2.NewClient(context.Background(), ts))

	if cfg.Host != "" && hostOnly(cfg.Host) != "github.com" {
		base := "https://" + hostOnly(cfg.Host) + "/"
		client, err = client.WithEnterpriseURLs(base+"api/v3/", base+"api/uploads/")
		if err != nil {
			return nil, fmt.Errorf("github enterprise url: %w", err)
		}
	}

	return NewGateway(client, owner, repo), nil
}

// NewGateway wraps an existing client.
func NewGateway(client *github.Client, owner, repo string) *Gateway {
	return &Gateway{gh: client, owner: owner, repo: repo}
}

// Name implements hosting.Gateway.
func (g *Gateway) Name() string {
	return Name
}

// CreatePullRequest opens a pull request. Assignee failures are logged and
// do not fail the call.
func (g *Gateway) CreatePullRequest(ctx context.Context, req hosting.PullRequestRequest) (*hosting.PullRequest, error) {
	pr, _, err := g.gh.PullRequests.Create(ctx, g.owner, g.repo, &github.NewPullRequest{
		Title: ptr(req.Title),
		Head:  ptr(req.Branch),
		Base:  ptr(req.Base),
		Body:  ptr(req.Body),
		Draft: ptr(req.Draft),
	})
	if err != nil {
		return nil, fmt.Errorf("create pull request: %w", wrapAPIError(err))
	}

	if len(req.Assignees) > 0 {
		if _, _, err := g.gh.Issues.AddAssignees(ctx, g.owner, g.repo, pr.GetNumber(), req.Assignees); err != nil {
			log.WarnContext(ctx, "could not assign pull request", log.Err(wrapAPIError(err)))
		}
	}

	return convert(pr), nil
}

// FindPullRequest returns the open pull request for branch, else the most
// recent closed or merged one.
func (g *Gateway) FindPullRequest(ctx context.Context, branch string) (*hosting.PullRequest, error) {
	prs, _, err := g.gh.PullRequests.List(ctx, g.owner, g.repo, &github.PullRequestListOptions{
		Head:        g.owner + ":" + branch,
		State:       "all",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 20},
	})
	if err != nil {
		return nil, fmt.Errorf("list pull requests: %w", wrapAPIError(err))
	}
	if len(prs) == 0 {
		return nil, fmt.Errorf("%w: branch %s", hosting.ErrPullRequestNotFound, branch)
	}

	for _, pr := range prs {
		if pr.GetState() == "open" {
			return convert(pr), nil
		}
	}

	return convert(prs[0]), nil
}

// PullRequestStatus fetches the current state of the pull request at prURL.
func (g *Gateway) PullRequestStatus(ctx context.Context, prURL string) (*hosting.PullRequest, error) {
	n, err := hosting.PullRequestNumber(prURL)
	if err != nil {
		return nil, err
	}

	pr, _, err := g.gh.PullRequests.Get(ctx, g.owner, g.repo, int(n))
	if err != nil {
		return nil, fmt.Errorf("get pull request #%d: %w", n, wrapAPIError(err))
	}

	return convert(pr), nil
}

// MergePullRequest merges the pull request at prURL. An already merged
// pull request is a no-op.
func (g *Gateway) MergePullRequest(ctx context.Context, prURL string, strategy hosting.MergeStrategy, deleteBranch bool) error {
	current, err := g.PullRequestStatus(ctx, prURL)
	if err != nil {
		return err
	}

	switch current.State {
	case hosting.PRMerged:
		return nil
	case hosting.PRClosed:
		return fmt.Errorf("%w: pull request #%d is closed", hosting.ErrNotMergeable, current.Number)
	}

	res, _, err := g.gh.PullRequests.Merge(ctx, g.owner, g.repo, int(current.Number), "",
		&github.PullRequestOptions{MergeMethod: string(strategy)})
	if err != nil {
		return fmt.Errorf("merge pull request #%d: %w", current.Number, wrapAPIError(err))
	}
	if !res.GetMerged() {
		return fmt.Errorf("%w: %s", hosting.ErrNotMergeable, res.GetMessage())
	}

	if deleteBranch && current.Branch != "" {
		if _, err := g.gh.Git.DeleteRef(ctx, g.owner, g.repo, "heads/"+current.Branch); err != nil {
			log.WarnContext(ctx, "could not delete remote branch",
				log.Branch(current.Branch), log.Err(wrapAPIError(err)))
		}
	}

	return nil
}

func convert(pr *github.PullRequest) *hosting.PullRequest {
	out := &hosting.PullRequest{
		URL:    pr.GetHTMLURL(),
		Number: int64(pr.GetNumber()),
		Branch: pr.GetHead().GetRef(),
		Base:   pr.GetBase().GetRef(),
		Title:  pr.GetTitle(),
		Draft:  pr.GetDraft(),
	}
	if pr.UpdatedAt != nil {
		out.UpdatedAt = pr.GetUpdatedAt().Time
	}

	switch {
	case pr.GetMerged() || pr.MergedAt != nil:
		out.State = hosting.PRMerged
	case pr.GetState() == "closed":
		out.State = hosting.PRClosed
	case pr.GetState() == "open":
		out.State = hosting.PROpen
	default:
		out.State = hosting.PRUnknown
	}

	if out.State == hosting.PROpen {
		out.Mergeable, out.Reason = mergeability(pr)
	}

	return out
}

func mergeability(pr *github.PullRequest) (bool, string) {
	if pr.GetDraft() {
		return false, "pull request is a draft"
	}
	if pr.Mergeable == nil {
		return false, "mergeability is still being computed"
	}
	if !pr.GetMergeable() {
		return false, "pull request has conflicts"
	}

	switch strings.ToLower(pr.GetMergeableState()) {
	case "blocked":
		return false, "blocked by required reviews or status checks"
	case "dirty":
		return false, "pull request has conflicts"
	case "behind":
		return false, "branch is behind the base branch"
	}

	return true, ""
}
