package github

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	gh "github.com/google/go-github/v67/github"

	"github.com/valksor/go-cproj/internal/hosting"
)

// setupMockGateway creates a test server and a gateway pointing to it.
func setupMockGateway(t *testing.T, handler http.Handler) *Gateway {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := gh.NewClient(nil)
	serverURL, _ := url.Parse(server.URL + "/")
	client.BaseURL = serverURL

	return NewGateway(client, "test-owner", "test-repo")
}

func TestDetectRepository(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		host      string
		wantOwner string
		wantRepo  string
		wantErr   bool
	}{
		{"ssh", "git@github.com:acme/widget.git", "", "acme", "widget", false},
		{"ssh url", "ssh://git@github.com/acme/widget.git", "", "acme", "widget", false},
		{"https", "https://github.com/acme/widget.git", "", "acme", "widget", false},
		{"https no suffix", "https://github.com/acme/widget", "", "acme", "widget", false},
		{"enterprise", "https://git.corp.example/acme/widget.git", "https://git.corp.example", "acme", "widget", false},
		{"gitlab", "git@gitlab.com:acme/widget.git", "", "", "", true},
		{"nested path", "https://github.com/acme/widget/extra", "", "", "", true},
		{"empty", "", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, repo, err := DetectRepository(tt.url, tt.host)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DetectRepository() error = %v, wantErr %v", err, tt.wantErr)
			}
			if owner != tt.wantOwner || repo != tt.wantRepo {
				t.Errorf("DetectRepository() = %q, %q, want %q, %q", owner, repo, tt.wantOwner, tt.wantRepo)
			}
			if err != nil && !errors.Is(err, ErrRepoNotDetected) {
				t.Errorf("error should wrap ErrRepoNotDetected: %v", err)
			}
		})
	}
}

func TestCreatePullRequest(t *testing.T) {
	var assigned bool
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/test-owner/test-repo/pulls", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var body gh.NewPullRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.GetHead() != "feature" || body.GetBase() != "main" || body.GetTitle() != "feat: feature" {
			t.Errorf("request = %+v", body)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(gh.PullRequest{
			Number:  ptr(42),
			State:   ptr("open"),
			HTMLURL: ptr("https://github.com/test-owner/test-repo/pull/42"),
			Head:    &gh.PullRequestBranch{Ref: ptr("feature")},
			Base:    &gh.PullRequestBranch{Ref: ptr("main")},
		})
	})
	mux.HandleFunc("/repos/test-owner/test-repo/issues/42/assignees", func(w http.ResponseWriter, _ *http.Request) {
		assigned = true
		_ = json.NewEncoder(w).Encode(gh.Issue{Number: ptr(42)})
	})

	g := setupMockGateway(t, mux)
	pr, err := g.CreatePullRequest(context.Background(), hosting.PullRequestRequest{
		Branch:    "feature",
		Base:      "main",
		Title:     "feat: feature",
		Body:      "Branch: feature",
		Assignees: []string{"octocat"},
	})
	if err != nil {
		t.Fatalf("CreatePullRequest: %v", err)
	}
	if pr.Number != 42 || pr.State != hosting.PROpen || pr.URL != "https://github.com/test-owner/test-repo/pull/42" {
		t.Errorf("pr = %+v", pr)
	}
	if !assigned {
		t.Error("assignees were not requested")
	}
}

func TestCreatePullRequest_Unauthorized(t *testing.T) {
	g := setupMockGateway(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
	}))

	_, err := g.CreatePullRequest(context.Background(), hosting.PullRequestRequest{Branch: "b", Base: "main"})
	if !errors.Is(err, hosting.ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
}

func TestFindPullRequest(t *testing.T) {
	t.Run("prefers open", func(t *testing.T) {
		g := setupMockGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("head"); got != "test-owner:feature" {
				t.Errorf("head = %q", got)
			}
			if got := r.URL.Query().Get("state"); got != "all" {
				t.Errorf("state = %q", got)
			}
			_ = json.NewEncoder(w).Encode([]gh.PullRequest{
				{Number: ptr(2), State: ptr("closed")},
				{Number: ptr(1), State: ptr("open")},
			})
		}))

		pr, err := g.FindPullRequest(context.Background(), "feature")
		if err != nil {
			t.Fatalf("FindPullRequest: %v", err)
		}
		if pr.Number != 1 || pr.State != hosting.PROpen {
			t.Errorf("pr = %+v", pr)
		}
	})

	t.Run("none", func(t *testing.T) {
		g := setupMockGateway(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`[]`))
		}))

		_, err := g.FindPullRequest(context.Background(), "feature")
		if !hosting.IsNotFound(err) {
			t.Errorf("error = %v, want ErrPullRequestNotFound", err)
		}
	})
}

func TestPullRequestStatus(t *testing.T) {
	tests := []struct {
		name          string
		pr            gh.PullRequest
		wantState     hosting.PRState
		wantMergeable bool
	}{
		{
			name:          "open and clean",
			pr:            gh.PullRequest{State: ptr("open"), Mergeable: ptr(true), MergeableState: ptr("clean")},
			wantState:     hosting.PROpen,
			wantMergeable: true,
		},
		{
			name:      "open with conflicts",
			pr:        gh.PullRequest{State: ptr("open"), Mergeable: ptr(false), MergeableState: ptr("dirty")},
			wantState: hosting.PROpen,
		},
		{
			name:      "open blocked",
			pr:        gh.PullRequest{State: ptr("open"), Mergeable: ptr(true), MergeableState: ptr("blocked")},
			wantState: hosting.PROpen,
		},
		{
			name:      "still computing",
			pr:        gh.PullRequest{State: ptr("open")},
			wantState: hosting.PROpen,
		},
		{
			name:      "merged",
			pr:        gh.PullRequest{State: ptr("closed"), Merged: ptr(true)},
			wantState: hosting.PRMerged,
		},
		{
			name:      "closed",
			pr:        gh.PullRequest{State: ptr("closed")},
			wantState: hosting.PRClosed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := setupMockGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/repos/test-owner/test-repo/pulls/7" {
					t.Errorf("path = %s", r.URL.Path)
				}
				pr := tt.pr
				pr.Number = ptr(7)
				_ = json.NewEncoder(w).Encode(pr)
			}))

			pr, err := g.PullRequestStatus(context.Background(), "https://github.com/test-owner/test-repo/pull/7")
			if err != nil {
				t.Fatalf("PullRequestStatus: %v", err)
			}
			if pr.State != tt.wantState || pr.Mergeable != tt.wantMergeable {
				t.Errorf("pr = %+v", pr)
			}
			if !pr.Mergeable && pr.State == hosting.PROpen && pr.Reason == "" {
				t.Error("unmergeable open pull request should carry a reason")
			}
		})
	}
}

func TestMergePullRequest(t *testing.T) {
	var merged, deleted bool
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/test-owner/test-repo/pulls/7", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(gh.PullRequest{
			Number:    ptr(7),
			State:     ptr("open"),
			Mergeable: ptr(true),
			Head:      &gh.PullRequestBranch{Ref: ptr("feature")},
		})
	})
	mux.HandleFunc("/repos/test-owner/test-repo/pulls/7/merge", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["merge_method"] != "squash" {
			t.Errorf("merge_method = %v", body["merge_method"])
		}
		merged = true
		_ = json.NewEncoder(w).Encode(gh.PullRequestMergeResult{Merged: ptr(true)})
	})
	mux.HandleFunc("/repos/test-owner/test-repo/git/refs/heads/feature", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deleted = true
		}
		w.WriteHeader(http.StatusNoContent)
	})

	g := setupMockGateway(t, mux)
	err := g.MergePullRequest(context.Background(), "https://github.com/test-owner/test-repo/pull/7", hosting.MergeSquash, true)
	if err != nil {
		t.Fatalf("MergePullRequest: %v", err)
	}
	if !merged || !deleted {
		t.Errorf("merged = %v, deleted = %v", merged, deleted)
	}
}

func TestMergePullRequest_AlreadyMerged(t *testing.T) {
	g := setupMockGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(gh.PullRequest{Number: ptr(7), State: ptr("closed"), Merged: ptr(true)})
	}))

	err := g.MergePullRequest(context.Background(), "https://github.com/test-owner/test-repo/pull/7", hosting.MergeSquash, false)
	if err != nil {
		t.Errorf("MergePullRequest() = %v, want nil", err)
	}
}

func TestMergePullRequest_NotMergeable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/test-owner/test-repo/pulls/7", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(gh.PullRequest{Number: ptr(7), State: ptr("open")})
	})
	mux.HandleFunc("/repos/test-owner/test-repo/pulls/7/merge", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = w.Write([]byte(`{"message":"Pull Request is not mergeable"}`))
	})

	g := setupMockGateway(t, mux)
	err := g.MergePullRequest(context.Background(), "https://github.com/test-owner/test-repo/pull/7", hosting.MergeCommit, false)
	if !errors.Is(err, hosting.ErrNotMergeable) {
		t.Errorf("error = %v, want ErrNotMergeable", err)
	}
}

func TestNew_NoToken(t *testing.T) {
	t.Setenv("CPROJ_GITHUB_TOKEN", "")
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("GH_TOKEN", "")
	t.Setenv("PATH", "")

	_, err := New(context.Background(), hosting.Config{RemoteURL: "git@github.com:acme/widget.git"})
	if !errors.Is(err, hosting.ErrNoToken) {
		t.Errorf("New() error = %v, want ErrNoToken", err)
	}
}

func TestNew_WithToken(t *testing.T) {
	gw, err := New(context.Background(), hosting.Config{
		RemoteURL: "https://github.com/acme/widget.git",
		Token:     "ghp_test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if gw.Name() != Name {
		t.Errorf("Name() = %q", gw.Name())
	}
}
