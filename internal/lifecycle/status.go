package lifecycle

import (
	"context"
	"os"
	"time"

	"github.com/valksor/go-cproj/internal/hosting"
	"github.com/valksor/go-cproj/internal/metadata"
	"github.com/valksor/go-cproj/internal/workflow"
)

// Status is the derived state of one workspace with the facts behind it.
type Status struct {
	Path      string               `json:"path"`
	Branch    string               `json:"branch"`
	Base      string               `json:"base"`
	State     workflow.State       `json:"state"`
	Facts     workflow.Facts       `json:"facts"`
	PR        *hosting.PullRequest `json:"pull_request,omitempty"`
	Port      *int                 `json:"port_offset,omitempty"`
	CreatedAt time.Time            `json:"created_at,omitzero"`
	Record    *metadata.Record     `json:"-"`
	Warnings  []string             `json:"warnings,omitempty"`
}

// Status derives the lifecycle state of the workspace at path. It is read
// only: neither git nor metadata is modified, and disagreements between
// metadata and live facts are reported as warnings.
func (e *Engine) Status(ctx context.Context, path string, offline bool) (*Status, error) {
	wt, err := e.resolveWorkspace(ctx, path)
	if err != nil {
		return nil, err
	}

	o, err := e.observe(ctx, wt, offline)
	if err != nil {
		return nil, stepErr(StepFacts, err)
	}

	return e.statusFrom(ctx, o), nil
}

func (e *Engine) statusFrom(ctx context.Context, o *observation) *Status {
	st := &Status{
		Path:      o.Path,
		Branch:    o.Branch,
		Base:      o.Base,
		State:     workflow.Derive(o.Facts),
		Facts:     o.Facts,
		PR:        o.PR,
		CreatedAt: o.createdAt(),
		Record:    o.Record,
		Warnings:  o.Warnings,
	}

	if e.ports != nil {
		if off, held, err := e.ports.Lookup(ctx, o.Path); err == nil && held {
			st.Port = &off
		}
	}

	return st
}

// ListOptions controls List.
type ListOptions struct {
	WithStatus bool // Derive the state of every workspace
	Offline    bool // Do not contact the code host
}

// Entry is one workspace in a listing.
type Entry struct {
	Path      string    `json:"path"`
	Branch    string    `json:"branch"`
	Managed   bool      `json:"managed"` // Has cproj metadata
	Missing   bool      `json:"missing,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	Port      *int      `json:"port_offset,omitempty"`
	Ticket    string    `json:"ticket,omitempty"`
	PRURL     string    `json:"pr,omitempty"`
	Status    *Status   `json:"status,omitempty"`
	Err       string    `json:"error,omitempty"`
}

// List returns every linked worktree of the repository. The canonical
// checkout is never listed.
func (e *Engine) List(ctx context.Context, opts ListOptions) ([]*Entry, error) {
	worktrees, err := e.repo.ListWorktrees(ctx)
	if err != nil {
		return nil, err
	}

	var entries []*Entry
	for i := range worktrees {
		wt := worktrees[i]
		if wt.Main || wt.Bare {
			continue
		}

		entry := &Entry{Path: wt.Path, Branch: wt.Branch, Missing: wt.Prunable}
		if wt.Prunable {
			entries = append(entries, entry)

			continue
		}
		if _, err := os.Stat(wt.Path); err != nil {
			entry.Missing = true
			entries = append(entries, entry)

			continue
		}

		if rec, err := e.readRecord(wt.Path); err != nil {
			entry.Err = err.Error()
		} else if rec != nil {
			entry.Managed = true
			entry.CreatedAt = rec.Workspace.CreatedAt
			entry.Ticket = rec.Links.Ticket
			entry.PRURL = rec.Links.PR
		}

		if e.ports != nil {
			if off, held, err := e.ports.Lookup(ctx, wt.Path); err == nil && held {
				entry.Port = &off
			}
		}

		if opts.WithStatus {
			o, err := e.observe(ctx, &wt, opts.Offline)
			if err != nil {
				entry.Err = err.Error()
			} else {
				entry.Status = e.statusFrom(ctx, o)
			}
		}

		entries = append(entries, entry)
	}

	return entries, nil
}
