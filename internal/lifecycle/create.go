package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/valksor/go-cproj/internal/apperr"
	"github.com/valksor/go-cproj/internal/environment"
	"github.com/valksor/go-cproj/internal/log"
	"github.com/valksor/go-cproj/internal/metadata"
	"github.com/valksor/go-cproj/internal/ports"
	"github.com/valksor/go-cproj/internal/storage"
	"github.com/valksor/go-cproj/internal/vcs"
)

// pathTimeFormat is the timestamp suffix of workspace directories.
const pathTimeFormat = "20060102_150405"

// CreateRequest asks for a new workspace.
type CreateRequest struct {
	Branch   string
	Base     string // Empty: configured or remote default
	Ticket   string // Ticket URL recorded in links.ticket
	NoSetup  bool   // Skip env files, environment, ports and actions
	NoAttach bool   // Treat an existing branch as a conflict
}

// CreateResult describes the created workspace. It is returned together
// with a setup error when the workspace exists but setup partly failed.
type CreateResult struct {
	Path     string
	Branch   string
	Base     string
	Attached bool // The branch existed and was checked out, not created
	BaseSync vcs.BranchSync
	Record   *metadata.Record
	Setup    *SetupReport
}

// WorkspacePath returns the directory a new workspace for branch gets.
func (e *Engine) WorkspacePath(project, branch string, at time.Time) string {
	name := fmt.Sprintf("%s_%s_%s", project, vcs.Slug(branch), at.Format(pathTimeFormat))

	return filepath.Join(e.cfg.TempRoot, name)
}

// Create makes a new workspace. Failures up to and including worktree
// creation leave nothing behind. Later failures leave a usable workspace
// whose metadata lists the failed steps; Setup is the way to retry them.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := vcs.ValidateBranchName(req.Branch); err != nil {
		return nil, stepErr(StepValidate, err)
	}

	base, err := e.baseBranch(ctx, req.Base)
	if err != nil {
		return nil, stepErr(StepBaseBranch, err)
	}
	if err := vcs.ValidateBranchName(base); err != nil {
		return nil, stepErr(StepValidate, err)
	}

	project, err := e.repo.ProjectName(ctx)
	if err != nil {
		return nil, stepErr(StepValidate, err)
	}

	now := e.now()
	res := &CreateResult{
		Path:   e.WorkspacePath(project, req.Branch, now),
		Branch: req.Branch,
		Base:   base,
	}

	var baseCommit string
	err = e.locks.WithRepo(ctx, e.repo.Root(), func() error {
		if err := e.repo.FetchAll(ctx); err != nil {
			return stepErr(StepFetch, err)
		}

		sync, err := e.repo.EnsureLocalBranch(ctx, base, "")
		if err != nil {
			return stepErr(StepBaseBranch, err)
		}
		res.BaseSync = sync

		if baseCommit, err = e.repo.RevParse(ctx, "refs/heads/"+base); err != nil {
			return stepErr(StepBaseBranch, err)
		}

		if err := e.repo.EnsureExcluded(ctx, storage.ProjectDir+"/"); err != nil {
			return stepErr(StepWorktree, err)
		}

		exists, err := e.repo.BranchExists(ctx, req.Branch)
		if err != nil {
			return stepErr(StepWorktree, err)
		}
		if err := e.repo.CreateWorktree(ctx, res.Path, req.Branch, base, !req.NoAttach); err != nil {
			return stepErr(StepWorktree, err)
		}
		res.Attached = exists

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.InfoContext(ctx, "workspace created", log.Workspace(res.Path), log.Branch(req.Branch),
		"base", base, "attached", res.Attached)

	agent := e.identity(ctx)
	rec := metadata.NewRecord(agent,
		metadata.Project{Name: project, RepoPath: e.repo.Root()},
		metadata.WorkspaceInfo{
			Path:       res.Path,
			Branch:     req.Branch,
			Base:       base,
			BaseCommit: baseCommit,
			CreatedAt:  now,
			CreatedBy:  agent.Name,
		})
	rec.Links.Ticket = req.Ticket

	err = e.locks.WithWorkspace(ctx, res.Path, func() error {
		return e.store.Write(res.Path, rec)
	})
	if err != nil {
		return res, stepErr(StepMetadata, fmt.Errorf("%w: %w", apperr.ErrPartialSetupFailure, err))
	}
	res.Record = rec

	if req.NoSetup {
		return res, nil
	}

	report, err := e.Setup(ctx, res.Path)
	res.Setup = report
	if report != nil && report.Record != nil {
		res.Record = report.Record
	}

	return res, err
}

// SetupReport is the outcome of the post-creation steps.
type SetupReport struct {
	Path        string
	EnvFiles    []string
	Environment *environment.Report
	PortOffset  int
	PortEnabled bool
	Actions     []environment.ActionResult
	Failed      map[string]error
	Record      *metadata.Record
}

// Err returns a PartialSetupFailure naming every failed step, or nil.
func (r *SetupReport) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}

	errs := make([]error, 0, len(r.Failed))
	for _, step := range setupSteps {
		if err, ok := r.Failed[step]; ok {
			errs = append(errs, &StepError{Step: step, Err: err})
		}
	}

	return fmt.Errorf("%w: %w", apperr.ErrPartialSetupFailure, errors.Join(errs...))
}

var setupSteps = []string{StepEnvFiles, StepEnvironment, StepPorts, StepActions}

// Setup runs the post-creation steps against an existing workspace: env
// file copy, environment reconciliation, port allocation and custom
// actions. Each step is independent; a failure is recorded in metadata and
// the next step still runs. Steps that succeed clear earlier failures.
func (e *Engine) Setup(ctx context.Context, path string) (*SetupReport, error) {
	wt, err := e.resolveWorkspace(ctx, path)
	if err != nil {
		return nil, err
	}

	report := &SetupReport{Path: wt.Path, Failed: map[string]error{}}

	err = e.locks.WithWorkspace(ctx, wt.Path, func() error {
		rec, err := e.readRecord(wt.Path)
		if err != nil {
			return stepErr(StepMetadata, err)
		}
		if rec == nil {
			if rec, err = e.rebuildRecord(ctx, wt); err != nil {
				return stepErr(StepMetadata, err)
			}
		}

		e.runSetup(ctx, wt.Path, rec, report)

		updated, err := e.store.Update(wt.Path, func(r *metadata.Record) error {
			report.Environment.Apply(&r.Env)
			if report.PortEnabled {
				r.Port = &metadata.Port{Offset: report.PortOffset}
			}
			at := e.now()
			for _, step := range setupSteps {
				if ferr, failed := report.Failed[step]; failed {
					r.RecordFailure(step, ferr, at)
				} else {
					r.ClearFailure(step)
				}
			}
			if !r.Partial() {
				done := at.UTC()
				r.Setup.CompletedAt = &done
			}

			return nil
		})
		if err != nil {
			return stepErr(StepMetadata, err)
		}
		report.Record = updated

		return nil
	})
	if err != nil {
		return report, err
	}

	return report, report.Err()
}

// rebuildRecord writes a fresh record for a workspace whose metadata file
// is gone. The directory's mtime stands in for the creation time.
func (e *Engine) rebuildRecord(ctx context.Context, wt *vcs.Worktree) (*metadata.Record, error) {
	project, err := e.repo.ProjectName(ctx)
	if err != nil {
		return nil, err
	}
	base, err := e.baseBranch(ctx, "")
	if err != nil {
		log.WarnContext(ctx, "base branch unknown for rebuilt metadata", log.Workspace(wt.Path), log.Err(err))
		base = ""
	}

	created := e.now()
	if info, err := os.Stat(wt.Path); err == nil {
		created = info.ModTime()
	}

	agent := e.identity(ctx)
	rec := metadata.NewRecord(agent,
		metadata.Project{Name: project, RepoPath: e.repo.Root()},
		metadata.WorkspaceInfo{
			Path:      wt.Path,
			Branch:    wt.Branch,
			Base:      base,
			CreatedAt: created,
			CreatedBy: agent.Name,
		})
	if err := e.repo.EnsureExcluded(ctx, storage.ProjectDir+"/"); err != nil {
		return nil, err
	}
	if err := e.store.Write(wt.Path, rec); err != nil {
		return nil, err
	}
	log.WarnContext(ctx, "workspace metadata was missing, rebuilt", log.Workspace(wt.Path), log.Branch(wt.Branch))

	return rec, nil
}

func (e *Engine) runSetup(ctx context.Context, ws string, rec *metadata.Record, report *SetupReport) {
	features := e.project.Features
	repoPath := e.repo.Root()
	fail := func(step string, err error) {
		report.Failed[step] = err
		log.WarnContext(ctx, "setup step failed", log.Workspace(ws), log.Step(step), log.Err(err))
	}

	if features.EnvFiles {
		copied, err := environment.CopyEnvFiles(repoPath, ws)
		report.EnvFiles = copied
		if err != nil {
			fail(StepEnvFiles, err)
		}
	}

	target := environment.Target{
		Workspace:  ws,
		RepoPath:   repoPath,
		Branch:     rec.Workspace.Branch,
		SharedVenv: e.project.Python.SharedVenv,
	}

	report.Environment = e.env.Reconcile(ctx, target, func(kind string) bool {
		switch kind {
		case "python":
			return features.Python
		case "node":
			return features.Node
		case "java":
			return features.Java
		}

		return true
	})
	if err := report.Environment.Err(); err != nil {
		fail(StepEnvironment, err)
	}

	if features.Ports && e.cfg.Ports.Enabled && e.ports != nil {
		offset, err := e.allocatePort(ctx, ws)
		if err != nil {
			fail(StepPorts, err)
		} else {
			report.PortEnabled, report.PortOffset = true, offset
			for k, v := range ports.Env(offset, e.cfg.Ports.BasePort) {
				target.Env = append(target.Env, k+"="+v)
			}
		}
	}

	if features.CustomActions && len(e.project.Actions) > 0 {
		results, err := e.env.RunActions(ctx, target, e.project.Actions)
		report.Actions = results
		if err == nil {
			err = environment.ActionErrors(results)
		}
		if err != nil {
			fail(StepActions, err)
		}
	}
}

func (e *Engine) allocatePort(ctx context.Context, ws string) (int, error) {
	offset, err := e.ports.Allocate(ctx, ws)
	if err != nil {
		return 0, err
	}
	if err := ports.WriteEnv(ws, offset, e.cfg.Ports.BasePort); err != nil {
		return offset, err
	}
	log.InfoContext(ctx, "port allocated", log.Workspace(ws), "offset", offset,
		"port", strconv.Itoa(e.cfg.Ports.BasePort+offset))

	return offset, nil
}
