package environment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/valksor/go-cproj/internal/apperr"
	"github.com/valksor/go-cproj/internal/command"
	"github.com/valksor/go-cproj/internal/log"
	"github.com/valksor/go-cproj/internal/storage"
)

// ErrRequiredActionFailed stops the remaining actions.
var ErrRequiredActionFailed = fmt.Errorf("%w: required action failed", apperr.ErrPartialSetupFailure)

// ActionResult is the outcome of one custom action.
type ActionResult struct {
	Name     string
	Type     string
	Required bool
	Skipped  bool // Not run because an earlier required action failed
	Err      error
	Duration time.Duration
}

// Substitute replaces the {workspace_path}, {repo_path}, {workspace_name}
// and {branch} placeholders in s.
func (t Target) Substitute(s string) string {
	return strings.NewReplacer(
		"{workspace_path}", t.Workspace,
		"{repo_path}", t.RepoPath,
		"{workspace_name}", t.Name(),
		"{branch}", t.Branch,
	).Replace(s)
}

// RunActions runs specs in order. A failing action is reported and the
// next one still runs, unless the failing action is required: then the
// rest are marked skipped and ErrRequiredActionFailed is returned.
func (rc *Reconciler) RunActions(ctx context.Context, t Target, specs []storage.ActionSpec) ([]ActionResult, error) {
	results := make([]ActionResult, 0, len(specs))
	var stop error

	for _, spec := range specs {
		r := ActionResult{Name: spec.DisplayName(), Type: spec.Type, Required: spec.Required}
		if stop != nil {
			r.Skipped = true
			results = append(results, r)

			continue
		}

		start := time.Now()
		r.Err = rc.runAction(ctx, t, spec)
		r.Duration = time.Since(start)
		results = append(results, r)

		if r.Err == nil {
			log.InfoContext(ctx, "action completed", "action", r.Name, log.Duration(r.Duration))

			continue
		}

		log.WarnContext(ctx, "action failed", "action", r.Name, "required", r.Required, log.Err(r.Err))
		if spec.Required {
			stop = fmt.Errorf("%w: %s: %w", ErrRequiredActionFailed, r.Name, r.Err)
		}
	}

	return results, stop
}

// ActionErrors joins the errors of failed actions.
func ActionErrors(results []ActionResult) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, r.Err))
		}
	}

	return errors.Join(errs...)
}

func (rc *Reconciler) runAction(ctx context.Context, t Target, spec storage.ActionSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	switch spec.Type {
	case storage.ActionCopyFiles:
		for _, f := range spec.Files {
			rel := t.Substitute(f)
			src, err := within(t.RepoPath, rel)
			if err != nil {
				return err
			}
			dst, err := within(t.Workspace, rel)
			if err != nil {
				return err
			}
			if err := copyFile(src, dst); err != nil {
				return fmt.Errorf("copy %s: %w", rel, err)
			}
		}

		return nil

	case storage.ActionCopyDir:
		srcRel := t.Substitute(spec.Source)
		dstRel := srcRel
		if spec.Dest != "" {
			dstRel = t.Substitute(spec.Dest)
		}
		src, err := within(t.RepoPath, srcRel)
		if err != nil {
			return err
		}
		dst, err := within(t.Workspace, dstRel)
		if err != nil {
			return err
		}
		info, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("copy %s: %w", srcRel, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("copy %s: not a directory", srcRel)
		}

		return copyDir(src, dst)

	case storage.ActionRun:
		argv := make([]string, len(spec.Command))
		for i, a := range spec.Command {
			argv[i] = t.Substitute(a)
		}
		dir, err := within(t.Workspace, t.Substitute(spec.Dir))
		if err != nil {
			return err
		}

		c := command.New(argv[0], argv[1:]...).
			InDir(dir).
			WithTimeout(rc.actionTimeout).
			WithEnv(t.vars()...)
		_, err = rc.tools.runner.Run(ctx, c)

		return err
	}

	return fmt.Errorf("unknown action type %q", spec.Type)
}
