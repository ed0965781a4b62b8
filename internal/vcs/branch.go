package vcs

import (
	"context"
	"fmt"
	"strings"

	"github.com/valksor/go-cproj/internal/log"
)

// BranchSync describes what EnsureLocalBranch did.
type BranchSync string

const (
	BranchCreated       BranchSync = "created"
	BranchFastForwarded BranchSync = "fast-forwarded"
	BranchUpToDate      BranchSync = "up-to-date"
	BranchDiverged      BranchSync = "diverged"      // Local has commits the remote lacks; left alone
	BranchLocalOnly     BranchSync = "local-only"    // No remote counterpart to sync from
	BranchSkippedDirty  BranchSync = "skipped-dirty" // Checked out with local changes; left alone

	// BranchSkippedCheckedOut: checked out in a linked worktree, which
	// belongs to someone else; left alone.
	BranchSkippedCheckedOut BranchSync = "skipped-checked-out"
)

// BranchExists checks if a local branch exists.
func (g *Git) BranchExists(ctx context.Context, name string) (bool, error) {
	return g.refExists(ctx, "refs/heads/"+name)
}

// RemoteBranchExists checks the remote-tracking ref known locally. It does
// not contact the remote.
func (g *Git) RemoteBranchExists(ctx context.Context, remote, name string) (bool, error) {
	return g.refExists(ctx, "refs/remotes/"+remote+"/"+name)
}

func (g *Git) refExists(ctx context.Context, ref string) (bool, error) {
	_, err := g.run(ctx, "show-ref", "--verify", "--quiet", ref)
	if err == nil {
		return true, nil
	}
	if exitCode(err) == 1 {
		return false, nil
	}

	return false, fmt.Errorf("check ref %s: %w", ref, err)
}

// RevParse resolves a revision to a commit hash.
func (g *Git) RevParse(ctx context.Context, rev string) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", rev, err)
	}

	return strings.TrimSpace(out), nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (g *Git) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	_, err := g.run(ctx, "merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	if exitCode(err) == 1 {
		return false, nil
	}

	return false, fmt.Errorf("merge-base %s %s: %w", ancestor, descendant, err)
}

// IsMerged reports whether every commit of branch is contained in base.
func (g *Git) IsMerged(ctx context.Context, branch, base string) (bool, error) {
	return g.IsAncestor(ctx, "refs/heads/"+branch, base)
}

// DefaultBranch returns the remote's default branch, falling back to the
// first existing of main, master and develop.
func (g *Git) DefaultBranch(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "symbolic-ref", "--quiet", "refs/remotes/"+DefaultRemote+"/HEAD")
	if err == nil {
		ref := strings.TrimSpace(out)
		if name := strings.TrimPrefix(ref, "refs/remotes/"+DefaultRemote+"/"); name != ref && name != "" {
			return name, nil
		}
	}

	for _, candidate := range []string{"main", "master", "develop"} {
		ok, err := g.BranchExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if ok {
			return candidate, nil
		}
		ok, err = g.RemoteBranchExists(ctx, DefaultRemote, candidate)
		if err != nil {
			return "", err
		}
		if ok {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: could not determine default branch", ErrBranchNotFound)
}

// EnsureLocalBranch makes sure branch name exists locally and is not
// behind fromRef (default origin/<name>). A missing branch is created from
// fromRef. An existing branch is moved only by a pure fast-forward: by ref
// update when it is not checked out, by merge --ff-only when the canonical
// checkout has it and is clean. A branch checked out in a linked worktree
// is never moved. The canonical checkout's HEAD is never switched.
func (g *Git) EnsureLocalBranch(ctx context.Context, name, fromRef string) (BranchSync, error) {
	if fromRef == "" {
		fromRef = DefaultRemote + "/" + name
	}

	localExists, err := g.BranchExists(ctx, name)
	if err != nil {
		return "", err
	}

	remoteHash, remoteErr := g.RevParse(ctx, fromRef)
	remoteExists := remoteErr == nil

	if !localExists {
		if !remoteExists {
			return "", fmt.Errorf("%w: %q not found locally or at %s", ErrBranchNotFound, name, fromRef)
		}
		if _, err := g.run(ctx, "branch", name, fromRef); err != nil {
			return "", fmt.Errorf("create branch %s from %s: %w", name, fromRef, err)
		}
		log.DebugContext(ctx, "created local branch", log.Branch(name), "from", fromRef)

		return BranchCreated, nil
	}

	if !remoteExists {
		return BranchLocalOnly, nil
	}

	localHash, err := g.RevParse(ctx, "refs/heads/"+name)
	if err != nil {
		return "", err
	}
	if localHash == remoteHash {
		return BranchUpToDate, nil
	}

	ff, err := g.IsAncestor(ctx, localHash, remoteHash)
	if err != nil {
		return "", err
	}
	if !ff {
		log.WarnContext(ctx, "base branch has diverged from remote, not updating",
			log.Branch(name), "remote", fromRef)

		return BranchDiverged, nil
	}

	wt, err := g.WorktreeForBranch(ctx, name)
	if err != nil {
		return "", err
	}

	if wt == nil {
		if _, err := g.run(ctx, "update-ref", "-m", "cproj: fast-forward", "refs/heads/"+name, remoteHash, localHash); err != nil {
			return "", fmt.Errorf("fast-forward %s: %w", name, err)
		}

		return BranchFastForwarded, nil
	}

	if !wt.Main {
		log.WarnContext(ctx, "base branch is checked out in another worktree, not updating",
			log.Branch(name), log.Workspace(wt.Path))

		return BranchSkippedCheckedOut, nil
	}

	dirty, err := g.IsDirty(ctx, wt.Path)
	if err != nil {
		return "", err
	}
	if dirty {
		log.WarnContext(ctx, "base branch is checked out with local changes, not updating",
			log.Branch(name), log.Workspace(wt.Path))

		return BranchSkippedDirty, nil
	}

	if _, err := g.runIn(ctx, wt.Path, "merge", "--ff-only", fromRef); err != nil {
		return "", fmt.Errorf("fast-forward %s: %w", name, err)
	}

	return BranchFastForwarded, nil
}

// Push pushes branch from the worktree at path and sets upstream.
func (g *Git) Push(ctx context.Context, path, branch string) error {
	if _, err := g.runIn(ctx, path, "push", "--set-upstream", DefaultRemote, branch); err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}

	return nil
}

// DeleteBranch force-deletes the local branch and, when remote is set, the
// branch on origin. Branches that are already gone are skipped.
func (g *Git) DeleteBranch(ctx context.Context, name string, remote bool) error {
	exists, err := g.BranchExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		if _, err := g.run(ctx, "branch", "-D", name); err != nil {
			return fmt.Errorf("delete branch %s: %w", name, err)
		}
	}

	if !remote {
		return nil
	}

	onRemote, err := g.RemoteBranchExists(ctx, DefaultRemote, name)
	if err != nil {
		return err
	}
	if !onRemote {
		return nil
	}
	if _, err := g.run(ctx, "push", DefaultRemote, "--delete", name); err != nil {
		return fmt.Errorf("delete remote branch %s: %w", name, err)
	}

	return nil
}
