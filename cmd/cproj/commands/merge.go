package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valksor/go-cproj/internal/display"
	"github.com/valksor/go-cproj/internal/hosting"
	"github.com/valksor/go-cproj/internal/lifecycle"
)

var (
	mergeStrategy     string
	mergeForce        bool
	mergeKeep         bool
	mergeDeleteBranch bool
	mergeDeleteRemote bool
	mergeDryRun       bool
	mergeYes          bool
	mergeJSON         bool
)

var mergeCmd = &cobra.Command{
	Use:     "merge [path]",
	Short:   "Merge the pull request and remove the workspace",
	GroupID: "review",
	Long: `Merge the workspace's pull request on the code host, then close and remove
the workspace and release its port.

Nothing local is touched until the host confirms the merge. A workspace
with uncommitted changes is refused unless --force is given.

Strategies: squash (default), merge, rebase.

Examples:
  cproj merge
  cproj merge --strategy rebase
  cproj merge --keep              # Record the merge but keep the directory
  cproj merge --delete-branch     # Also delete the local branch
  cproj merge --dry-run`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: runMerge,
}

func init() {
	rootCmd.AddCommand(mergeCmd)

	mergeCmd.Flags().StringVar(&mergeStrategy, "strategy", "", "Merge strategy: squash, merge or rebase")
	mergeCmd.Flags().BoolVarP(&mergeForce, "force", "f", false, "Merge even with uncommitted changes")
	mergeCmd.Flags().BoolVar(&mergeKeep, "keep", false, "Keep the workspace after merging")
	mergeCmd.Flags().BoolVar(&mergeDeleteBranch, "delete-branch", false, "Delete the local branch after removal")
	mergeCmd.Flags().BoolVar(&mergeDeleteRemote, "delete-remote", false, "Have the host delete the remote branch")
	mergeCmd.Flags().BoolVar(&mergeDryRun, "dry-run", false, "Show the plan without merging")
	mergeCmd.Flags().BoolVarP(&mergeYes, "yes", "y", false, "Skip confirmation prompt")
	mergeCmd.Flags().BoolVar(&mergeJSON, "json", false, "Output as JSON")
}

func runMerge(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var strategy hosting.MergeStrategy
	if mergeStrategy != "" {
		s, err := hosting.ParseMergeStrategy(mergeStrategy)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUsage, err)
		}
		strategy = s
	}

	path, err := workspaceArg(args)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, hostingRequired)
	if err != nil {
		return err
	}
	defer s.Close()

	plan, err := s.engine.PlanMerge(ctx, lifecycle.MergeRequest{
		Path:         path,
		Strategy:     strategy,
		Force:        mergeForce,
		Keep:         mergeKeep,
		DeleteBranch: mergeDeleteBranch,
		DeleteRemote: mergeDeleteRemote,
	})
	if err != nil {
		return err
	}

	if mergeDryRun {
		if mergeJSON {
			return printJSON(cmd, plan)
		}
		fmt.Fprint(cmd.OutOrStdout(), describeMerge(plan))
		warnAll(cmd, plan.Warnings)

		return nil
	}

	if !mergeJSON {
		warnAll(cmd, plan.Warnings)
	}
	warning := ""
	if plan.Remove {
		warning = "The workspace directory will be deleted."
	}
	ok, err := confirmAction(cmd, describeMerge(plan)+warningLine(warning), mergeYes)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")

		return nil
	}

	res, err := s.engine.ApplyMerge(ctx, plan)
	if mergeJSON {
		if res != nil {
			if perr := printJSON(cmd, res); perr != nil {
				return perr
			}
		}

		return err
	}
	if err != nil {
		if res != nil && res.Merged {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", display.SuccessMsg("Merged %s", plan.PR.URL))
		}

		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", display.SuccessMsg("Merged %s", plan.PR.URL))
	if res.Removed {
		infof(cmd, "%s\n", display.SuccessMsg("Removed %s", plan.Path))
	} else {
		infof(cmd, "%s\n", display.InfoMsg("Kept %s", plan.Path))
	}
	if res.PortFreed {
		infof(cmd, "%s\n", display.SuccessMsg("Port released"))
	}
	if res.BranchDeleted {
		infof(cmd, "%s\n", display.SuccessMsg("Deleted branch %s", plan.Branch))
	}
	warnAll(cmd, res.Warnings)

	return nil
}

func describeMerge(plan *lifecycle.MergePlan) string {
	var details []string
	if plan.AlreadyMerged {
		details = append(details, "Pull request "+plan.PR.URL+" is already merged")
	} else {
		details = append(details, fmt.Sprintf("Merge %s (%s) into %s", plan.PR.URL, plan.Strategy, plan.Base))
	}
	if plan.Remove {
		details = append(details, "Remove workspace "+plan.Path)
	} else {
		details = append(details, "Mark workspace closed, keep "+plan.Path)
	}
	if plan.DeleteBranch {
		details = append(details, "Delete local branch "+plan.Branch)
	}
	if plan.DeleteRemote {
		details = append(details, "Delete remote branch "+plan.Branch)
	}

	warning := ""
	if plan.Force {
		warning = "Uncommitted changes are ignored (--force)."
	}

	return display.FormatConfirmation("Merge "+plan.Branch, details, warning)
}

func warningLine(msg string) string {
	if msg == "" {
		return ""
	}

	return display.WarningMsg("%s", msg) + "\n"
}
