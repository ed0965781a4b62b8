package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valksor/go-cproj/internal/display"
	"github.com/valksor/go-cproj/internal/lifecycle"
)

var (
	reviewDraft     bool
	reviewTitle     string
	reviewBody      string
	reviewAssignees []string
	reviewDryRun    bool
	reviewYes       bool
	reviewJSON      bool
)

var reviewCmd = &cobra.Command{
	Use:     "review",
	Short:   "Send a workspace for review",
	GroupID: "review",
}

var reviewOpenCmd = &cobra.Command{
	Use:   "open [path]",
	Short: "Push the branch and open a pull request",
	Long: `Push the workspace branch to origin and open a pull request against its
base branch. When a pull request is already open for the branch it is
reused, so running the command twice never creates a duplicate.

The title defaults to "feat: <branch>"; the body names the branch and the
ticket recorded at creation.

Examples:
  cproj review open
  cproj review open --draft
  cproj review open --title "Add login" --assignee octocat
  cproj review open --dry-run     # Show what would happen`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: runReviewOpen,
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewOpenCmd)

	reviewOpenCmd.Flags().BoolVar(&reviewDraft, "draft", false, "Open as a draft")
	reviewOpenCmd.Flags().StringVar(&reviewTitle, "title", "", "Pull request title")
	reviewOpenCmd.Flags().StringVar(&reviewBody, "body", "", "Pull request body")
	reviewOpenCmd.Flags().StringSliceVar(&reviewAssignees, "assignee", nil, "Assign a user (repeatable)")
	reviewOpenCmd.Flags().BoolVar(&reviewDryRun, "dry-run", false, "Show the plan without pushing")
	reviewOpenCmd.Flags().BoolVarP(&reviewYes, "yes", "y", false, "Skip confirmation prompt")
	reviewOpenCmd.Flags().BoolVar(&reviewJSON, "json", false, "Output as JSON")
}

func runReviewOpen(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	path, err := workspaceArg(args)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, hostingRequired)
	if err != nil {
		return err
	}
	defer s.Close()

	plan, err := s.engine.PlanReview(ctx, lifecycle.ReviewRequest{
		Path:      path,
		Title:     reviewTitle,
		Body:      reviewBody,
		Draft:     reviewDraft,
		Assignees: reviewAssignees,
	})
	if err != nil {
		return err
	}

	if reviewDryRun {
		if reviewJSON {
			return printJSON(cmd, plan)
		}
		fmt.Fprint(cmd.OutOrStdout(), describeReview(plan))
		warnAll(cmd, plan.Warnings)

		return nil
	}

	if !reviewJSON {
		warnAll(cmd, plan.Warnings)
	}
	if plan.Push || plan.Create != nil {
		ok, err := confirmAction(cmd, describeReview(plan), reviewYes)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")

			return nil
		}
	}

	res, err := s.engine.ApplyReview(ctx, plan)
	if reviewJSON {
		if res != nil {
			if perr := printJSON(cmd, res); perr != nil {
				return perr
			}
		}

		return err
	}
	if res != nil && res.Pushed {
		infof(cmd, "%s\n", display.SuccessMsg("Pushed %s", plan.Branch))
	}
	if err != nil {
		return err
	}

	verb := "Pull request already open"
	if res.Created {
		verb = "Opened pull request"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", display.SuccessMsg("%s: %s", verb, res.PR.URL))

	return nil
}

func describeReview(plan *lifecycle.ReviewPlan) string {
	var details []string
	if plan.Push {
		details = append(details, "Push "+plan.Branch+" to origin")
	}
	switch {
	case plan.Existing != nil:
		details = append(details, "Reuse open pull request "+plan.Existing.URL)
	case plan.Create != nil:
		kind := "pull request"
		if plan.Create.Draft {
			kind = "draft pull request"
		}
		details = append(details, fmt.Sprintf("Open %s %q against %s", kind, plan.Create.Title, plan.Create.Base))
	}

	return display.FormatConfirmation("Review "+plan.Branch, details, "")
}
