package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/valksor/go-cproj/internal/display"
	"github.com/valksor/go-cproj/internal/lifecycle"
)

var (
	cleanupOlderThan int
	cleanupNewerThan int
	cleanupMerged    bool
	cleanupPattern   string
	cleanupForce     bool
	cleanupDryRun    bool
	cleanupYes       bool
	cleanupJSON      bool
)

var cleanupCmd = &cobra.Command{
	Use:     "cleanup",
	Short:   "Remove stale workspaces",
	GroupID: "workspace",
	Long: `Remove workspaces matching every given filter and release their ports.

Without filters, workspaces older than cleanup_days are selected. Age is
measured from the creation time recorded in the workspace metadata, or
the directory's modification time when there is none.

Workspaces with uncommitted changes are skipped unless --force is given.
A dry run lists exactly the workspaces a real run would remove.

Examples:
  cproj cleanup --dry-run
  cproj cleanup --older-than 30
  cproj cleanup --merged --yes
  cproj cleanup --pattern 'spike/*' --force`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().IntVar(&cleanupOlderThan, "older-than", 0, "Select workspaces older than N days")
	cleanupCmd.Flags().IntVar(&cleanupNewerThan, "newer-than", 0, "Select workspaces at most N days old")
	cleanupCmd.Flags().BoolVar(&cleanupMerged, "merged", false, "Select workspaces whose branch is merged or closed")
	cleanupCmd.Flags().StringVar(&cleanupPattern, "pattern", "", "Select branches matching a glob")
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Remove workspaces with uncommitted changes too")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "List what would be removed")
	cleanupCmd.Flags().BoolVarP(&cleanupYes, "yes", "y", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVar(&cleanupJSON, "json", false, "Output as JSON")
}

func cleanupSelector() (lifecycle.Selector, error) {
	if cleanupOlderThan < 0 || cleanupNewerThan < 0 {
		return lifecycle.Selector{}, fmt.Errorf("%w: day counts must not be negative", ErrUsage)
	}

	return lifecycle.Selector{
		OlderThan:  time.Duration(cleanupOlderThan) * lifecycle.Day,
		NewerThan:  time.Duration(cleanupNewerThan) * lifecycle.Day,
		MergedOnly: cleanupMerged,
		Pattern:    cleanupPattern,
		Force:      cleanupForce,
	}, nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sel, err := cleanupSelector()
	if err != nil {
		return err
	}

	s, err := openSession(ctx, hostingOff)
	if err != nil {
		return err
	}
	defer s.Close()

	plan, err := s.engine.PlanCleanup(ctx, sel)
	if err != nil {
		return err
	}

	if cleanupDryRun {
		if cleanupJSON {
			return printJSON(cmd, plan)
		}

		return printCleanupPlan(cmd, plan)
	}

	if len(plan.Remove) == 0 {
		if cleanupJSON {
			return printJSON(cmd, &lifecycle.CleanupResult{Removed: []lifecycle.Candidate{}, Skipped: plan.Skip})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No workspaces to clean up.")
		printSkipped(cmd, plan.Skip)

		return nil
	}

	if !cleanupJSON {
		if err := printCleanupPlan(cmd, plan); err != nil {
			return err
		}
	}
	ok, err := confirmAction(cmd, fmt.Sprintf("Remove %d workspace(s).", len(plan.Remove)), cleanupYes)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")

		return nil
	}

	res, err := s.engine.ApplyCleanup(ctx, plan)
	if cleanupJSON {
		if res != nil {
			if perr := printJSON(cmd, res); perr != nil {
				return perr
			}
		}

		return err
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, c := range res.Removed {
		infof(cmd, "%s\n", display.SuccessMsg("Removed %s", c.Path))
	}
	for _, f := range res.Failed {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", display.ErrorMsg("%s: %s", f.Path, f.Err))
	}
	fmt.Fprintf(out, "\nRemoved %d, skipped %d, failed %d\n", len(res.Removed), len(res.Skipped), len(res.Failed))
	if len(res.Failed) > 0 {
		return fmt.Errorf("%d workspace(s) could not be removed", len(res.Failed))
	}

	return nil
}

func printCleanupPlan(cmd *cobra.Command, plan *lifecycle.CleanupPlan) error {
	out := cmd.OutOrStdout()
	if len(plan.Remove) == 0 {
		fmt.Fprintln(out, "No workspaces to clean up.")
		printSkipped(cmd, plan.Skip)

		return nil
	}

	fmt.Fprintln(out, display.Bold("Would remove:"))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(w, "  BRANCH\tAGE\tMERGED\tPORT\tPATH"); err != nil {
		return err
	}
	for _, c := range plan.Remove {
		port := "-"
		if c.Port != nil {
			port = display.PortLabel(*c.Port, cfg.Ports.BasePort)
		}
		merged := "no"
		if c.Merged {
			merged = "yes"
		}
		path := c.Path
		switch {
		case c.Missing:
			path += " (missing)"
		case c.Dirty:
			path += " (dirty)"
		}
		if _, err := fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n", c.Branch, display.Age(c.Age), merged, port, path); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	printSkipped(cmd, plan.Skip)

	return nil
}

func printSkipped(cmd *cobra.Command, skipped []lifecycle.Candidate) {
	if len(skipped) == 0 {
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), display.Muted("Skipped:"))
	for _, c := range skipped {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", c.Path, display.Muted("("+c.Reason+")"))
	}
}
