package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valksor/go-cproj/internal/display"
	"github.com/valksor/go-cproj/internal/workflow"
)

var (
	statusJSON    bool
	statusOffline bool
)

var statusCmd = &cobra.Command{
	Use:     "status [path]",
	Short:   "Show the lifecycle state of a workspace",
	GroupID: "info",
	Long: `Show where a workspace is in its lifecycle, derived from live facts:
uncommitted changes, commits ahead of base, the remote branch and the pull
request.

Status never changes anything. When the metadata record disagrees with
git or the code host, the live facts win and the difference is shown as a
warning.

Examples:
  cproj status
  cproj status --offline     # Do not contact the code host
  cproj status --json`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	statusCmd.Flags().BoolVar(&statusOffline, "offline", false, "Do not contact the code host")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	path, err := workspaceArg(args)
	if err != nil {
		return err
	}

	mode := hostingOptional
	if statusOffline {
		mode = hostingOff
	}
	s, err := openSession(ctx, mode)
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.engine.Status(ctx, path, statusOffline)
	if err != nil {
		return err
	}

	if statusJSON {
		return printJSON(cmd, st)
	}

	info := display.WorkspaceInfo{
		Path:     st.Path,
		Branch:   st.Branch,
		Base:     st.Base,
		State:    st.State,
		Port:     st.Port,
		BasePort: cfg.Ports.BasePort,
		Created:  st.CreatedAt,
		PR:       st.Facts.PRURL,
	}
	if st.Record != nil {
		info.Ticket = st.Record.Links.Ticket
	}
	out := cmd.OutOrStdout()
	fmt.Fprint(out, display.FormatWorkspaceInfo("Workspace", info))
	fmt.Fprint(out, display.NewFormatter().SetIndent(1).KeyValue("Commits", commitSummary(st.Facts)))
	if st.Record != nil && st.Record.Partial() {
		for _, f := range st.Record.Setup.FailedSteps {
			fmt.Fprintln(out, display.WarningMsg("setup step %s failed: %s", f.Step, f.Error))
		}
	}
	warnAll(cmd, st.Warnings)

	fmt.Fprint(out, display.FormatNextSteps(display.NextStepsFor(st.State, st.Path)))

	return nil
}

func commitSummary(f workflow.Facts) string {
	s := fmt.Sprintf("%d ahead, %d behind base", f.AheadOfBase, f.BehindBase)
	switch {
	case !f.RemoteBranchExists:
		s += ", not pushed"
	case f.Unpushed > 0:
		s += fmt.Sprintf(", %d unpushed", f.Unpushed)
	}

	return s
}
