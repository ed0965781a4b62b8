package commands

import (
	"github.com/spf13/cobra"

	"github.com/valksor/go-cproj/internal/display"
	"github.com/valksor/go-cproj/internal/lifecycle"
)

var (
	createBase     string
	createTicket   string
	createNoSetup  bool
	createNoAttach bool
	createJSON     bool
)

var createCmd = &cobra.Command{
	Use:     "create <branch>",
	Short:   "Create a workspace for a branch",
	GroupID: "workspace",
	Long: `Create a new git worktree workspace for a branch.

The repository is fetched and the base branch fast-forwarded from origin
first. A branch that already exists and is not checked out anywhere is
attached to the new workspace; a branch checked out in another worktree is
refused and that worktree's path is shown.

After the worktree exists, setup runs:
- .env files are copied from the repository
- Python, Node and Java dependencies are installed when detected
- A port offset is reserved and written to .cproj/ports.env
- Custom actions from .cproj/project.yaml run in order

A failed setup step leaves the workspace in place; fix the cause and run
'cproj setup <path>' to retry.

Examples:
  cproj create feature/login
  cproj create fix/crash --base release/1.2
  cproj create feature/sso --ticket https://linear.app/acme/issue/ENG-42
  cproj create spike/x --no-setup`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().StringVarP(&createBase, "base", "b", "", "Base branch (default: configured or remote default)")
	createCmd.Flags().StringVar(&createTicket, "ticket", "", "Ticket URL to record in the workspace")
	createCmd.Flags().BoolVar(&createNoSetup, "no-setup", false, "Skip env files, dependencies, ports and actions")
	createCmd.Flags().BoolVar(&createNoAttach, "no-attach", false, "Refuse instead of attaching an existing branch")
	createCmd.Flags().BoolVar(&createJSON, "json", false, "Output as JSON")
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, err := openSession(ctx, hostingOff)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.engine.Create(ctx, lifecycle.CreateRequest{
		Branch:   args[0],
		Base:     createBase,
		Ticket:   createTicket,
		NoSetup:  createNoSetup,
		NoAttach: createNoAttach,
	})
	if res == nil {
		return err
	}
	lastWorkspace = res.Path

	if createJSON {
		if jerr := printJSON(cmd, newCreateView(res)); jerr != nil {
			return jerr
		}

		return err
	}

	if err != nil {
		infof(cmd, "%s\n", display.WarningMsg("Workspace created with setup failures: %s", res.Path))
	} else {
		infof(cmd, "%s\n", display.SuccessMsg("Workspace created: %s", res.Path))
	}

	info := display.WorkspaceInfo{
		Path:     res.Path,
		Branch:   res.Branch,
		Base:     res.Base,
		BasePort: cfg.Ports.BasePort,
	}
	if res.Record != nil {
		info.Ticket = res.Record.Links.Ticket
	}
	if res.Setup != nil && res.Setup.PortEnabled {
		off := res.Setup.PortOffset
		info.Port = &off
	}
	infof(cmd, "%s", display.FormatWorkspaceInfo("Workspace", info))

	if res.Attached {
		infof(cmd, "  %s\n", display.Muted("Attached existing branch "+res.Branch))
	}
	infof(cmd, "  %s\n", display.Muted("Base "+res.Base+": "+string(res.BaseSync)))
	if res.Setup != nil {
		printSetup(cmd, res.Setup)
	}

	infof(cmd, "%s", display.FormatNextSteps([]display.NextStep{
		{Command: "cd " + res.Path, Description: "Start working"},
		{Command: "cproj review open", Description: "Push and open a pull request when ready"},
	}))

	return err
}
