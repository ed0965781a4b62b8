package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/valksor/go-cproj/internal/display"
)

var notePath string

var noteCmd = &cobra.Command{
	Use:     "note <text...>",
	Short:   "Add a note to a workspace",
	GroupID: "workspace",
	Long: `Append a timestamped note to the workspace metadata.

Examples:
  cproj note "waiting on API review"
  cproj note --path ../myrepo-feature-x-20260101 blocked by CI`,
	Args: usageArgs(cobra.MinimumNArgs(1)),
	RunE: runNote,
}

func init() {
	rootCmd.AddCommand(noteCmd)

	noteCmd.Flags().StringVarP(&notePath, "path", "p", "", "Workspace path (default: current directory)")
}

func runNote(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var pathArgs []string
	if notePath != "" {
		pathArgs = []string{notePath}
	}
	path, err := workspaceArg(pathArgs)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, hostingOff)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.engine.AddNote(ctx, path, strings.Join(args, " ")); err != nil {
		return err
	}

	infof(cmd, "%s\n", display.SuccessMsg("Note added to %s", path))

	return nil
}
