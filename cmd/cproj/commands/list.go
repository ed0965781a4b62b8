package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valksor/go-cproj/internal/display"
	"github.com/valksor/go-cproj/internal/lifecycle"
)

var (
	listJSON    bool
	listStatus  bool
	listOffline bool
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List workspaces of the repository",
	GroupID: "info",
	Long: `List every linked worktree of the repository with its branch, age and
port offset. Worktrees without cproj metadata are listed too and marked
unmanaged. The canonical checkout is never listed.

Examples:
  cproj list
  cproj list --status            # Also derive each lifecycle state
  cproj list --status --offline  # Without contacting the code host
  cproj list --json`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output as JSON")
	listCmd.Flags().BoolVarP(&listStatus, "status", "s", false, "Derive the lifecycle state of every workspace")
	listCmd.Flags().BoolVar(&listOffline, "offline", false, "Do not contact the code host")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	mode := hostingOff
	if listStatus && !listOffline {
		mode = hostingOptional
	}
	s, err := openSession(ctx, mode)
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.engine.List(ctx, lifecycle.ListOptions{WithStatus: listStatus, Offline: listOffline})
	if err != nil {
		return err
	}

	if listJSON {
		if entries == nil {
			entries = []*lifecycle.Entry{}
		}

		return printJSON(cmd, entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No workspaces found.")
		fmt.Fprintln(cmd.OutOrStdout(), "\nUse 'cproj create <branch>' to create one.")

		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	header := "BRANCH\tAGE\tPORT\tPATH"
	if listStatus {
		header = "BRANCH\tSTATE\tAGE\tPORT\tPATH"
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return fmt.Errorf("print header: %w", err)
	}

	for _, e := range entries {
		branch := e.Branch
		if branch == "" {
			branch = "(detached)"
		}
		if !e.Managed && !e.Missing {
			branch += " *"
		}

		age := "-"
		if !e.CreatedAt.IsZero() {
			age = display.Since(e.CreatedAt)
		}

		port := "-"
		if e.Port != nil {
			port = display.PortLabel(*e.Port, cfg.Ports.BasePort)
		}

		path := e.Path
		if e.Missing {
			path += " (missing)"
		}

		var err error
		if listStatus {
			state := "-"
			switch {
			case e.Status != nil:
				state = display.FormatState(e.Status.State)
			case e.Err != "":
				state = "error"
			}
			_, err = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", branch, state, age, port, path)
		} else {
			_, err = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", branch, age, port, path)
		}
		if err != nil {
			return fmt.Errorf("print row: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return err
	}

	for _, e := range entries {
		if !e.Managed && !e.Missing {
			fmt.Fprintln(cmd.OutOrStdout(), display.Muted("\n* not created by cproj"))

			break
		}
	}

	return nil
}
