package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valksor/go-cproj/internal/apperr"
	"github.com/valksor/go-cproj/internal/display"
	"github.com/valksor/go-cproj/internal/ports"
)

var (
	portsJSON      bool
	portsWorkspace string
)

var portsCmd = &cobra.Command{
	Use:     "ports",
	Short:   "Inspect and release port offsets",
	GroupID: "info",
	Long: `Every workspace owns one offset of the port pool. The offset is added to
ports.base_port to give the workspace its own range of local ports, and is
written to .cproj/ports.env inside the workspace.`,
}

var portsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List allocated port offsets",
	Long: `List every allocated offset with the workspace that owns it.

Examples:
  cproj ports list
  cproj ports list --json`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runPortsList,
}

var portsFreeCmd = &cobra.Command{
	Use:   "free [offset]",
	Short: "Release a port offset",
	Long: `Release an offset by number or by owning workspace. Releasing an offset
that is not allocated is not an error.

Examples:
  cproj ports free 3
  cproj ports free --workspace ../myrepo-feature-x-20260101`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: runPortsFree,
}

func init() {
	rootCmd.AddCommand(portsCmd)
	portsCmd.AddCommand(portsListCmd)
	portsCmd.AddCommand(portsFreeCmd)

	portsListCmd.Flags().BoolVar(&portsJSON, "json", false, "Output as JSON")
	portsFreeCmd.Flags().StringVarP(&portsWorkspace, "workspace", "w", "", "Release the offset owned by this workspace")
}

func runPortsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = pool.Close() }()

	allocs, err := pool.List(ctx)
	if err != nil {
		return err
	}

	if portsJSON {
		if allocs == nil {
			allocs = []ports.Allocation{}
		}

		return printJSON(cmd, allocs)
	}

	out := cmd.OutOrStdout()
	if len(allocs) == 0 {
		fmt.Fprintf(out, "No offsets allocated (pool of %d).\n", pool.Size())

		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(w, "OFFSET\tPORT\tALLOCATED\tWORKSPACE"); err != nil {
		return fmt.Errorf("print header: %w", err)
	}
	for _, a := range allocs {
		workspace := a.WorkspacePath
		if _, err := os.Stat(workspace); err != nil {
			workspace += " (missing)"
		}
		if _, err := fmt.Fprintf(w, "%d\t%d\t%s\t%s\n",
			a.Offset, cfg.Ports.BasePort+a.Offset, display.Since(a.AllocatedAt), workspace); err != nil {
			return fmt.Errorf("print row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d of %d offsets in use\n", len(allocs), pool.Size())

	return nil
}

func runPortsFree(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if (len(args) == 0) == (portsWorkspace == "") {
		return fmt.Errorf("%w: give either an offset or --workspace", ErrUsage)
	}

	pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = pool.Close() }()

	if portsWorkspace != "" {
		ws, err := filepath.Abs(portsWorkspace)
		if err != nil {
			return err
		}
		freed, err := pool.FreeByWorkspace(ctx, ws)
		if err != nil {
			return err
		}
		if err := ports.RemoveEnv(ws); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", display.WarningMsg("could not remove %s: %v", ports.EnvPath(ws), err))
		}
		if !freed {
			infof(cmd, "%s\n", display.InfoMsg("%s holds no offset", ws))

			return nil
		}
		infof(cmd, "%s\n", display.SuccessMsg("Released offset of %s", ws))

		return nil
	}

	offset, err := strconv.Atoi(args[0])
	if err != nil || offset < 0 {
		return fmt.Errorf("%w: invalid offset %q", ErrUsage, args[0])
	}
	if offset >= pool.Size() {
		return fmt.Errorf("%w: offset %d outside pool of %d", apperr.ErrPreconditionFailed, offset, pool.Size())
	}

	allocs, err := pool.List(ctx)
	if err != nil {
		return err
	}
	if err := pool.Free(ctx, offset); err != nil {
		return err
	}
	for _, a := range allocs {
		if a.Offset == offset {
			if err := ports.RemoveEnv(a.WorkspacePath); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", display.WarningMsg("could not remove %s: %v", ports.EnvPath(a.WorkspacePath), err))
			}
		}
	}
	infof(cmd, "%s\n", display.SuccessMsg("Released offset %d", offset))

	return nil
}
