package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set via ldflags at build time.
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "cproj %s\n", Version)
		fmt.Fprintf(cmd.OutOrStdout(), "  Commit: %s\n", Commit)
		fmt.Fprintf(cmd.OutOrStdout(), "  Built:  %s\n", BuildTime)
		fmt.Fprintf(cmd.OutOrStdout(), "  Go:     %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
