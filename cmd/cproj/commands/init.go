package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/valksor/go-cproj/internal/apperr"
	"github.com/valksor/go-cproj/internal/config"
	"github.com/valksor/go-cproj/internal/display"
	"github.com/valksor/go-cproj/internal/storage"
)

var (
	initForce  bool
	initGlobal bool
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Write a starter configuration",
	GroupID: "config",
	Long: `Write .cproj/project.yaml in the repository with the default features and a
commented example of custom actions. With --global, also write the user
configuration file.

Existing files are left alone unless --force is given.

Examples:
  cproj init
  cproj init --global
  cproj init --force`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite existing files")
	initCmd.Flags().BoolVar(&initGlobal, "global", false, "Also write "+config.FileName+" in the user config directory")
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	repo, err := openRepo(ctx)
	if err != nil {
		return err
	}

	projectPath := storage.ProjectConfigPath(repo.Root())
	if err := refuseExisting(projectPath); err != nil {
		return err
	}
	if err := storage.SaveProjectConfig(repo.Root(), storage.NewDefaultProjectConfig()); err != nil {
		return err
	}
	infof(cmd, "%s\n", display.SuccessMsg("Wrote %s", projectPath))

	if initGlobal {
		globalPath := config.Path()
		if err := refuseExisting(globalPath); err != nil {
			return err
		}
		if err := config.Save(globalPath, cfg); err != nil {
			return err
		}
		infof(cmd, "%s\n", display.SuccessMsg("Wrote %s", globalPath))
	}

	return nil
}

func refuseExisting(path string) error {
	if initForce {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s already exists (use --force)", apperr.ErrPreconditionFailed, path)
	}

	return nil
}
