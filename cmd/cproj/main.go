// Command cproj manages parallel git worktree workspaces.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/valksor/go-cproj/cmd/cproj/commands"
	"github.com/valksor/go-cproj/internal/apperr"
	"github.com/valksor/go-cproj/internal/display"
	"github.com/valksor/go-cproj/internal/ports"
	"github.com/valksor/go-cproj/internal/vcs"
	"github.com/valksor/go-cproj/internal/workflow"
)

// Exit codes.
const (
	exitOK            = 0
	exitGeneric       = 1
	exitUsage         = 2
	exitDirty         = 3
	exitPoolExhausted = 4
	exitRepoNotFound  = 5
	exitConflict      = 6
	exitPrecondition  = 7
	exitExternalTool  = 8
	exitPartialSetup  = 9
)

func main() {
	err := commands.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, display.FormatError(err, commands.LastWorkspace()))
	}
	os.Exit(exitCode(err))
}

// exitCode maps an error to the process exit status. Specific failures are
// checked before their categories.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, commands.ErrUsage):
		return exitUsage
	case errors.Is(err, apperr.ErrPartialSetupFailure):
		return exitPartialSetup
	case errors.Is(err, vcs.ErrDirtyWorkingCopy), errors.Is(err, workflow.ErrDirtyWorkspace):
		return exitDirty
	case errors.Is(err, ports.ErrPoolExhausted), errors.Is(err, apperr.ErrResourceExhausted):
		return exitPoolExhausted
	case errors.Is(err, vcs.ErrRepositoryNotFound):
		return exitRepoNotFound
	case errors.Is(err, vcs.ErrWorktreeConflict):
		return exitConflict
	case errors.Is(err, apperr.ErrPreconditionFailed):
		return exitPrecondition
	case errors.Is(err, apperr.ErrExternalToolFailure):
		return exitExternalTool
	}

	return exitGeneric
}
