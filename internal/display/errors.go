package display

import (
	"errors"
	"fmt"
	"strings"

	"github.com/valksor/go-cproj/internal/apperr"
	"github.com/valksor/go-cproj/internal/hosting"
	"github.com/valksor/go-cproj/internal/ports"
	"github.com/valksor/go-cproj/internal/vcs"
	"github.com/valksor/go-cproj/internal/workflow"
)

// Suggestion represents a suggested action for error recovery.
type Suggestion struct {
	Command     string
	Description string
}

// ErrorWithSuggestions formats an error message with actionable suggestions.
func ErrorWithSuggestions(message string, suggestions []Suggestion) string {
	var sb strings.Builder

	sb.WriteString(ErrorMsg("%s", message))
	sb.WriteString("\n")

	if len(suggestions) > 0 {
		sb.WriteString("\n")
		sb.WriteString(Muted("Suggested actions:"))
		sb.WriteString("\n")
		for _, s := range suggestions {
			fmt.Fprintf(&sb, "  %s %s - %s\n", Muted("•"), Cyan(s.Command), s.Description)
		}
	}

	return sb.String()
}

// SuggestionsFor returns remediation commands for the well-known failure
// classes. workspace is the path the failing command acted on, if any.
func SuggestionsFor(err error, workspace string) []Suggestion {
	target := workspace
	if target == "" {
		target = "<path>"
	}

	if conflict, ok := vcs.AsConflict(err); ok && conflict.Path != "" {
		return []Suggestion{
			{Command: "cd " + conflict.Path, Description: "Continue in the existing workspace"},
			{Command: "cproj list", Description: "Show all workspaces"},
		}
	}

	switch {
	case errors.Is(err, apperr.ErrPartialSetupFailure):
		return []Suggestion{
			{Command: "cproj setup " + target, Description: "Retry the failed setup steps"},
			{Command: "cproj status " + target, Description: "Inspect the workspace"},
		}
	case errors.Is(err, ports.ErrPoolExhausted):
		return []Suggestion{
			{Command: "cproj ports list", Description: "See which workspaces hold offsets"},
			{Command: "cproj cleanup --merged", Description: "Remove merged workspaces and free their ports"},
		}
	case errors.Is(err, vcs.ErrDirtyWorkingCopy), errors.Is(err, workflow.ErrDirtyWorkspace):
		return []Suggestion{
			{Command: "git -C " + target + " status", Description: "Review the uncommitted changes"},
			{Command: "--force", Description: "Proceed anyway and discard them"},
		}
	case errors.Is(err, vcs.ErrRepositoryNotFound):
		return []Suggestion{
			{Command: "cproj --repo <path> ...", Description: "Point cproj at a git repository"},
		}
	case errors.Is(err, vcs.ErrBranchExists):
		return []Suggestion{
			{Command: "cproj create <branch>", Description: "Attach the existing branch (omit --no-attach)"},
		}
	case errors.Is(err, hosting.ErrNoToken), errors.Is(err, hosting.ErrUnauthorized):
		return []Suggestion{
			{Command: "export GITHUB_TOKEN=...", Description: "Or set hosting.token in the config file"},
		}
	}

	return nil
}

// FormatError renders err with the suggestions that apply to it.
func FormatError(err error, workspace string) string {
	return ErrorWithSuggestions(err.Error(), SuggestionsFor(err, workspace))
}
