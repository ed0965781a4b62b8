package display

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valksor/go-cproj/internal/workflow"
)

// WorkspaceInfo holds workspace information for consistent display.
type WorkspaceInfo struct {
	Path     string
	Branch   string
	Base     string
	State    workflow.State
	Port     *int // Offset, nil when none is held
	BasePort int
	Created  time.Time
	Ticket   string
	PR       string
}

// FormatWorkspaceInfo formats workspace information consistently across
// commands.
func FormatWorkspaceInfo(header string, info WorkspaceInfo) string {
	var sb strings.Builder
	f := NewFormatter().SetIndent(1)

	fmt.Fprintf(&sb, "%s: %s\n", header, Bold(info.Path))

	if info.Branch != "" {
		branch := info.Branch
		if info.Base != "" {
			branch += Muted(" (from " + info.Base + ")")
		}
		sb.WriteString(f.KeyValue("Branch", branch))
	}
	if info.State != "" {
		state := FormatStateColored(info.State)
		if desc := GetStateDescription(info.State); desc != "" {
			state += " - " + Muted(desc)
		}
		sb.WriteString(f.KeyValue("State", state))
	}
	if info.Port != nil {
		sb.WriteString(f.KeyValue("Port", PortLabel(*info.Port, info.BasePort)))
	}
	if !info.Created.IsZero() {
		sb.WriteString(f.KeyValue("Created", f.Timestamp(info.Created)+Muted(" ("+f.RelativeTimestamp(info.Created)+")")))
	}
	if info.Ticket != "" {
		sb.WriteString(f.KeyValue("Ticket", info.Ticket))
	}
	if info.PR != "" {
		sb.WriteString(f.KeyValue("PR", info.PR))
	}

	return sb.String()
}

// PortLabel renders an offset with the port it maps to, e.g. "3 (3003)".
func PortLabel(offset, basePort int) string {
	if basePort <= 0 {
		return strconv.Itoa(offset)
	}

	return fmt.Sprintf("%d (%d)", offset, basePort+offset)
}

// NextStep represents a single next step suggestion.
type NextStep struct {
	Command     string
	Description string
}

// NextStepsFor suggests what to do in state for the workspace at path.
func NextStepsFor(state workflow.State, path string) []NextStep {
	action := workflow.Describe(state).NextAction
	if action == "" {
		return nil
	}
	if strings.HasPrefix(action, "cproj ") && !strings.Contains(action, "--") {
		action += " " + path
	}

	return []NextStep{{Command: action, Description: GetStateDescription(state)}}
}

// FormatNextSteps formats the "Next steps:" section consistently.
func FormatNextSteps(steps []NextStep) string {
	if len(steps) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(Muted("Next steps:"))
	sb.WriteString("\n")

	maxLen := 0
	for _, s := range steps {
		maxLen = max(maxLen, len(s.Command))
	}
	for _, s := range steps {
		pad := strings.Repeat(" ", maxLen-len(s.Command))
		fmt.Fprintf(&sb, "  %s%s  %s\n", Cyan(s.Command), pad, Muted("- "+s.Description))
	}

	return sb.String()
}

// FormatConfirmation formats a confirmation prompt consistently.
// summary: Main action being confirmed (e.g., "Merge feature/login")
// details: Optional list of details to show
// warning: Optional warning message to show (highlighted in yellow)
func FormatConfirmation(summary string, details []string, warning string) string {
	var sb strings.Builder

	sb.WriteString(Bold(summary))
	sb.WriteString("\n")

	for _, d := range details {
		fmt.Fprintf(&sb, "  %s\n", d)
	}

	if warning != "" {
		sb.WriteString("\n")
		sb.WriteString(WarningMsg("%s", warning))
		sb.WriteString("\n")
	}

	return sb.String()
}

// FormatWarnings renders one warning line per entry.
func FormatWarnings(warnings []string) string {
	var sb strings.Builder
	for _, w := range warnings {
		sb.WriteString(WarningMsg("%s", w))
		sb.WriteString("\n")
	}

	return sb.String()
}
