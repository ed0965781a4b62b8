// Package display provides user-friendly formatting for CLI output.
package display

import (
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/valksor/go-cproj/internal/workflow"
)

var (
	colorEnabled     = true
	colorInitialized = false
	colorMu          sync.RWMutex
)

// Terminal color styles, ANSI 16-color palette.
var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	cyanStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	boldStyle    = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

// InitColors initializes the color system based on flags and environment.
// Should be called once during startup with the --no-color flag value.
func InitColors(noColor bool) {
	colorMu.Lock()
	defer colorMu.Unlock()

	colorInitialized = true

	if noColor {
		colorEnabled = false

		return
	}

	// https://no-color.org/
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		colorEnabled = false

		return
	}

	colorEnabled = term.IsTerminal(int(os.Stdout.Fd()))
}

// ColorsEnabled returns whether colors are currently enabled.
func ColorsEnabled() bool {
	colorMu.RLock()
	initialized, enabled := colorInitialized, colorEnabled
	colorMu.RUnlock()

	if !initialized {
		InitColors(false)

		return ColorsEnabled()
	}

	return enabled
}

// SetColorsEnabled allows manual control of color output (useful for testing).
func SetColorsEnabled(enabled bool) {
	colorMu.Lock()
	defer colorMu.Unlock()
	colorEnabled = enabled
	colorInitialized = true
}

func render(style lipgloss.Style, text string) string {
	if !ColorsEnabled() {
		return text
	}

	return style.Render(text)
}

// Success formats text as successful (green).
func Success(text string) string { return render(successStyle, text) }

// Error formats text as an error (red).
func Error(text string) string { return render(errorStyle, text) }

// Warning formats text as a warning (yellow).
func Warning(text string) string { return render(warningStyle, text) }

// Info formats text as informational (blue).
func Info(text string) string { return render(infoStyle, text) }

// Muted formats text as muted/secondary (gray).
func Muted(text string) string { return render(mutedStyle, text) }

// Bold formats text as bold.
func Bold(text string) string { return render(boldStyle, text) }

// Dim formats text as dim/faded.
func Dim(text string) string { return render(dimStyle, text) }

// Cyan formats text in cyan (used for commands/code).
func Cyan(text string) string { return render(cyanStyle, text) }

// SuccessPrefix returns a success checkmark prefix.
func SuccessPrefix() string { return Success("✓") }

// ErrorPrefix returns an error X prefix.
func ErrorPrefix() string { return Error("✗") }

// WarningPrefix returns a warning icon prefix.
func WarningPrefix() string { return Warning("⚠") }

// InfoPrefix returns an info arrow prefix.
func InfoPrefix() string { return Info("→") }

// SuccessMsg formats a success message with prefix.
func SuccessMsg(format string, args ...any) string {
	return SuccessPrefix() + " " + fmt.Sprintf(format, args...)
}

// ErrorMsg formats an error message with prefix.
func ErrorMsg(format string, args ...any) string {
	return ErrorPrefix() + " " + Error(fmt.Sprintf(format, args...))
}

// WarningMsg formats a warning message with prefix.
func WarningMsg(format string, args ...any) string {
	return WarningPrefix() + " " + Warning(fmt.Sprintf(format, args...))
}

// InfoMsg formats an info message with prefix.
func InfoMsg(format string, args ...any) string {
	return InfoPrefix() + " " + fmt.Sprintf(format, args...)
}

// ColorState colors displayName by how urgently the state needs attention.
func ColorState(state workflow.State, displayName string) string {
	switch state {
	case workflow.StateNeedsCommit:
		return Warning(displayName)
	case workflow.StateNeedsPush, workflow.StateNeedsPR:
		return Info(displayName)
	case workflow.StateInReview:
		return Cyan(displayName)
	case workflow.StateReadyToCleanup:
		return Success(displayName)
	case workflow.StateClean:
		return Muted(displayName)
	default:
		return displayName
	}
}
