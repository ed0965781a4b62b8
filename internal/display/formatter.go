package display

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Formatting constants for consistent output across the CLI.
const (
	IndentNone = ""
	IndentOne  = "  "
	IndentTwo  = "    "

	// keyWidth aligns KeyValue output.
	keyWidth = 10
)

// SeparatorLine separates sections.
var SeparatorLine = strings.Repeat("─", 60)

// TimestampFormat is the standard timestamp format for CLI output.
const TimestampFormat = "2006-01-02 15:04:05"

// Formatter provides consistent output formatting.
type Formatter struct {
	indentLevel int
	now         func() time.Time
}

// NewFormatter creates a new formatter with default settings.
func NewFormatter() *Formatter {
	return &Formatter{now: time.Now}
}

// SetIndent sets the current indentation level.
func (f *Formatter) SetIndent(level int) *Formatter {
	f.indentLevel = level

	return f
}

// SetClock replaces the time source used for relative times.
func (f *Formatter) SetClock(now func() time.Time) *Formatter {
	f.now = now

	return f
}

// Indent returns the current indentation string.
func (f *Formatter) Indent() string {
	return strings.Repeat(IndentOne, f.indentLevel)
}

// Section prints a section header with consistent formatting.
func (f *Formatter) Section(title string) string {
	if title == "" {
		return "\n" + SeparatorLine + "\n"
	}

	return fmt.Sprintf("\n%s\n%s\n", Bold(title), SeparatorLine)
}

// KeyValue formats an aligned "key: value" line.
func (f *Formatter) KeyValue(key, value string) string {
	return fmt.Sprintf("%s%-*s%s\n", f.Indent(), keyWidth, key+":", value)
}

// List formats a bulleted list.
func (f *Formatter) List(items []string) string {
	var sb strings.Builder
	for _, item := range items {
		fmt.Fprintf(&sb, "%s%s %s\n", f.Indent(), Muted("•"), item)
	}

	return sb.String()
}

// Timestamp formats t in local time using the standard format.
func (f *Formatter) Timestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	return t.Local().Format(TimestampFormat)
}

// RelativeTimestamp formats t relative to now, e.g. "3 days ago".
func (f *Formatter) RelativeTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	return humanize.RelTime(t, f.now(), "ago", "from now")
}

// Age formats a duration as a rough age, e.g. "2 weeks".
func (f *Formatter) Age(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	now := f.now()

	return strings.TrimSpace(humanize.RelTime(now.Add(-d), now, "", ""))
}

// Truncate truncates a string to a maximum length, adding "..." if truncated.
func (f *Formatter) Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}

	return s[:maxLen-3] + "..."
}

// Section formats a section header.
func Section(title string) string {
	return NewFormatter().Section(title)
}

// KeyValue formats a key-value pair.
func KeyValue(key, value string) string {
	return NewFormatter().KeyValue(key, value)
}

// List formats a bulleted list.
func List(items []string) string {
	return NewFormatter().List(items)
}

// Age formats a duration as a rough age.
func Age(d time.Duration) string {
	return NewFormatter().Age(d)
}

// Since formats t relative to the current time.
func Since(t time.Time) string {
	return NewFormatter().RelativeTimestamp(t)
}

// Truncate truncates a string to a maximum length.
func Truncate(s string, maxLen int) string {
	return NewFormatter().Truncate(s, maxLen)
}
