package display

import (
	"github.com/valksor/go-cproj/internal/workflow"
)

// StateDisplay maps lifecycle states to user-friendly names.
var StateDisplay = map[workflow.State]string{
	workflow.StateNeedsCommit:    "Needs commit",
	workflow.StateNeedsPush:      "Needs push",
	workflow.StateNeedsPR:        "Needs PR",
	workflow.StateInReview:       "In review",
	workflow.StateReadyToCleanup: "Ready to clean up",
	workflow.StateClean:          "Clean",
}

// StateAccessiblePrefix provides short text prefixes so states can be told
// apart without relying on color alone.
var StateAccessiblePrefix = map[workflow.State]string{
	workflow.StateNeedsCommit:    "[M]", // Modified
	workflow.StateNeedsPush:      "[P]",
	workflow.StateNeedsPR:        "[R]", // Request review
	workflow.StateInReview:       "[V]", // reView
	workflow.StateReadyToCleanup: "[D]", // Done
	workflow.StateClean:          "[C]",
}

// FormatState returns the user-friendly display name for a lifecycle state.
// Falls back to the raw state string if not found in the mapping.
func FormatState(state workflow.State) string {
	if name, ok := StateDisplay[state]; ok {
		return name
	}

	return string(state)
}

// GetStateDescription returns a brief description of what the state means.
func GetStateDescription(state workflow.State) string {
	return workflow.Describe(state).Description
}

// GetStateAccessiblePrefix returns the accessibility prefix for a state.
func GetStateAccessiblePrefix(state workflow.State) string {
	if prefix, ok := StateAccessiblePrefix[state]; ok {
		return prefix
	}

	return "[?]"
}

// FormatStateColored returns "[P] Needs push" with a muted prefix and a
// colored name.
func FormatStateColored(state workflow.State) string {
	return Muted(GetStateAccessiblePrefix(state)) + " " + ColorState(state, FormatState(state))
}
