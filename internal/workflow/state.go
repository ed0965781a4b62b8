package workflow

// State is the derived lifecycle state of a workspace. It is computed from
// live facts on every query and never persisted.
type State string

const (
	StateNeedsCommit    State = "NEEDS_COMMIT"     // Uncommitted changes in the working copy
	StateNeedsPush      State = "NEEDS_PUSH"       // Local commits the remote does not have
	StateNeedsPR        State = "NEEDS_PR"         // Pushed, but no open pull request
	StateInReview       State = "IN_REVIEW"        // Pull request open
	StateReadyToCleanup State = "READY_TO_CLEANUP" // Merged or closed; the workspace can go
	StateClean          State = "CLEAN"            // Nothing ahead of base
)

// States lists every lifecycle state in display order.
var States = []State{
	StateNeedsCommit,
	StateNeedsPush,
	StateNeedsPR,
	StateInReview,
	StateReadyToCleanup,
	StateClean,
}

// StateInfo holds metadata about a state
type StateInfo struct {
	Name        State
	Description string
	NextAction  string // Command hint shown next to the state
	Terminal    bool   // Only cleanup remains
}

// StateRegistry maps states to their metadata
var StateRegistry = map[State]StateInfo{
	StateNeedsCommit: {
		Name:        StateNeedsCommit,
		Description: "Uncommitted changes",
		NextAction:  "git commit",
	},
	StateNeedsPush: {
		Name:        StateNeedsPush,
		Description: "Commits not pushed",
		NextAction:  "cproj review open",
	},
	StateNeedsPR: {
		Name:        StateNeedsPR,
		Description: "Pushed, no pull request",
		NextAction:  "cproj review open",
	},
	StateInReview: {
		Name:        StateInReview,
		Description: "Pull request open",
		NextAction:  "cproj merge",
	},
	StateReadyToCleanup: {
		Name:        StateReadyToCleanup,
		Description: "Merged or closed",
		NextAction:  "cproj cleanup --merged",
		Terminal:    true,
	},
	StateClean: {
		Name:        StateClean,
		Description: "No changes relative to base",
	},
}

// Describe returns the registry entry for s. Unknown states get an entry
// with only the name set.
func Describe(s State) StateInfo {
	if info, ok := StateRegistry[s]; ok {
		return info
	}

	return StateInfo{Name: s}
}

// IsTerminal returns true if the state is terminal
func IsTerminal(s State) bool {
	info, ok := StateRegistry[s]

	return ok && info.Terminal
}

// PRStatus is the pull request state as far as the lifecycle cares.
type PRStatus string

const (
	PRNone    PRStatus = ""
	PROpen    PRStatus = "open"
	PRMerged  PRStatus = "merged"
	PRClosed  PRStatus = "closed"
	PRUnknown PRStatus = "unknown" // Hosting not reachable or not configured
)

// Facts are the live observations a state is derived from.
type Facts struct {
	Dirty              bool
	AheadOfBase        int
	BehindBase         int
	RemoteBranchExists bool
	Unpushed           int // Commits not on the remote branch; meaningless without one
	PR                 PRStatus
	PRURL              string
	Closed             bool // closed_at recorded in metadata
}

// Derive computes the lifecycle state. The first matching rule wins:
//
//	dirty                                  -> NEEDS_COMMIT
//	closed, or PR merged                   -> READY_TO_CLEANUP
//	nothing ahead of base                  -> CLEAN
//	no remote branch, or unpushed commits  -> NEEDS_PUSH
//	no PR, or PR closed without merging    -> NEEDS_PR
//	otherwise                              -> IN_REVIEW
//
// An unknown PR state on a pushed branch with a recorded URL is treated as
// in review.
func Derive(f Facts) State {
	switch {
	case f.Dirty:
		return StateNeedsCommit
	case f.Closed || f.PR == PRMerged:
		return StateReadyToCleanup
	case f.AheadOfBase == 0:
		return StateClean
	case !f.RemoteBranchExists || f.Unpushed > 0:
		return StateNeedsPush
	case f.PR == PRNone || f.PR == PRClosed:
		return StateNeedsPR
	case f.PR == PRUnknown && f.PRURL == "":
		return StateNeedsPR
	}

	return StateInReview
}
