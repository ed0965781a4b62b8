package workflow

// Operation is a lifecycle transition a user can request.
type Operation string

const (
	OpReview  Operation = "open for review"
	OpMerge   Operation = "merge"
	OpCleanup Operation = "clean up"
)

// Transition describes an operation: the guards that must hold and the
// state the workspace is expected to reach.
type Transition struct {
	Op     Operation
	Guards []Guard
	To     State
}

// TransitionTable maps operations to their transitions:
//
//	NEEDS_PUSH / NEEDS_PR / IN_REVIEW  --review-->  IN_REVIEW
//	NEEDS_PR / IN_REVIEW               --merge--->  READY_TO_CLEANUP (then removed)
//	any                                --cleanup->  removed
var TransitionTable = map[Operation]Transition{
	OpReview: {
		Op:     OpReview,
		Guards: []Guard{GuardNotClosed, GuardAhead},
		To:     StateInReview,
	},
	OpMerge: {
		Op:     OpMerge,
		Guards: []Guard{GuardClean, GuardNotClosed, GuardPRNotClosed},
		To:     StateReadyToCleanup,
	},
	OpCleanup: {
		Op:     OpCleanup,
		Guards: []Guard{GuardClean},
	},
}

// CanApply checks the guards of op against f. The returned error is a
// *GuardError wrapping the guard's error.
func CanApply(op Operation, f Facts, force bool) error {
	tr, ok := TransitionTable[op]
	if !ok {
		return &GuardError{Op: op, Guard: "unknown", Reason: "unknown operation", State: Derive(f), err: ErrTransitionNotAllowed}
	}

	g, ok := EvaluateGuards(f, tr.Guards, force)
	if ok {
		return nil
	}

	err := g.Err
	if err == nil {
		err = ErrTransitionNotAllowed
	}

	return &GuardError{Op: op, Guard: g.Name, Reason: g.Reason, State: Derive(f), err: err}
}
