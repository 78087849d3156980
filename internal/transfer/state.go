package transfer

// SessionState is the lifecycle state of a transfer session.
type SessionState string

const (
	StateUnknown   SessionState = "UNKNOWN"
	StatePending   SessionState = "PENDING"
	StateRunning   SessionState = "RUNNING"
	StatePaused    SessionState = "PAUSED"
	StatePausing   SessionState = "PAUSING"
	StateAborting  SessionState = "ABORTING"
	StateAborted   SessionState = "ABORTED"
	StateCompleted SessionState = "COMPLETED"
	StateFailed    SessionState = "FAILED"
)

// Terminal reports whether no further log messages are expected.
func (s SessionState) Terminal() bool {
	switch s {
	case StateAborted, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Valid reports whether s is a state the session can be in.
func (s SessionState) Valid() bool {
	switch s {
	case StateUnknown, StatePending, StateRunning, StatePaused,
		StatePausing, StateAborting, StateAborted,
		StateCompleted, StateFailed:
		return true
	}
	return false
}

// transitions maps session-control actions to the state they
// set unconditionally.
var transitions = map[Action]SessionState{
	ActionPause:    StatePaused,
	ActionPausing:  StatePausing,
	ActionAborting: StateAborting,
	ActionResume:   StateRunning,
}

// finalStates maps queue-finishing actions to the session state
// they set when no child number is given.
var finalStates = map[Action]SessionState{
	ActionComplete: StateCompleted,
	ActionAbort:    StateAborted,
	ActionFail:     StateFailed,
}
