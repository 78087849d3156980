package transfer

// Action is the closed set of control actions the processor knows.
// Unrecognized action strings decode to ActionUnknown.
type Action int

const (
	ActionUnknown Action = iota
	ActionProcessItem
	ActionRemoteHost
	ActionPause
	ActionPausing
	ActionAborting
	ActionResume
	ActionComplete
	ActionAbort
	ActionFail
	ActionQueueCount
	ActionQueueSize
	ActionStartItem
	ActionSuccessItem
	ActionWarningItem
	ActionFailedItem
	ActionInitiator
	ActionStart
	ActionVersion
	ActionChildFailed

	// Child log actions.
	ActionPercentage
	ActionSummary
)

var actionNames = map[string]Action{
	"process-item": ActionProcessItem,
	"remotehost":   ActionRemoteHost,
	"pause":        ActionPause,
	"pausing":      ActionPausing,
	"aborting":     ActionAborting,
	"resume":       ActionResume,
	"complete":     ActionComplete,
	"abort":        ActionAbort,
	"fail":         ActionFail,
	"queue_count":  ActionQueueCount,
	"queue_size":   ActionQueueSize,
	"start-item":   ActionStartItem,
	"success-item": ActionSuccessItem,
	"warning-item": ActionWarningItem,
	"failed-item":  ActionFailedItem,
	"initiator":    ActionInitiator,
	"start":        ActionStart,
	"version":      ActionVersion,
	"child-failed": ActionChildFailed,
	"percentage":   ActionPercentage,
	"summary":      ActionSummary,
}

var actionStrings = func() map[Action]string {
	m := make(map[Action]string, len(actionNames))
	for name, a := range actionNames {
		m[a] = name
	}
	return m
}()

// ParseAction maps a wire action name to an Action.
func ParseAction(s string) Action {
	return actionNames[s]
}

func (a Action) String() string {
	if s, ok := actionStrings[a]; ok {
		return s
	}
	return "unknown"
}

// outcome returns the item outcome for a finish action.
func (a Action) outcome() (Outcome, bool) {
	switch a {
	case ActionSuccessItem:
		return OutcomeSuccess, true
	case ActionWarningItem:
		return OutcomeWarning, true
	case ActionFailedItem:
		return OutcomeFailed, true
	}
	return 0, false
}
