package startup

// State is the sequencer's lifecycle position. Transitions are one-way and
// terminal per session; a fatal critical-path failure lands in StateFailed
// instead of StateInteractive.
type State int32

const (
	StateNotStarted State = iota
	StateLoadingCriticalPath
	StateInteractive
	StateRunningDeferred
	StateFullyLoaded
	StateFailed
)

var stateNames = map[State]string{
	StateNotStarted:          "NOT_STARTED",
	StateLoadingCriticalPath: "LOADING_CRITICAL_PATH",
	StateInteractive:         "INTERACTIVE",
	StateRunningDeferred:     "RUNNING_DEFERRED",
	StateFullyLoaded:         "FULLY_LOADED",
	StateFailed:              "FAILED",
}

func (s State) String() string { return stateNames[s] }
