package task

// State is a step in a task's lifecycle.
type State int

const (
	StatePending State = iota
	StateStarting
	StateProfiling
	StateStopping
	StateUploading
	StateErroring
	StateDone
)

var stateNames = [...]string{
	StatePending:   "pending",
	StateStarting:  "starting",
	StateProfiling: "profiling",
	StateStopping:  "stopping",
	StateUploading: "uploading",
	StateErroring:  "erroring",
	StateDone:      "done",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Active reports whether a task in this state holds the profiler.
func (s State) Active() bool {
	return s >= StateStarting && s < StateDone
}
