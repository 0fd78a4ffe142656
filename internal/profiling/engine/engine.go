// Package engine is the boundary to the native profiler. The controller only
// sees Engine; RuntimeEngine implements it on top of the Go runtime's own
// profilers so a Go service can answer profiling tasks in-process.
package engine

import "errors"

// Status lines returned by Execute.
const (
	StatusStarted        = "Profiling started"
	StatusAlreadyStarted = "Profiler already started"
	StatusNotActive      = "Profiler is not active"
	StatusOK             = "OK"
)

// ErrNotActive is returned when stopping a profiler that is not running.
var ErrNotActive = errors.New(StatusNotActive)

// Engine executes profiler command lines such as
// "start,event=cpu,flamegraph,file=/tmp/t1.html" or "stop,file=/tmp/t1.html".
// Implementations are process-global and not reentrant; callers serialise
// access.
type Engine interface {
	Execute(command string) (string, error)
}

// Func adapts a function to the Engine interface.
type Func func(command string) (string, error)

// Execute calls f.
func (f Func) Execute(command string) (string, error) {
	return f(command)
}
