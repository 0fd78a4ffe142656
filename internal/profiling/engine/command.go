package engine

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Action is the verb of a command line.
type Action string

const (
	ActionStart  Action = "start"
	ActionStop   Action = "stop"
	ActionStatus Action = "status"
)

// Event is what the profiler samples.
type Event string

const (
	EventCPU   Event = "cpu"
	EventAlloc Event = "alloc"
	EventLock  Event = "lock"
	EventMutex Event = "mutex"
)

// Output is the artifact encoding.
type Output string

const (
	OutputPprof      Output = "pprof"
	OutputCollapsed  Output = "collapsed"
	OutputFlameGraph Output = "flamegraph"
)

// Command is a parsed command line.
type Command struct {
	Action Action
	Event  Event
	// AllocInterval is the sampling interval in bytes for EventAlloc; zero
	// keeps the runtime default.
	AllocInterval int
	// LockThreshold is the minimum blocking time recorded for EventLock.
	LockThreshold time.Duration
	Output        Output
	File          string
	Title         string
	// MinWidth hides frames narrower than this percentage of the total.
	MinWidth float64
	Reverse  bool
	Total    bool
}

// ParseCommand parses a comma separated command line. Options this engine
// does not implement (interval, jstackdepth, chunksize, ...) are accepted and
// ignored, matching how the command lines are produced for other profilers.
func ParseCommand(line string) (Command, error) {
	var cmd Command
	tokens := strings.Split(strings.TrimSpace(line), ",")

	for i, raw := range tokens {
		tok := strings.TrimSpace(raw)
		if tok == "" {
			continue
		}
		key, value, hasValue := strings.Cut(tok, "=")

		if i == 0 {
			switch Action(key) {
			case ActionStart, ActionStop, ActionStatus:
				cmd.Action = Action(key)
				continue
			}
			return Command{}, fmt.Errorf("unknown action %q", key)
		}

		switch key {
		case "event":
			ev, err := parseEvent(value)
			if err != nil {
				return Command{}, err
			}
			cmd.Event = ev
		case "alloc":
			cmd.Event = EventAlloc
			if hasValue {
				n, err := parseSize(value)
				if err != nil {
					return Command{}, fmt.Errorf("invalid alloc interval %q: %w", value, err)
				}
				cmd.AllocInterval = n
			}
		case "lock":
			cmd.Event = EventLock
			if hasValue {
				d, err := parseThreshold(value)
				if err != nil {
					return Command{}, fmt.Errorf("invalid lock threshold %q: %w", value, err)
				}
				cmd.LockThreshold = d
			}
		case "jfr":
			cmd.Output = OutputPprof
		case "collapsed", "flat", "traces":
			cmd.Output = OutputCollapsed
		case "flamegraph", "tree", "html":
			cmd.Output = OutputFlameGraph
		case "file":
			cmd.File = value
		case "title":
			cmd.Title = value
		case "minwidth":
			w, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return Command{}, fmt.Errorf("invalid minwidth %q: %w", value, err)
			}
			cmd.MinWidth = w
		case "reverse":
			cmd.Reverse = true
		case "total":
			cmd.Total = true
		}
	}

	if cmd.Action == "" {
		return Command{}, fmt.Errorf("empty command")
	}
	if cmd.Event == "" {
		cmd.Event = EventCPU
	}
	return cmd, nil
}

// ResolveOutput returns the explicit output or derives one from the file
// extension.
func (c Command) ResolveOutput() Output {
	if c.Output != "" {
		return c.Output
	}
	switch strings.ToLower(filepath.Ext(c.File)) {
	case ".jfr", ".pb", ".gz":
		return OutputPprof
	case ".html", ".htm":
		return OutputFlameGraph
	default:
		return OutputCollapsed
	}
}

func parseEvent(v string) (Event, error) {
	switch Event(v) {
	case EventCPU, EventAlloc, EventLock, EventMutex:
		return Event(v), nil
	case "itimer", "wall", "cpu-clock":
		return EventCPU, nil
	}
	return "", fmt.Errorf("unsupported event %q", v)
}

// parseSize parses byte counts with optional k, m or g suffix.
func parseSize(v string) (int, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	mult := 1
	switch {
	case strings.HasSuffix(v, "k"):
		mult, v = 1<<10, strings.TrimSuffix(v, "k")
	case strings.HasSuffix(v, "m"):
		mult, v = 1<<20, strings.TrimSuffix(v, "m")
	case strings.HasSuffix(v, "g"):
		mult, v = 1<<30, strings.TrimSuffix(v, "g")
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative size")
	}
	return n * mult, nil
}

// parseThreshold accepts Go durations ("10us") or bare nanoseconds.
func parseThreshold(v string) (time.Duration, error) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(n), nil
	}
	return time.ParseDuration(v)
}
