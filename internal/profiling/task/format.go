package task

import (
	"strconv"
	"strings"
)

// Format selects the artifact the profiler writes.
type Format int

const (
	// FormatUnset lets the profiler pick its default (HTML flame graph).
	FormatUnset Format = iota
	// FormatJFR is a binary recording.
	FormatJFR
	// FormatHTML is an HTML flame graph.
	FormatHTML
	// FormatCollapsed is folded stacks, one per line.
	FormatCollapsed
	// FormatText is a flat text summary.
	FormatText
)

// ParseFormat maps a dispatcher format name to a Format. Matching is case
// insensitive. Unknown names fall back to FormatText, the same way the
// profiler treats an unrecognised output option.
func ParseFormat(name string) Format {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return FormatUnset
	case "jfr":
		return FormatJFR
	case "html", "flamegraph", "tree":
		return FormatHTML
	case "collapsed":
		return FormatCollapsed
	default:
		return FormatText
	}
}

// String returns the dispatcher-facing name.
func (f Format) String() string {
	switch f {
	case FormatJFR:
		return "JFR"
	case FormatHTML:
		return "HTML"
	case FormatCollapsed:
		return "COLLAPSED"
	case FormatText:
		return "TEXT"
	case FormatUnset:
		return "UNSET"
	default:
		return "Format(" + strconv.Itoa(int(f)) + ")"
	}
}

// Extension returns the artifact file extension, including the dot.
func (f Format) Extension() string {
	switch f {
	case FormatJFR:
		return ".jfr"
	case FormatHTML, FormatUnset:
		return ".html"
	default:
		return ".txt"
	}
}

// Binary reports whether the artifact is a binary blob rather than text.
func (f Format) Binary() bool {
	return f == FormatJFR
}

// token is the profiler output option for f; empty for FormatUnset.
func (f Format) token() string {
	switch f {
	case FormatJFR:
		return "jfr"
	case FormatHTML:
		return "flamegraph"
	case FormatCollapsed:
		return "collapsed"
	case FormatText:
		return "flat"
	default:
		return ""
	}
}

// FormatOptions holds the options that only make sense for one output
// format. The concrete types are JFROptions, FlameGraphOptions and
// CollapsedOptions.
type FormatOptions interface {
	// accepts reports whether the options are valid for f.
	accepts(f Format) bool
	// arguments renders the options as profiler tokens.
	arguments() []string
}

// JFROptions tunes binary recordings.
type JFROptions struct {
	// ChunkSize is the recording chunk size, e.g. "100m".
	ChunkSize string
	// ChunkTime is the recording chunk duration, e.g. "1h".
	ChunkTime string
}

func (JFROptions) accepts(f Format) bool { return f == FormatJFR }

func (o JFROptions) arguments() []string {
	var args []string
	if o.ChunkSize != "" {
		args = append(args, "chunksize="+o.ChunkSize)
	}
	if o.ChunkTime != "" {
		args = append(args, "chunktime="+o.ChunkTime)
	}
	return args
}

// FlameGraphOptions tunes HTML flame graphs.
type FlameGraphOptions struct {
	Title string
	// MinWidth skips frames narrower than this percentage, e.g. "0.5".
	MinWidth string
	Reverse  bool
	Total    bool
}

func (FlameGraphOptions) accepts(f Format) bool { return f == FormatHTML || f == FormatUnset }

func (o FlameGraphOptions) arguments() []string {
	var args []string
	if o.Title != "" {
		args = append(args, "title="+o.Title)
	}
	if o.MinWidth != "" {
		args = append(args, "minwidth="+o.MinWidth)
	}
	if o.Reverse {
		args = append(args, "reverse")
	}
	if o.Total {
		args = append(args, "total")
	}
	return args
}

// CollapsedOptions tunes folded stack output.
type CollapsedOptions struct {
	Reverse bool
	Total   bool
}

func (CollapsedOptions) accepts(f Format) bool { return f == FormatCollapsed }

func (o CollapsedOptions) arguments() []string {
	var args []string
	if o.Reverse {
		args = append(args, "reverse")
	}
	if o.Total {
		args = append(args, "total")
	}
	return args
}
