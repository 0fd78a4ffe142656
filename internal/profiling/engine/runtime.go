package engine

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-profiler/internal/safe"
)

// RuntimeEngine profiles the current Go process with runtime/pprof. CPU
// sessions use the CPU profiler; alloc, lock and mutex sessions snapshot the
// matching cumulative profile at start and report the difference at stop.
//
// While a session runs the engine owns the runtime's sampling knobs. An alloc
// session only touches runtime.MemProfileRate when the task asks for an
// interval, and restores it at stop; the runtime documents that rate as set
// once, so hosts that rely on it should not dispatch alloc intervals. The block
// profile rate has no getter: lock sessions restore the rate given with
// WithBlockProfileRate (zero, the runtime default, otherwise).
type RuntimeEngine struct {
	mu        sync.Mutex
	session   *session
	blockRate int
	logger    zerolog.Logger
}

// RuntimeOption configures a RuntimeEngine.
type RuntimeOption func(*RuntimeEngine)

// WithBlockProfileRate declares the block profile rate the host runs with, so
// lock sessions put it back instead of disabling block profiling.
func WithBlockProfileRate(rate int) RuntimeOption {
	return func(e *RuntimeEngine) { e.blockRate = rate }
}

// Runtime knobs, replaced in tests.
var (
	setBlockProfileRate = runtime.SetBlockProfileRate
	setMemProfileRate   = func(rate int) { runtime.MemProfileRate = rate }
)

type session struct {
	cmd     Command
	started time.Time
	cpu     bytes.Buffer
	base    *profile.Profile

	// prevMemRate is set only when the session changed the rate.
	prevMemRate       int
	memRateChanged    bool
	prevMutexFraction int
}

// NewRuntimeEngine creates an idle engine.
func NewRuntimeEngine(logger zerolog.Logger, opts ...RuntimeOption) *RuntimeEngine {
	e := &RuntimeEngine{logger: logger.With().Str("component", "runtime_engine").Logger()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements Engine.
func (e *RuntimeEngine) Execute(line string) (string, error) {
	cmd, err := ParseCommand(line)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch cmd.Action {
	case ActionStart:
		return e.start(cmd)
	case ActionStop:
		return e.stop(cmd)
	default:
		if e.session == nil {
			return StatusNotActive, nil
		}
		return fmt.Sprintf("Profiling %s for %d seconds", e.session.cmd.Event, int(time.Since(e.session.started).Seconds())), nil
	}
}

func (e *RuntimeEngine) start(cmd Command) (string, error) {
	if e.session != nil {
		return StatusAlreadyStarted, nil
	}

	s := &session{cmd: cmd, started: time.Now()}

	switch cmd.Event {
	case EventCPU:
		if err := pprof.StartCPUProfile(&s.cpu); err != nil {
			return "", fmt.Errorf("failed to start cpu profile: %w", err)
		}
	case EventAlloc:
		if cmd.AllocInterval > 0 && cmd.AllocInterval != runtime.MemProfileRate {
			s.prevMemRate = runtime.MemProfileRate
			s.memRateChanged = true
			setMemProfileRate(cmd.AllocInterval)
		}
	case EventLock:
		rate := int(cmd.LockThreshold)
		if rate <= 0 {
			rate = 1
		}
		setBlockProfileRate(rate)
	case EventMutex:
		s.prevMutexFraction = runtime.SetMutexProfileFraction(1)
	}

	if cmd.Event != EventCPU {
		base, err := snapshot(cmd.Event)
		if err != nil {
			e.restore(s)
			return "", err
		}
		s.base = base
	}

	e.session = s
	e.logger.Debug().Str("event", string(cmd.Event)).Str("file", cmd.File).Msg("Profiling started")
	return StatusStarted, nil
}

func (e *RuntimeEngine) stop(cmd Command) (string, error) {
	s := e.session
	if s == nil {
		return "", ErrNotActive
	}
	e.session = nil

	p, err := e.collect(s)
	e.restore(s)
	if err != nil {
		return "", err
	}

	file := cmd.File
	if file == "" {
		file = s.cmd.File
	}
	if file == "" {
		return "", fmt.Errorf("no output file given")
	}

	out := s.cmd
	out.File = file
	if err := writeArtifact(file, p, out); err != nil {
		return "", err
	}

	e.logger.Debug().
		Str("event", string(s.cmd.Event)).
		Str("file", file).
		Int("samples", len(p.Sample)).
		Dur("elapsed", time.Since(s.started)).
		Msg("Profiling stopped")
	return StatusOK, nil
}

func (e *RuntimeEngine) collect(s *session) (*profile.Profile, error) {
	if s.cmd.Event == EventCPU {
		pprof.StopCPUProfile()
		p, err := profile.Parse(&s.cpu)
		if err != nil {
			return nil, fmt.Errorf("failed to parse cpu profile: %w", err)
		}
		return p, nil
	}

	current, err := snapshot(s.cmd.Event)
	if err != nil {
		return nil, err
	}
	return delta(s.base, current)
}

func (e *RuntimeEngine) restore(s *session) {
	switch s.cmd.Event {
	case EventAlloc:
		if s.memRateChanged {
			setMemProfileRate(s.prevMemRate)
		}
	case EventLock:
		setBlockProfileRate(e.blockRate)
	case EventMutex:
		runtime.SetMutexProfileFraction(s.prevMutexFraction)
	}
}

func lookupName(ev Event) string {
	switch ev {
	case EventAlloc:
		return "allocs"
	case EventLock:
		return "block"
	default:
		return "mutex"
	}
}

func snapshot(ev Event) (*profile.Profile, error) {
	if ev == EventAlloc {
		// Allocation records are only published by a completed GC cycle.
		runtime.GC()
	}

	var buf bytes.Buffer
	if err := pprof.Lookup(lookupName(ev)).WriteTo(&buf, 0); err != nil {
		return nil, fmt.Errorf("failed to read %s profile: %w", ev, err)
	}
	p, err := profile.Parse(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s profile: %w", ev, err)
	}
	return p, nil
}

// delta subtracts base from current and drops samples that did not change.
func delta(base, current *profile.Profile) (*profile.Profile, error) {
	base = base.Copy()
	base.Scale(-1)
	merged, err := profile.Merge([]*profile.Profile{base, current})
	if err != nil {
		return nil, fmt.Errorf("failed to compute profile delta: %w", err)
	}

	kept := merged.Sample[:0]
	for _, s := range merged.Sample {
		for _, v := range s.Value {
			if v != 0 {
				kept = append(kept, s)
				break
			}
		}
	}
	merged.Sample = kept
	merged.TimeNanos = current.TimeNanos
	merged.DurationNanos = current.TimeNanos - base.TimeNanos
	return merged, nil
}

// sampleIndex picks the value column for text output: counts by default,
// totals (time or bytes) with the total option.
func sampleIndex(p *profile.Profile, ev Event, total bool) (int, string) {
	switch {
	case ev == EventCPU && total:
		return valueIndex(p, "cpu"), "ns"
	case ev == EventCPU:
		return valueIndex(p, "samples"), "samples"
	case ev == EventAlloc && total:
		return valueIndex(p, "alloc_space"), "bytes"
	case ev == EventAlloc:
		return valueIndex(p, "alloc_objects"), "objects"
	case total:
		return valueIndex(p, "delay"), "ns"
	default:
		return valueIndex(p, "contentions"), "contentions"
	}
}

func writeArtifact(path string, p *profile.Profile, cmd Command) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec // G304: path chosen by the task owner.
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}

	switch cmd.ResolveOutput() {
	case OutputPprof:
		err = p.Write(f)
	case OutputFlameGraph:
		idx, unit := sampleIndex(p, cmd.Event, cmd.Total)
		err = WriteFlameGraph(f, Collapse(p, idx, cmd.Reverse), FlameGraphOptions{
			Title:    cmd.Title,
			Unit:     unit,
			MinWidth: cmd.MinWidth,
		})
	default:
		idx, _ := sampleIndex(p, cmd.Event, cmd.Total)
		err = WriteCollapsed(f, Collapse(p, idx, cmd.Reverse))
	}

	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_, _ = safe.RemovePath(path)
		return fmt.Errorf("failed to write %s artifact: %w", cmd.ResolveOutput(), err)
	}
	return nil
}
