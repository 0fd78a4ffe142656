// Package task models one profiling request: an immutable, validated value
// built from a dispatched descriptor, plus the artifact file it allocates
// when the profiler is started.
package task

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/coral-mesh/coral-profiler/internal/safe"
)

var (
	// ErrMissingTaskID is returned for a descriptor without a task id.
	ErrMissingTaskID = errors.New("task id is required")
	// ErrInvalidTaskID is returned when the id cannot be used as a file stem.
	ErrInvalidTaskID = errors.New("task id must not contain path elements")
	// ErrInvalidDuration is returned for a missing or non-positive duration.
	ErrInvalidDuration = errors.New("duration must be a positive number of seconds")
	// ErrDurationTooLong is returned when the duration exceeds the configured maximum.
	ErrDurationTooLong = errors.New("duration exceeds the maximum allowed")
	// ErrOptionsMismatch is returned when format options do not belong to the format.
	ErrOptionsMismatch = errors.New("format options do not match the data format")
	// ErrNotStarted is returned when stop arguments are requested before start.
	ErrNotStarted = errors.New("start arguments were never built")
	// ErrArtifactMissing is returned when the profiler never wrote the output file.
	ErrArtifactMissing = errors.New("profiling artifact is missing")
	// ErrArtifactEmpty is returned when the profiler reported success but wrote nothing.
	ErrArtifactEmpty = errors.New("profiling artifact is empty")
)

// Descriptor is a dispatched task before validation.
type Descriptor struct {
	TaskID   string
	ExecArgs string
	// Duration is the profiling time in seconds.
	Duration   int
	CreateTime int64
	Format     Format
	Options    FormatOptions
}

// Option configures New.
type Option func(*settings)

type settings struct {
	maxDuration time.Duration
}

// WithMaxDuration rejects tasks that would profile for longer than d.
func WithMaxDuration(d time.Duration) Option {
	return func(s *settings) { s.maxDuration = d }
}

// Task is a validated profiling request. Its fields never change after New;
// only the artifact path is allocated later, once.
type Task struct {
	id         string
	execArgs   string
	duration   int
	createTime int64
	format     Format
	options    FormatOptions
	outputDir  string

	mu         sync.Mutex
	outputPath string
	removed    bool
}

// New validates desc and returns the task. Artifacts are created inside
// outputDir.
func New(desc Descriptor, outputDir string, opts ...Option) (*Task, error) {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	id := strings.TrimSpace(desc.TaskID)
	if id == "" {
		return nil, ErrMissingTaskID
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." || strings.ContainsRune(id, 0) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTaskID, id)
	}
	if desc.Duration <= 0 {
		return nil, fmt.Errorf("task %s: %w (got %d)", id, ErrInvalidDuration, desc.Duration)
	}
	if s.maxDuration > 0 && time.Duration(desc.Duration)*time.Second > s.maxDuration {
		return nil, fmt.Errorf("task %s: %w (%ds > %s)", id, ErrDurationTooLong, desc.Duration, s.maxDuration)
	}
	if desc.Options != nil && !desc.Options.accepts(desc.Format) {
		return nil, fmt.Errorf("task %s: %w: %T with %s", id, ErrOptionsMismatch, desc.Options, desc.Format)
	}
	if outputDir == "" {
		return nil, fmt.Errorf("task %s: output directory is required", id)
	}

	return &Task{
		id:         id,
		execArgs:   strings.Trim(strings.TrimSpace(desc.ExecArgs), ","),
		duration:   desc.Duration,
		createTime: desc.CreateTime,
		format:     desc.Format,
		options:    desc.Options,
		outputDir:  outputDir,
	}, nil
}

// ID returns the task id, also the artifact file stem.
func (t *Task) ID() string { return t.id }

// ExecArgs returns the dispatcher-assembled profiler options.
func (t *Task) ExecArgs() string { return t.execArgs }

// CreateTime returns the dispatcher timestamp used for deduplication.
func (t *Task) CreateTime() int64 { return t.createTime }

// Format returns the artifact format.
func (t *Task) Format() Format { return t.format }

// Options returns the format options, or nil.
func (t *Task) Options() FormatOptions { return t.options }

// DurationSeconds returns how long the profiler runs, in seconds.
func (t *Task) DurationSeconds() int { return t.duration }

// OutputPath returns the allocated artifact path, or "" before start.
func (t *Task) OutputPath() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outputPath
}

// BuildStartArguments returns the profiler start line:
//
//	start,<execArgs>,<format>,<format options>,file=<path>
//
// The first call creates the artifact file; later calls reuse it.
func (t *Task) BuildStartArguments() (string, error) {
	path, err := t.allocate()
	if err != nil {
		return "", err
	}

	parts := []string{"start"}
	if t.execArgs != "" {
		parts = append(parts, t.execArgs)
	}
	if tok := t.format.token(); tok != "" {
		parts = append(parts, tok)
	}
	if t.options != nil {
		parts = append(parts, t.options.arguments()...)
	}
	parts = append(parts, "file="+path)
	return strings.Join(parts, ","), nil
}

// BuildStopArguments returns the profiler stop line for the same file the
// start line named.
func (t *Task) BuildStopArguments() (string, error) {
	path := t.OutputPath()
	if path == "" {
		return "", fmt.Errorf("task %s: %w", t.id, ErrNotStarted)
	}
	return "stop,file=" + path, nil
}

func (t *Task) allocate() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.outputPath != "" {
		return t.outputPath, nil
	}
	if t.removed {
		return "", fmt.Errorf("task %s: artifact already released", t.id)
	}

	if err := os.MkdirAll(t.outputDir, 0o750); err != nil {
		return "", fmt.Errorf("task %s: failed to create output directory: %w", t.id, err)
	}

	ext := t.format.Extension()
	path := filepath.Join(t.outputDir, t.id+ext)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) //nolint:gosec // G304: id validated in New.
	if errors.Is(err, fs.ErrExist) {
		f, err = os.CreateTemp(t.outputDir, t.id+"-*"+ext)
	}
	if err != nil {
		return "", fmt.Errorf("task %s: failed to create artifact file: %w", t.id, err)
	}
	if err := f.Close(); err != nil {
		_, _ = safe.RemovePath(f.Name())
		return "", fmt.Errorf("task %s: failed to create artifact file: %w", t.id, err)
	}

	t.outputPath = f.Name()
	return t.outputPath, nil
}

// OpenArtifact opens the artifact for reading. Closing the returned Artifact
// deletes the file.
func (t *Task) OpenArtifact() (*Artifact, error) {
	path := t.OutputPath()
	if path == "" {
		return nil, fmt.Errorf("task %s: %w", t.id, ErrNotStarted)
	}

	f, err := os.Open(path) //nolint:gosec // G304: path allocated by this task.
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("task %s: %w: %s", t.id, ErrArtifactMissing, path)
		}
		return nil, fmt.Errorf("task %s: failed to open artifact: %w", t.id, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("task %s: failed to stat artifact: %w", t.id, err)
	}
	if info.Size() == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("task %s: %w: %s", t.id, ErrArtifactEmpty, path)
	}

	return &Artifact{file: f, size: info.Size(), task: t}, nil
}

// RemoveArtifact deletes the artifact file. Calling it again, or before the
// file was allocated, is a no-op.
func (t *Task) RemoveArtifact() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.removed || t.outputPath == "" {
		t.removed = true
		return nil
	}
	t.removed = true

	if _, err := safe.RemovePath(t.outputPath); err != nil {
		return fmt.Errorf("task %s: failed to remove artifact: %w", t.id, err)
	}
	return nil
}

func (t *Task) String() string {
	return fmt.Sprintf("task{id=%s create_time=%d duration=%ds format=%s}", t.id, t.createTime, t.duration, t.format)
}
