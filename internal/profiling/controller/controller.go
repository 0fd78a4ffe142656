// Package controller runs profiling tasks one at a time. A single worker
// goroutine owns the engine: it admits or rejects submitted tasks, starts the
// profiler, stops it when the task's duration elapses and hands the artifact
// to the uploader. Nothing here ever returns a profiling failure to the host
// application; failures are logged and, for start failures, reported to the
// collector.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-profiler/internal/constants"
	"github.com/coral-mesh/coral-profiler/internal/profiling/engine"
	"github.com/coral-mesh/coral-profiler/internal/profiling/task"
	"github.com/coral-mesh/coral-profiler/internal/profiling/uploader"
)

var (
	// ErrStaleTask rejects a task not newer than the last accepted one.
	ErrStaleTask = errors.New("task is not newer than the last accepted task")
	// ErrAlreadyRunning rejects a task while another one holds the profiler.
	ErrAlreadyRunning = errors.New("a profiling task is already running")
	// ErrQueueFull rejects a submission when the worker is saturated.
	ErrQueueFull = errors.New("task queue is full")
	// ErrShutdown rejects submissions after Shutdown.
	ErrShutdown = errors.New("controller is shut down")
	// ErrProfilerStart wraps an unexpected start status or start failure.
	ErrProfilerStart = errors.New("profiler failed to start")
)

// Uploader delivers artifacts and failure reports.
type Uploader interface {
	SendData(ctx context.Context, t *task.Task, artifact uploader.Artifact) error
	SendError(ctx context.Context, t *task.Task, message string) error
}

// Journal persists admission decisions so that deduplication survives
// restarts.
type Journal interface {
	LastCreateTime(ctx context.Context) (int64, error)
	RecordAccepted(ctx context.Context, t *task.Task) error
	RecordOutcome(ctx context.Context, taskID string, state task.State, detail string) error
}

// AdmissionHook observes every admission decision; err is nil for accepted
// tasks. It runs on the worker and must not block.
type AdmissionHook func(t *task.Task, err error)

// Status is a snapshot of the controller.
type Status struct {
	ActiveTaskID           string
	// ActiveArtifact is the output file of the active task, empty before its
	// start arguments are built.
	ActiveArtifact         string
	State                  task.State
	LastAcceptedCreateTime int64
}

// Option configures a Controller.
type Option func(*Controller)

// WithTimeUnit sets the unit of task durations (default: one second).
func WithTimeUnit(unit time.Duration) Option {
	return func(c *Controller) { c.unit = unit }
}

// WithQueueSize sets how many submissions may wait for the worker.
func WithQueueSize(n int) Option {
	return func(c *Controller) { c.queueSize = n }
}

// WithJournal records admissions and outcomes in j.
func WithJournal(j Journal) Option {
	return func(c *Controller) { c.journal = j }
}

// WithAdmissionHook registers fn for admission decisions.
func WithAdmissionHook(fn AdmissionHook) Option {
	return func(c *Controller) { c.hook = fn }
}

// Controller is the task execution controller.
type Controller struct {
	engine   engine.Engine
	uploader Uploader
	journal  Journal
	hook     AdmissionHook
	logger   zerolog.Logger

	unit      time.Duration
	queueSize int

	work   chan func()
	quit   chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu           sync.Mutex
	lastAccepted int64
	active       *task.Task
	state        task.State
	stopTimer    *time.Timer
	closing      bool
}

// New creates a controller and starts its worker.
func New(eng engine.Engine, up Uploader, logger zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		engine:    eng,
		uploader:  up,
		logger:    logger.With().Str("component", "controller").Logger(),
		unit:      time.Second,
		queueSize: constants.DefaultQueueSize,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		state:     task.StateDone,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.queueSize <= 0 {
		c.queueSize = 1
	}

	c.work = make(chan func(), c.queueSize)
	c.ctx, c.cancel = context.WithCancel(context.Background())

	go c.worker()
	return c
}

// Restore loads the deduplication watermark from the journal.
func (c *Controller) Restore(ctx context.Context) error {
	if c.journal == nil {
		return nil
	}
	last, err := c.journal.LastCreateTime(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore task watermark: %w", err)
	}

	c.mu.Lock()
	if last > c.lastAccepted {
		c.lastAccepted = last
	}
	c.mu.Unlock()

	c.logger.Info().Int64("last_create_time", last).Msg("Restored task watermark")
	return nil
}

// Submit hands t to the worker without blocking.
func (c *Controller) Submit(t *task.Task) error {
	select {
	case <-c.quit:
		return ErrShutdown
	default:
	}

	select {
	case c.work <- func() { c.process(t) }:
		return nil
	default:
		c.logger.Warn().Str("task_id", t.ID()).Msg("Task queue full, dropping task")
		return ErrQueueFull
	}
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{LastAcceptedCreateTime: c.lastAccepted, State: c.state}
	if c.active != nil {
		s.ActiveTaskID = c.active.ID()
		s.ActiveArtifact = c.active.OutputPath()
	}
	return s
}

// Run blocks until ctx is done, then shuts the controller down.
func (c *Controller) Run(ctx context.Context) error {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.Shutdown(shutdownCtx)
}

// Shutdown cancels a pending stop and stops the worker once its current job
// finishes. A task that never got its stop leaves the profiler running; the
// worker logs that on exit. If ctx expires first, in-flight uploads are
// aborted.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closing = true
		if c.stopTimer != nil {
			c.stopTimer.Stop()
			c.stopTimer = nil
		}
		c.mu.Unlock()

		close(c.quit)
	})

	select {
	case <-c.done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		return ctx.Err()
	}
}

func (c *Controller) worker() {
	defer close(c.done)
	defer c.abandon()
	for {
		select {
		case <-c.quit:
			return
		case job := <-c.work:
			job()
		}
	}
}

func (c *Controller) process(t *task.Task) {
	logger := c.logger.With().Str("task_id", t.ID()).Int64("create_time", t.CreateTime()).Logger()

	c.mu.Lock()
	switch {
	case t.CreateTime() <= c.lastAccepted:
		last := c.lastAccepted
		c.mu.Unlock()
		logger.Info().Int64("last_accepted", last).Msg("Dropping stale or duplicate task")
		c.admitted(t, ErrStaleTask)
		return
	case c.active != nil:
		running := c.active.ID()
		c.mu.Unlock()
		logger.Info().Str("active_task_id", running).Msg("Dropping task, profiler already running")
		c.admitted(t, ErrAlreadyRunning)
		return
	}
	c.lastAccepted = t.CreateTime()
	c.active = t
	c.state = task.StateStarting
	c.mu.Unlock()

	c.admitted(t, nil)
	if c.journal != nil {
		if err := c.journal.RecordAccepted(c.ctx, t); err != nil {
			logger.Warn().Err(err).Msg("Failed to journal accepted task")
		}
	}

	args, err := t.BuildStartArguments()
	if err != nil {
		c.failStart(t, logger, err.Error())
		return
	}

	logger.Info().Str("args", args).Msg("Starting profiler")
	status, err := c.engine.Execute(args)
	if err != nil {
		c.failStart(t, logger, err.Error())
		return
	}
	if strings.TrimSpace(status) != engine.StatusStarted {
		c.failStart(t, logger, strings.TrimSpace(status))
		return
	}

	after := time.Duration(t.DurationSeconds()) * c.unit
	c.mu.Lock()
	c.state = task.StateProfiling
	closing := c.closing
	if !closing {
		c.stopTimer = time.AfterFunc(after, func() { c.scheduleStop(t) })
	}
	c.mu.Unlock()

	if closing {
		// The worker reports the task in abandon once it sees quit.
		logger.Warn().Msg("Profiler started during shutdown, no stop scheduled")
		return
	}

	logger.Info().Dur("stop_after", after).Msg("Profiling started")
}

// abandon runs when the worker exits. A task still holding the slot never got
// its stop: either none was scheduled or the queued stop was dropped.
func (c *Controller) abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopTimer != nil {
		c.stopTimer.Stop()
		c.stopTimer = nil
	}
	if c.active == nil {
		return
	}
	c.logger.Warn().
		Str("task_id", c.active.ID()).
		Str("state", c.state.String()).
		Str("file", c.active.OutputPath()).
		Msg("Shutdown cancelled a scheduled stop, profiler is left running")
}

// scheduleStop runs on the timer goroutine. It blocks until the worker takes
// the stop so that a busy queue cannot drop it.
func (c *Controller) scheduleStop(t *task.Task) {
	select {
	case c.work <- func() { c.stop(t) }:
	case <-c.quit:
	}
}

func (c *Controller) failStart(t *task.Task, logger zerolog.Logger, message string) {
	logger.Error().Str("reason", message).Msg("Profiler start failed")
	c.setState(task.StateErroring)

	if err := c.uploader.SendError(c.ctx, t, message); err != nil {
		logger.Warn().Err(err).Msg("Failed to report start failure")
	}
	c.cleanup(t, logger)
	c.finish(t, logger, task.StateErroring, fmt.Errorf("%w: %s", ErrProfilerStart, message))
}

func (c *Controller) stop(t *task.Task) {
	logger := c.logger.With().Str("task_id", t.ID()).Logger()

	c.mu.Lock()
	if c.active != t {
		c.mu.Unlock()
		return
	}
	c.state = task.StateStopping
	c.stopTimer = nil
	c.mu.Unlock()

	err := c.stopAndUpload(t, logger)
	c.cleanup(t, logger)

	final := task.StateDone
	if err != nil {
		final = c.Status().State
	}
	c.finish(t, logger, final, err)
}

func (c *Controller) stopAndUpload(t *task.Task, logger zerolog.Logger) error {
	args, err := t.BuildStopArguments()
	if err != nil {
		logger.Error().Err(err).Msg("Cannot stop profiler")
		return err
	}

	logger.Info().Str("args", args).Msg("Stopping profiler")
	if _, err := c.engine.Execute(args); err != nil {
		logger.Error().Err(err).Msg("Profiler stop failed")
		return err
	}

	artifact, err := t.OpenArtifact()
	if err != nil {
		logger.Error().Err(err).Msg("Profiling artifact unavailable, skipping upload")
		return err
	}
	defer func() {
		if err := artifact.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to release artifact")
		}
	}()

	c.setState(task.StateUploading)
	if err := c.uploader.SendData(c.ctx, t, artifact); err != nil {
		logger.Warn().Err(err).Msg("Artifact upload failed")
		return err
	}
	return nil
}

func (c *Controller) cleanup(t *task.Task, logger zerolog.Logger) {
	if err := t.RemoveArtifact(); err != nil {
		logger.Warn().Err(err).Msg("Failed to delete profiling artifact")
	}
}

// finish releases the slot. phase is StateDone on success, otherwise the
// state the task failed in.
func (c *Controller) finish(t *task.Task, logger zerolog.Logger, phase task.State, err error) {
	c.mu.Lock()
	if c.active == t {
		c.active = nil
		c.state = task.StateDone
	}
	c.mu.Unlock()

	detail := "ok"
	if err != nil {
		detail = err.Error()
	}
	if c.journal != nil {
		if jerr := c.journal.RecordOutcome(c.ctx, t.ID(), phase, detail); jerr != nil {
			logger.Warn().Err(jerr).Msg("Failed to journal task outcome")
		}
	}
	logger.Debug().Str("phase", phase.String()).Str("detail", detail).Msg("Task finished")
}

func (c *Controller) setState(s task.State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) admitted(t *task.Task, err error) {
	if c.hook != nil {
		c.hook(t, err)
	}
}
