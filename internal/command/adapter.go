// Package command turns task descriptors received from the collector into
// profiling tasks and keeps asking the collector for new ones.
package command

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	profilerv1 "github.com/coral-mesh/coral-profiler/coral/profiler/v1"
	"github.com/coral-mesh/coral-profiler/internal/profiling/task"
)

// Submitter accepts tasks for execution.
type Submitter interface {
	Submit(t *task.Task) error
}

// Adapter builds tasks from descriptors and submits them.
type Adapter struct {
	submitter   Submitter
	outputDir   string
	maxDuration time.Duration
	logger      zerolog.Logger
}

// NewAdapter creates an adapter writing artifacts under outputDir. A positive
// maxDuration rejects tasks asking for longer sessions.
func NewAdapter(sub Submitter, outputDir string, maxDuration time.Duration, logger zerolog.Logger) *Adapter {
	return &Adapter{
		submitter:   sub,
		outputDir:   outputDir,
		maxDuration: maxDuration,
		logger:      logger.With().Str("component", "command_adapter").Logger(),
	}
}

// Handle submits the task described by desc. Invalid descriptors and refused
// submissions are logged and dropped; the error is returned for callers that
// want to count them.
func (a *Adapter) Handle(desc *profilerv1.TaskDescriptor) error {
	d, err := task.FromWire(desc)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Dropping malformed task descriptor")
		return err
	}

	t, err := task.New(d, a.outputDir, task.WithMaxDuration(a.maxDuration))
	if err != nil {
		a.logger.Warn().Err(err).Str("task_id", d.TaskID).Msg("Dropping invalid profiling task")
		return err
	}

	if err := a.submitter.Submit(t); err != nil {
		a.logger.Warn().Err(err).Str("task_id", t.ID()).Msg("Profiling task not submitted")
		return fmt.Errorf("failed to submit task %s: %w", t.ID(), err)
	}

	a.logger.Debug().Str("task", t.String()).Msg("Profiling task submitted")
	return nil
}
