// Package agent wires the profiling control path together: collector
// channel, task poller, controller, engine, uploader and journal.
package agent

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	profilerv1 "github.com/coral-mesh/coral-profiler/coral/profiler/v1"
	"github.com/coral-mesh/coral-profiler/coral/profiler/v1/profilerv1connect"
	"github.com/coral-mesh/coral-profiler/internal/channel"
	"github.com/coral-mesh/coral-profiler/internal/command"
	"github.com/coral-mesh/coral-profiler/internal/config"
	"github.com/coral-mesh/coral-profiler/internal/journal"
	"github.com/coral-mesh/coral-profiler/internal/logging"
	"github.com/coral-mesh/coral-profiler/internal/poller"
	"github.com/coral-mesh/coral-profiler/internal/profiling/controller"
	"github.com/coral-mesh/coral-profiler/internal/profiling/engine"
	"github.com/coral-mesh/coral-profiler/internal/profiling/uploader"
	"github.com/coral-mesh/coral-profiler/pkg/version"
)

// Option customises an Agent.
type Option func(*options)

type options struct {
	engine      engine.Engine
	client      profilerv1connect.ProfilerTaskServiceClient
	controllers []controller.Option
}

// WithEngine replaces the in-process runtime engine.
func WithEngine(e engine.Engine) Option {
	return func(o *options) { o.engine = e }
}

// WithClient replaces the collector client built from the config.
func WithClient(c profilerv1connect.ProfilerTaskServiceClient) Option {
	return func(o *options) { o.client = c }
}

// WithControllerOptions passes extra options to the task controller.
func WithControllerOptions(opts ...controller.Option) Option {
	return func(o *options) { o.controllers = append(o.controllers, opts...) }
}

// Agent is a running profiling agent.
type Agent struct {
	cfg    *config.AgentConfig
	logger zerolog.Logger

	channel    *channel.Manager
	controller *controller.Controller
	adapter    *command.Adapter
	tasks      *command.Poller
	poller     *poller.Base
	journal    *journal.Journal
}

// New validates cfg and builds an agent. Nothing runs until Run.
func New(ctx context.Context, cfg *config.AgentConfig, logger zerolog.Logger, opts ...Option) (*Agent, error) {
	cfg.ApplyIdentityDefaults(ctx)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger = logger.With().
		Str("service", cfg.Service.Name).
		Str("instance", cfg.Service.Instance).
		Logger()

	if err := os.MkdirAll(cfg.Profiling.OutputDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	client := o.client
	if client == nil {
		client = channel.NewClient(cfg.Collector.Endpoint, cfg.Collector.Protocol)
	}
	ch := channel.NewManager(client, channel.Config{
		Service:          cfg.Service.Name,
		Instance:         cfg.Service.Instance,
		CheckInterval:    cfg.Collector.CheckInterval,
		KeepAliveTimeout: cfg.Collector.KeepAliveTimeout,
	}, logger)

	up := uploader.New(ch, uploader.Config{
		Service:         cfg.Service.Name,
		Instance:        cfg.Service.Instance,
		UpstreamTimeout: cfg.Collector.UpstreamTimeout,
		AckTimeout:      cfg.Collector.AckTimeout,
		ChunkSize:       cfg.Collector.ChunkSize,
	}, logger)

	eng := o.engine
	if eng == nil {
		eng = engine.NewRuntimeEngine(logger)
	}

	ctrlOpts := []controller.Option{controller.WithQueueSize(cfg.Profiling.QueueSize)}

	var j *journal.Journal
	if cfg.Profiling.JournalPath != "" {
		var err error
		j, err = journal.Open(ctx, cfg.Profiling.JournalPath, logger)
		if err != nil {
			return nil, err
		}
		ctrlOpts = append(ctrlOpts, controller.WithJournal(j))
	}

	ctrl := controller.New(eng, up, logger, append(ctrlOpts, o.controllers...)...)
	if err := ctrl.Restore(ctx); err != nil {
		_ = ctrl.Shutdown(ctx)
		if j != nil {
			_ = j.Close()
		}
		return nil, err
	}

	adapter := command.NewAdapter(ctrl, cfg.Profiling.OutputDir, cfg.Profiling.MaxDuration, logger)

	pollerCfg := command.PollerConfig{
		Service:           cfg.Service.Name,
		Instance:          cfg.Service.Instance,
		OutputDir:         cfg.Profiling.OutputDir,
		ArtifactRetention: cfg.Profiling.ArtifactRetention,
		JournalRetention:  cfg.Profiling.JournalRetention,
		ActiveArtifact:    func() string { return ctrl.Status().ActiveArtifact },
	}
	if j != nil {
		pollerCfg.Journal = j
	}
	tasks := command.NewPoller(ch, adapter, pollerCfg, logger)
	tasks.SetLastCommandTime(ctrl.Status().LastAcceptedCreateTime)

	base := poller.New(poller.Config{
		Name:            "task_poller",
		PollInterval:    cfg.Collector.TaskPollInterval,
		CleanupInterval: cfg.Profiling.CleanupInterval,
		Logger:          logger,
	})

	// Fetch tasks as soon as the collector becomes reachable.
	ch.AddListener(func(s channel.Status) {
		if s == channel.Connected {
			base.Trigger()
		}
	})

	return &Agent{
		cfg:        cfg,
		logger:     logging.Component(logger, "agent"),
		channel:    ch,
		controller: ctrl,
		adapter:    adapter,
		tasks:      tasks,
		poller:     base,
		journal:    j,
	}, nil
}

// Run sweeps artifacts left by a previous run, then runs the channel, the
// poller and the controller until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info().
		Str("version", version.Short()).
		Str("collector", a.cfg.Collector.Endpoint).
		Str("output_dir", a.cfg.Profiling.OutputDir).
		Msg("Starting profiling agent")

	if err := a.tasks.RunCleanup(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Startup cleanup failed")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.channel.Run(gctx) })
	g.Go(func() error { return a.poller.Run(gctx, a.tasks) })
	g.Go(func() error { return a.controller.Run(gctx) })

	err := g.Wait()
	if cerr := a.Close(); cerr != nil && err == nil {
		err = cerr
	}
	a.logger.Info().Msg("Profiling agent stopped")
	return err
}

// Submit runs a task without waiting for the collector to dispatch it.
func (a *Agent) Submit(desc *profilerv1.TaskDescriptor) error {
	return a.adapter.Handle(desc)
}

// Status reports the controller state.
func (a *Agent) Status() controller.Status {
	return a.controller.Status()
}

// Connected reports whether the collector is reachable.
func (a *Agent) Connected() bool {
	return a.channel.Connected()
}

// Close releases the journal. Run calls it on exit.
func (a *Agent) Close() error {
	if a.journal == nil {
		return nil
	}
	j := a.journal
	a.journal = nil
	return j.Close()
}
