package sdk

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-profiler/internal/agent"
	"github.com/coral-mesh/coral-profiler/internal/config"
)

// Config contains SDK configuration options.
type Config struct {
	// ServiceName is the name of the service (required unless set by the
	// config file or environment).
	ServiceName string

	// CollectorEndpoint overrides the configured collector URL.
	CollectorEndpoint string

	// ConfigPath is an agent config file. Empty uses the default location.
	ConfigPath string

	// Agent, when set, is used as-is instead of loading configuration.
	Agent *config.AgentConfig

	// Logger is the logger instance (optional, defaults to zerolog.Nop()).
	Logger zerolog.Logger
}

// SDK is an embedded profiling agent.
type SDK struct {
	agent  *agent.Agent
	logger zerolog.Logger
	cancel context.CancelFunc
	done   chan struct{}

	once sync.Once
	err  error
}

// Start builds the agent and runs it in the background until Close or until
// ctx is cancelled.
func Start(ctx context.Context, cfg Config, opts ...agent.Option) (*SDK, error) {
	agentCfg := cfg.Agent
	if agentCfg == nil {
		loaded, err := config.LoadAgentConfig(cfg.ConfigPath)
		if err != nil {
			return nil, err
		}
		agentCfg = loaded
	}
	if cfg.ServiceName != "" {
		agentCfg.Service.Name = cfg.ServiceName
	}
	if cfg.CollectorEndpoint != "" {
		agentCfg.Collector.Endpoint = cfg.CollectorEndpoint
	}
	if agentCfg.Service.Name == "" {
		return nil, errors.New("service name is required")
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "coral-profiler-sdk").Logger()

	a, err := agent.New(ctx, agentCfg, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create profiling agent: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &SDK{
		agent:  a,
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := a.Run(runCtx); err != nil {
			s.err = err
			logger.Error().Err(err).Msg("Profiling agent exited")
		}
	}()

	logger.Info().
		Str("service", agentCfg.Service.Name).
		Str("instance", agentCfg.Service.Instance).
		Msg("Coral profiler SDK started")
	return s, nil
}

// Agent returns the embedded agent.
func (s *SDK) Agent() *agent.Agent {
	return s.agent
}

// Close stops the agent and waits for it to exit.
func (s *SDK) Close() error {
	s.once.Do(func() {
		s.logger.Info().Msg("Shutting down Coral profiler SDK")
		s.cancel()
		<-s.done
	})
	return s.err
}
