package config

import (
	"os"
	"path/filepath"

	"github.com/coral-mesh/coral-profiler/internal/constants"
)

// DefaultAgentConfig returns an agent config with sensible defaults.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		Collector: CollectorConfig{
			Endpoint:         constants.DefaultCollectorEndpoint,
			Protocol:         "grpc",
			UpstreamTimeout:  constants.DefaultUpstreamTimeout,
			AckTimeout:       constants.DefaultAckTimeout,
			ChunkSize:        constants.DefaultChunkSize,
			TaskPollInterval: constants.DefaultTaskPollInterval,
			CheckInterval:    constants.DefaultCheckInterval,
			KeepAliveTimeout: constants.DefaultKeepAliveTimeout,
		},
		Profiling: ProfilingConfig{
			OutputDir:         filepath.Join(os.TempDir(), constants.ArtifactDirName),
			QueueSize:         constants.DefaultQueueSize,
			MaxDuration:       constants.DefaultMaxDuration,
			ArtifactRetention: constants.DefaultArtifactRetention,
			JournalRetention:  constants.DefaultJournalRetention,
			CleanupInterval:   constants.DefaultCleanupInterval,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultCollectorServerConfig returns the development collector defaults.
func DefaultCollectorServerConfig() *CollectorServerConfig {
	return &CollectorServerConfig{
		Listen:         constants.DefaultCollectorListen,
		ArtifactDir:    filepath.Join(os.TempDir(), constants.ArtifactDirName+"-collector"),
		MaxContentSize: constants.DefaultMaxContentSize,
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}
