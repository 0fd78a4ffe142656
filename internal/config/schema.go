// Package config provides configuration loading for the profiler agent and
// the development collector.
//
// Values are layered: built-in defaults, then the YAML file, then environment
// variables (the `env` struct tags), then command-line flags applied by the CLI.
package config

import "time"

// AgentConfig is the configuration of the in-process profiling agent.
type AgentConfig struct {
	Service   ServiceConfig   `yaml:"service"`
	Collector CollectorConfig `yaml:"collector"`
	Profiling ProfilingConfig `yaml:"profiling"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServiceConfig identifies the monitored process to the collector.
type ServiceConfig struct {
	Name string `yaml:"name" env:"CORAL_PROFILER_SERVICE_NAME"`
	// Instance defaults to <uuid>@<hostname> when empty.
	Instance string `yaml:"instance" env:"CORAL_PROFILER_INSTANCE_NAME"`
}

// CollectorConfig describes the collector connection.
type CollectorConfig struct {
	Endpoint string `yaml:"endpoint" env:"CORAL_PROFILER_COLLECTOR_ENDPOINT"`
	// Protocol is "grpc" (default) or "connect".
	Protocol         string        `yaml:"protocol" env:"CORAL_PROFILER_COLLECTOR_PROTOCOL"`
	UpstreamTimeout  time.Duration `yaml:"upstream_timeout" env:"CORAL_PROFILER_UPSTREAM_TIMEOUT"`
	AckTimeout       time.Duration `yaml:"ack_timeout" env:"CORAL_PROFILER_ACK_TIMEOUT"`
	ChunkSize        int           `yaml:"chunk_size" env:"CORAL_PROFILER_CHUNK_SIZE"`
	TaskPollInterval time.Duration `yaml:"task_poll_interval" env:"CORAL_PROFILER_TASK_POLL_INTERVAL"`
	CheckInterval    time.Duration `yaml:"check_interval" env:"CORAL_PROFILER_CHECK_INTERVAL"`
	KeepAliveTimeout time.Duration `yaml:"keep_alive_timeout" env:"CORAL_PROFILER_KEEP_ALIVE_TIMEOUT"`
}

// ProfilingConfig controls the task controller and artifact handling.
type ProfilingConfig struct {
	OutputDir string `yaml:"output_dir" env:"CORAL_PROFILER_OUTPUT_DIR"`
	// JournalPath is the duckdb journal file. Empty disables the journal,
	// ":memory:" keeps it in memory.
	JournalPath       string        `yaml:"journal_path" env:"CORAL_PROFILER_JOURNAL_PATH"`
	QueueSize         int           `yaml:"queue_size" env:"CORAL_PROFILER_QUEUE_SIZE"`
	MaxDuration       time.Duration `yaml:"max_duration" env:"CORAL_PROFILER_MAX_DURATION"`
	ArtifactRetention time.Duration `yaml:"artifact_retention" env:"CORAL_PROFILER_ARTIFACT_RETENTION"`
	JournalRetention  time.Duration `yaml:"journal_retention" env:"CORAL_PROFILER_JOURNAL_RETENTION"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" env:"CORAL_PROFILER_CLEANUP_INTERVAL"`
}

// LoggingConfig mirrors logging.Config in file form.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"CORAL_PROFILER_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"CORAL_PROFILER_LOG_PRETTY"`
}

// CollectorServerConfig is the configuration of the development collector.
type CollectorServerConfig struct {
	Listen         string        `yaml:"listen" env:"CORAL_COLLECTOR_LISTEN"`
	ArtifactDir    string        `yaml:"artifact_dir" env:"CORAL_COLLECTOR_ARTIFACT_DIR"`
	TasksFile      string        `yaml:"tasks_file" env:"CORAL_COLLECTOR_TASKS_FILE"`
	MaxContentSize int64         `yaml:"max_content_size" env:"CORAL_COLLECTOR_MAX_CONTENT_SIZE"`
	Logging        LoggingConfig `yaml:"logging"`
}
