// Package flags binds command-line overrides onto the config structs. Only
// flags the user actually set replace file and environment values.
package flags

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/coral-mesh/coral-profiler/internal/config"
)

// LoggingFlags holds the logging overrides shared by all commands.
type LoggingFlags struct {
	Level  string
	Pretty bool
}

// AddFlags adds logging flags to a FlagSet.
func (f *LoggingFlags) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&f.Level, "log-level", "info", "Logging level (trace, debug, info, warn, error)")
	flags.BoolVar(&f.Pretty, "log-pretty", false, "Human-readable console logs")
}

// Apply copies the flags that were set onto cfg.
func (f *LoggingFlags) Apply(flags *pflag.FlagSet, cfg *config.LoggingConfig) {
	if flags.Changed("log-level") {
		cfg.Level = f.Level
	}
	if flags.Changed("log-pretty") {
		cfg.Pretty = f.Pretty
	}
}

// AgentFlags holds the agent overrides.
type AgentFlags struct {
	ConfigFile   string
	Service      string
	Instance     string
	Endpoint     string
	Protocol     string
	OutputDir    string
	JournalPath  string
	PollInterval time.Duration
	MaxDuration  time.Duration

	Logging LoggingFlags
}

// AddFlags adds agent flags to a FlagSet.
func (f *AgentFlags) AddFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&f.ConfigFile, "config", "c", "", "Path to agent configuration file (default: ~/.coral/profiler.yaml)")
	flags.StringVarP(&f.Service, "service", "s", "", "Service name reported to the collector")
	flags.StringVar(&f.Instance, "instance", "", "Service instance name (default: <uuid>@<hostname>)")
	flags.StringVarP(&f.Endpoint, "collector", "e", "", "Collector URL")
	flags.StringVar(&f.Protocol, "protocol", "", "Collector protocol (grpc or connect)")
	flags.StringVar(&f.OutputDir, "output-dir", "", "Directory for profiling artifacts")
	flags.StringVar(&f.JournalPath, "journal", "", "Task journal file (':memory:' for in-memory)")
	flags.DurationVar(&f.PollInterval, "poll-interval", 0, "Task poll interval (e.g. 20s)")
	flags.DurationVar(&f.MaxDuration, "max-duration", 0, "Longest profiling session a task may request")
	f.Logging.AddFlags(flags)
}

// Apply copies the flags that were set onto cfg.
func (f *AgentFlags) Apply(flags *pflag.FlagSet, cfg *config.AgentConfig) {
	if flags.Changed("service") {
		cfg.Service.Name = f.Service
	}
	if flags.Changed("instance") {
		cfg.Service.Instance = f.Instance
	}
	if flags.Changed("collector") {
		cfg.Collector.Endpoint = f.Endpoint
	}
	if flags.Changed("protocol") {
		cfg.Collector.Protocol = f.Protocol
	}
	if flags.Changed("output-dir") {
		cfg.Profiling.OutputDir = f.OutputDir
	}
	if flags.Changed("journal") {
		cfg.Profiling.JournalPath = f.JournalPath
	}
	if flags.Changed("poll-interval") {
		cfg.Collector.TaskPollInterval = f.PollInterval
	}
	if flags.Changed("max-duration") {
		cfg.Profiling.MaxDuration = f.MaxDuration
	}
	f.Logging.Apply(flags, &cfg.Logging)
}

// CollectorFlags holds the development collector overrides.
type CollectorFlags struct {
	ConfigFile     string
	Listen         string
	ArtifactDir    string
	TasksFile      string
	MaxContentSize int64

	Logging LoggingFlags
}

// AddFlags adds collector flags to a FlagSet.
func (f *CollectorFlags) AddFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&f.ConfigFile, "config", "c", "", "Path to collector configuration file")
	flags.StringVarP(&f.Listen, "listen", "l", "", "Listen address (default :11800)")
	flags.StringVar(&f.ArtifactDir, "artifact-dir", "", "Directory where received artifacts are stored")
	flags.StringVarP(&f.TasksFile, "tasks", "t", "", "YAML file with the tasks to dispatch")
	flags.Int64Var(&f.MaxContentSize, "max-content-size", 0, "Largest accepted artifact in bytes")
	f.Logging.AddFlags(flags)
}

// Apply copies the flags that were set onto cfg.
func (f *CollectorFlags) Apply(flags *pflag.FlagSet, cfg *config.CollectorServerConfig) {
	if flags.Changed("listen") {
		cfg.Listen = f.Listen
	}
	if flags.Changed("artifact-dir") {
		cfg.ArtifactDir = f.ArtifactDir
	}
	if flags.Changed("tasks") {
		cfg.TasksFile = f.TasksFile
	}
	if flags.Changed("max-content-size") {
		cfg.MaxContentSize = f.MaxContentSize
	}
	f.Logging.Apply(flags, &cfg.Logging)
}
