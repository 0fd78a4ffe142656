// Package constants defines shared configuration constants and defaults.
package constants

import "time"

// Files and directories.
var (
	// DefaultDir is the per-user state directory, relative to the home directory.
	DefaultDir = ".coral"

	// ConfigFile is the agent config file name inside DefaultDir.
	ConfigFile = "profiler.yaml"

	// ArtifactDirName is the artifact directory created under os.TempDir().
	ArtifactDirName = "coral-profiler"
)

// Collector defaults.
const (
	// DefaultCollectorEndpoint is where the agent looks for the collector.
	DefaultCollectorEndpoint = "http://127.0.0.1:11800"

	// DefaultCollectorListen is the listen address of the development collector.
	DefaultCollectorListen = ":11800"

	// DefaultUpstreamTimeout bounds every Collect stream.
	DefaultUpstreamTimeout = 30 * time.Second

	// DefaultAckTimeout bounds the wait for the collector's accept/reject
	// answer to a metadata frame.
	DefaultAckTimeout = 500 * time.Millisecond

	// DefaultChunkSize is the size of each content frame (1 MiB).
	DefaultChunkSize = 1 << 20

	// DefaultTaskPollInterval is how often the agent asks for new tasks.
	DefaultTaskPollInterval = 20 * time.Second

	// DefaultCheckInterval is how often the channel manager re-probes a
	// channel marked for reconnection.
	DefaultCheckInterval = 30 * time.Second

	// DefaultKeepAliveTimeout bounds a single keep-alive probe.
	DefaultKeepAliveTimeout = 5 * time.Second

	// DefaultMaxContentSize is the largest artifact the development collector accepts.
	DefaultMaxContentSize = 256 << 20
)

// Profiling defaults.
const (
	// DefaultQueueSize is the controller's work queue capacity.
	DefaultQueueSize = 16

	// DefaultArtifactRetention is the age after which orphaned artifacts are swept.
	DefaultArtifactRetention = 1 * time.Hour

	// DefaultJournalRetention is how long finished tasks stay in the journal.
	DefaultJournalRetention = 7 * 24 * time.Hour

	// DefaultCleanupInterval is how often the sweep runs.
	DefaultCleanupInterval = 1 * time.Hour

	// DefaultMaxDuration caps the duration a dispatched task may request.
	DefaultMaxDuration = 15 * time.Minute
)
