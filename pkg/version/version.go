// Package version provides build version information. Release builds set the
// variables with -ldflags "-X github.com/coral-mesh/coral-profiler/pkg/version.Version=...".
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version.
	Version = "dev"

	// GitCommit is the git commit hash.
	GitCommit = "unknown"

	// BuildDate is the build timestamp.
	BuildDate = "unknown"

	// GoVersion is the Go version used to build.
	GoVersion = runtime.Version()
)

// Short returns "<version> (<commit>)" for log fields.
func Short() string {
	return fmt.Sprintf("%s (%s)", Version, GitCommit)
}
