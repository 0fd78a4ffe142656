// Package cli assembles the coral-profiler command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/coral-profiler/internal/cli/agent"
	"github.com/coral-mesh/coral-profiler/internal/cli/collector"
	"github.com/coral-mesh/coral-profiler/internal/cli/journal"
	"github.com/coral-mesh/coral-profiler/pkg/version"
)

// NewRootCmd builds the root command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "coral-profiler",
		Short: "On-demand profiling agent and development collector",
		Long: `coral-profiler runs time-bounded CPU, allocation and lock profiling
sessions on request from a collector and ships the artifacts back.

  agent      poll a collector and run the profiling tasks it dispatches
  collector  serve tasks from a YAML file and store uploaded artifacts
  journal    inspect an agent's task journal`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(agent.NewAgentCmd())
	root.AddCommand(collector.NewCollectorCmd())
	root.AddCommand(journal.NewJournalCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("coral-profiler version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
