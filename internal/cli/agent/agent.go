// Package agent implements the `coral-profiler agent` command.
package agent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/coral-profiler/internal/agent"
	"github.com/coral-mesh/coral-profiler/internal/cli/flags"
	"github.com/coral-mesh/coral-profiler/internal/config"
	"github.com/coral-mesh/coral-profiler/internal/logging"
)

// NewAgentCmd creates the agent command.
func NewAgentCmd() *cobra.Command {
	var f flags.AgentFlags

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run a standalone profiling agent",
		Long: `Run a profiling agent that polls a collector for profiling tasks.

Each task starts the in-process profiler, stops it after the requested
duration and streams the artifact back to the collector.

Configuration sources (in order of precedence):
1. Command-line flags
2. Environment variables (CORAL_PROFILER_*)
3. Config file (--config, $CORAL_PROFILER_CONFIG or ~/.coral/profiler.yaml)
4. Defaults

Examples:
  # Connect to a local development collector
  coral-profiler agent --service checkout

  # Persist the task journal across restarts
  coral-profiler agent -s checkout -e http://collector:11800 --journal /var/lib/coral/journal.duckdb`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAgentConfig(f.ConfigFile)
			if err != nil {
				return fmt.Errorf("failed to load agent configuration: %w", err)
			}
			f.Apply(cmd.Flags(), cfg)

			logCfg := logging.DefaultConfig()
			logCfg.Level = cfg.Logging.Level
			logCfg.Pretty = cfg.Logging.Pretty
			logger := logging.New(logCfg)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := agent.New(ctx, cfg, logger)
			if err != nil {
				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			go func() {
				select {
				case sig := <-sigChan:
					logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal - stopping agent")
					cancel()
				case <-ctx.Done():
				}
			}()

			return a.Run(ctx)
		},
	}

	f.AddFlags(cmd.Flags())
	return cmd
}
