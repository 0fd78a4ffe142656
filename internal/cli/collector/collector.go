// Package collector implements the `coral-profiler collector` command, a
// development collector that dispatches tasks from a YAML file and stores the
// uploaded artifacts.
package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/coral-profiler/internal/cli/flags"
	"github.com/coral-mesh/coral-profiler/internal/collector"
	"github.com/coral-mesh/coral-profiler/internal/config"
	"github.com/coral-mesh/coral-profiler/internal/logging"
)

// NewCollectorCmd creates the collector command.
func NewCollectorCmd() *cobra.Command {
	var f flags.CollectorFlags

	cmd := &cobra.Command{
		Use:   "collector",
		Short: "Run a development collector",
		Long: `Run a development collector that serves profiling tasks to agents and
stores the artifacts they upload.

Tasks file format:
  tasks:
    - task_id: checkout-cpu-1
      exec_args: event=cpu
      duration: 30
      data_format: html
      title: checkout

Examples:
  coral-profiler collector --tasks ./tasks.yaml --artifact-dir ./artifacts`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadCollectorServerConfig(f.ConfigFile)
			if err != nil {
				return fmt.Errorf("failed to load collector configuration: %w", err)
			}
			f.Apply(cmd.Flags(), cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := logging.NewWithComponent(logging.Config{
				Level:  cfg.Logging.Level,
				Pretty: cfg.Logging.Pretty,
			}, "collector_cmd")

			svc := collector.New(collector.Config{
				ArtifactDir:    cfg.ArtifactDir,
				MaxContentSize: cfg.MaxContentSize,
			}, logger)

			if cfg.TasksFile != "" {
				tasks, err := collector.LoadTasks(cfg.TasksFile)
				if err != nil {
					return err
				}
				for _, t := range tasks {
					svc.AddTask(t)
				}
				logger.Info().Int("tasks", len(tasks)).Str("file", cfg.TasksFile).Msg("Loaded profiling tasks")
			}

			srv := svc.NewHTTPServer(cfg.Listen)
			errCh := make(chan error, 1)
			go func() {
				logger.Info().Str("listen", cfg.Listen).Str("artifact_dir", cfg.ArtifactDir).Msg("Collector listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			select {
			case err, ok := <-errCh:
				if ok {
					return fmt.Errorf("collector server failed: %w", err)
				}
				return nil
			case sig := <-sigChan:
				logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal - stopping collector")
			case <-cmd.Context().Done():
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return fmt.Errorf("collector shutdown failed: %w", err)
			}

			for _, r := range svc.Results() {
				logger.Info().
					Str("task_id", r.TaskID).
					Str("path", r.Path).
					Int64("bytes", r.Received).
					Str("error", r.ErrorMessage).
					Msg("Task result")
			}
			return nil
		},
	}

	f.AddFlags(cmd.Flags())
	return cmd
}
