// Package journal implements the `coral-profiler journal` command.
package journal

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/coral-profiler/internal/config"
	"github.com/coral-mesh/coral-profiler/internal/journal"
)

// NewJournalCmd creates the journal command.
func NewJournalCmd() *cobra.Command {
	var (
		configFile string
		path       string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List recent profiling tasks from an agent's journal",
		Long: `List the most recent profiling tasks recorded in an agent's task journal.

The journal path defaults to profiling.journal_path from the agent
configuration. Stop the agent first: the journal file is locked while open.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				cfg, err := config.LoadAgentConfig(configFile)
				if err != nil {
					return fmt.Errorf("failed to load agent configuration: %w", err)
				}
				path = cfg.Profiling.JournalPath
			}
			if path == "" || path == journal.MemoryPath {
				return fmt.Errorf("no journal file configured (use --path)")
			}

			j, err := journal.Open(cmd.Context(), path, zerolog.Nop())
			if err != nil {
				return err
			}
			defer func() { _ = j.Close() }()

			records, err := j.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "TASK ID\tCREATED\tFORMAT\tDURATION\tSTATE\tDETAIL")
			for _, r := range records {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%ds\t%s\t%s\n",
					r.TaskID,
					time.UnixMilli(r.CreateTime).UTC().Format(time.RFC3339),
					r.Format,
					r.Duration,
					r.State,
					r.Detail,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to agent configuration file")
	cmd.Flags().StringVar(&path, "path", "", "Journal file (overrides the configuration)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of tasks to show")
	return cmd
}
