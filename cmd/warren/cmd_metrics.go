package main

import (
	"encoding/json"
	"fmt"

	"warren/pkg/eventlog"
	"warren/pkg/protocol"

	"github.com/spf13/cobra"
)

// newMetricsCmd creates the "warren metrics" subcommand.
func newMetricsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show derived coordination metrics",
		Long: `Ingests any fresh event log lines into the archive and prints the
derived counters: collision rate, deadlocks resolved and mean
resolution time, reclaim counts, task throughput, and per-agent
utilization.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			archive, err := eventlog.OpenArchive(e.dir.Path(protocol.ArchiveDBFile))
			if err != nil {
				return err
			}
			defer func() { _ = archive.Close() }()

			ctx := cmd.Context()
			if _, err := archive.Ingest(ctx, e.dir.Path(protocol.EventLogFile)); err != nil {
				return err
			}
			m, err := archive.Metrics(ctx)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(m)
			}

			fmt.Fprintf(w, "acquires: %d\n", m.Acquires)
			fmt.Fprintf(w, "conflicts: %d (collision rate %.1f%%)\n", m.Conflicts, m.CollisionRate*100)
			fmt.Fprintf(w, "deadlocks resolved: %d", m.DeadlocksResolved)
			if m.DeadlocksResolved > 0 {
				fmt.Fprintf(w, " (mean resolution %.1fs)", m.MeanResolutionSeconds)
			}
			fmt.Fprintln(w)
			fmt.Fprintf(w, "tickets expired: %d, reaped: %d\n", m.TicketsExpired, m.TicketsReaped)
			fmt.Fprintf(w, "tasks assigned: %d, completed: %d, requeued: %d, failed: %d\n",
				m.TasksAssigned, m.TasksCompleted, m.TasksRequeued, m.TasksFailed)
			for agent, u := range m.Utilization {
				fmt.Fprintf(w, "utilization %s: %.1f%%\n", agent, u*100)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit metrics as JSON")

	return cmd
}
