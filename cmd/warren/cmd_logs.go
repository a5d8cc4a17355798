package main

import (
	"fmt"
	"io"
	"time"

	"warren/pkg/eventlog"
	"warren/pkg/protocol"

	"github.com/spf13/cobra"
)

// logsConfig holds flags for the logs command.
type logsConfig struct {
	tail   int
	kind   string
	agent  string
	follow bool
}

// newLogsCmd creates the "warren logs" subcommand.
func newLogsCmd() *cobra.Command {
	var cfg logsConfig

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the event log",
		Long: `Displays events from the JSONL audit trail, oldest first. With
--follow the trail is polled for new events every second.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			path := e.dir.Path(protocol.EventLogFile)
			w := cmd.OutOrStdout()

			events, err := eventlog.Read(path, cfg.tail)
			if err != nil {
				return err
			}
			shown := 0
			for _, ev := range events {
				if matchEvent(ev, cfg) {
					formatEvent(w, ev)
					shown++
				}
			}
			if shown == 0 && !cfg.follow {
				fmt.Fprintln(w, "no events")
			}
			if !cfg.follow {
				return nil
			}
			return followEvents(cmd, path, len(events), cfg)
		},
	}

	cmd.Flags().IntVar(&cfg.tail, "tail", 20, "number of recent events to show (0 = all)")
	cmd.Flags().StringVar(&cfg.kind, "kind", "", "filter to one event kind")
	cmd.Flags().StringVar(&cfg.agent, "agent", "", "filter to one agent")
	cmd.Flags().BoolVarP(&cfg.follow, "follow", "f", false, "poll for new events every 1s")

	return cmd
}

// followEvents polls the trail and prints events appended after the
// initial batch.
func followEvents(cmd *cobra.Command, path string, seen int, cfg logsConfig) error {
	w := cmd.OutOrStdout()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case <-ticker.C:
			events, err := eventlog.Read(path, 0)
			if err != nil {
				return err
			}
			if len(events) <= seen {
				continue
			}
			for _, ev := range events[seen:] {
				if matchEvent(ev, cfg) {
					formatEvent(w, ev)
				}
			}
			seen = len(events)
		}
	}
}

func matchEvent(ev protocol.Event, cfg logsConfig) bool {
	if cfg.kind != "" && string(ev.Kind) != cfg.kind {
		return false
	}
	if cfg.agent != "" && ev.Agent != cfg.agent {
		return false
	}
	return true
}

// formatEvent writes one event as a fixed-width line.
func formatEvent(w io.Writer, ev protocol.Event) {
	subject := ev.Resource
	if subject == "" {
		subject = ev.TaskID
	}
	ref := ev.TicketID
	if ref == "" {
		ref = ev.TaskID
	}
	fmt.Fprintf(w, "%s | %-14s | %-12s | %-20s | %-36s | %s\n",
		ev.Ts.Format(time.RFC3339), ev.Kind, ev.Agent, subject, ref, ev.Detail)
}
