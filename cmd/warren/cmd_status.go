package main

import (
	"fmt"
	"io"
	"time"

	"warren/pkg/protocol"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the "warren status" subcommand.
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [agent-id]",
		Short: "Show agent status records",
		Long:  "Shows every agent's last reported status, or one agent's in detail.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()

			if len(args) == 1 {
				status, err := e.reg.Get(args[0])
				if err != nil {
					return err
				}
				printAgent(w, status)
				return nil
			}

			statuses, err := e.reg.List()
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Fprintln(w, "no agents")
				return nil
			}

			now := time.Now().UTC()
			rows := make([][]string, 0, len(statuses))
			for _, s := range statuses {
				task := "-"
				if s.CurrentTask != nil {
					task = s.CurrentTask.TaskID
				}
				rows = append(rows, []string{
					s.AgentID, string(s.State), task,
					fmt.Sprintf("%d", s.QueueDepth),
					shortAge(s.LastHeartbeat, now),
				})
			}
			writeTable(w, []string{"AGENT", "STATE", "TASK", "QUEUE", "HEARTBEAT"}, rows)
			return nil
		},
	}

	return cmd
}

func printAgent(w io.Writer, s *protocol.AgentStatus) {
	fmt.Fprintf(w, "agent: %s\n", s.AgentID)
	fmt.Fprintf(w, "state: %s\n", s.State)
	if s.CurrentTask != nil {
		fmt.Fprintf(w, "task: %s (started %s)\n",
			s.CurrentTask.TaskID, s.CurrentTask.StartedAt.Format(time.RFC3339))
		if !s.CurrentTask.ETA.IsZero() {
			fmt.Fprintf(w, "eta: %s\n", s.CurrentTask.ETA.Format(time.RFC3339))
		}
	}
	fmt.Fprintf(w, "queue depth: %d\n", s.QueueDepth)
	if s.AvgTaskSeconds > 0 {
		fmt.Fprintf(w, "avg task: %.1fs\n", s.AvgTaskSeconds)
	}
	fmt.Fprintf(w, "heartbeat: %s\n", s.LastHeartbeat.Format(time.RFC3339))
	fmt.Fprintf(w, "pid: %d\n", s.ProcessHandle)
}
