package main

import (
	"fmt"
	"time"

	"warren/pkg/protocol"

	"github.com/spf13/cobra"
)

// newTasksCmd creates the "warren tasks" subcommand.
func newTasksCmd() *cobra.Command {
	var (
		claimedBy string
		failed    bool
	)

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List queued, claimed, or failed tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}

			var tasks []protocol.Task
			switch {
			case failed:
				tasks, err = e.tasks.Failed()
			case claimedBy != "":
				tasks, err = e.tasks.Claimed(claimedBy)
			default:
				tasks, err = e.tasks.Queued()
			}
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(w, "no tasks")
				return nil
			}

			now := time.Now().UTC()
			rows := make([][]string, 0, len(tasks))
			for _, t := range tasks {
				rows = append(rows, []string{
					t.ID, t.Type,
					fmt.Sprintf("%d", t.Priority),
					fmt.Sprintf("%d", t.RetryCount),
					shortAge(t.CreatedAt, now),
				})
			}
			writeTable(w, []string{"TASK", "TYPE", "PRI", "RETRIES", "AGE"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&claimedBy, "claimed-by", "", "list tasks claimed by this agent instead of the queue")
	cmd.Flags().BoolVar(&failed, "failed", false, "list retry-exhausted tasks")

	return cmd
}
