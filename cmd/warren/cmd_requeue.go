package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newRequeueCmd creates the "warren requeue" subcommand.
func newRequeueCmd() *cobra.Command {
	var agent string

	cmd := &cobra.Command{
		Use:   "requeue <task-id>",
		Short: "Return a claimed task to the queue",
		Long: `Returns the task to the queue with its retry count incremented. Past
the retry ceiling the task moves to failed/ instead and the command
exits non-zero.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			if err := e.tasks.Requeue(agent, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "requeued")
			return nil
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "agent that claimed the task (required)")
	_ = cmd.MarkFlagRequired("agent")

	return cmd
}
