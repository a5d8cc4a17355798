package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newDoneCmd creates the "warren done" subcommand.
func newDoneCmd() *cobra.Command {
	var agent string

	cmd := &cobra.Command{
		Use:   "done <task-id>",
		Short: "Mark a claimed task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			if err := e.tasks.Complete(agent, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "completed")
			return nil
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "agent that claimed the task (required)")
	_ = cmd.MarkFlagRequired("agent")

	return cmd
}
