package main

import (
	"fmt"

	"warren/pkg/protocol"

	"github.com/spf13/cobra"
)

// newEnqueueCmd creates the "warren enqueue" subcommand.
func newEnqueueCmd() *cobra.Command {
	var (
		priority     int
		requirements string
	)

	cmd := &cobra.Command{
		Use:   "enqueue <task-type>",
		Short: "Add a task to the shared queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			task, err := e.tasks.Enqueue(protocol.Task{
				Type:         args[0],
				Priority:     priority,
				Requirements: requirements,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", task.ID)
			return nil
		},
	}

	cmd.Flags().IntVar(&priority, "priority", 0, "task priority (higher claims first)")
	cmd.Flags().StringVar(&requirements, "requirements", "", "free-form requirements note")

	return cmd
}
