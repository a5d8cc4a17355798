package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newClaimCmd creates the "warren claim" subcommand.
func newClaimCmd() *cobra.Command {
	var (
		agent        string
		capabilities []string
	)

	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim the best eligible task for an agent",
		Long: `Atomically claims the highest-priority eligible task. Eligibility
comes from the routing matrix, widened by any --capability the agent
declares. Prints the task id, or nothing when the queue has no eligible
work.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			task, err := e.tasks.Claim(agent, capabilities)
			if err != nil {
				return err
			}
			if task == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "no eligible tasks")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", task.ID)
			fmt.Fprintf(cmd.ErrOrStderr(), "claimed %s task (priority %d, retry %d)\n",
				task.Type, task.Priority, task.RetryCount)
			return nil
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "claiming agent id (required)")
	cmd.Flags().StringSliceVar(&capabilities, "capability", nil, "task type this agent can handle beyond the routing matrix")
	_ = cmd.MarkFlagRequired("agent")

	return cmd
}
