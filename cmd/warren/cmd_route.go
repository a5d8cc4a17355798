package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newRouteCmd creates the "warren route" subcommand.
func newRouteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "route <task-id>",
		Short: "Suggest an agent for a queued task",
		Long: `Prints the agent the routing matrix and current agent statuses point
at for a queued task: the highest-ranked idle candidate, else the
highest-ranked one under the queue-depth threshold. Advisory only;
claiming remains first-come, first-served.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			queued, err := e.tasks.Queued()
			if err != nil {
				return err
			}
			for _, t := range queued {
				if t.ID != args[0] {
					continue
				}
				statuses, err := e.reg.List()
				if err != nil {
					return err
				}
				agent, ok := e.tasks.Route(t, statuses)
				if !ok {
					fmt.Fprintln(cmd.ErrOrStderr(), "no candidate available; task stays queued")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", agent)
				return nil
			}
			return fmt.Errorf("task %s is not queued", args[0])
		},
	}

	return cmd
}
