package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newSweepCmd creates the "warren sweep" subcommand.
func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one recovery sweep",
		Long: `Expires overdue tickets, reaps tickets of dead processes, and recovers
crashed agents (stale heartbeat plus dead process): their tickets are
released, their waits cleared, and their claimed tasks requeued.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			rep, err := e.reaper().Sweep()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"expired %d, reaped %d, crashed %d, requeued %d, escalated %d\n",
				len(rep.Expired), len(rep.Reaped), len(rep.Crashed),
				len(rep.Requeued), len(rep.Failed))
			return nil
		},
	}

	return cmd
}
