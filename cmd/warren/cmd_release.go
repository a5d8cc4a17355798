package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newReleaseCmd creates the "warren release" subcommand.
func newReleaseCmd() *cobra.Command {
	var agent string

	cmd := &cobra.Command{
		Use:   "release [ticket-id]",
		Short: "Release a ticket, or all of an agent's tickets",
		Long: `Releases the given ticket. Releasing an already-gone ticket is a
no-op. With --agent and no ticket-id, every ticket held by that agent is
released.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()

			if len(args) == 1 {
				if err := e.locks.Release(args[0]); err != nil {
					return err
				}
				fmt.Fprintln(w, "released")
				return nil
			}
			if agent == "" {
				return fmt.Errorf("a ticket-id or --agent is required")
			}
			released, err := e.locks.ReleaseOwner(agent)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "released %d tickets\n", len(released))
			return nil
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "release every ticket held by this agent")

	return cmd
}
