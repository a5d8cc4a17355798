package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newRenewCmd creates the "warren renew" subcommand.
func newRenewCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "renew <ticket-id>",
		Short: "Extend a ticket's lease",
		Long: `Extends the ticket's TTL from now. If the ticket was preempted by the
deadlock detector the command reports it and exits non-zero; the owner
must abort its critical section.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			if err := e.locks.Renew(args[0], e.cfg.ClampTTL(ttl)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "renewed")
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "new lease duration (0 = configured default)")

	return cmd
}
