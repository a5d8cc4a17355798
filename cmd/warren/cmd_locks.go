package main

import (
	"fmt"
	"time"

	"warren/pkg/protocol"

	"github.com/spf13/cobra"
)

// newLocksCmd creates the "warren locks" subcommand.
func newLocksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks [resource]",
		Short: "List granted tickets",
		Long:  "Lists every granted ticket, or only those on one resource.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}

			var tickets []protocol.Ticket
			if len(args) == 1 {
				tickets, err = e.locks.Query(args[0])
			} else {
				tickets, err = e.locks.All()
			}
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(tickets) == 0 {
				fmt.Fprintln(w, "no tickets")
				return nil
			}

			now := time.Now().UTC()
			rows := make([][]string, 0, len(tickets))
			for _, t := range tickets {
				rows = append(rows, []string{
					t.ID, t.Resource, string(t.Mode), t.Owner,
					fmt.Sprintf("%d", t.Priority),
					shortAge(t.AcquiredAt, now),
					t.ExpiresAt.Format(time.RFC3339),
				})
			}
			writeTable(w, []string{"TICKET", "RESOURCE", "MODE", "OWNER", "PRI", "HELD", "EXPIRES"}, rows)
			return nil
		},
	}

	return cmd
}
