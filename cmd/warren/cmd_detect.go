package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newDetectCmd creates the "warren detect" subcommand.
func newDetectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run one deadlock detection pass",
		Long: `Rebuilds the wait-for graph from the current waits and tickets and
preempts one victim per cycle found. The daemon runs this on a timer;
the command exists for scripts and for forcing a pass.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			resolutions, err := e.detector().Detect()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(resolutions) == 0 {
				fmt.Fprintln(w, "no deadlocks")
				return nil
			}
			for _, r := range resolutions {
				fmt.Fprintf(w, "cycle %s: preempted ticket %s (owner %s, resource %s)\n",
					strings.Join(r.Cycle, " -> "), r.Victim.ID, r.Victim.Owner, r.Victim.Resource)
			}
			return nil
		},
	}

	return cmd
}
