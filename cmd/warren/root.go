package main

import (
	"fmt"

	"warren/internal/appversion"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root warren command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "warren",
		Short:         "Filesystem coordination kernel for agent fleets",
		Long:          "warren coordinates concurrent agents through plain files:\nadvisory locks with TTLs, deadlock detection, crash recovery,\nand a shared task queue.",
		Version:       fmt.Sprintf("warren %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newInitCmd(),
		newAcquireCmd(),
		newRenewCmd(),
		newReleaseCmd(),
		newLocksCmd(),
		newHeartbeatCmd(),
		newStatusCmd(),
		newEnqueueCmd(),
		newClaimCmd(),
		newDoneCmd(),
		newRequeueCmd(),
		newRouteCmd(),
		newTasksCmd(),
		newDetectCmd(),
		newSweepCmd(),
		newDaemonCmd(),
		newLogsCmd(),
		newMetricsCmd(),
	)

	return cmd
}
