package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"warren/pkg/daemon"
	"warren/pkg/eventlog"
	"warren/pkg/protocol"

	"github.com/spf13/cobra"
)

// newDaemonCmd creates the "warren daemon" subcommand.
func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the maintenance daemon",
		Long: `Runs the background loops in the foreground until interrupted:
deadlock detection (watching the waits directory), recovery sweeps, and
event archive ingestion.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}

			logPath := e.dir.Path(protocol.EventLogFile)
			archive, err := eventlog.OpenArchive(e.dir.Path(protocol.ArchiveDBFile))
			if err != nil {
				return err
			}
			defer func() { _ = archive.Close() }()

			d := daemon.New(e.dir, e.detector(), e.reaper(), archive, logPath, daemon.Config{
				DetectorInterval: e.cfg.DetectorInterval,
				ReaperInterval:   e.cfg.ReaperInterval,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.ErrOrStderr(), "warren daemon watching %s\n", e.dir.Root)
			if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	return cmd
}
