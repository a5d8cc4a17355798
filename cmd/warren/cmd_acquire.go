package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"warren/pkg/lockstore"
	"warren/pkg/protocol"

	"github.com/spf13/cobra"
)

// acquireConfig holds flags for the acquire command.
type acquireConfig struct {
	agent    string
	mode     string
	priority int
	ttl      time.Duration
	pid      int
	meta     string
	wait     bool
	timeout  time.Duration
}

// newAcquireCmd creates the "warren acquire" subcommand.
func newAcquireCmd() *cobra.Command {
	var cfg acquireConfig

	cmd := &cobra.Command{
		Use:   "acquire <resource>",
		Short: "Acquire a lock ticket on a resource",
		Long: `Requests a lock ticket. On conflict the holders are reported and the
command exits non-zero, unless --wait is given, in which case it retries
with backoff until granted or --timeout elapses.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			req := lockstore.AcquireRequest{
				Resource:      args[0],
				Mode:          protocol.LockMode(cfg.mode),
				Owner:         cfg.agent,
				ProcessHandle: cfg.pid,
				Priority:      cfg.priority,
				TTL:           e.cfg.ClampTTL(cfg.ttl),
				Meta:          cfg.meta,
			}

			var ticket *protocol.Ticket
			if cfg.wait {
				ticket, err = e.locks.AcquireWait(cmd.Context(), req, cfg.timeout, e.board)
			} else {
				ticket, err = e.locks.Acquire(req)
			}
			if err != nil {
				var conflict *protocol.ConflictError
				if errors.As(err, &conflict) {
					for _, h := range conflict.Holders {
						fmt.Fprintf(cmd.ErrOrStderr(), "held by %s (%s, ticket %s, expires %s)\n",
							h.Owner, h.Mode, h.ID, h.ExpiresAt.Format(time.RFC3339))
					}
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", ticket.ID)
			fmt.Fprintf(cmd.ErrOrStderr(), "granted %s on %s until %s\n",
				ticket.Mode, ticket.Resource, ticket.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.agent, "agent", "", "owning agent id (required)")
	cmd.Flags().StringVar(&cfg.mode, "mode", string(protocol.ModeWrite), "lock mode: read, write, or exclusive")
	cmd.Flags().IntVar(&cfg.priority, "priority", 0, "ticket priority (higher survives deadlock resolution)")
	cmd.Flags().DurationVar(&cfg.ttl, "ttl", 0, "lease duration (0 = configured default)")
	cmd.Flags().IntVar(&cfg.pid, "pid", os.Getpid(), "process id recorded on the ticket for liveness checks")
	cmd.Flags().StringVar(&cfg.meta, "meta", "", "free-form note stored on the ticket")
	cmd.Flags().BoolVar(&cfg.wait, "wait", false, "block until granted or --timeout")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 30*time.Second, "wait budget when --wait is set")
	_ = cmd.MarkFlagRequired("agent")

	return cmd
}
