package main

import (
	"fmt"
	"os"
	"time"

	"warren/pkg/protocol"

	"github.com/spf13/cobra"
)

// heartbeatConfig holds flags for the heartbeat command.
type heartbeatConfig struct {
	agent      string
	state      string
	task       string
	eta        time.Duration
	queueDepth int
	avgSeconds float64
	pid        int
}

// newHeartbeatCmd creates the "warren heartbeat" subcommand.
func newHeartbeatCmd() *cobra.Command {
	var cfg heartbeatConfig

	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Publish an agent's status record",
		Long: `Overwrites the agent's status record and stamps the heartbeat time.
Agents run this at least once per heartbeat interval; silence past the
crash threshold plus a dead process triggers recovery.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}

			status := protocol.AgentStatus{
				AgentID:        cfg.agent,
				State:          protocol.AgentState(cfg.state),
				QueueDepth:     cfg.queueDepth,
				AvgTaskSeconds: cfg.avgSeconds,
				ProcessHandle:  cfg.pid,
			}
			if cfg.task != "" {
				ref := &protocol.TaskRef{TaskID: cfg.task, StartedAt: time.Now().UTC()}
				if cfg.eta > 0 {
					ref.ETA = ref.StartedAt.Add(cfg.eta)
				}
				status.CurrentTask = ref
			}

			if err := e.reg.Heartbeat(status); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.agent, "agent", "", "agent id (required)")
	cmd.Flags().StringVar(&cfg.state, "state", string(protocol.AgentIdle), "agent state: idle, working, or blocked")
	cmd.Flags().StringVar(&cfg.task, "task", "", "task id currently being worked")
	cmd.Flags().DurationVar(&cfg.eta, "eta", 0, "expected remaining time on the current task")
	cmd.Flags().IntVar(&cfg.queueDepth, "queue-depth", 0, "tasks queued behind the current one")
	cmd.Flags().Float64Var(&cfg.avgSeconds, "avg-task-seconds", 0, "rolling average task duration")
	cmd.Flags().IntVar(&cfg.pid, "pid", os.Getpid(), "agent process id for liveness checks")
	_ = cmd.MarkFlagRequired("agent")

	return cmd
}
