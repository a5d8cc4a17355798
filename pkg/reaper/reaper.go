// Package reaper implements failure recovery: it reclaims expired tickets,
// releases tickets whose owning process is gone, and declares agents
// crashed when their heartbeat is stale and their process is dead. Every
// sweep works from the current on-disk state, so a missed sweep is only a
// delay, never a correctness loss.
package reaper

import (
	"errors"
	"fmt"
	"time"

	"warren/pkg/deadlock"
	"warren/pkg/eventlog"
	"warren/pkg/lockstore"
	"warren/pkg/protocol"
	"warren/pkg/registry"
	"warren/pkg/router"
)

// Config holds reaper tunables.
type Config struct {
	CrashThreshold time.Duration // heartbeat silence before an agent can be declared crashed (default 45s)
	WaitMaxAge     time.Duration // wait records older than this are pruned (default 10m)
}

func (c Config) withDefaults() Config {
	if c.CrashThreshold == 0 {
		c.CrashThreshold = 45 * time.Second
	}
	if c.WaitMaxAge == 0 {
		c.WaitMaxAge = 10 * time.Minute
	}
	return c
}

// Reaper runs recovery sweeps over the coordination directory.
type Reaper struct {
	locks *lockstore.Store
	reg   *registry.Registry
	board *deadlock.Board
	tasks *router.Router
	log   *eventlog.Appender
	cfg   Config

	// alive is injectable so tests can simulate dead processes.
	alive   func(pid int) bool
	nowFunc func() time.Time
}

// New creates a Reaper over the shared stores.
func New(locks *lockstore.Store, reg *registry.Registry, board *deadlock.Board, tasks *router.Router, log *eventlog.Appender, cfg Config) *Reaper {
	return &Reaper{
		locks:   locks,
		reg:     reg,
		board:   board,
		tasks:   tasks,
		log:     log,
		cfg:     cfg.withDefaults(),
		alive:   registry.ProcessAlive,
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the clock. Tests only.
func (r *Reaper) SetNowFunc(f func() time.Time) { r.nowFunc = f }

// SetAliveFunc overrides the process liveness probe. Tests only.
func (r *Reaper) SetAliveFunc(f func(pid int) bool) { r.alive = f }

// Report summarizes one sweep.
type Report struct {
	Expired  []protocol.Ticket // removed on TTL alone
	Reaped   []protocol.Ticket // owner process dead
	Crashed  []string          // agents declared crashed this sweep
	Requeued []string          // task ids returned to the queue
	Failed   []string          // task ids escalated past the retry ceiling
}

// Sweep runs one full recovery pass: expire, reap dead-process tickets,
// then declare crashed agents and recover their work.
func (r *Reaper) Sweep() (Report, error) {
	var rep Report

	// TTL expiry needs no liveness proof: the lease simply ran out.
	expired, err := r.locks.ExpireStale()
	if err != nil {
		return rep, fmt.Errorf("expire sweep: %w", err)
	}
	rep.Expired = expired

	if err := r.reapDeadHolders(&rep); err != nil {
		return rep, err
	}
	if err := r.recoverCrashed(&rep); err != nil {
		return rep, err
	}

	// Wait records left behind by vanished agents would otherwise feed the
	// deadlock detector phantom edges forever.
	if err := r.board.Prune(r.nowFunc().UTC(), r.cfg.WaitMaxAge); err != nil {
		return rep, fmt.Errorf("prune waits: %w", err)
	}
	return rep, nil
}

// reapDeadHolders releases tickets whose owning process no longer exists,
// without waiting for the TTL.
func (r *Reaper) reapDeadHolders(rep *Report) error {
	tickets, err := r.locks.All()
	if err != nil {
		return fmt.Errorf("list tickets: %w", err)
	}
	for _, t := range tickets {
		if t.ProcessHandle == 0 || r.alive(t.ProcessHandle) {
			continue
		}
		if err := r.locks.Reap(t.ID, "owner process dead"); err != nil {
			return fmt.Errorf("reap %s: %w", t.ID, err)
		}
		rep.Reaped = append(rep.Reaped, t)
	}
	return nil
}

// recoverCrashed handles agents that stopped heartbeating. A stale
// heartbeat alone is not enough: the process must also be gone, so a
// wedged-but-alive agent keeps its leases until the TTL decides.
func (r *Reaper) recoverCrashed(rep *Report) error {
	statuses, err := r.reg.List()
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	now := r.nowFunc().UTC()

	for _, s := range statuses {
		if s.State == protocol.AgentCrashed {
			continue
		}
		if now.Sub(s.LastHeartbeat) <= r.cfg.CrashThreshold {
			continue
		}
		if r.alive(s.ProcessHandle) {
			continue
		}

		if err := r.log.Append(protocol.Event{
			Kind: protocol.EventAgentCrashed, Agent: s.AgentID,
			Detail: fmt.Sprintf("heartbeat stale %s, process %d gone",
				now.Sub(s.LastHeartbeat).Round(time.Second), s.ProcessHandle),
		}); err != nil {
			return err
		}
		if err := r.reg.MarkCrashed(s.AgentID); err != nil {
			return fmt.Errorf("mark crashed %s: %w", s.AgentID, err)
		}
		rep.Crashed = append(rep.Crashed, s.AgentID)

		if _, err := r.locks.ReleaseOwner(s.AgentID); err != nil {
			return fmt.Errorf("release tickets of %s: %w", s.AgentID, err)
		}
		if err := r.board.ClearAgent(s.AgentID); err != nil {
			return fmt.Errorf("clear waits of %s: %w", s.AgentID, err)
		}
		if err := r.requeueClaimed(s.AgentID, rep); err != nil {
			return err
		}
	}
	return nil
}

// requeueClaimed returns a crashed agent's claimed tasks to the queue so
// another agent can pick them up.
func (r *Reaper) requeueClaimed(agentID string, rep *Report) error {
	claimed, err := r.tasks.Claimed(agentID)
	if err != nil {
		return fmt.Errorf("claimed tasks of %s: %w", agentID, err)
	}
	for _, t := range claimed {
		err := r.tasks.Requeue(agentID, t.ID)
		var exhausted *protocol.RetryExhaustedError
		switch {
		case err == nil:
			rep.Requeued = append(rep.Requeued, t.ID)
		case errors.As(err, &exhausted):
			// Escalated to failed/; the sweep itself succeeded.
			rep.Failed = append(rep.Failed, t.ID)
		default:
			return fmt.Errorf("requeue %s: %w", t.ID, err)
		}
	}
	return nil
}
