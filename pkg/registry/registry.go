// Package registry maintains the per-agent liveness and workload snapshots
// consumed by the task router and the reaper. One JSON record per agent,
// overwritten in place by atomic rename on every heartbeat.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"warren/pkg/protocol"
	"warren/pkg/store"
)

// Registry reads and writes agent status records.
type Registry struct {
	dir     *store.Dir
	nowFunc func() time.Time
}

// New creates a Registry over the coordination directory.
func New(dir *store.Dir) *Registry {
	return &Registry{dir: dir, nowFunc: time.Now}
}

// SetNowFunc overrides the clock. Tests only.
func (r *Registry) SetNowFunc(f func() time.Time) { r.nowFunc = f }

// Heartbeat overwrites the agent's status record, stamping LastHeartbeat.
// Agents call this at least once per heartbeat interval while alive.
func (r *Registry) Heartbeat(status protocol.AgentStatus) error {
	if status.AgentID == "" {
		return fmt.Errorf("heartbeat: agent id required")
	}
	if !status.State.Valid() {
		return fmt.Errorf("heartbeat %s: invalid state %q", status.AgentID, status.State)
	}
	status.LastHeartbeat = r.nowFunc().UTC()
	return store.WriteAtomic(r.path(status.AgentID), status)
}

// Get returns one agent's status record.
func (r *Registry) Get(agentID string) (*protocol.AgentStatus, error) {
	var status protocol.AgentStatus
	if err := store.ReadJSON(r.path(agentID), &status); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("agent %s: no status record", agentID)
		}
		return nil, err
	}
	return &status, nil
}

// List returns every agent's status record.
func (r *Registry) List() ([]protocol.AgentStatus, error) {
	entries, err := os.ReadDir(r.dir.Path(protocol.AgentsDir))
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	var statuses []protocol.AgentStatus
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var s protocol.AgentStatus
		if err := store.ReadJSON(filepath.Join(r.dir.Path(protocol.AgentsDir), e.Name()), &s); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}

// MarkCrashed flips an agent's state to crashed without touching its
// heartbeat timestamp. Only the reaper calls this, after confirming the
// process is gone.
func (r *Registry) MarkCrashed(agentID string) error {
	var status protocol.AgentStatus
	if err := store.ReadJSON(r.path(agentID), &status); err != nil {
		return fmt.Errorf("mark crashed %s: %w", agentID, err)
	}
	status.State = protocol.AgentCrashed
	return store.WriteAtomic(r.path(agentID), status)
}

// Remove deletes an agent's status record. Idempotent.
func (r *Registry) Remove(agentID string) error {
	err := os.Remove(r.path(agentID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (r *Registry) path(agentID string) string {
	return r.dir.Path(protocol.AgentsDir, agentID+".json")
}

// ProcessAlive reports whether pid is a live process, by sending signal 0.
// This is the proof the reaper requires before treating a stale heartbeat
// as a crash.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return err == syscall.EPERM
}
