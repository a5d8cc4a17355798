package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"warren/pkg/protocol"
	"warren/pkg/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir, err := store.Init(filepath.Join(t.TempDir(), protocol.WarrenDir))
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	return New(dir)
}

func TestHeartbeatRoundTrip(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r.SetNowFunc(func() time.Time { return now })

	status := protocol.AgentStatus{
		AgentID:        "agent-a",
		State:          protocol.AgentWorking,
		CurrentTask:    &protocol.TaskRef{TaskID: "t1", StartedAt: now.Add(-time.Minute)},
		QueueDepth:     2,
		AvgTaskSeconds: 90,
		ProcessHandle:  os.Getpid(),
	}
	if err := r.Heartbeat(status); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	got, err := r.Get("agent-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.LastHeartbeat.Equal(now) {
		t.Errorf("LastHeartbeat not stamped: %v", got.LastHeartbeat)
	}
	if got.CurrentTask == nil || got.CurrentTask.TaskID != "t1" {
		t.Errorf("current task lost: %+v", got.CurrentTask)
	}

	// Overwrite in place.
	now = now.Add(10 * time.Second)
	status.State = protocol.AgentIdle
	status.CurrentTask = nil
	if err := r.Heartbeat(status); err != nil {
		t.Fatal(err)
	}
	got, _ = r.Get("agent-a")
	if got.State != protocol.AgentIdle || got.CurrentTask != nil {
		t.Errorf("overwrite failed: %+v", got)
	}

	all, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("want one record, got %d", len(all))
	}
}

func TestHeartbeatValidation(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	if err := r.Heartbeat(protocol.AgentStatus{State: protocol.AgentIdle}); err == nil {
		t.Error("missing agent id should fail")
	}
	if err := r.Heartbeat(protocol.AgentStatus{AgentID: "a", State: "zombie"}); err == nil {
		t.Error("unknown state should fail")
	}
}

func TestMarkCrashedKeepsHeartbeat(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r.SetNowFunc(func() time.Time { return now })
	if err := r.Heartbeat(protocol.AgentStatus{AgentID: "a", State: protocol.AgentWorking}); err != nil {
		t.Fatal(err)
	}

	if err := r.MarkCrashed("a"); err != nil {
		t.Fatalf("MarkCrashed: %v", err)
	}
	got, _ := r.Get("a")
	if got.State != protocol.AgentCrashed {
		t.Errorf("state: %s", got.State)
	}
	if !got.LastHeartbeat.Equal(now) {
		t.Errorf("MarkCrashed must not touch LastHeartbeat: %v", got.LastHeartbeat)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	if err := r.Heartbeat(protocol.AgentStatus{AgentID: "a", State: protocol.AgentIdle}); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove("a"); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove("a"); err != nil {
		t.Fatalf("second remove must be a no-op: %v", err)
	}
}

func TestProcessAlive(t *testing.T) {
	t.Parallel()

	if !ProcessAlive(os.Getpid()) {
		t.Error("our own pid must be alive")
	}
	if ProcessAlive(0) || ProcessAlive(-1) {
		t.Error("non-positive pids are never alive")
	}
	// PID far beyond pid_max on any reasonable system.
	if ProcessAlive(1 << 30) {
		t.Error("absurd pid should not be alive")
	}
}
