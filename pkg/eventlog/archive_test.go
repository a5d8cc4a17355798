package eventlog

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"
	"time"

	"warren/pkg/protocol"
)

type archiveFixture struct {
	logPath string
	app     *Appender
	arc     *Archive
}

func newArchiveFixture(t *testing.T) *archiveFixture {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.jsonl")
	arc, err := OpenArchive(filepath.Join(dir, "archive.db"))
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	t.Cleanup(func() { _ = arc.Close() })
	return &archiveFixture{logPath: logPath, app: NewAppender(logPath), arc: arc}
}

func (f *archiveFixture) append(t *testing.T, ev protocol.Event) {
	t.Helper()
	if err := f.app.Append(ev); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newArchiveFixture(t)
	ctx := context.Background()

	f.append(t, protocol.Event{Kind: protocol.EventAcquire, Agent: "a", TicketID: "t1"})
	f.append(t, protocol.Event{Kind: protocol.EventRelease, Agent: "a", TicketID: "t1"})

	n, err := f.arc.Ingest(ctx, f.logPath)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if n != 2 {
		t.Fatalf("first ingest: %d, want 2", n)
	}

	n, err = f.arc.Ingest(ctx, f.logPath)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("repeat ingest must consume nothing, got %d", n)
	}

	// Only the tail is picked up after new appends.
	f.append(t, protocol.Event{Kind: protocol.EventExpire, Agent: "a", TicketID: "t2"})
	n, err = f.arc.Ingest(ctx, f.logPath)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("tail ingest: %d, want 1", n)
	}

	events, err := f.arc.Query(ctx, QueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("archived rows: %d, want 3", len(events))
	}
}

func TestQueryFilters(t *testing.T) {
	t.Parallel()
	f := newArchiveFixture(t)
	ctx := context.Background()

	f.append(t, protocol.Event{Kind: protocol.EventAcquire, Agent: "a", TicketID: "t1"})
	f.append(t, protocol.Event{Kind: protocol.EventAcquire, Agent: "b", TicketID: "t2"})
	f.append(t, protocol.Event{Kind: protocol.EventRelease, Agent: "a", TicketID: "t1"})
	if _, err := f.arc.Ingest(ctx, f.logPath); err != nil {
		t.Fatal(err)
	}

	got, err := f.arc.Query(ctx, QueryOpts{Kind: protocol.EventAcquire, Agent: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].TicketID != "t1" {
		t.Fatalf("filtered query: %+v", got)
	}

	// Newest first, limit applies after ordering.
	got, err = f.arc.Query(ctx, QueryOpts{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Kind != protocol.EventRelease {
		t.Fatalf("newest-first limit: %+v", got)
	}
}

func TestMetricsCounters(t *testing.T) {
	t.Parallel()
	f := newArchiveFixture(t)
	ctx := context.Background()

	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	f.append(t, protocol.Event{Ts: base, Kind: protocol.EventAcquire, Agent: "a"})
	f.append(t, protocol.Event{Ts: base, Kind: protocol.EventAcquire, Agent: "b"})
	f.append(t, protocol.Event{Ts: base, Kind: protocol.EventAcquire, Agent: "c"})
	f.append(t, protocol.Event{Ts: base, Kind: protocol.EventConflict, Agent: "b"})
	f.append(t, protocol.Event{Ts: base, Kind: protocol.EventExpire, Agent: "a"})
	f.append(t, protocol.Event{Ts: base, Kind: protocol.EventReap, Agent: "c"})
	if _, err := f.arc.Ingest(ctx, f.logPath); err != nil {
		t.Fatal(err)
	}

	m, err := f.arc.Metrics(ctx)
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if m.Acquires != 3 || m.Conflicts != 1 {
		t.Errorf("acquires=%d conflicts=%d", m.Acquires, m.Conflicts)
	}
	if math.Abs(m.CollisionRate-0.25) > 1e-9 {
		t.Errorf("collision rate = %f, want 0.25", m.CollisionRate)
	}
	if m.TicketsExpired != 1 || m.TicketsReaped != 1 {
		t.Errorf("expired=%d reaped=%d", m.TicketsExpired, m.TicketsReaped)
	}
}

func TestMetricsDeadlockResolution(t *testing.T) {
	t.Parallel()
	f := newArchiveFixture(t)
	ctx := context.Background()

	formed := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	resolved := formed.Add(30 * time.Second)
	detail, err := json.Marshal(protocol.DeadlockDetail{
		Cycle: []string{"b", "a"}, VictimTicket: "t2", FormedAt: formed,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.append(t, protocol.Event{
		Ts: resolved, Kind: protocol.EventDeadlock, Agent: "b",
		TicketID: "t2", Detail: string(detail),
	})
	if _, err := f.arc.Ingest(ctx, f.logPath); err != nil {
		t.Fatal(err)
	}

	m, err := f.arc.Metrics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if m.DeadlocksResolved != 1 {
		t.Errorf("deadlocks resolved = %d", m.DeadlocksResolved)
	}
	if math.Abs(m.MeanResolutionSeconds-30) > 1e-6 {
		t.Errorf("mean resolution = %f, want 30", m.MeanResolutionSeconds)
	}
}

func TestMetricsUtilization(t *testing.T) {
	t.Parallel()
	f := newArchiveFixture(t)
	ctx := context.Background()

	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	// Over a 100s window, a is busy 60s and b is busy 20s.
	f.append(t, protocol.Event{Ts: base, Kind: protocol.EventTaskAssigned, Agent: "a", TaskID: "t1"})
	f.append(t, protocol.Event{Ts: base.Add(60 * time.Second), Kind: protocol.EventTaskCompleted, Agent: "a", TaskID: "t1"})
	f.append(t, protocol.Event{Ts: base.Add(70 * time.Second), Kind: protocol.EventTaskAssigned, Agent: "b", TaskID: "t2"})
	f.append(t, protocol.Event{Ts: base.Add(90 * time.Second), Kind: protocol.EventTaskRequeued, Agent: "b", TaskID: "t2"})
	f.append(t, protocol.Event{Ts: base.Add(100 * time.Second), Kind: protocol.EventTaskAssigned, Agent: "a", TaskID: "t3"})
	if _, err := f.arc.Ingest(ctx, f.logPath); err != nil {
		t.Fatal(err)
	}

	m, err := f.arc.Metrics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(m.Utilization["a"]-0.6) > 1e-9 {
		t.Errorf("utilization[a] = %f, want 0.6", m.Utilization["a"])
	}
	if math.Abs(m.Utilization["b"]-0.2) > 1e-9 {
		t.Errorf("utilization[b] = %f, want 0.2", m.Utilization["b"])
	}
	if m.TasksAssigned != 3 || m.TasksCompleted != 1 || m.TasksRequeued != 1 {
		t.Errorf("task counters: %+v", m)
	}
}
