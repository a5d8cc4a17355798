package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"warren/pkg/protocol"
)

// Metrics holds the derived counters external tooling reads off the event
// archive.
type Metrics struct {
	Acquires              int                `json:"acquires"`
	Conflicts             int                `json:"conflicts"`
	CollisionRate         float64            `json:"collision_rate"` // conflicts / (acquires + conflicts)
	DeadlocksResolved     int                `json:"deadlocks_resolved"`
	MeanResolutionSeconds float64            `json:"mean_resolution_seconds"`
	TicketsExpired        int                `json:"tickets_expired"`
	TicketsReaped         int                `json:"tickets_reaped"`
	TasksAssigned         int                `json:"tasks_assigned"`
	TasksRequeued         int                `json:"tasks_requeued"`
	TasksCompleted        int                `json:"tasks_completed"`
	TasksFailed           int                `json:"tasks_failed"`
	Utilization           map[string]float64 `json:"utilization"` // agent -> busy fraction of observed window
}

// Metrics computes the derived counters from the archive.
func (a *Archive) Metrics(ctx context.Context) (*Metrics, error) {
	m := &Metrics{Utilization: make(map[string]float64)}

	counts := map[protocol.EventKind]*int{
		protocol.EventAcquire:       &m.Acquires,
		protocol.EventConflict:      &m.Conflicts,
		protocol.EventDeadlock:      &m.DeadlocksResolved,
		protocol.EventExpire:        &m.TicketsExpired,
		protocol.EventReap:          &m.TicketsReaped,
		protocol.EventTaskAssigned:  &m.TasksAssigned,
		protocol.EventTaskRequeued:  &m.TasksRequeued,
		protocol.EventTaskCompleted: &m.TasksCompleted,
		protocol.EventTaskFailed:    &m.TasksFailed,
	}

	rows, err := a.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		if dst, ok := counts[protocol.EventKind(kind)]; ok {
			*dst = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}

	if attempts := m.Acquires + m.Conflicts; attempts > 0 {
		m.CollisionRate = float64(m.Conflicts) / float64(attempts)
	}

	if err := a.deadlockResolution(ctx, m); err != nil {
		return nil, err
	}
	if err := a.utilization(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// deadlockResolution derives the mean time from cycle formation (oldest
// wait in the cycle, recorded by the detector) to preemption.
func (a *Archive) deadlockResolution(ctx context.Context, m *Metrics) error {
	rows, err := a.db.QueryContext(ctx,
		`SELECT ts, detail FROM events WHERE kind = ?`, string(protocol.EventDeadlock))
	if err != nil {
		return fmt.Errorf("query deadlocks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var total time.Duration
	var n int
	for rows.Next() {
		var ts, detail string
		if err := rows.Scan(&ts, &detail); err != nil {
			return fmt.Errorf("scan deadlock: %w", err)
		}
		resolved, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			continue
		}
		var d protocol.DeadlockDetail
		if err := json.Unmarshal([]byte(detail), &d); err != nil || d.FormedAt.IsZero() {
			continue
		}
		total += resolved.Sub(d.FormedAt)
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate deadlocks: %w", err)
	}
	if n > 0 {
		m.MeanResolutionSeconds = total.Seconds() / float64(n)
	}
	return nil
}

// utilization pairs task_assigned with the matching terminal task event per
// task and accounts the elapsed time to the claiming agent, as a fraction
// of the whole observed event window.
func (a *Archive) utilization(ctx context.Context, m *Metrics) error {
	rows, err := a.db.QueryContext(ctx,
		`SELECT ts, kind, agent, task_id FROM events
		 WHERE kind IN (?, ?, ?, ?) ORDER BY id`,
		string(protocol.EventTaskAssigned), string(protocol.EventTaskCompleted),
		string(protocol.EventTaskRequeued), string(protocol.EventTaskFailed))
	if err != nil {
		return fmt.Errorf("query task events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type open struct {
		agent string
		at    time.Time
	}
	active := make(map[string]open) // task id -> open assignment
	busy := make(map[string]time.Duration)
	var first, last time.Time

	for rows.Next() {
		var ts, kind, agent, taskID string
		if err := rows.Scan(&ts, &kind, &agent, &taskID); err != nil {
			return fmt.Errorf("scan task event: %w", err)
		}
		at, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			continue
		}
		if first.IsZero() || at.Before(first) {
			first = at
		}
		if at.After(last) {
			last = at
		}
		if protocol.EventKind(kind) == protocol.EventTaskAssigned {
			active[taskID] = open{agent: agent, at: at}
			continue
		}
		if o, ok := active[taskID]; ok {
			busy[o.agent] += at.Sub(o.at)
			delete(active, taskID)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate task events: %w", err)
	}

	window := last.Sub(first)
	if window <= 0 {
		return nil
	}
	for agent, d := range busy {
		m.Utilization[agent] = d.Seconds() / window.Seconds()
	}
	return nil
}
