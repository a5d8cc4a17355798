// Package protocol defines the shared data model for the Warren coordination
// layer: tickets, tasks, agent status, wait records, events, and the typed
// errors exchanged between components. Every durable record the store holds
// is declared here; the components in lockstore, router, registry, deadlock,
// and reaper own their record types but share these definitions.
package protocol

import "time"

// LockMode is the access mode requested for a resource.
type LockMode string

// Lock mode constants.
const (
	ModeRead      LockMode = "read"
	ModeWrite     LockMode = "write"
	ModeExclusive LockMode = "exclusive"
)

// Valid reports whether m is one of the three known lock modes.
func (m LockMode) Valid() bool {
	switch m {
	case ModeRead, ModeWrite, ModeExclusive:
		return true
	default:
		return false
	}
}

// CompatibleWith reports whether a request in mode m may be granted while a
// ticket in mode held is granted on the same resource. The only compatible
// pairing is read/read: write and exclusive conflict with everything,
// including each other.
func (m LockMode) CompatibleWith(held LockMode) bool {
	return m == ModeRead && held == ModeRead
}

// Ticket is a granted lock on a resource. A ticket is either present in the
// store and unexpired (granted) or absent; there is no durable pending
// state. Blocked requests live as Wait records instead.
type Ticket struct {
	ID            string    `json:"id"`
	Resource      string    `json:"resource"`
	Mode          LockMode  `json:"mode"`
	Owner         string    `json:"owner"`
	ProcessHandle int       `json:"process_handle"` // OS pid used by the reaper liveness probe
	AcquiredAt    time.Time `json:"acquired_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Priority      int       `json:"priority"`
	Meta          string    `json:"meta,omitempty"` // informational only, never correctness-bearing
}

// Expired reports whether the ticket's TTL has elapsed at now.
func (t Ticket) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Task is a unit of work awaiting assignment or claimed by an agent.
type Task struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Priority     int       `json:"priority"`
	CreatedAt    time.Time `json:"created_at"`
	Requirements string    `json:"requirements,omitempty"` // free-form routing hints
	RetryCount   int       `json:"retry_count"`
}

// AgentState represents an agent's coarse lifecycle state.
type AgentState string

// Agent state constants.
const (
	AgentIdle    AgentState = "idle"
	AgentWorking AgentState = "working"
	AgentBlocked AgentState = "blocked"
	AgentCrashed AgentState = "crashed"
)

// Valid reports whether s is one of the four known agent states.
func (s AgentState) Valid() bool {
	switch s {
	case AgentIdle, AgentWorking, AgentBlocked, AgentCrashed:
		return true
	default:
		return false
	}
}

// TaskRef identifies the task an agent is currently working on.
type TaskRef struct {
	TaskID    string    `json:"task_id"`
	StartedAt time.Time `json:"started_at"`
	ETA       time.Time `json:"eta,omitzero"`
}

// AgentStatus is the per-agent liveness and workload snapshot, overwritten
// in place on every heartbeat. A stale LastHeartbeat is evidence of failure,
// not proof: the reaper confirms against ProcessHandle before reclaiming.
type AgentStatus struct {
	AgentID        string     `json:"agent_id"`
	State          AgentState `json:"state"`
	CurrentTask    *TaskRef   `json:"current_task,omitempty"`
	QueueDepth     int        `json:"queue_depth"`
	AvgTaskSeconds float64    `json:"avg_task_seconds"`
	LastHeartbeat  time.Time  `json:"last_heartbeat"`
	ProcessHandle  int        `json:"process_handle"`
}

// Wait records a blocked acquire: Waiter wants Resource in Mode but an
// incompatible ticket is granted. Waits are the edges the deadlock detector
// builds its graph from; they are removed as soon as the acquire succeeds,
// times out, or is abandoned.
type Wait struct {
	Waiter   string    `json:"waiter"`
	Resource string    `json:"resource"`
	Mode     LockMode  `json:"mode"`
	Priority int       `json:"priority"`
	Since    time.Time `json:"since"`
}

// EffectivePriority returns the wait's priority raised by aging: agingRate
// points per full minute waited. Aging guarantees a chronically low-priority
// waiter is not preempted-against forever.
func (w Wait) EffectivePriority(now time.Time, agingRate int) int {
	if agingRate <= 0 {
		return w.Priority
	}
	waited := now.Sub(w.Since)
	if waited <= 0 {
		return w.Priority
	}
	return w.Priority + agingRate*int(waited/time.Minute)
}
