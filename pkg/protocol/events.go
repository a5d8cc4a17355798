package protocol

import "time"

// EventKind classifies an entry in the audit trail.
type EventKind string

// Event kind constants. One per externally observable state transition.
const (
	EventAcquire       EventKind = "acquire"
	EventConflict      EventKind = "conflict"
	EventRelease       EventKind = "release"
	EventExpire        EventKind = "expire"
	EventPreempt       EventKind = "preempt"
	EventDeadlock      EventKind = "deadlock"
	EventReap          EventKind = "reap"
	EventTaskAssigned  EventKind = "task_assigned"
	EventTaskRequeued  EventKind = "task_requeued"
	EventTaskCompleted EventKind = "task_completed"
	EventTaskFailed    EventKind = "task_failed"
	EventAgentCrashed  EventKind = "agent_crashed"
)

// DeadlockDetail is the payload carried in a deadlock event's Detail field:
// the ordered agent cycle, the preempted ticket, and when the cycle formed
// (the oldest wait in it), which metrics use to derive resolution time.
type DeadlockDetail struct {
	Cycle        []string  `json:"cycle"`
	VictimTicket string    `json:"victim_ticket"`
	FormedAt     time.Time `json:"formed_at"`
}

// Event is one line of the append-only audit trail. Dashboards and metrics
// tooling consume these; the core only ever appends.
type Event struct {
	Ts       time.Time `json:"ts"`
	Kind     EventKind `json:"kind"`
	Agent    string    `json:"agent,omitempty"`
	Resource string    `json:"resource,omitempty"`
	TicketID string    `json:"ticket_id,omitempty"`
	TaskID   string    `json:"task_id,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}
