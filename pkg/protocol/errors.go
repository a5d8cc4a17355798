package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across components.
var (
	// ErrTicketNotFound is returned by renew when the ticket has already
	// been released, expired, or reaped. Release treats the same condition
	// as a successful no-op.
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrLockTimeout is returned by a waiting acquire once the caller's
	// deadline passes. The lock store itself never waits unboundedly.
	ErrLockTimeout = errors.New("timed out waiting for lock")

	// ErrTaskNotFound is returned when completing or requeueing a task the
	// claiming agent does not hold.
	ErrTaskNotFound = errors.New("task not found")
)

// ConflictError reports that a resource is already held in an incompatible
// mode. It is recoverable: the caller registers a wait record and retries
// after a backoff.
type ConflictError struct {
	Resource string
	Mode     LockMode
	Holders  []Ticket
}

func (e *ConflictError) Error() string {
	owners := make([]string, len(e.Holders))
	for i, h := range e.Holders {
		owners[i] = fmt.Sprintf("%s(%s)", h.Owner, h.Mode)
	}
	return fmt.Sprintf("resource %s held incompatibly with %s by %s",
		e.Resource, e.Mode, strings.Join(owners, ", "))
}

// PreemptedError reports that a ticket was revoked to break a deadlock.
// It is fatal to the current unit of work: the displaced owner must abort
// and clean up immediately. Continuing after preemption is a protocol
// violation the system cannot prevent.
type PreemptedError struct {
	TicketID string
	Reason   string
}

func (e *PreemptedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("ticket %s preempted", e.TicketID)
	}
	return fmt.Sprintf("ticket %s preempted: %s", e.TicketID, e.Reason)
}

// RetryExhaustedError reports that a task exceeded the retry ceiling and
// was moved to the failed state. It always propagates externally; the core
// never deletes a permanently failing task silently.
type RetryExhaustedError struct {
	TaskID  string
	Retries int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("task %s exhausted %d retries, moved to failed", e.TaskID, e.Retries)
}
