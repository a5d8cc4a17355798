// Package lockstore implements the ticket store: acquire, renew, release,
// query, and preempt over JSON ticket records in the coordination
// directory. All mutation of one resource's tickets happens under that
// resource's guard file, so the compatibility check and the ticket creation
// form one indivisible step — exactly one of any set of racing acquires
// wins, the rest observe a conflict.
package lockstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"warren/pkg/eventlog"
	"warren/pkg/protocol"
	"warren/pkg/store"

	"github.com/google/uuid"
)

// Store is the lock store. It holds no state between operations: every
// decision is made against the on-disk ticket set.
type Store struct {
	dir *store.Dir
	log *eventlog.Appender

	guardStale time.Duration // guard older than this is considered abandoned
	guardWait  time.Duration // total budget to win a contended guard

	nowFunc func() time.Time
}

// New creates a lock store over the given coordination directory, logging
// transitions to the given appender.
func New(dir *store.Dir, log *eventlog.Appender) *Store {
	return &Store{
		dir:        dir,
		log:        log,
		guardStale: 5 * time.Second,
		guardWait:  2 * time.Second,
		nowFunc:    time.Now,
	}
}

// SetNowFunc overrides the clock. Tests only.
func (s *Store) SetNowFunc(f func() time.Time) { s.nowFunc = f }

// AcquireRequest describes one lock acquisition.
type AcquireRequest struct {
	Resource      string
	Mode          protocol.LockMode
	Owner         string
	ProcessHandle int
	Priority      int
	TTL           time.Duration
	Meta          string
}

// Acquire attempts to grant a ticket. It returns *protocol.ConflictError
// when an incompatible ticket is granted; the caller is then responsible
// for registering a wait record and retrying after a backoff (AcquireWait
// does both).
func (s *Store) Acquire(req AcquireRequest) (*protocol.Ticket, error) {
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("acquire %s: invalid mode %q", req.Resource, req.Mode)
	}
	if req.TTL <= 0 {
		return nil, fmt.Errorf("acquire %s: ttl must be positive", req.Resource)
	}
	if req.Owner == "" {
		return nil, fmt.Errorf("acquire %s: owner required", req.Resource)
	}

	resDir, err := s.resourceDir(req.Resource)
	if err != nil {
		return nil, err
	}

	var ticket *protocol.Ticket
	err = s.withGuard(resDir, func() error {
		holders, err := s.readTicketsLocked(resDir)
		if err != nil {
			return err
		}

		var blocking []protocol.Ticket
		for _, h := range holders {
			if h.Owner == req.Owner && h.Resource == req.Resource && h.Mode == req.Mode {
				// Re-acquire by the same owner in the same mode is
				// idempotent: hand back the existing grant.
				ticket = &h
				return nil
			}
			if !req.Mode.CompatibleWith(h.Mode) {
				blocking = append(blocking, h)
			}
		}
		if len(blocking) > 0 {
			_ = s.log.Append(protocol.Event{
				Kind: protocol.EventConflict, Agent: req.Owner,
				Resource: req.Resource, Detail: string(req.Mode),
			})
			return &protocol.ConflictError{Resource: req.Resource, Mode: req.Mode, Holders: blocking}
		}

		now := s.nowFunc().UTC()
		t := protocol.Ticket{
			ID:            uuid.NewString(),
			Resource:      req.Resource,
			Mode:          req.Mode,
			Owner:         req.Owner,
			ProcessHandle: req.ProcessHandle,
			AcquiredAt:    now,
			ExpiresAt:     now.Add(req.TTL),
			Priority:      req.Priority,
			Meta:          req.Meta,
		}
		if err := s.log.Append(protocol.Event{
			Kind: protocol.EventAcquire, Agent: t.Owner,
			Resource: t.Resource, TicketID: t.ID, Detail: string(t.Mode),
		}); err != nil {
			return err
		}
		if err := store.CreateExclusive(filepath.Join(resDir, t.ID+".json"), t); err != nil {
			return fmt.Errorf("create ticket: %w", err)
		}
		ticket = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// Renew extends a ticket's TTL. It returns *protocol.PreemptedError if the
// ticket was preempted since the owner's last successful operation (the
// owner must abort), or protocol.ErrTicketNotFound if the ticket is gone.
func (s *Store) Renew(ticketID string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("renew %s: ttl must be positive", ticketID)
	}
	if err := s.consumeTombstone(ticketID); err != nil {
		return err
	}

	path, t, err := s.findTicket(ticketID)
	if err != nil {
		return err
	}

	resDir := filepath.Dir(path)
	return s.withGuard(resDir, func() error {
		// Re-read under the guard: the ticket may have been preempted or
		// reaped between lookup and lock.
		if err := store.ReadJSON(path, &t); err != nil {
			if os.IsNotExist(err) {
				if terr := s.consumeTombstone(ticketID); terr != nil {
					return terr
				}
				return protocol.ErrTicketNotFound
			}
			return err
		}
		now := s.nowFunc().UTC()
		if t.Expired(now) {
			if err := s.log.Append(protocol.Event{
				Kind: protocol.EventExpire, Agent: t.Owner,
				Resource: t.Resource, TicketID: t.ID,
			}); err != nil {
				return err
			}
			_ = os.Remove(path)
			return protocol.ErrTicketNotFound
		}
		t.ExpiresAt = now.Add(ttl)
		return store.WriteAtomic(path, t)
	})
}

// Release deletes a ticket. It is idempotent: releasing a ticket that was
// already released, expired, or reaped succeeds as a no-op.
func (s *Store) Release(ticketID string) error {
	// A lingering preemption tombstone is cleaned up here: the owner is
	// abandoning the ticket either way.
	_ = os.Remove(s.dir.Path(protocol.PreemptedDir, ticketID+".json"))

	path, t, err := s.findTicket(ticketID)
	if errors.Is(err, protocol.ErrTicketNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	return s.withGuard(filepath.Dir(path), func() error {
		if err := store.ReadJSON(path, &t); err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if err := s.log.Append(protocol.Event{
			Kind: protocol.EventRelease, Agent: t.Owner,
			Resource: t.Resource, TicketID: t.ID,
		}); err != nil {
			return err
		}
		return os.Remove(path)
	})
}

// ReleaseOwner releases every ticket held by owner. Used by the reaper when
// an agent is declared crashed; preemption semantics are bypassed because
// the owner is presumed gone.
func (s *Store) ReleaseOwner(owner string) ([]protocol.Ticket, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}
	var released []protocol.Ticket
	for _, t := range all {
		if t.Owner != owner {
			continue
		}
		if err := s.Release(t.ID); err != nil {
			return released, fmt.Errorf("release %s: %w", t.ID, err)
		}
		released = append(released, t)
	}
	return released, nil
}

// ExpireStale deletes every expired ticket, logging an expire event per
// removal, and returns the tickets removed. Readers already treat expired
// tickets as absent; this sweep just reclaims the files.
func (s *Store) ExpireStale() ([]protocol.Ticket, error) {
	root := s.dir.Path(protocol.TicketsDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	var expired []protocol.Ticket
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		resDir := filepath.Join(root, e.Name())
		err := s.withGuard(resDir, func() error {
			files, err := os.ReadDir(resDir)
			if err != nil {
				return fmt.Errorf("list %s: %w", resDir, err)
			}
			now := s.nowFunc().UTC()
			for _, f := range files {
				if f.IsDir() || strings.HasPrefix(f.Name(), ".") || !strings.HasSuffix(f.Name(), ".json") {
					continue
				}
				path := filepath.Join(resDir, f.Name())
				var t protocol.Ticket
				if err := store.ReadJSON(path, &t); err != nil {
					if os.IsNotExist(err) {
						continue
					}
					return err
				}
				if !t.Expired(now) {
					continue
				}
				if err := s.log.Append(protocol.Event{
					Kind: protocol.EventExpire, Agent: t.Owner,
					Resource: t.Resource, TicketID: t.ID,
				}); err != nil {
					return err
				}
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					return err
				}
				expired = append(expired, t)
			}
			return nil
		})
		if err != nil {
			return expired, err
		}
	}
	return expired, nil
}

// Reap removes a ticket whose owner's process is gone. Like Release but
// logged as a reap, and idempotent for the same reason.
func (s *Store) Reap(ticketID, reason string) error {
	_ = os.Remove(s.dir.Path(protocol.PreemptedDir, ticketID+".json"))

	path, t, err := s.findTicket(ticketID)
	if errors.Is(err, protocol.ErrTicketNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	return s.withGuard(filepath.Dir(path), func() error {
		if err := store.ReadJSON(path, &t); err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if err := s.log.Append(protocol.Event{
			Kind: protocol.EventReap, Agent: t.Owner,
			Resource: t.Resource, TicketID: t.ID, Detail: reason,
		}); err != nil {
			return err
		}
		return os.Remove(path)
	})
}

// Preempt marks the ticket preempted and deletes it. The displaced owner
// discovers the preemption on its next renew. Returns
// protocol.ErrTicketNotFound if the ticket is already gone.
func (s *Store) Preempt(ticketID, reason string) error {
	path, t, err := s.findTicket(ticketID)
	if err != nil {
		return err
	}

	return s.withGuard(filepath.Dir(path), func() error {
		if err := store.ReadJSON(path, &t); err != nil {
			if os.IsNotExist(err) {
				return protocol.ErrTicketNotFound
			}
			return err
		}
		// Tombstone first, then log, then delete: a crash at any point
		// leaves the owner able to observe the preemption.
		tomb := tombstone{TicketID: t.ID, Resource: t.Resource, Owner: t.Owner,
			Reason: reason, At: s.nowFunc().UTC()}
		if err := store.WriteAtomic(s.dir.Path(protocol.PreemptedDir, t.ID+".json"), tomb); err != nil {
			return fmt.Errorf("write tombstone: %w", err)
		}
		if err := s.log.Append(protocol.Event{
			Kind: protocol.EventPreempt, Agent: t.Owner,
			Resource: t.Resource, TicketID: t.ID, Detail: reason,
		}); err != nil {
			return err
		}
		return os.Remove(path)
	})
}

// Query returns the granted (unexpired) tickets on a resource.
func (s *Store) Query(resource string) ([]protocol.Ticket, error) {
	resDir := s.dir.Path(protocol.TicketsDir, store.ResourceKey(resource))
	return s.readTickets(resDir)
}

// All returns every granted ticket in the store.
func (s *Store) All() ([]protocol.Ticket, error) {
	root := s.dir.Path(protocol.TicketsDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	var all []protocol.Ticket
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		tickets, err := s.readTickets(filepath.Join(root, e.Name()))
		if err != nil {
			return nil, err
		}
		all = append(all, tickets...)
	}
	return all, nil
}

// --- internals ---

// tombstone records a preemption for the displaced owner to find.
type tombstone struct {
	TicketID string    `json:"ticket_id"`
	Resource string    `json:"resource"`
	Owner    string    `json:"owner"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// consumeTombstone reports a pending preemption for ticketID, removing the
// tombstone so the signal fires once.
func (s *Store) consumeTombstone(ticketID string) error {
	tomb := s.dir.Path(protocol.PreemptedDir, ticketID+".json")
	var rec tombstone
	if err := store.ReadJSON(tomb, &rec); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read tombstone: %w", err)
	}
	_ = os.Remove(tomb)
	return &protocol.PreemptedError{TicketID: ticketID, Reason: rec.Reason}
}

// resourceDir ensures and returns the ticket directory for a resource.
func (s *Store) resourceDir(resource string) (string, error) {
	dir := s.dir.Path(protocol.TicketsDir, store.ResourceKey(resource))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("resource dir: %w", err)
	}
	return dir, nil
}

// findTicket locates a ticket file by id across all resource directories.
func (s *Store) findTicket(ticketID string) (string, protocol.Ticket, error) {
	root := s.dir.Path(protocol.TicketsDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", protocol.Ticket{}, fmt.Errorf("list tickets: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(root, e.Name(), ticketID+".json")
		var t protocol.Ticket
		if err := store.ReadJSON(path, &t); err == nil {
			return path, t, nil
		}
	}
	return "", protocol.Ticket{}, protocol.ErrTicketNotFound
}

// readTickets returns the unexpired tickets in a resource directory without
// taking the guard. Each record read is individually atomic; callers that
// need a consistent check-then-act view use readTicketsLocked under the
// guard instead.
func (s *Store) readTickets(resDir string) ([]protocol.Ticket, error) {
	entries, err := os.ReadDir(resDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", resDir, err)
	}
	now := s.nowFunc().UTC()
	var tickets []protocol.Ticket
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var t protocol.Ticket
		if err := store.ReadJSON(filepath.Join(resDir, e.Name()), &t); err != nil {
			if os.IsNotExist(err) {
				continue // deleted between list and read
			}
			return nil, err
		}
		if t.Expired(now) {
			continue // expired means absent; the reaper deletes the file
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

// readTicketsLocked is readTickets for callers holding the guard: expired
// ticket files are deleted on the spot since no one can race the removal.
func (s *Store) readTicketsLocked(resDir string) ([]protocol.Ticket, error) {
	entries, err := os.ReadDir(resDir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", resDir, err)
	}
	now := s.nowFunc().UTC()
	var tickets []protocol.Ticket
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(resDir, e.Name())
		var t protocol.Ticket
		if err := store.ReadJSON(path, &t); err != nil {
			return nil, err
		}
		if t.Expired(now) {
			if err := s.log.Append(protocol.Event{
				Kind: protocol.EventExpire, Agent: t.Owner,
				Resource: t.Resource, TicketID: t.ID,
			}); err != nil {
				return nil, err
			}
			_ = os.Remove(path)
			continue
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}
