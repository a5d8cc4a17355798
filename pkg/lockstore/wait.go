package lockstore

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"warren/pkg/protocol"
)

// WaitRegistrar records blocked acquires for the deadlock detector. The
// deadlock package's Board is the production implementation.
type WaitRegistrar interface {
	RegisterWait(w protocol.Wait) error
	ClearWait(waiter, resource string) error
}

// Backoff bounds for the acquire retry loop.
const (
	backoffMin = 50 * time.Millisecond
	backoffMax = 2 * time.Second
)

// AcquireWait retries Acquire with jittered exponential backoff until it
// succeeds, the caller-supplied timeout elapses (protocol.ErrLockTimeout),
// or ctx is cancelled. While blocked it keeps a wait record registered so
// the deadlock detector can see the pending edge; the record is always
// cleared on exit. There is no unbounded wait: timeout is mandatory.
func (s *Store) AcquireWait(ctx context.Context, req AcquireRequest, timeout time.Duration, reg WaitRegistrar) (*protocol.Ticket, error) {
	deadline := time.Now().Add(timeout)
	backoff := backoffMin
	registered := false
	defer func() {
		if registered {
			_ = reg.ClearWait(req.Owner, req.Resource)
		}
	}()

	for {
		t, err := s.Acquire(req)
		if err == nil {
			return t, nil
		}
		var conflict *protocol.ConflictError
		if !errors.As(err, &conflict) {
			return nil, err
		}

		if !registered && reg != nil {
			if err := reg.RegisterWait(protocol.Wait{
				Waiter:   req.Owner,
				Resource: req.Resource,
				Mode:     req.Mode,
				Priority: req.Priority,
				Since:    s.nowFunc().UTC(),
			}); err != nil {
				return nil, err
			}
			registered = true
		}

		if time.Now().After(deadline) {
			return nil, protocol.ErrLockTimeout
		}

		// Jitter spreads racing retries so losers don't stampede.
		sleep := backoff/2 + rand.N(backoff/2+1)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
		if backoff *= 2; backoff > backoffMax {
			backoff = backoffMax
		}
	}
}
