// Package deadlock detects and resolves lock deadlocks. The Board persists
// wait records for blocked acquires; the Detector rebuilds the wait-for
// graph from scratch on every pass, finds cycles, and preempts one victim
// ticket per cycle.
package deadlock

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"warren/pkg/protocol"
	"warren/pkg/store"
)

// Board is the durable set of wait records. One record per
// (waiter, resource) pair, overwritten on re-registration.
type Board struct {
	dir *store.Dir
}

// NewBoard creates a Board over the coordination directory.
func NewBoard(dir *store.Dir) *Board {
	return &Board{dir: dir}
}

// RegisterWait records that w.Waiter is blocked on w.Resource. Implements
// lockstore.WaitRegistrar.
func (b *Board) RegisterWait(w protocol.Wait) error {
	if w.Waiter == "" || w.Resource == "" {
		return fmt.Errorf("register wait: waiter and resource required")
	}
	if err := store.WriteAtomic(b.path(w.Waiter, w.Resource), w); err != nil {
		return fmt.Errorf("register wait: %w", err)
	}
	return nil
}

// ClearWait removes the wait record for (waiter, resource). Idempotent.
func (b *Board) ClearWait(waiter, resource string) error {
	err := os.Remove(b.path(waiter, resource))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear wait: %w", err)
	}
	return nil
}

// ClearAgent removes every wait record registered by the agent. The reaper
// calls this when it declares an agent crashed, so dead waiters never leave
// phantom edges in the graph.
func (b *Board) ClearAgent(agentID string) error {
	waits, err := b.Waits()
	if err != nil {
		return err
	}
	for _, w := range waits {
		if w.Waiter == agentID {
			if err := b.ClearWait(w.Waiter, w.Resource); err != nil {
				return err
			}
		}
	}
	return nil
}

// Waits returns all currently registered wait records.
func (b *Board) Waits() ([]protocol.Wait, error) {
	root := b.dir.Path(protocol.WaitsDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list waits: %w", err)
	}
	var waits []protocol.Wait
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var w protocol.Wait
		if err := store.ReadJSON(filepath.Join(root, e.Name()), &w); err != nil {
			if os.IsNotExist(err) {
				continue // cleared between list and read
			}
			return nil, err
		}
		waits = append(waits, w)
	}
	return waits, nil
}

// Prune drops wait records older than maxAge. Waiters clear their own
// records on success, timeout, and cancellation, so anything this old
// belongs to a process that died without cleanup.
func (b *Board) Prune(now time.Time, maxAge time.Duration) error {
	waits, err := b.Waits()
	if err != nil {
		return err
	}
	for _, w := range waits {
		if now.Sub(w.Since) > maxAge {
			if err := b.ClearWait(w.Waiter, w.Resource); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Board) path(waiter, resource string) string {
	return b.dir.Path(protocol.WaitsDir,
		store.ResourceKey(waiter)+"--"+store.ResourceKey(resource)+".json")
}
