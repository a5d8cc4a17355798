package lockstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"warren/pkg/store"

	"github.com/google/uuid"
)

// guardName is the per-resource mutation guard file. Whoever creates it
// exclusively owns the resource's ticket directory for the duration of one
// check-then-mutate step. The guard is held for microseconds; a guard older
// than guardStale belongs to a crashed process and is stolen.
const guardName = ".guard"

type guardInfo struct {
	PID int       `json:"pid"`
	At  time.Time `json:"at"`
}

// withGuard runs fn while holding resDir's guard. Contenders spin with a
// short sleep up to guardWait, stealing stale guards by rename so only one
// stealer wins.
func (s *Store) withGuard(resDir string, fn func() error) error {
	guard := filepath.Join(resDir, guardName)
	deadline := time.Now().Add(s.guardWait)

	for {
		err := store.CreateExclusive(guard, guardInfo{PID: os.Getpid(), At: s.nowFunc().UTC()})
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("guard %s: %w", resDir, err)
		}
		if info, statErr := os.Stat(guard); statErr == nil && time.Since(info.ModTime()) > s.guardStale {
			// Steal by rename: exactly one contender gets the ENOENT-free
			// rename, everyone else loops back to the exclusive create.
			stale := guard + ".stale-" + uuid.NewString()
			if renameErr := os.Rename(guard, stale); renameErr == nil {
				_ = os.Remove(stale)
			}
			continue
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("guard %s: contended past %s", resDir, s.guardWait)
		}
		time.Sleep(2 * time.Millisecond)
	}

	defer func() { _ = os.Remove(guard) }()
	return fn()
}
