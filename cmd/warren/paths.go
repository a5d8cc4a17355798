package main

import (
	"fmt"
	"os"
	"path/filepath"

	"warren/pkg/config"
	"warren/pkg/deadlock"
	"warren/pkg/eventlog"
	"warren/pkg/lockstore"
	"warren/pkg/protocol"
	"warren/pkg/reaper"
	"warren/pkg/registry"
	"warren/pkg/router"
	"warren/pkg/store"
)

// resolveWarrenDir returns the coordination directory path.
// Environment variable:
//   - WARREN_DIR: explicit coordination directory
//
// Without the override, the current directory and its ancestors are
// searched for an existing .warren; if none is found the default is
// .warren under the current directory (which is where init creates it).
func resolveWarrenDir() (string, error) {
	if v := os.Getenv("WARREN_DIR"); v != "" {
		return v, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working dir: %w", err)
	}
	for dir := cwd; ; dir = filepath.Dir(dir) {
		candidate := filepath.Join(dir, protocol.WarrenDir)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		if dir == filepath.Dir(dir) {
			break
		}
	}
	return filepath.Join(cwd, protocol.WarrenDir), nil
}

// env bundles the opened stores every subcommand works with.
type env struct {
	dir   *store.Dir
	cfg   config.Config
	log   *eventlog.Appender
	locks *lockstore.Store
	board *deadlock.Board
	reg   *registry.Registry
	tasks *router.Router
}

// openEnv opens an initialized coordination directory and wires the
// component stores over it.
func openEnv() (*env, error) {
	root, err := resolveWarrenDir()
	if err != nil {
		return nil, err
	}
	dir, err := store.Open(root)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(dir.Path(protocol.ConfigFile))
	if err != nil {
		return nil, err
	}
	matrix, err := router.LoadMatrix(dir.Path(protocol.RoutingFile))
	if err != nil {
		return nil, err
	}

	log := eventlog.NewAppender(dir.Path(protocol.EventLogFile))
	return &env{
		dir:   dir,
		cfg:   cfg,
		log:   log,
		locks: lockstore.New(dir, log),
		board: deadlock.NewBoard(dir),
		reg:   registry.New(dir),
		tasks: router.New(dir, log, matrix, router.Config{
			RetryCeiling:        cfg.RetryCeiling,
			QueueDepthThreshold: cfg.QueueDepthThreshold,
		}),
	}, nil
}

// detector builds a deadlock detector over the env's stores.
func (e *env) detector() *deadlock.Detector {
	return deadlock.NewDetector(e.board, e.locks, e.log, e.cfg.AgingRate)
}

// reaper builds a recovery reaper over the env's stores.
func (e *env) reaper() *reaper.Reaper {
	return reaper.New(e.locks, e.reg, e.board, e.tasks, e.log, reaper.Config{
		CrashThreshold: e.cfg.CrashThreshold,
	})
}
