// Package daemon runs the background maintenance loops: deadlock
// detection, recovery sweeps, and event archive ingestion. Everything the
// daemon does is also safe to run ad hoc; the daemon only provides
// cadence.
package daemon

import (
	"context"
	"log"
	"time"

	"warren/pkg/deadlock"
	"warren/pkg/eventlog"
	"warren/pkg/protocol"
	"warren/pkg/reaper"
	"warren/pkg/store"

	"github.com/fsnotify/fsnotify"
)

// Config holds daemon loop cadences.
type Config struct {
	DetectorInterval time.Duration // deadlock detection cadence (default 15s)
	ReaperInterval   time.Duration // recovery sweep cadence (default 30s)
	IngestInterval   time.Duration // archive ingest cadence (default 5s)
	FallbackPoll     time.Duration // detector safety-net poll when watching (default 60s)
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.DetectorInterval == 0 {
		out.DetectorInterval = 15 * time.Second
	}
	if out.ReaperInterval == 0 {
		out.ReaperInterval = 30 * time.Second
	}
	if out.IngestInterval == 0 {
		out.IngestInterval = 5 * time.Second
	}
	if out.FallbackPoll == 0 {
		out.FallbackPoll = 60 * time.Second
	}
	return out
}

// Daemon ties the maintenance loops together.
type Daemon struct {
	dir      *store.Dir
	detector *deadlock.Detector
	reaper   *reaper.Reaper
	archive  *eventlog.Archive // nil disables ingestion
	logPath  string
	cfg      Config
}

// New creates a Daemon. It does not start anything; call Run.
func New(dir *store.Dir, detector *deadlock.Detector, rp *reaper.Reaper, archive *eventlog.Archive, logPath string, cfg Config) *Daemon {
	return &Daemon{
		dir:      dir,
		detector: detector,
		reaper:   rp,
		archive:  archive,
		logPath:  logPath,
		cfg:      cfg.withDefaults(),
	}
}

// Run blocks until ctx is cancelled, driving the three loops. An initial
// detection pass and sweep run immediately so a restarted daemon converges
// without waiting out a full interval.
func (d *Daemon) Run(ctx context.Context) error {
	d.detectOnce()
	d.sweepOnce()

	go d.detectLoop(ctx)
	go d.reapLoop(ctx)
	if d.archive != nil {
		go d.ingestLoop(ctx)
	}

	<-ctx.Done()
	return ctx.Err()
}

// detectLoop watches the waits directory so new wait records trigger a
// detection pass promptly. Falls back to pure polling if fsnotify is
// unavailable, and keeps a slow safety-net poll either way.
func (d *Daemon) detectLoop(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.detectLoopPoll(ctx)
		return
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(d.dir.Path(protocol.WaitsDir)); err != nil {
		d.detectLoopPoll(ctx)
		return
	}

	fallback := time.NewTicker(d.cfg.FallbackPoll)
	defer fallback.Stop()
	ticker := time.NewTicker(d.cfg.DetectorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-watcher.Events:
			d.detectOnce()
		case err := <-watcher.Errors:
			if err != nil {
				log.Printf("warren: wait watcher: %v", err)
			}
		case <-ticker.C:
			d.detectOnce()
		case <-fallback.C:
			d.detectOnce()
		}
	}
}

func (d *Daemon) detectLoopPoll(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.DetectorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.detectOnce()
		}
	}
}

func (d *Daemon) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.ReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweepOnce()
		}
	}
}

func (d *Daemon) ingestLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.IngestInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.archive.Ingest(ctx, d.logPath); err != nil {
				log.Printf("warren: archive ingest: %v", err)
			}
		}
	}
}

func (d *Daemon) detectOnce() {
	if _, err := d.detector.Detect(); err != nil {
		log.Printf("warren: deadlock detection: %v", err)
	}
}

func (d *Daemon) sweepOnce() {
	if _, err := d.reaper.Sweep(); err != nil {
		log.Printf("warren: recovery sweep: %v", err)
	}
}
