// Package eventlog maintains the append-only JSONL audit trail every state
// transition is recorded in, plus a derived SQLite archive used for metrics
// and log queries. The JSONL file is the durable contract consumed by
// external tooling; the archive is rebuildable from it at any time.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"warren/pkg/protocol"
	"warren/pkg/store"
)

// Appender writes events to the JSONL audit trail. Appends are single
// O_APPEND writes, so concurrent processes interleave whole lines.
type Appender struct {
	path    string
	nowFunc func() time.Time
}

// NewAppender returns an Appender writing to the given JSONL path.
func NewAppender(path string) *Appender {
	return &Appender{path: path, nowFunc: time.Now}
}

// SetNowFunc overrides the timestamp source. Tests only.
func (a *Appender) SetNowFunc(f func() time.Time) { a.nowFunc = f }

// Append writes one event line. The timestamp is stamped here if unset so
// callers log transitions before or atomically with the mutation they
// describe.
func (a *Appender) Append(ev protocol.Event) error {
	if ev.Ts.IsZero() {
		ev.Ts = a.nowFunc().UTC()
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := store.AppendLine(a.path, line); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Read returns events from the JSONL trail, oldest first. A zero limit
// returns everything; otherwise the newest limit entries are returned.
// Unparseable lines are skipped: the trail is append-only and a torn final
// line from a crashed writer must not poison readers.
func Read(path string, limit int) ([]protocol.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var events []protocol.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev protocol.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan event log: %w", err)
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}
