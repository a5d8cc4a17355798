package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"warren/pkg/protocol"

	_ "modernc.org/sqlite" // SQLite driver
)

// archiveDDL defines the SQLite schema for the derived event archive.
const archiveDDL = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    ts TEXT NOT NULL,
    kind TEXT NOT NULL,
    agent TEXT,
    resource TEXT,
    ticket_id TEXT,
    task_id TEXT,
    detail TEXT
);

CREATE INDEX IF NOT EXISTS events_kind ON events(kind);
CREATE INDEX IF NOT EXISTS events_agent ON events(agent);

-- Ingest bookkeeping: number of JSONL lines already archived.
CREATE TABLE IF NOT EXISTS ingest_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    lines_consumed INTEGER NOT NULL
);
`

// Archive is the derived SQLite index over the JSONL audit trail. It exists
// so metrics and log queries do not rescan the whole trail; it can be
// deleted and rebuilt at any time.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens (creating if needed) the archive database with WAL so
// readers never block the ingesting daemon.
func OpenArchive(dbPath string) (*Archive, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if _, err := db.Exec(archiveDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init archive schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close releases the database connection. Safe to call multiple times.
func (a *Archive) Close() error {
	if a.db != nil {
		err := a.db.Close()
		a.db = nil
		return err
	}
	return nil
}

// Ingest reads the JSONL trail at logPath and appends any lines not yet
// archived. It is idempotent: the consumed line count is stored alongside
// the rows, so repeated calls only archive the tail.
func (a *Archive) Ingest(ctx context.Context, logPath string) (int, error) {
	var consumed int
	err := a.db.QueryRowContext(ctx,
		`SELECT lines_consumed FROM ingest_state WHERE id = 1`).Scan(&consumed)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("read ingest state: %w", err)
	}

	events, err := Read(logPath, 0)
	if err != nil {
		return 0, err
	}
	if len(events) <= consumed {
		return 0, nil
	}
	fresh := events[consumed:]

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin ingest: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, ev := range fresh {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO events (ts, kind, agent, resource, ticket_id, task_id, detail)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ev.Ts.UTC().Format(time.RFC3339Nano), string(ev.Kind),
			ev.Agent, ev.Resource, ev.TicketID, ev.TaskID, ev.Detail)
		if err != nil {
			return 0, fmt.Errorf("insert event: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ingest_state (id, lines_consumed) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET lines_consumed = excluded.lines_consumed`,
		len(events)); err != nil {
		return 0, fmt.Errorf("update ingest state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit ingest: %w", err)
	}
	return len(fresh), nil
}

// QueryOpts specifies filter criteria for querying archived events.
type QueryOpts struct {
	Kind  protocol.EventKind // filter to one event kind
	Agent string             // filter to one agent
	Limit int                // 0 = no limit; newest first
}

// Query retrieves archived events matching the filter, newest first.
func (a *Archive) Query(ctx context.Context, opts QueryOpts) ([]protocol.Event, error) {
	query := `SELECT ts, kind, agent, resource, ticket_id, task_id, detail FROM events WHERE 1=1`
	var args []any
	if opts.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(opts.Kind))
	}
	if opts.Agent != "" {
		query += ` AND agent = ?`
		args = append(args, opts.Agent)
	}
	query += ` ORDER BY id DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []protocol.Event
	for rows.Next() {
		var ev protocol.Event
		var ts, kind string
		if err := rows.Scan(&ts, &kind, &ev.Agent, &ev.Resource, &ev.TicketID, &ev.TaskID, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse ts: %w", err)
		}
		ev.Ts = parsed
		ev.Kind = protocol.EventKind(kind)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
