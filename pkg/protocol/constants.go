package protocol

// Layout of the coordination directory. Every durable record is one file;
// every mutation is a single atomic create, rename, or delete.
const (
	// WarrenDir is the project-level coordination directory.
	WarrenDir = ".warren"

	// TicketsDir holds one subdirectory per resource; each granted ticket
	// is one JSON file inside it.
	TicketsDir = "tickets"

	// PreemptedDir holds tombstones for preempted tickets, consumed by the
	// displaced owner's next renew.
	PreemptedDir = "preempted"

	// WaitsDir holds wait records for blocked acquires.
	WaitsDir = "waits"

	// QueueDir holds unclaimed tasks.
	QueueDir = "queue"

	// ClaimedDir holds claimed tasks, one subdirectory per agent.
	ClaimedDir = "claimed"

	// FailedDir holds retry-exhausted tasks awaiting external attention.
	FailedDir = "failed"

	// AgentsDir holds per-agent status records.
	AgentsDir = "agents"

	// EventLogFile is the append-only JSONL audit trail.
	EventLogFile = "events.jsonl"

	// ArchiveDBFile is the derived SQLite event archive. It is rebuildable
	// from the event log and never correctness-bearing.
	ArchiveDBFile = "archive.db"

	// ConfigFile is the TOML configuration file.
	ConfigFile = "config.toml"

	// RoutingFile is the YAML specialization matrix.
	RoutingFile = "routing.yaml"
)
