// Package router implements the task queue and the capability-aware claim
// and placement logic. Tasks are JSON records; a claim is an atomic rename
// from queue/ into the claiming agent's claimed/ directory, so two agents
// racing for one task can never both win.
package router

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"warren/pkg/eventlog"
	"warren/pkg/protocol"
	"warren/pkg/store"

	"github.com/google/uuid"
)

// Config holds router tunables.
type Config struct {
	RetryCeiling        int // requeues before a task is escalated to failed/ (default 3)
	QueueDepthThreshold int // saturation bound for advisory placement (default 3)
}

func (c Config) withDefaults() Config {
	if c.RetryCeiling == 0 {
		c.RetryCeiling = 3
	}
	if c.QueueDepthThreshold == 0 {
		c.QueueDepthThreshold = 3
	}
	return c
}

// Router owns the task records. No other component mutates them directly.
type Router struct {
	dir    *store.Dir
	log    *eventlog.Appender
	matrix *Matrix
	cfg    Config

	nowFunc func() time.Time
}

// New creates a Router over the coordination directory.
func New(dir *store.Dir, log *eventlog.Appender, matrix *Matrix, cfg Config) *Router {
	return &Router{
		dir:     dir,
		log:     log,
		matrix:  matrix,
		cfg:     cfg.withDefaults(),
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the clock. Tests only.
func (r *Router) SetNowFunc(f func() time.Time) { r.nowFunc = f }

// Enqueue adds a task to the queue, minting its identity and creation time
// if unset.
func (r *Router) Enqueue(task protocol.Task) (protocol.Task, error) {
	if task.Type == "" {
		return protocol.Task{}, fmt.Errorf("enqueue: task type required")
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = r.nowFunc().UTC()
	}
	if err := store.CreateExclusive(r.queuePath(task.ID), task); err != nil {
		return protocol.Task{}, fmt.Errorf("enqueue %s: %w", task.ID, err)
	}
	return task, nil
}

// Claim atomically assigns the best eligible task to the agent, or returns
// nil when nothing is eligible. It never blocks: an agent finding no work
// goes idle and retries on its own schedule. Eligibility comes from the
// specialization matrix, widened by any capabilities the agent declares
// explicitly. Selection is highest priority first, then earliest CreatedAt.
func (r *Router) Claim(agentID string, capabilities []string) (*protocol.Task, error) {
	if agentID == "" {
		return nil, fmt.Errorf("claim: agent id required")
	}
	tasks, err := r.Queued()
	if err != nil {
		return nil, err
	}

	eligible := tasks[:0]
	for _, t := range tasks {
		if r.matrix.Eligible(t.Type, agentID) || slices.Contains(capabilities, t.Type) {
			eligible = append(eligible, t)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		if !eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
		}
		return eligible[i].ID < eligible[j].ID
	})

	agentDir := r.dir.Path(protocol.ClaimedDir, agentID)
	if err := os.MkdirAll(agentDir, 0o755); err != nil {
		return nil, fmt.Errorf("claim dir: %w", err)
	}

	for _, t := range eligible {
		// The rename is the one-winner primitive: a racing claimer loses
		// with ENOENT and moves on to the next candidate.
		err := os.Rename(r.queuePath(t.ID), filepath.Join(agentDir, t.ID+".json"))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("claim %s: %w", t.ID, err)
		}
		if err := r.log.Append(protocol.Event{
			Kind: protocol.EventTaskAssigned, Agent: agentID,
			TaskID: t.ID, Detail: t.Type,
		}); err != nil {
			return nil, err
		}
		return &t, nil
	}
	return nil, nil
}

// Complete removes a finished task from the agent's claimed set.
func (r *Router) Complete(agentID, taskID string) error {
	path := r.claimedPath(agentID, taskID)
	var t protocol.Task
	if err := store.ReadJSON(path, &t); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("complete %s: %w", taskID, protocol.ErrTaskNotFound)
		}
		return err
	}
	if err := r.log.Append(protocol.Event{
		Kind: protocol.EventTaskCompleted, Agent: agentID, TaskID: taskID,
	}); err != nil {
		return err
	}
	return os.Remove(path)
}

// Requeue returns a claimed task to the queue with RetryCount incremented.
// Once the count exceeds the retry ceiling the task moves to failed/
// instead and *protocol.RetryExhaustedError is returned: permanently
// failing work is escalated, never dropped.
func (r *Router) Requeue(agentID, taskID string) error {
	path := r.claimedPath(agentID, taskID)
	var t protocol.Task
	if err := store.ReadJSON(path, &t); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("requeue %s: %w", taskID, protocol.ErrTaskNotFound)
		}
		return err
	}

	t.RetryCount++
	if err := store.WriteAtomic(path, t); err != nil {
		return err
	}

	if t.RetryCount > r.cfg.RetryCeiling {
		if err := r.log.Append(protocol.Event{
			Kind: protocol.EventTaskFailed, Agent: agentID, TaskID: taskID,
			Detail: fmt.Sprintf("retry ceiling %d exceeded", r.cfg.RetryCeiling),
		}); err != nil {
			return err
		}
		if err := os.Rename(path, r.dir.Path(protocol.FailedDir, taskID+".json")); err != nil {
			return fmt.Errorf("fail %s: %w", taskID, err)
		}
		return &protocol.RetryExhaustedError{TaskID: taskID, Retries: t.RetryCount}
	}

	if err := r.log.Append(protocol.Event{
		Kind: protocol.EventTaskRequeued, Agent: agentID, TaskID: taskID,
		Detail: fmt.Sprintf("retry %d", t.RetryCount),
	}); err != nil {
		return err
	}
	if err := os.Rename(path, r.queuePath(taskID)); err != nil {
		return fmt.Errorf("requeue %s: %w", taskID, err)
	}
	return nil
}

// Route suggests a home for a task: the highest-ranked matrix candidate
// that is idle, else the highest-ranked one below the queue-depth
// threshold, else nothing (the task stays queued for the next pass). This
// is advisory only; Claim remains the sole correctness guarantee.
func (r *Router) Route(task protocol.Task, statuses []protocol.AgentStatus) (string, bool) {
	byID := make(map[string]protocol.AgentStatus, len(statuses))
	for _, s := range statuses {
		byID[s.AgentID] = s
	}

	candidates := r.matrix.Candidates(task.Type)
	for _, c := range candidates {
		if s, ok := byID[c]; ok && s.State == protocol.AgentIdle {
			return c, true
		}
	}
	for _, c := range candidates {
		s, ok := byID[c]
		if !ok || s.State == protocol.AgentCrashed {
			continue
		}
		if s.QueueDepth < r.cfg.QueueDepthThreshold {
			return c, true
		}
	}
	return "", false
}

// Queued returns the unclaimed tasks.
func (r *Router) Queued() ([]protocol.Task, error) {
	return r.readTasks(r.dir.Path(protocol.QueueDir))
}

// Claimed returns the tasks currently claimed by an agent.
func (r *Router) Claimed(agentID string) ([]protocol.Task, error) {
	tasks, err := r.readTasks(r.dir.Path(protocol.ClaimedDir, agentID))
	if err != nil && os.IsNotExist(err) {
		return nil, nil
	}
	return tasks, err
}

// Failed returns the retry-exhausted tasks awaiting external attention.
func (r *Router) Failed() ([]protocol.Task, error) {
	return r.readTasks(r.dir.Path(protocol.FailedDir))
}

func (r *Router) readTasks(dir string) ([]protocol.Task, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var tasks []protocol.Task
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var t protocol.Task
		if err := store.ReadJSON(filepath.Join(dir, e.Name()), &t); err != nil {
			if os.IsNotExist(err) {
				continue // claimed between list and read
			}
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (r *Router) queuePath(taskID string) string {
	return r.dir.Path(protocol.QueueDir, taskID+".json")
}

func (r *Router) claimedPath(agentID, taskID string) string {
	return r.dir.Path(protocol.ClaimedDir, agentID, taskID+".json")
}
