package deadlock

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"warren/pkg/eventlog"
	"warren/pkg/lockstore"
	"warren/pkg/protocol"
)

// Detector finds cycles in the wait-for graph and breaks each by
// preempting one victim ticket. It carries no state between passes: the
// graph is rebuilt from the current waits and tickets every time, so stale
// edges cannot accumulate.
type Detector struct {
	board *Board
	locks *lockstore.Store
	log   *eventlog.Appender

	agingRate int // priority points per minute of waiting

	nowFunc func() time.Time
}

// NewDetector creates a Detector. agingRate is the starvation-control knob:
// points of effective priority a pending request gains per minute waited.
func NewDetector(board *Board, locks *lockstore.Store, log *eventlog.Appender, agingRate int) *Detector {
	return &Detector{
		board:     board,
		locks:     locks,
		log:       log,
		agingRate: agingRate,
		nowFunc:   time.Now,
	}
}

// SetNowFunc overrides the clock. Tests only.
func (d *Detector) SetNowFunc(f func() time.Time) { d.nowFunc = f }

// Resolution describes one broken cycle.
type Resolution struct {
	Cycle  []string // agents in cycle order, starting at the victim's owner
	Victim protocol.Ticket
}

// edge is one wait-for dependency: the waiting agent, the ticket it is
// blocked behind, and the wait record that produced the edge.
type edge struct {
	to     string
	ticket protocol.Ticket
	wait   protocol.Wait
}

// Detect runs one detection pass: rebuild the graph, find cycles, preempt
// one victim per cycle. It never blocks and never retries; if a victim does
// not yield promptly, the ticket TTL is the backstop.
func (d *Detector) Detect() ([]Resolution, error) {
	now := d.nowFunc().UTC()

	waits, err := d.board.Waits()
	if err != nil {
		return nil, err
	}
	if len(waits) == 0 {
		return nil, nil
	}

	graph, err := d.buildGraph(waits)
	if err != nil {
		return nil, err
	}

	var resolutions []Resolution
	preempted := make(map[string]bool) // ticket ids removed this pass

	for _, start := range sortedNodes(graph) {
		cycle := findCycle(graph, start, preempted)
		if cycle == nil {
			continue
		}

		victim, formedAt := d.selectVictim(cycle, waits, now)
		agents := cycleAgents(cycle, victim)

		detail, err := json.Marshal(protocol.DeadlockDetail{
			Cycle:        agents,
			VictimTicket: victim.ID,
			FormedAt:     formedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal deadlock detail: %w", err)
		}
		if err := d.log.Append(protocol.Event{
			Kind:     protocol.EventDeadlock,
			Agent:    victim.Owner,
			Resource: victim.Resource,
			TicketID: victim.ID,
			Detail:   string(detail),
		}); err != nil {
			return nil, err
		}

		if err := d.locks.Preempt(victim.ID, "deadlock victim"); err != nil {
			if errors.Is(err, protocol.ErrTicketNotFound) {
				continue // released or expired under us; cycle is gone
			}
			return nil, fmt.Errorf("preempt victim %s: %w", victim.ID, err)
		}
		preempted[victim.ID] = true
		resolutions = append(resolutions, Resolution{Cycle: agents, Victim: victim})
	}
	return resolutions, nil
}

// buildGraph derives wait-for edges: waiter -> owner of each granted ticket
// incompatible with the waiter's pending request.
func (d *Detector) buildGraph(waits []protocol.Wait) (map[string][]edge, error) {
	graph := make(map[string][]edge)
	for _, w := range waits {
		holders, err := d.locks.Query(w.Resource)
		if err != nil {
			return nil, err
		}
		for _, h := range holders {
			if h.Owner == w.Waiter || w.Mode.CompatibleWith(h.Mode) {
				continue
			}
			graph[w.Waiter] = append(graph[w.Waiter], edge{to: h.Owner, ticket: h, wait: w})
		}
	}
	return graph, nil
}

// findCycle runs an iterative DFS from start, marking visiting/visited, and
// returns the edges of the first cycle found. Edges whose ticket was
// already preempted this pass are skipped so one victim is never double
// counted across overlapping cycles.
func findCycle(graph map[string][]edge, start string, preempted map[string]bool) []edge {
	type frame struct {
		node string
		next int
	}
	state := make(map[string]int) // 0 unvisited, 1 visiting, 2 done
	var stack []frame
	var path []edge

	stack = append(stack, frame{node: start})
	state[start] = 1

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		edges := graph[top.node]

		advanced := false
		for top.next < len(edges) {
			e := edges[top.next]
			top.next++
			if preempted[e.ticket.ID] {
				continue
			}
			switch state[e.to] {
			case 1:
				// Back edge: unwind path to where the cycle starts.
				path = append(path, e)
				for i, pe := range path {
					if pe.wait.Waiter == e.to {
						return path[i:]
					}
				}
				return path
			case 0:
				state[e.to] = 1
				path = append(path, e)
				stack = append(stack, frame{node: e.to})
				advanced = true
			}
			if advanced {
				break
			}
		}
		if !advanced {
			state[top.node] = 2
			stack = stack[:len(stack)-1]
			if len(path) > 0 {
				path = path[:len(path)-1]
			}
		}
	}
	return nil
}

// selectVictim picks the ticket to preempt from a cycle's edges: lowest
// effective priority first, then least elapsed hold time, then smallest
// ticket id for a deterministic outcome under test. Effective priority is
// the ticket's own priority raised by the aging of its owner's pending
// wait, so an agent that has waited long enough stops being the default
// victim. It also returns the cycle's formation time: the oldest wait.
func (d *Detector) selectVictim(cycle []edge, waits []protocol.Wait, now time.Time) (protocol.Ticket, time.Time) {
	waitByAgent := make(map[string]protocol.Wait, len(waits))
	for _, w := range waits {
		if prev, ok := waitByAgent[w.Waiter]; !ok || w.Since.Before(prev.Since) {
			waitByAgent[w.Waiter] = w
		}
	}

	formedAt := now
	for _, e := range cycle {
		if e.wait.Since.Before(formedAt) {
			formedAt = e.wait.Since
		}
	}

	effective := func(t protocol.Ticket) int {
		p := t.Priority
		if w, ok := waitByAgent[t.Owner]; ok {
			if aged := w.EffectivePriority(now, d.agingRate); aged > p {
				p = aged
			}
		}
		return p
	}

	victim := cycle[0].ticket
	for _, e := range cycle[1:] {
		a, b := e.ticket, victim
		pa, pb := effective(a), effective(b)
		switch {
		case pa < pb:
			victim = a
		case pa > pb:
		case now.Sub(a.AcquiredAt) < now.Sub(b.AcquiredAt):
			// Same priority: the grant held for the least time is the
			// cheapest to restart.
			victim = a
		case a.AcquiredAt.Equal(b.AcquiredAt) && a.ID < b.ID:
			victim = a
		}
	}
	return victim, formedAt
}

// cycleAgents returns the agents of a cycle in order, rotated so the
// victim's owner comes first.
func cycleAgents(cycle []edge, victim protocol.Ticket) []string {
	agents := make([]string, len(cycle))
	for i, e := range cycle {
		agents[i] = e.wait.Waiter
	}
	for i, a := range agents {
		if a == victim.Owner {
			return append(agents[i:], agents[:i]...)
		}
	}
	return agents
}

func sortedNodes(graph map[string][]edge) []string {
	nodes := make([]string, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}
