package lockstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"warren/pkg/eventlog"
	"warren/pkg/protocol"
	"warren/pkg/store"
)

func newTestStore(t *testing.T) (*Store, *store.Dir) {
	t.Helper()
	dir, err := store.Init(filepath.Join(t.TempDir(), protocol.WarrenDir))
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	log := eventlog.NewAppender(dir.Path(protocol.EventLogFile))
	return New(dir, log), dir
}

func writeReq(resource, owner string) AcquireRequest {
	return AcquireRequest{
		Resource:      resource,
		Mode:          protocol.ModeWrite,
		Owner:         owner,
		ProcessHandle: os.Getpid(),
		Priority:      5,
		TTL:           time.Minute,
	}
}

func TestAcquireGrantsTicket(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	tk, err := s.Acquire(writeReq("src/main.go", "agent-a"))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if tk.ID == "" || tk.Owner != "agent-a" || tk.Mode != protocol.ModeWrite {
		t.Errorf("unexpected ticket: %+v", tk)
	}
	if !tk.ExpiresAt.After(tk.AcquiredAt) {
		t.Error("expiry must be after acquisition")
	}

	granted, err := s.Query("src/main.go")
	if err != nil {
		t.Fatal(err)
	}
	if len(granted) != 1 || granted[0].ID != tk.ID {
		t.Errorf("Query: got %+v", granted)
	}
}

func TestReadersCoexist(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	for _, agent := range []string{"a", "b", "c"} {
		req := writeReq("docs/spec.md", agent)
		req.Mode = protocol.ModeRead
		if _, err := s.Acquire(req); err != nil {
			t.Fatalf("read acquire for %s: %v", agent, err)
		}
	}
	granted, _ := s.Query("docs/spec.md")
	if len(granted) != 3 {
		t.Fatalf("want 3 read tickets, got %d", len(granted))
	}
}

func TestWriteConflicts(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	if _, err := s.Acquire(writeReq("f", "a")); err != nil {
		t.Fatal(err)
	}

	cases := []protocol.LockMode{protocol.ModeRead, protocol.ModeWrite, protocol.ModeExclusive}
	for _, mode := range cases {
		req := writeReq("f", "b")
		req.Mode = mode
		_, err := s.Acquire(req)
		var conflict *protocol.ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("mode %s vs held write: want ConflictError, got %v", mode, err)
		}
		if len(conflict.Holders) != 1 || conflict.Holders[0].Owner != "a" {
			t.Errorf("conflict holders: %+v", conflict.Holders)
		}
	}
}

func TestReadBlocksWriter(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	req := writeReq("f", "reader")
	req.Mode = protocol.ModeRead
	if _, err := s.Acquire(req); err != nil {
		t.Fatal(err)
	}

	_, err := s.Acquire(writeReq("f", "writer"))
	var conflict *protocol.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("write vs held read: want ConflictError, got %v", err)
	}
}

func TestReacquireSameOwnerIdempotent(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	first, err := s.Acquire(writeReq("f", "a"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Acquire(writeReq("f", "a"))
	if err != nil {
		t.Fatalf("re-acquire by same owner: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("re-acquire minted a new ticket: %s vs %s", second.ID, first.ID)
	}
	granted, _ := s.Query("f")
	if len(granted) != 1 {
		t.Errorf("want single granted ticket, got %d", len(granted))
	}
}

func TestConcurrentAcquireOneWinner(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	const racers = 12
	var wg sync.WaitGroup
	tickets := make([]*protocol.Ticket, racers)
	errs := make([]error, racers)
	for i := range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tickets[i], errs[i] = s.Acquire(writeReq("contested", agentName(i)))
		}()
	}
	wg.Wait()

	wins := 0
	for i := range racers {
		switch {
		case errs[i] == nil:
			wins++
		default:
			var conflict *protocol.ConflictError
			if !errors.As(errs[i], &conflict) {
				t.Fatalf("loser %d saw %v, want ConflictError", i, errs[i])
			}
		}
	}
	if wins != 1 {
		t.Fatalf("want exactly one winner, got %d", wins)
	}

	granted, _ := s.Query("contested")
	if len(granted) != 1 {
		t.Fatalf("want one granted ticket, got %d", len(granted))
	}
}

func agentName(i int) string {
	return string(rune('a'+i%26)) + "-agent"
}

func TestRenewExtends(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	tk, err := s.Acquire(writeReq("f", "a"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Renew(tk.ID, time.Hour); err != nil {
		t.Fatalf("Renew: %v", err)
	}

	granted, _ := s.Query("f")
	if len(granted) != 1 {
		t.Fatal("ticket vanished on renew")
	}
	if !granted[0].ExpiresAt.After(tk.ExpiresAt) {
		t.Errorf("expiry not extended: %v -> %v", tk.ExpiresAt, granted[0].ExpiresAt)
	}
}

func TestRenewUnknownTicket(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	if err := s.Renew("no-such-ticket", time.Minute); !errors.Is(err, protocol.ErrTicketNotFound) {
		t.Fatalf("want ErrTicketNotFound, got %v", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	tk, err := s.Acquire(writeReq("f", "a"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Release(tk.ID); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := s.Release(tk.ID); err != nil {
		t.Fatalf("second release must be a no-op: %v", err)
	}
	if err := s.Release("never-existed"); err != nil {
		t.Fatalf("release of unknown ticket must be a no-op: %v", err)
	}

	granted, _ := s.Query("f")
	if len(granted) != 0 {
		t.Errorf("ticket still granted after release")
	}
}

func TestPreemptThenRenewReportsPreempted(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	tk, err := s.Acquire(writeReq("f", "a"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Preempt(tk.ID, "deadlock victim"); err != nil {
		t.Fatalf("Preempt: %v", err)
	}

	granted, _ := s.Query("f")
	if len(granted) != 0 {
		t.Fatal("preempted ticket still granted")
	}

	err = s.Renew(tk.ID, time.Minute)
	var pre *protocol.PreemptedError
	if !errors.As(err, &pre) {
		t.Fatalf("renew after preempt: want PreemptedError, got %v", err)
	}
	if pre.Reason != "deadlock victim" {
		t.Errorf("reason: %q", pre.Reason)
	}

	// Tombstone fires once; afterwards the ticket is simply gone.
	if err := s.Renew(tk.ID, time.Minute); !errors.Is(err, protocol.ErrTicketNotFound) {
		t.Fatalf("second renew: want ErrTicketNotFound, got %v", err)
	}
}

func TestPreemptUnknownTicket(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	if err := s.Preempt("ghost", "x"); !errors.Is(err, protocol.ErrTicketNotFound) {
		t.Fatalf("want ErrTicketNotFound, got %v", err)
	}
}

func TestExpiredTicketDoesNotBlock(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	now := time.Now()
	s.SetNowFunc(func() time.Time { return now })

	req := writeReq("f", "a")
	req.TTL = time.Second
	if _, err := s.Acquire(req); err != nil {
		t.Fatal(err)
	}

	// Advance past the TTL: the stale grant must not block a new writer.
	now = now.Add(2 * time.Second)
	tk, err := s.Acquire(writeReq("f", "b"))
	if err != nil {
		t.Fatalf("acquire over expired ticket: %v", err)
	}
	if tk.Owner != "b" {
		t.Errorf("unexpected owner %s", tk.Owner)
	}
	granted, _ := s.Query("f")
	if len(granted) != 1 {
		t.Fatalf("want 1 granted ticket, got %d", len(granted))
	}
}

func TestReleaseOwner(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	if _, err := s.Acquire(writeReq("f1", "a")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Acquire(writeReq("f2", "a")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Acquire(writeReq("f3", "b")); err != nil {
		t.Fatal(err)
	}

	released, err := s.ReleaseOwner("a")
	if err != nil {
		t.Fatalf("ReleaseOwner: %v", err)
	}
	if len(released) != 2 {
		t.Fatalf("want 2 released, got %d", len(released))
	}

	all, _ := s.All()
	if len(all) != 1 || all[0].Owner != "b" {
		t.Errorf("surviving tickets: %+v", all)
	}
}

// --- AcquireWait ---

type fakeRegistrar struct {
	mu         sync.Mutex
	registered []protocol.Wait
	cleared    []string
}

func (f *fakeRegistrar) RegisterWait(w protocol.Wait) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, w)
	return nil
}

func (f *fakeRegistrar) ClearWait(waiter, resource string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, waiter+":"+resource)
	return nil
}

func TestAcquireWaitBlocksThenSucceeds(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	first, err := s.Acquire(writeReq("f", "a"))
	if err != nil {
		t.Fatal(err)
	}

	reg := &fakeRegistrar{}
	done := make(chan error, 1)
	go func() {
		_, err := s.AcquireWait(context.Background(), writeReq("f", "b"), 10*time.Second, reg)
		done <- err
	}()

	// Give B time to block and register its wait edge, then release.
	time.Sleep(200 * time.Millisecond)
	reg.mu.Lock()
	nreg := len(reg.registered)
	reg.mu.Unlock()
	if nreg != 1 {
		t.Fatalf("want 1 registered wait while blocked, got %d", nreg)
	}
	if err := s.Release(first.ID); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("AcquireWait after release: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("AcquireWait did not complete after release")
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.cleared) != 1 || reg.cleared[0] != "b:f" {
		t.Errorf("wait edge not cleared: %v", reg.cleared)
	}
}

func TestAcquireWaitTimesOut(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	if _, err := s.Acquire(writeReq("f", "a")); err != nil {
		t.Fatal(err)
	}

	reg := &fakeRegistrar{}
	_, err := s.AcquireWait(context.Background(), writeReq("f", "b"), 300*time.Millisecond, reg)
	if !errors.Is(err, protocol.ErrLockTimeout) {
		t.Fatalf("want ErrLockTimeout, got %v", err)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.cleared) != 1 {
		t.Errorf("wait edge must be cleared on timeout: %v", reg.cleared)
	}
}

func TestAcquireWaitHonorsContext(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	if _, err := s.Acquire(writeReq("f", "a")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()
	_, err := s.AcquireWait(ctx, writeReq("f", "b"), time.Hour, &fakeRegistrar{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
