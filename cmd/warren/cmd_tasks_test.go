package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"warren/pkg/protocol"
)

func TestTaskLifecycle(t *testing.T) {
	initWarren(t)

	out, _, err := runCmd(t, "enqueue", "code_gen", "--priority", "5")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	taskID := strings.TrimSpace(out)

	out, _, err = runCmd(t, "claim", "--agent", "a")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if strings.TrimSpace(out) != taskID {
		t.Fatalf("claimed %q, want %q", strings.TrimSpace(out), taskID)
	}

	out, _, err = runCmd(t, "tasks", "--claimed-by", "a")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, taskID) {
		t.Errorf("claimed list: %q", out)
	}

	if _, _, err := runCmd(t, "done", taskID, "--agent", "a"); err != nil {
		t.Fatalf("done: %v", err)
	}
	out, _, _ = runCmd(t, "tasks", "--claimed-by", "a")
	if !strings.Contains(out, "no tasks") {
		t.Errorf("claimed after done: %q", out)
	}
}

func TestRequeueCyclesBack(t *testing.T) {
	initWarren(t)

	out, _, err := runCmd(t, "enqueue", "review")
	if err != nil {
		t.Fatal(err)
	}
	taskID := strings.TrimSpace(out)

	if _, _, err := runCmd(t, "claim", "--agent", "a"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := runCmd(t, "requeue", taskID, "--agent", "a"); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	out, _, _ = runCmd(t, "tasks")
	if !strings.Contains(out, taskID) {
		t.Errorf("queue after requeue: %q", out)
	}
}

func TestClaimHonorsRoutingMatrix(t *testing.T) {
	dir := initWarren(t)

	matrix := "code_gen:\n  candidates: [specialist]\n"
	if err := os.WriteFile(filepath.Join(dir, protocol.RoutingFile), []byte(matrix), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := runCmd(t, "enqueue", "code_gen"); err != nil {
		t.Fatal(err)
	}

	out, stderr, err := runCmd(t, "claim", "--agent", "generalist")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if strings.TrimSpace(out) != "" || !strings.Contains(stderr, "no eligible tasks") {
		t.Errorf("ineligible agent claimed: out=%q stderr=%q", out, stderr)
	}

	// Declared capability widens eligibility.
	out, _, err = runCmd(t, "claim", "--agent", "generalist", "--capability", "code_gen")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) == "" {
		t.Error("capability holder should claim")
	}
}

func TestRouteSuggestsSecondary(t *testing.T) {
	dir := initWarren(t)

	matrix := "code_gen:\n  candidates: [primary, secondary]\n"
	if err := os.WriteFile(filepath.Join(dir, protocol.RoutingFile), []byte(matrix), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCmd(t, "enqueue", "code_gen")
	if err != nil {
		t.Fatal(err)
	}
	taskID := strings.TrimSpace(out)

	if _, _, err := runCmd(t, "heartbeat", "--agent", "primary", "--state", "working", "--queue-depth", "5"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := runCmd(t, "heartbeat", "--agent", "secondary", "--state", "idle"); err != nil {
		t.Fatal(err)
	}

	out, _, err = runCmd(t, "route", taskID)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if strings.TrimSpace(out) != "secondary" {
		t.Errorf("route suggested %q, want secondary", strings.TrimSpace(out))
	}
}
