package main

import (
	"bytes"
	"path/filepath"
	"testing"
)

// runCmd executes the root command with args, capturing stdout and stderr.
func runCmd(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	root := newRootCmd()
	var out, errBuf bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errBuf)
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), errBuf.String(), err
}

// initWarren points WARREN_DIR at a fresh temp dir and initializes it.
func initWarren(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), ".warren")
	t.Setenv("WARREN_DIR", dir)
	if _, _, err := runCmd(t, "init"); err != nil {
		t.Fatalf("warren init: %v", err)
	}
	return dir
}

func TestRootVersion(t *testing.T) {
	out, _, err := runCmd(t, "--version")
	if err != nil {
		t.Fatalf("--version: %v", err)
	}
	if out == "" {
		t.Error("version output is empty")
	}
}

func TestCommandsRequireInit(t *testing.T) {
	t.Setenv("WARREN_DIR", filepath.Join(t.TempDir(), ".warren"))
	if _, _, err := runCmd(t, "locks"); err == nil {
		t.Fatal("locks before init must fail")
	}
}
