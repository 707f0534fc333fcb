package cmd

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/rewind/internal/engine"
	"github.com/fakeyudi/rewind/internal/server"
)

// executeCommand runs a cobra command with the given args and captures combined output.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	_, err = root.ExecuteC()
	return buf.String(), err
}

// startTestDaemon serves a real engine over an httptest listener and returns
// the address for --addr plus the watched root.
func startTestDaemon(t *testing.T) (addr, root string) {
	t.Helper()
	// Keep config loading away from the real home directory.
	t.Setenv("HOME", t.TempDir())

	root = t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	eng, err := engine.New(engine.Options{
		Root:     root,
		DataDir:  filepath.Join(t.TempDir(), "data"),
		Debounce: 20 * time.Millisecond,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(eng.Close)

	ts := httptest.NewServer(server.New(eng, zap.NewNop()).Router())
	t.Cleanup(ts.Close)

	return strings.TrimPrefix(ts.URL, "http://"), root
}

func resetStopFlags() {
	stopPreserve = nil
	stopAll = false
	stopNone = false
}

func TestStartStopRoundTrip(t *testing.T) {
	addr, root := startTestDaemon(t)
	resetStopFlags()

	out, err := executeCommand(rootCmd, "--addr", addr, "start")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !strings.Contains(out, "Tracking 1 file(s)") {
		t.Errorf("start output missing tracked count: %q", out)
	}

	if err := os.WriteFile(filepath.Join(root, "b.txt"), []byte("y"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitForChange(t, addr)

	out, err = executeCommand(rootCmd, "--addr", addr, "stop", "--none")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !strings.Contains(out, "Reverted: 1") {
		t.Errorf("stop summary missing revert count: %q", out)
	}

	if _, err := os.Stat(filepath.Join(root, "b.txt")); !os.IsNotExist(err) {
		t.Error("new file must be gone after stop --none")
	}
}

func TestStopFlagConflict(t *testing.T) {
	addr, _ := startTestDaemon(t)
	resetStopFlags()

	_, err := executeCommand(rootCmd, "--addr", addr, "stop", "--all", "--none")
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("expected flag conflict error, got %v", err)
	}
}

func TestStopWithoutTerminalNeedsFlags(t *testing.T) {
	addr, root := startTestDaemon(t)
	resetStopFlags()

	if _, err := executeCommand(rootCmd, "--addr", addr, "start"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "b.txt"), []byte("y"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitForChange(t, addr)

	// Test stdin is not a terminal, so stop must refuse to guess.
	_, err := executeCommand(rootCmd, "--addr", addr, "stop")
	if err == nil || !strings.Contains(err.Error(), "no terminal") {
		t.Fatalf("expected no-terminal error, got %v", err)
	}
}

func waitForChange(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		out, err := executeCommand(rootCmd, "--addr", addr, "changes")
		if err != nil {
			t.Fatalf("changes: %v", err)
		}
		if !strings.Contains(out, "no pending changes") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("change never surfaced")
}
