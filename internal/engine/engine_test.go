package engine_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fakeyudi/rewind/internal/engine"
	"github.com/fakeyudi/rewind/internal/fingerprint"
	"github.com/fakeyudi/rewind/internal/paths"
	"github.com/fakeyudi/rewind/internal/session"
)

const testDebounce = 20 * time.Millisecond

func newEngine(t *testing.T, root string) *engine.Engine {
	t.Helper()
	eng, err := engine.New(engine.Options{
		Root:     root,
		DataDir:  filepath.Join(t.TempDir(), "data"),
		Debounce: testDebounce,
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return eng
}

func seed(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

// waitPending polls until the engine reports exactly the given kinds per path.
func waitPending(t *testing.T, eng *engine.Engine, want map[string]session.ChangeKind) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got := map[string]session.ChangeKind{}
		for _, ev := range eng.Changes() {
			got[ev.Path] = ev.Kind
		}
		if len(got) == len(want) {
			match := true
			for p, k := range want {
				if got[p] != k {
					match = false
					break
				}
			}
			if match {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("pending changes never settled to %v; last: %v", want, eng.Changes())
}

func TestPreserveAndRevertScenario(t *testing.T) {
	root := t.TempDir()
	seed(t, root, map[string]string{"a.txt": "x"})

	eng := newEngine(t, root)
	s, err := eng.Start()
	require.NoError(t, err)
	require.Equal(t, session.StateActive, s.State)
	require.Equal(t, 1, len(s.Baseline))

	resolved := eng.Status().Root
	aPath := filepath.Join(resolved, "a.txt")
	bPath := filepath.Join(resolved, "b.txt")

	require.NoError(t, os.WriteFile(bPath, []byte("y"), 0o644))
	require.NoError(t, os.WriteFile(aPath, []byte("z"), 0o644))

	waitPending(t, eng, map[string]session.ChangeKind{
		aPath: session.KindModified,
		bPath: session.KindNew,
	})

	// Preserve a.txt by home-relative path; b.txt is reverted (deleted).
	entry, err := eng.Stop([]string{"a.txt"})
	require.NoError(t, err)
	require.True(t, entry.OK)

	data, err := os.ReadFile(aPath)
	require.NoError(t, err)
	require.Equal(t, "z", string(data), "preserved file must keep session content")

	_, err = os.Stat(bPath)
	require.True(t, errors.Is(err, os.ErrNotExist), "non-preserved new file must be removed")

	outcomes := map[string]session.Outcome{}
	for _, r := range entry.Results {
		outcomes[r.Path] = r.Outcome
	}
	require.Equal(t, session.OutcomePreserved, outcomes[aPath])
	require.Equal(t, session.OutcomeReverted, outcomes[bPath])

	require.Equal(t, session.StateIdle, eng.Status().State)
}

func TestDeletedFileRestored(t *testing.T) {
	root := t.TempDir()
	seed(t, root, map[string]string{"c.txt": "1"})

	eng := newEngine(t, root)
	_, err := eng.Start()
	require.NoError(t, err)

	cPath := filepath.Join(eng.Status().Root, "c.txt")
	require.NoError(t, os.Remove(cPath))

	waitPending(t, eng, map[string]session.ChangeKind{cPath: session.KindDeleted})

	entry, err := eng.Stop(nil)
	require.NoError(t, err)
	require.True(t, entry.OK)

	data, err := os.ReadFile(cPath)
	require.NoError(t, err)
	require.Equal(t, "1", string(data), "deleted file must be recreated with baseline content")
}

func TestModifiedFileRevertedToBaseline(t *testing.T) {
	root := t.TempDir()
	seed(t, root, map[string]string{"a.txt": "x", "untouched.txt": "same"})

	eng := newEngine(t, root)
	_, err := eng.Start()
	require.NoError(t, err)

	resolved := eng.Status().Root
	aPath := filepath.Join(resolved, "a.txt")
	uPath := filepath.Join(resolved, "untouched.txt")

	baseHash, err := fingerprint.File(uPath)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(aPath, []byte("changed"), 0o644))
	waitPending(t, eng, map[string]session.ChangeKind{aPath: session.KindModified})

	entry, err := eng.Stop(nil)
	require.NoError(t, err)
	require.True(t, entry.OK)

	data, err := os.ReadFile(aPath)
	require.NoError(t, err)
	require.Equal(t, "x", string(data))

	// Untouched files show no drift across a session.
	afterHash, err := fingerprint.File(uPath)
	require.NoError(t, err)
	require.Equal(t, baseHash, afterHash)
}

func TestStopWhileIdle(t *testing.T) {
	eng := newEngine(t, t.TempDir())
	_, err := eng.Stop(nil)
	var se *engine.StateError
	require.ErrorAs(t, err, &se)
	require.Equal(t, session.StateIdle, se.State)
}

func TestDoubleStart(t *testing.T) {
	root := t.TempDir()
	eng := newEngine(t, root)
	_, err := eng.Start()
	require.NoError(t, err)

	_, err = eng.Start()
	var se *engine.StateError
	require.ErrorAs(t, err, &se)

	_, err = eng.Stop(nil)
	require.NoError(t, err)
}

func TestUnknownPreservePathRejected(t *testing.T) {
	root := t.TempDir()
	seed(t, root, map[string]string{"a.txt": "x"})

	eng := newEngine(t, root)
	_, err := eng.Start()
	require.NoError(t, err)

	resolved := eng.Status().Root
	aPath := filepath.Join(resolved, "a.txt")
	require.NoError(t, os.WriteFile(aPath, []byte("z"), 0o644))
	waitPending(t, eng, map[string]session.ChangeKind{aPath: session.KindModified})

	_, err = eng.Stop([]string{"never-changed.txt"})
	var pe *paths.Error
	require.ErrorAs(t, err, &pe, "unknown preserve paths are rejected, not ignored")

	// The rejected stop leaves the session active and the file untouched.
	require.Equal(t, session.StateActive, eng.Status().State)
	data, err := os.ReadFile(aPath)
	require.NoError(t, err)
	require.Equal(t, "z", string(data))

	// A valid stop still works afterwards.
	entry, err := eng.Stop([]string{aPath})
	require.NoError(t, err)
	require.True(t, entry.OK)
}

func TestTraversalPreservePathRejected(t *testing.T) {
	root := t.TempDir()
	seed(t, root, map[string]string{"a.txt": "x"})

	eng := newEngine(t, root)
	_, err := eng.Start()
	require.NoError(t, err)

	aPath := filepath.Join(eng.Status().Root, "a.txt")
	require.NoError(t, os.WriteFile(aPath, []byte("z"), 0o644))
	waitPending(t, eng, map[string]session.ChangeKind{aPath: session.KindModified})

	_, err = eng.Stop([]string{"../escape.txt"})
	var pe *paths.Error
	require.ErrorAs(t, err, &pe)

	_, err = eng.Stop(nil)
	require.NoError(t, err)
}

func TestHistoryRecordsClosedSessions(t *testing.T) {
	root := t.TempDir()
	seed(t, root, map[string]string{"a.txt": "x"})
	dataDir := filepath.Join(t.TempDir(), "data")

	eng, err := engine.New(engine.Options{Root: root, DataDir: dataDir, Debounce: testDebounce, Logger: zap.NewNop()})
	require.NoError(t, err)

	_, err = eng.Start()
	require.NoError(t, err)
	aPath := filepath.Join(eng.Status().Root, "a.txt")
	require.NoError(t, os.WriteFile(aPath, []byte("z"), 0o644))
	waitPending(t, eng, map[string]session.ChangeKind{aPath: session.KindModified})

	entry, err := eng.Stop([]string{aPath})
	require.NoError(t, err)

	history, err := eng.History()
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, entry.SessionID, history[0].SessionID)
	require.Equal(t, []string{aPath}, history[0].Preserved)
	require.NotEmpty(t, history[0].Log, "the full audit log is retained in history")
	eng.Close()

	// History survives a process restart.
	eng2, err := engine.New(engine.Options{Root: root, DataDir: dataDir, Debounce: testDebounce, Logger: zap.NewNop()})
	require.NoError(t, err)
	defer eng2.Close()
	history, err = eng2.History()
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestActiveSessionResumesAcrossRestart(t *testing.T) {
	root := t.TempDir()
	seed(t, root, map[string]string{"a.txt": "x"})
	dataDir := filepath.Join(t.TempDir(), "data")

	eng, err := engine.New(engine.Options{Root: root, DataDir: dataDir, Debounce: testDebounce, Logger: zap.NewNop()})
	require.NoError(t, err)
	s, err := eng.Start()
	require.NoError(t, err)
	eng.Close() // simulate the host process going away without stopping

	eng2, err := engine.New(engine.Options{Root: root, DataDir: dataDir, Debounce: testDebounce, Logger: zap.NewNop()})
	require.NoError(t, err)
	defer eng2.Close()

	st := eng2.Status()
	require.Equal(t, session.StateActive, st.State)
	require.Equal(t, 1, st.Tracked)

	// The resumed watcher still classifies against the original baseline.
	aPath := filepath.Join(st.Root, "a.txt")
	require.NoError(t, os.WriteFile(aPath, []byte("after restart"), 0o644))
	waitPending(t, eng2, map[string]session.ChangeKind{aPath: session.KindModified})

	entry, err := eng2.Stop(nil)
	require.NoError(t, err)
	require.True(t, entry.OK)
	require.Equal(t, s.ID, entry.SessionID)

	data, err := os.ReadFile(aPath)
	require.NoError(t, err)
	require.Equal(t, "x", string(data))
}

// TestStopFinalizesChangesStillInDebounceWindow pins the shutdown ordering:
// a change made right before Stop, with a debounce window far longer than the
// test, must still be classified and reverted. Only the watcher's shutdown
// flush can deliver it.
func TestStopFinalizesChangesStillInDebounceWindow(t *testing.T) {
	root := t.TempDir()
	seed(t, root, map[string]string{"a.txt": "x"})

	eng, err := engine.New(engine.Options{
		Root:     root,
		DataDir:  filepath.Join(t.TempDir(), "data"),
		Debounce: time.Hour,
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	_, err = eng.Start()
	require.NoError(t, err)

	resolved := eng.Status().Root
	aPath := filepath.Join(resolved, "a.txt")
	bPath := filepath.Join(resolved, "b.txt")
	require.NoError(t, os.WriteFile(aPath, []byte("z"), 0o644))
	require.NoError(t, os.WriteFile(bPath, []byte("y"), 0o644))

	// Let the raw events reach the watcher; the hour-long ticker never fires,
	// so nothing is pending yet when Stop runs.
	time.Sleep(500 * time.Millisecond)

	entry, err := eng.Stop(nil)
	require.NoError(t, err)
	require.True(t, entry.OK)
	require.Len(t, entry.Results, 2, "both window-held changes must be finalized")

	data, err := os.ReadFile(aPath)
	require.NoError(t, err)
	require.Equal(t, "x", string(data))
	_, err = os.Stat(bPath)
	require.True(t, errors.Is(err, os.ErrNotExist))
}

// TestClosedStateFileClearedOnStartup covers a crash between finalize and the
// state-file delete: the leftover closed-state session is swept, not resumed.
func TestClosedStateFileClearedOnStartup(t *testing.T) {
	root := t.TempDir()
	seed(t, root, map[string]string{"a.txt": "x"})
	dataDir := filepath.Join(t.TempDir(), "data")

	store, err := session.NewStore(dataDir)
	require.NoError(t, err)
	require.NoError(t, store.Save(&session.Session{
		ID:        "leftover",
		State:     session.StateClosed,
		Root:      root,
		StartedAt: time.Now(),
		Baseline:  session.Baseline{},
	}))

	eng, err := engine.New(engine.Options{Root: root, DataDir: dataDir, Debounce: testDebounce, Logger: zap.NewNop()})
	require.NoError(t, err)
	defer eng.Close()

	require.Equal(t, session.StateIdle, eng.Status().State)
	_, err = store.Load()
	require.ErrorIs(t, err, session.ErrNoSession, "the leftover state file must be removed")
}

func TestSubscribeReceivesFullSnapshots(t *testing.T) {
	root := t.TempDir()
	seed(t, root, map[string]string{"a.txt": "x"})

	eng := newEngine(t, root)
	_, err := eng.Start()
	require.NoError(t, err)

	ch, cancel := eng.Subscribe()
	defer cancel()

	aPath := filepath.Join(eng.Status().Root, "a.txt")
	require.NoError(t, os.WriteFile(aPath, []byte("z"), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap := <-ch:
			if len(snap) == 1 && snap[0].Path == aPath && snap[0].Kind == session.KindModified {
				_, err = eng.Stop(nil)
				require.NoError(t, err)
				return
			}
		case <-deadline:
			t.Fatal("never received the pending-change snapshot")
		}
	}
}
