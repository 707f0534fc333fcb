// Package engine owns the session lifecycle: it builds the baseline, runs the
// change watcher, maintains the coalesced pending-change view, and finalizes
// sessions by selectively rolling back changes.
package engine

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fakeyudi/rewind/internal/backup"
	"github.com/fakeyudi/rewind/internal/exclude"
	"github.com/fakeyudi/rewind/internal/paths"
	"github.com/fakeyudi/rewind/internal/session"
	"github.com/fakeyudi/rewind/internal/snapshot"
	"github.com/fakeyudi/rewind/internal/watch"
)

// Options configures an Engine.
type Options struct {
	Root          string // watch root; resolved and symlink-collapsed
	DataDir       string // state, history, and backups live here
	ExtraExcludes []string
	Debounce      time.Duration
	Logger        *zap.Logger
}

// Status is a point-in-time summary of the engine.
type Status struct {
	State     session.State `json:"state"`
	Root      string        `json:"root"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Tracked   int           `json:"tracked"`
	Pending   int           `json:"pending"`
}

// Engine is the session engine. All methods are safe for concurrent use; one
// consumer goroutine owns the change log and external readers take snapshots.
type Engine struct {
	root    string
	dataDir string
	store   session.Store
	backups *backup.Store
	matcher *exclude.Matcher
	log     *zap.Logger
	debounce time.Duration

	mu       sync.Mutex
	starting bool // baseline walk in progress
	sess     *session.Session
	pending  map[string]session.ChangeEvent
	watcher *watch.Watcher
	consumerDone chan struct{}

	subMu   sync.Mutex
	subs    map[int]chan []session.ChangeEvent
	nextSub int
}

// New builds an Engine and, when a persisted active session exists, resumes
// it: the baseline and change log are reloaded and watching restarts, so a
// daemon restart does not lose the session.
func New(opts Options) (*Engine, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	root, err := paths.Root(opts.Root)
	if err != nil {
		return nil, err
	}

	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir, err = session.DefaultDataDir()
		if err != nil {
			return nil, fmt.Errorf("resolving data directory: %w", err)
		}
	}

	store, err := session.NewStore(dataDir)
	if err != nil {
		return nil, err
	}
	backups, err := backup.Open(filepath.Join(dataDir, "backups"))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		root:     root,
		dataDir:  dataDir,
		store:    store,
		backups:  backups,
		matcher:  exclude.New(opts.ExtraExcludes...),
		log:      log,
		debounce: opts.Debounce,
		pending:  make(map[string]session.ChangeEvent),
		subs:     make(map[int]chan []session.ChangeEvent),
	}

	if err := e.resume(); err != nil {
		return nil, err
	}
	return e, nil
}

// resume reloads a persisted session left active by a previous process.
func (e *Engine) resume() error {
	s, err := e.store.Load()
	if err != nil {
		if err == session.ErrNoSession {
			return nil
		}
		return err
	}
	if s.State == session.StateClosed {
		// Finalize ran to completion but the state file outlived it; clear it.
		return e.store.Delete()
	}
	if s.State != session.StateActive && s.State != session.StateFinalizing {
		return nil
	}
	// A crash mid-finalize leaves the session active again; stop must be
	// re-requested so the preserve set comes from the user, not a guess.
	s.State = session.StateActive

	e.mu.Lock()
	defer e.mu.Unlock()
	e.sess = s
	e.pending = s.Pending()
	if err := e.startWatcherLocked(); err != nil {
		return err
	}
	e.log.Info("resumed active session",
		zap.String("session", s.ID),
		zap.Int("tracked", len(s.Baseline)),
		zap.Int("pending", len(e.pending)))
	return nil
}

// excluded is the single exclusion decision shared by the snapshot builder
// and the watcher, so a path once excluded stays excluded for the session.
// The engine's own data directory is always excluded.
func (e *Engine) excluded(p string) bool {
	if paths.Within(e.dataDir, p) {
		return true
	}
	return e.matcher.Excluded(paths.Rel(e.root, p))
}

// Start builds the baseline and transitions Idle → Active. On any failure the
// session stays Idle and nothing is tracked.
func (e *Engine) Start() (*session.Session, error) {
	e.mu.Lock()
	if e.sess != nil || e.starting {
		st := session.StateActive
		if e.sess != nil {
			st = e.sess.State
		}
		e.mu.Unlock()
		return nil, &StateError{Op: "start", State: st}
	}
	// Reserve the slot so a concurrent start cannot race the walk.
	e.starting = true
	e.mu.Unlock()

	baseline, untracked, err := snapshot.Build(e.root, e.excluded, e.backups, e.log)
	if err != nil {
		e.mu.Lock()
		e.starting = false
		e.mu.Unlock()
		return nil, fmt.Errorf("building baseline for %s: %w", e.root, err)
	}

	s := &session.Session{
		ID:        uuid.New().String(),
		State:     session.StateActive,
		Root:      e.root,
		StartedAt: time.Now(),
		Baseline:  baseline,
		Untracked: untracked,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.starting = false
	e.sess = s
	e.pending = make(map[string]session.ChangeEvent)

	if err := e.store.Save(s); err != nil {
		e.sess = nil
		return nil, err
	}
	if err := e.startWatcherLocked(); err != nil {
		e.sess = nil
		_ = e.store.Delete()
		return nil, err
	}

	e.log.Info("session started",
		zap.String("session", s.ID),
		zap.String("root", s.Root),
		zap.Int("tracked", len(baseline)),
		zap.Int("untracked", len(untracked)))
	return s, nil
}

func (e *Engine) startWatcherLocked() error {
	w := watch.New(e.sess.Root, e.sess.Baseline, e.excluded, e.backups, e.log, e.debounce)
	if err := w.Start(); err != nil {
		return err
	}
	e.watcher = w
	e.consumerDone = make(chan struct{})
	go e.consume(w, e.consumerDone)
	return nil
}

// consume is the single goroutine that owns the change log: it applies each
// classified event to the session and the pending view, persists the state,
// and pushes the full pending snapshot to subscribers.
func (e *Engine) consume(w *watch.Watcher, done chan struct{}) {
	defer close(done)
	for ev := range w.Events() {
		e.mu.Lock()
		if e.sess == nil || e.watcher != w {
			e.mu.Unlock()
			continue
		}
		e.sess.Log = append(e.sess.Log, ev)
		if ev.Kind == session.KindNone {
			delete(e.pending, ev.Path)
		} else {
			e.pending[ev.Path] = ev
		}
		if err := e.store.Save(e.sess); err != nil {
			// Best-effort: the in-memory log stays authoritative until the
			// next successful save.
			e.log.Warn("cannot persist session state", zap.Error(err))
		}
		snap := e.pendingSliceLocked()
		e.mu.Unlock()

		e.publish(snap)
	}
}

// Stop transitions Active → Finalizing, drains in-flight backups, reverts
// every non-preserved change, records the history entry, and closes the
// session. Partial failure is reported inside the entry, not as an error.
func (e *Engine) Stop(preserve []string) (*session.HistoryEntry, error) {
	e.mu.Lock()
	if e.sess == nil || e.starting {
		e.mu.Unlock()
		return nil, &StateError{Op: "stop", State: session.StateIdle}
	}
	if e.sess.State != session.StateActive {
		defer e.mu.Unlock()
		return nil, &StateError{Op: "stop", State: e.sess.State}
	}
	s := e.sess
	s.State = session.StateFinalizing
	if err := e.store.Save(s); err != nil {
		e.log.Warn("cannot persist finalizing state", zap.Error(err))
	}
	w := e.watcher
	e.watcher = nil
	consumerDone := e.consumerDone
	e.mu.Unlock()

	// Barrier: stop event intake, let the consumer drain the channel, then
	// wait for every in-flight backup write. No revert may read a backup that
	// has not finished being written.
	w.Close()
	<-consumerDone
	backupErrs := w.Drain()

	e.mu.Lock()
	defer e.mu.Unlock()

	pending := s.Pending()

	// Validate the preserve set before any filesystem mutation: unknown paths
	// are rejected, not silently ignored.
	preserveSet := make(map[string]bool, len(preserve))
	for _, p := range preserve {
		norm, err := paths.Normalize(s.Root, p)
		if err != nil {
			e.abortFinalize(s)
			return nil, err
		}
		if _, ok := pending[norm]; !ok {
			e.abortFinalize(s)
			return nil, &paths.Error{Path: p, Reason: "not a pending change"}
		}
		preserveSet[norm] = true
	}

	entry := e.finalize(s, pending, preserveSet, backupErrs)

	// Mark the session closed on disk before clearing it: a crash between
	// here and Delete must not resume this session as active, the rollback
	// has already run.
	s.State = session.StateClosed
	if err := e.store.Save(s); err != nil {
		e.log.Warn("cannot persist closed state", zap.Error(err))
	}

	if err := e.store.AppendHistory(*entry); err != nil {
		e.log.Error("cannot persist session history", zap.Error(err))
	}
	if err := e.store.Delete(); err != nil {
		e.log.Error("cannot clear session state", zap.Error(err))
	}
	e.sess = nil
	e.pending = make(map[string]session.ChangeEvent)

	snap := e.pendingSliceLocked()
	go e.publish(snap)

	e.log.Info("session closed",
		zap.String("session", entry.SessionID),
		zap.Int("changes", len(entry.Results)),
		zap.Bool("ok", entry.OK))
	return entry, nil
}

// abortFinalize returns a session to Active after a rejected stop request,
// restarting the watcher. The filesystem has not been touched.
func (e *Engine) abortFinalize(s *session.Session) {
	s.State = session.StateActive
	if err := e.store.Save(s); err != nil {
		e.log.Warn("cannot persist session state", zap.Error(err))
	}
	if err := e.startWatcherLocked(); err != nil {
		e.log.Error("cannot restart watcher after rejected stop", zap.Error(err))
		return
	}
	// The old watcher was already closed while the preserve set was being
	// validated, so changes in that window produced no events. Rescan the
	// known pending paths; a path first touched inside the window stays
	// unseen until its next event.
	pending := s.Pending()
	rescan := make([]string, 0, len(pending))
	for p := range pending {
		rescan = append(rescan, p)
	}
	e.watcher.Enqueue(rescan)
}

// Changes returns the coalesced pending changes of the active session, sorted
// by path. Empty when idle.
func (e *Engine) Changes() []session.ChangeEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingSliceLocked()
}

func (e *Engine) pendingSliceLocked() []session.ChangeEvent {
	out := make([]session.ChangeEvent, 0, len(e.pending))
	for _, ev := range e.pending {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// History returns all completed sessions, newest last.
func (e *Engine) History() ([]session.HistoryEntry, error) {
	return e.store.History()
}

// Status reports the engine's current state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{State: session.StateIdle, Root: e.root}
	if e.sess != nil {
		st.State = e.sess.State
		started := e.sess.StartedAt
		st.StartedAt = &started
		st.Tracked = len(e.sess.Baseline)
		st.Pending = len(e.pending)
	}
	return st
}

// Subscribe registers a listener that receives the full pending-change
// snapshot whenever the pending set mutates. The returned cancel func must be
// called to release the subscription. Slow subscribers drop snapshots rather
// than stall the engine; a later snapshot always supersedes a missed one.
func (e *Engine) Subscribe() (<-chan []session.ChangeEvent, func()) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.nextSub
	e.nextSub++
	ch := make(chan []session.ChangeEvent, 8)
	e.subs[id] = ch
	return ch, func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
}

func (e *Engine) publish(snap []session.ChangeEvent) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Close stops watching without finalizing; persisted state is kept so the
// session resumes on the next run.
func (e *Engine) Close() {
	e.mu.Lock()
	w := e.watcher
	e.watcher = nil
	done := e.consumerDone
	e.mu.Unlock()
	if w != nil {
		w.Close()
		<-done
		w.Drain()
	}
}
