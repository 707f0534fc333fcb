// Package watch observes live filesystem events for an active session and
// classifies each touched path against the immutable baseline. Raw events are
// debounced per path so an editor's save burst yields one classification, and
// classified events are delivered over a bounded channel to a single consumer
// that owns the change log.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fakeyudi/rewind/internal/backup"
	"github.com/fakeyudi/rewind/internal/fingerprint"
	"github.com/fakeyudi/rewind/internal/paths"
	"github.com/fakeyudi/rewind/internal/session"
)

// DefaultDebounce is the per-path event coalescing window.
const DefaultDebounce = 150 * time.Millisecond

// Watcher classifies filesystem events against a session baseline.
type Watcher struct {
	root     string
	baseline session.Baseline
	excluded func(string) bool
	store    *backup.Store
	log      *zap.Logger
	debounce time.Duration

	fsw    *fsnotify.Watcher
	events chan session.ChangeEvent
	done   chan struct{}
	once   sync.Once

	// Debounce aggregation: touched paths accumulate here and are classified
	// in batches on a ticker.
	aggMu sync.Mutex
	agg   map[string]struct{}

	// Backup-preservation tasks run off the event path; Drain waits for them.
	backupWG   sync.WaitGroup
	backupMu   sync.Mutex
	backupErrs map[string]error
	ensured    map[string]bool
}

// New creates a Watcher for root. The baseline must be the one the session
// was started with; excluded must be the same matcher the snapshot used.
func New(root string, baseline session.Baseline, excluded func(string) bool, store *backup.Store, log *zap.Logger, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		root:       root,
		baseline:   baseline,
		excluded:   excluded,
		store:      store,
		log:        log,
		debounce:   debounce,
		events:     make(chan session.ChangeEvent, 64),
		done:       make(chan struct{}),
		agg:        make(map[string]struct{}),
		backupErrs: make(map[string]error),
		ensured:    make(map[string]bool),
	}
}

// Start registers the root tree with fsnotify and launches the event and
// flush loops. It returns once watching is established.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting filesystem watcher: %w", err)
	}
	w.fsw = fsw

	if err := w.addTree(w.root, nil); err != nil {
		fsw.Close()
		return fmt.Errorf("watching %s: %w", w.root, err)
	}

	go w.readLoop()
	go w.flushLoop()
	return nil
}

// Events delivers classified, coalesced change events. The channel is closed
// after Close once the final flush has run.
func (w *Watcher) Events() <-chan session.ChangeEvent {
	return w.events
}

// Close stops watching. Pending debounced paths are classified and delivered
// before the events channel closes.
func (w *Watcher) Close() {
	w.once.Do(func() {
		close(w.done)
		if w.fsw != nil {
			_ = w.fsw.Close()
		}
	})
}

// Drain blocks until every in-flight backup-preservation task has finished
// and returns the per-path failures. finalize calls this before touching the
// filesystem: no revert may read a backup that has not finished being written.
func (w *Watcher) Drain() map[string]error {
	w.backupWG.Wait()
	w.backupMu.Lock()
	defer w.backupMu.Unlock()
	out := make(map[string]error, len(w.backupErrs))
	for p, e := range w.backupErrs {
		out[p] = e
	}
	return out
}

// Enqueue schedules paths for classification without a filesystem event.
// A restarted watcher has no events for anything that moved while no watcher
// was running; enqueueing the previously pending paths reclassifies them
// against the current on-disk state.
func (w *Watcher) Enqueue(pathList []string) {
	w.aggMu.Lock()
	for _, p := range pathList {
		w.agg[p] = struct{}{}
	}
	w.aggMu.Unlock()
}

// addTree registers dir and every non-excluded directory under it. When queue
// is non-nil, regular files encountered are queued for classification; this
// covers files created inside a brand-new directory before its watch existed.
func (w *Watcher) addTree(dir string, queue map[string]struct{}) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if p != w.root && w.excluded(p) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(p); err != nil {
				w.log.Warn("cannot watch directory", zap.String("path", p), zap.Error(err))
			}
			return nil
		}
		if queue != nil && d.Type().IsRegular() && !w.excluded(p) {
			queue[p] = struct{}{}
		}
		return nil
	})
}

// readLoop moves raw fsnotify events into the debounce map. It never blocks
// on classification or disk I/O, so event delivery is not stalled.
func (w *Watcher) readLoop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRaw(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", zap.Error(err))
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleRaw(ev fsnotify.Event) {
	p := filepath.Clean(ev.Name)
	if !paths.Within(w.root, p) || w.excluded(p) {
		return
	}

	newFiles := make(map[string]struct{})
	if ev.Has(fsnotify.Create) {
		if info, err := os.Lstat(p); err == nil && info.IsDir() {
			// A new directory subtree: watch it and classify its contents.
			if err := w.addTree(p, newFiles); err != nil {
				w.log.Warn("cannot watch new directory", zap.String("path", p), zap.Error(err))
			}
		}
	}

	w.aggMu.Lock()
	w.agg[p] = struct{}{}
	for f := range newFiles {
		w.agg[f] = struct{}{}
	}
	w.aggMu.Unlock()
}

// flushLoop classifies the debounced path set on every tick and once more on
// shutdown, then closes the events channel.
func (w *Watcher) flushLoop() {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.flush(false)
		case <-w.done:
			w.flush(true)
			close(w.events)
			return
		}
	}
}

// flush classifies and delivers the accumulated batch. The final flush must
// deliver everything: done is already closed then, and the consumer drains
// the channel until it closes, so the unconditional send cannot block forever.
func (w *Watcher) flush(final bool) {
	w.aggMu.Lock()
	batch := w.agg
	w.agg = make(map[string]struct{})
	w.aggMu.Unlock()

	for p := range batch {
		ev, ok := w.classify(p)
		if !ok {
			delete(batch, p)
			continue
		}
		if final {
			w.events <- ev
			delete(batch, p)
			continue
		}
		select {
		case w.events <- ev:
			delete(batch, p)
		case <-w.done:
			// Close raced this flush; hand the unsent remainder (this path
			// included) back so the final flush delivers it.
			w.aggMu.Lock()
			for q := range batch {
				w.agg[q] = struct{}{}
			}
			w.aggMu.Unlock()
			return
		}
	}
}

// classify resolves a touched path to its net state relative to the baseline.
// The ok result is false when the path should be ignored outright (e.g. an
// unreadable file, or a directory).
func (w *Watcher) classify(p string) (session.ChangeEvent, bool) {
	rec, inBaseline := w.baseline[p]
	now := time.Now()

	info, err := os.Lstat(p)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if !inBaseline {
			// Created and removed again within the session: net nothing.
			return session.ChangeEvent{Path: p, Kind: session.KindNone, Timestamp: now}, true
		}
		return session.ChangeEvent{
			Path: p, Kind: session.KindDeleted, Timestamp: now,
			BackupRef: w.preserve(p, rec),
		}, true

	case err != nil:
		w.log.Warn("cannot stat changed path", zap.String("path", p), zap.Error(err))
		return session.ChangeEvent{}, false

	case info.IsDir():
		return session.ChangeEvent{}, false

	case !info.Mode().IsRegular():
		// A baseline file replaced by a symlink or special file counts as
		// deleted; anything else non-regular is not tracked.
		if !inBaseline {
			return session.ChangeEvent{}, false
		}
		return session.ChangeEvent{
			Path: p, Kind: session.KindDeleted, Timestamp: now,
			BackupRef: w.preserve(p, rec),
		}, true
	}

	hash, err := fingerprint.File(p)
	if err != nil {
		// Vanished or unreadable mid-read; leave it to a later event.
		w.log.Warn("cannot fingerprint changed file", zap.String("path", p), zap.Error(err))
		return session.ChangeEvent{}, false
	}

	if !inBaseline {
		return session.ChangeEvent{Path: p, Kind: session.KindNew, Timestamp: now}, true
	}
	if hash == rec.Hash {
		// Back to baseline content: cancels any pending change.
		return session.ChangeEvent{Path: p, Kind: session.KindNone, Timestamp: now}, true
	}
	return session.ChangeEvent{
		Path: p, Kind: session.KindModified, Timestamp: now,
		BackupRef: w.preserve(p, rec),
	}, true
}

// preserve returns the backup reference for a baseline record whose content
// is already stored, or schedules an asynchronous attempt to store it and
// returns empty. An empty reference means the change can only surface as a
// revert failure, never be silently reverted.
func (w *Watcher) preserve(p string, rec session.FileRecord) string {
	if w.store.Has(rec.Hash) {
		return rec.Hash
	}

	w.backupMu.Lock()
	already := w.ensured[p]
	w.ensured[p] = true
	w.backupMu.Unlock()
	if already {
		return ""
	}

	w.backupWG.Add(1)
	go func() {
		defer w.backupWG.Done()
		err := w.ensureBackup(p, rec)
		if err != nil {
			w.log.Warn("original content not preserved", zap.String("path", p), zap.Error(err))
		}
		w.backupMu.Lock()
		if err != nil {
			w.backupErrs[p] = err
		} else {
			delete(w.backupErrs, p)
		}
		w.backupMu.Unlock()
	}()
	return ""
}

// ensureBackup tries to capture the baseline content for rec after the fact.
// This only succeeds while the on-disk file still carries the baseline bytes
// (e.g. an mtime-only touch); once the content is gone it cannot be invented.
func (w *Watcher) ensureBackup(p string, rec session.FileRecord) error {
	if w.store.Has(rec.Hash) {
		return nil
	}
	if _, err := os.Lstat(p); err != nil {
		return fmt.Errorf("%w: original content of %s was never backed up", backup.ErrNotFound, p)
	}
	hash, err := w.store.PutFile(p)
	if err != nil {
		return err
	}
	if hash != rec.Hash {
		return fmt.Errorf("%w: baseline content of %s is no longer available", backup.ErrNotFound, p)
	}
	return nil
}
