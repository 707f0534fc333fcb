// Package snapshot builds the immutable baseline of a watch root at session
// start. Every tracked file is fingerprinted and its original bytes are
// stashed in the backup store during the same read, so the pre-session
// content of any file is restorable later regardless of what happens to it
// while the session is active.
package snapshot

import (
	"io/fs"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/fakeyudi/rewind/internal/backup"
	"github.com/fakeyudi/rewind/internal/session"
)

// Build walks root depth-first and returns the baseline plus the list of
// files that could not be fingerprinted (logged as untracked, never fatal).
// Excluded directories are skipped without descending. Symlinks are never
// followed. A failure to walk the root itself aborts the build: an
// incomplete baseline would misclassify every unvisited file as new.
func Build(root string, excluded func(string) bool, store *backup.Store, log *zap.Logger) (session.Baseline, []string, error) {
	baseline := make(session.Baseline)
	var untracked []string
	var mu sync.Mutex // fastwalk runs the callback concurrently

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			mu.Lock()
			untracked = append(untracked, path)
			mu.Unlock()
			log.Warn("skipping unreadable entry", zap.String("path", path), zap.Error(err))
			return nil
		}

		if d.IsDir() {
			if path != root && excluded(path) {
				return filepath.SkipDir
			}
			return nil
		}
		// Regular files only: symlinks, sockets, and devices are not tracked.
		if !d.Type().IsRegular() {
			return nil
		}
		if excluded(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			mu.Lock()
			untracked = append(untracked, path)
			mu.Unlock()
			log.Warn("cannot stat file", zap.String("path", path), zap.Error(err))
			return nil
		}

		// One read serves both purposes: the digest for the baseline record
		// and the backed-up original bytes keyed by that digest.
		hash, err := store.PutFile(path)
		if err != nil {
			mu.Lock()
			untracked = append(untracked, path)
			mu.Unlock()
			log.Warn("cannot back up file, leaving untracked", zap.String("path", path), zap.Error(err))
			return nil
		}

		rec := session.FileRecord{
			Path:    path,
			Hash:    hash,
			Size:    info.Size(),
			Mode:    info.Mode().Perm(),
			ModTime: info.ModTime().UnixNano(),
		}
		mu.Lock()
		baseline[path] = rec
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	sort.Strings(untracked)
	return baseline, untracked, nil
}
