package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fakeyudi/rewind/internal/backup"
	"github.com/fakeyudi/rewind/internal/fingerprint"
	"github.com/fakeyudi/rewind/internal/session"
)

// finalize reverts every pending change not in preserveSet and returns the
// history entry. Paths are processed in lexicographic order for deterministic
// results; a single path's failure never aborts the rest of the batch. The
// caller must already have drained in-flight backup writes.
func (e *Engine) finalize(s *session.Session, pending map[string]session.ChangeEvent, preserveSet map[string]bool, backupErrs map[string]error) *session.HistoryEntry {
	order := make([]string, 0, len(pending))
	for p := range pending {
		order = append(order, p)
	}
	sort.Strings(order)

	preserved := make([]string, 0, len(preserveSet))
	for p := range preserveSet {
		preserved = append(preserved, p)
	}
	sort.Strings(preserved)

	entry := &session.HistoryEntry{
		SessionID: s.ID,
		Root:      s.Root,
		StartedAt: s.StartedAt,
		EndedAt:   time.Now(),
		Log:       s.Log,
		Preserved: preserved,
		OK:        true,
	}

	for _, p := range order {
		ev := pending[p]
		res := session.PathResult{Path: p, Kind: ev.Kind}

		switch {
		case preserveSet[p]:
			res.Outcome = session.OutcomePreserved

		case ev.Kind == session.KindNew:
			res.Outcome, res.Error = e.revertNew(p)

		default: // modified or deleted: restore the baseline content
			res.Outcome, res.Error = e.restoreBaseline(p, backupErrs[p])
		}

		if res.Outcome == session.OutcomeRevertFailed {
			entry.OK = false
			e.log.Warn("revert failed",
				zap.String("path", p),
				zap.String("kind", string(ev.Kind)),
				zap.String("error", res.Error))
		}
		entry.Results = append(entry.Results, res)
	}
	return entry
}

// revertNew removes a file created during the session. A file that is already
// gone matches the intended end state and counts as success.
func (e *Engine) revertNew(p string) (session.Outcome, string) {
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return session.OutcomeRevertFailed, fmt.Sprintf("delete: %v", err)
	}
	return session.OutcomeReverted, ""
}

// restoreBaseline rewrites p with its pre-session content from the backup
// store. On any failure the file is left untouched: a file is never deleted
// just because its revert failed.
func (e *Engine) restoreBaseline(p string, backupErr error) (session.Outcome, string) {
	rec, ok := e.sessBaseline(p)
	if !ok {
		return session.OutcomeRevertFailed, "no baseline record for path"
	}

	// Already back to baseline content (e.g. a second finalize run over the
	// same log): nothing to write.
	if h, err := fingerprint.File(p); err == nil && h == rec.Hash {
		return session.OutcomeReverted, ""
	}

	data, err := e.backups.Get(rec.Hash)
	if err != nil {
		if errors.Is(err, backup.ErrNotFound) {
			msg := "original content was never backed up"
			if backupErr != nil {
				msg = backupErr.Error()
			}
			return session.OutcomeRevertFailed, msg
		}
		return session.OutcomeRevertFailed, err.Error()
	}

	if err := writeRestored(p, data, rec); err != nil {
		return session.OutcomeRevertFailed, err.Error()
	}
	return session.OutcomeReverted, ""
}

func (e *Engine) sessBaseline(p string) (session.FileRecord, bool) {
	if e.sess == nil {
		return session.FileRecord{}, false
	}
	rec, ok := e.sess.Baseline[p]
	return rec, ok
}

// writeRestored recreates p with data via a temp file in the target
// directory, applying the baseline permissions best-effort before the rename.
func writeRestored(p string, data []byte, rec session.FileRecord) error {
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("restore %s: %w", p, err)
	}
	tmp, err := os.CreateTemp(dir, ".rewind-restore-*")
	if err != nil {
		return fmt.Errorf("restore %s: %w", p, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("restore %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("restore %s: %w", p, err)
	}
	if rec.Mode != 0 {
		_ = os.Chmod(tmpName, rec.Mode) // best-effort original permissions
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("restore %s: %w", p, err)
	}
	return nil
}
