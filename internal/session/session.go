// Package session defines the session data model and its on-disk persistence:
// the baseline, the append-only change log, and the history of completed
// sessions.
package session

import (
	"io/fs"
	"time"
)

// State is the lifecycle phase of a session.
type State string

const (
	StateIdle       State = "idle"
	StateActive     State = "active"
	StateFinalizing State = "finalizing"
	StateClosed     State = "closed"
)

// FileRecord is one tracked file's state at a point in time. Records are
// never mutated; a change produces a new record.
type FileRecord struct {
	Path    string      `json:"path"`
	Hash    string      `json:"hash"`
	Size    int64       `json:"size"`
	Mode    fs.FileMode `json:"mode"`
	ModTime int64       `json:"mod_time"` // unix nanoseconds
}

// Baseline maps normalized absolute path → FileRecord, captured once at
// session start and never updated afterwards.
type Baseline map[string]FileRecord

// ChangeKind classifies a change relative to the baseline.
type ChangeKind string

const (
	KindNew      ChangeKind = "new"
	KindModified ChangeKind = "modified"
	KindDeleted  ChangeKind = "deleted"
	// KindNone marks a path that returned to its baseline state (or a new
	// file that vanished again); it cancels the pending entry for that path.
	KindNone ChangeKind = ""
)

// ChangeEvent records one observed change. BackupRef holds the baseline
// content hash once the original bytes are known to be preserved in the
// backup store; an empty BackupRef on a modified/deleted path means the
// change can only be surfaced as a revert failure, never silently reverted.
type ChangeEvent struct {
	Path      string     `json:"path"`
	Kind      ChangeKind `json:"kind"`
	Timestamp time.Time  `json:"timestamp"`
	BackupRef string     `json:"backup_ref,omitempty"`
}

// Session is one tracking session over a watch root.
type Session struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	Root      string    `json:"root"`
	StartedAt time.Time `json:"started_at"`
	Baseline  Baseline  `json:"baseline"`
	// Log is the append-only audit trail of every classified event, retained
	// in full in the history entry. The live coalesced view (latest event per
	// path) is derived from it.
	Log []ChangeEvent `json:"log"`
	// Untracked lists files the snapshot could not fingerprint; they are
	// logged once and left alone for the whole session.
	Untracked []string `json:"untracked,omitempty"`
}

// Pending returns the coalesced pending-change view of the log: the latest
// event per path, with net no-ops dropped.
func (s *Session) Pending() map[string]ChangeEvent {
	pending := make(map[string]ChangeEvent)
	for _, ev := range s.Log {
		if ev.Kind == KindNone {
			delete(pending, ev.Path)
			continue
		}
		pending[ev.Path] = ev
	}
	return pending
}

// Outcome is the per-path result of a finalize run.
type Outcome string

const (
	OutcomePreserved    Outcome = "preserved"
	OutcomeReverted     Outcome = "reverted"
	OutcomeRevertFailed Outcome = "revert_failed"
)

// PathResult is the finalize outcome for a single path.
type PathResult struct {
	Path    string     `json:"path"`
	Kind    ChangeKind `json:"kind"`
	Outcome Outcome    `json:"outcome"`
	Error   string     `json:"error,omitempty"`
}

// HistoryEntry is the immutable record of a completed session.
type HistoryEntry struct {
	SessionID string        `json:"session_id"`
	Root      string        `json:"root"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Log       []ChangeEvent `json:"log"`
	Preserved []string      `json:"preserved"`
	Results   []PathResult  `json:"results"`
	OK        bool          `json:"ok"`
}
