package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoSession is returned by Load when no session state exists on disk.
var ErrNoSession = errors.New("no active session")

// Store persists the live session state and the session history.
type Store interface {
	Save(s *Session) error
	Load() (*Session, error) // returns ErrNoSession if none exists
	Delete() error

	AppendHistory(e HistoryEntry) error
	History() ([]HistoryEntry, error) // newest last
}

// diskStore is the concrete Store rooted at a data directory.
type diskStore struct {
	statePath   string
	historyPath string
}

// NewStore returns a Store backed by dir, creating it if needed.
func NewStore(dir string) (Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &diskStore{
		statePath:   filepath.Join(dir, "state.json"),
		historyPath: filepath.Join(dir, "history.json"),
	}, nil
}

// DefaultDataDir returns the rewind-specific XDG data directory.
// Path: $XDG_DATA_HOME/rewind or ~/.local/share/rewind.
func DefaultDataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "rewind"), nil
}

// Save marshals s to JSON and writes it atomically via a temp file + rename.
func (d *diskStore) Save(s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to persist session state: %w", err)
	}
	if err := writeAtomic(d.statePath, data); err != nil {
		return fmt.Errorf("failed to persist session state: %w", err)
	}
	return nil
}

// Load reads and unmarshals the session state file.
// Returns ErrNoSession if the file does not exist.
func (d *diskStore) Load() (*Session, error) {
	data, err := os.ReadFile(d.statePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to read session state: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session state: %w", err)
	}
	return &s, nil
}

// Delete removes the session state file from disk.
func (d *diskStore) Delete() error {
	if err := os.Remove(d.statePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete session state: %w", err)
	}
	return nil
}

// AppendHistory adds e to the history file, newest last, atomically.
func (d *diskStore) AppendHistory(e HistoryEntry) error {
	entries, err := d.History()
	if err != nil {
		return err
	}
	entries = append(entries, e)
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to persist session history: %w", err)
	}
	if err := writeAtomic(d.historyPath, data); err != nil {
		return fmt.Errorf("failed to persist session history: %w", err)
	}
	return nil
}

// History returns all completed sessions, newest last. A missing history file
// is an empty history, not an error.
func (d *diskStore) History() ([]HistoryEntry, error) {
	data, err := os.ReadFile(d.historyPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session history: %w", err)
	}
	var entries []HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse session history: %w", err)
	}
	return entries, nil
}

// writeAtomic writes data to path via a temp file in the same directory so
// the final rename is atomic and a partial write is never observed.
func writeAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Clean up the temp file on any error path.
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
