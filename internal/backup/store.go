// Package backup is a content-addressed blob store for original file bytes.
// Blobs are keyed by their BLAKE2b-256 digest, so two files with identical
// content share one blob and a blob is written at most once.
package backup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fakeyudi/rewind/internal/fingerprint"
)

// ErrNotFound is returned by Get when no blob exists for a hash. Rollback
// treats it as an explicit per-path failure; silently returning empty content
// would corrupt the restored file.
var ErrNotFound = errors.New("backup content not found")

// Store holds blobs in a single directory, one file per hash. The directory
// is excluded from tracking so the engine never watches its own backups.
type Store struct {
	dir string
}

// Open returns a Store rooted at dir, creating it if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's directory, for exclusion from tracking.
func (s *Store) Dir() string { return s.dir }

// Has reports whether a blob exists for hash.
func (s *Store) Has(hash string) bool {
	_, err := os.Stat(s.blobPath(hash))
	return err == nil
}

// Put stores data under hash. A blob that already exists is left untouched
// (content-addressed dedup). The blob is written to a temp file and renamed
// into place so a partial write is never observable.
func (s *Store) Put(hash string, data []byte) error {
	if hash == "" {
		return errors.New("backup: empty hash")
	}
	if s.Has(hash) {
		return nil
	}
	tmp, err := os.CreateTemp(s.dir, "blob-*.tmp")
	if err != nil {
		return fmt.Errorf("backup write: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("backup write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("backup write: %w", err)
	}
	if err := os.Rename(tmpName, s.blobPath(hash)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("backup write: %w", err)
	}
	return nil
}

// PutFile streams the file at path into the store, hashing as it copies, and
// returns the content hash. The blob lands under its own digest, so the
// caller can compare the returned hash against the expected baseline hash.
func (s *Store) PutFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("backup write: %w", err)
	}
	defer f.Close()

	tmp, err := os.CreateTemp(s.dir, "blob-*.tmp")
	if err != nil {
		return "", fmt.Errorf("backup write: %w", err)
	}
	tmpName := tmp.Name()

	h := fingerprint.Hasher()
	if _, err := io.Copy(io.MultiWriter(tmp, h), f); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("backup write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("backup write: %w", err)
	}

	hash := fmt.Sprintf("%x", h.Sum(nil))
	if s.Has(hash) {
		os.Remove(tmpName)
		return hash, nil
	}
	if err := os.Rename(tmpName, s.blobPath(hash)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("backup write: %w", err)
	}
	return hash, nil
}

// Get returns the bytes stored under hash, or ErrNotFound.
func (s *Store) Get(hash string) ([]byte, error) {
	data, err := os.ReadFile(s.blobPath(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("backup read: %w", err)
	}
	return data, nil
}

func (s *Store) blobPath(hash string) string {
	return filepath.Join(s.dir, hash)
}
