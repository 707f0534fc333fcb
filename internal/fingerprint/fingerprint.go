// Package fingerprint computes content digests and file fingerprints.
// Digests are BLAKE2b-256: rollback decisions hang off these values, so the
// digest must be collision-resistant, not merely fast.
package fingerprint

import (
	"encoding/hex"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// HashError reports a file that could not be fingerprinted. The walk and the
// watcher treat it as "untracked" and carry on; it never aborts a session.
type HashError struct {
	Path string
	Err  error
}

func (e *HashError) Error() string {
	return "cannot fingerprint " + e.Path + ": " + e.Err.Error()
}

func (e *HashError) Unwrap() error { return e.Err }

// Hasher returns a fresh BLAKE2b-256 hash.Hash for streaming use.
func Hasher() hash.Hash {
	h, _ := blake2b.New256(nil) // only errors with a key, we pass none
	return h
}

// Sum returns the hex digest of data.
func Sum(data []byte) string {
	d := blake2b.Sum256(data)
	return hex.EncodeToString(d[:])
}

// File computes the hex digest of the file at path by streaming its bytes.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &HashError{Path: path, Err: err}
	}
	defer f.Close()

	h, _ := blake2b.New256(nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", &HashError{Path: path, Err: err}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
