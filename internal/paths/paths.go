// Package paths normalizes and validates file paths against the watched root.
// Every path stored or compared by the engine goes through Normalize first, so
// path handling elsewhere can assume clean, absolute, root-confined paths.
package paths

import (
	"path/filepath"
	"strings"
)

// Error is returned when a path cannot be confined to the watched root.
type Error struct {
	Path   string
	Reason string
}

func (e *Error) Error() string {
	return "invalid path " + e.Path + ": " + e.Reason
}

// Root resolves a watch root to its canonical absolute form, collapsing
// symlinks. The root must exist.
func Root(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", &Error{Path: root, Reason: err.Error()}
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", &Error{Path: root, Reason: err.Error()}
	}
	return filepath.Clean(resolved), nil
}

// Normalize resolves p against root and verifies the result stays inside it.
// Relative paths are taken as root-relative. Traversal segments that would
// escape the root are rejected. The file itself need not exist (deleted files
// are normalized too), so symlinks in p are not chased here; the root is
// assumed to already be canonical (see Root).
func Normalize(root, p string) (string, error) {
	if p == "" {
		return "", &Error{Path: p, Reason: "empty path"}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	if !Within(root, p) {
		return "", &Error{Path: p, Reason: "outside watched root " + root}
	}
	return p, nil
}

// Within reports whether p (already cleaned and absolute) is root itself or
// lives underneath it.
func Within(root, p string) bool {
	if p == root {
		return true
	}
	return strings.HasPrefix(p, root+string(filepath.Separator))
}

// Rel returns p relative to root in slash form, for exclusion matching.
// Falls back to the input when p is not under root.
func Rel(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(r)
}
