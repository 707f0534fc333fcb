// Package exclude decides which paths the engine ignores entirely: version
// control, caches, dependency directories, editor metadata, and the engine's
// own storage. Rules match whole path segments, never substrings, so a
// directory literally named "cached-notes" is not swallowed by a cache rule.
package exclude

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// defaultRules are glob patterns applied to individual path segments.
// Patterns containing a slash are matched against the whole root-relative
// path instead (and everything beneath a matching directory).
var defaultRules = []string{
	// Version control
	".git", ".svn", ".hg",

	// Python
	"__pycache__", "*.pyc", "*.pyo", "*.pyd", ".pytest_cache", ".coverage", ".eggs",

	// Node.js
	"node_modules", "npm-debug.log", "yarn-debug.log", "yarn-error.log",

	// IDE and editor files
	".idea", ".vscode", ".vs", "*.swp", "*.swo", ".DS_Store", "Thumbs.db",

	// Build output
	"build", "dist", "*.egg-info",

	// Package manager caches
	".npm", ".yarn", ".pip", ".gradle", ".m2",

	// Browser and system caches
	"Cache", "CacheStorage", ".cache", ".Xauthority", ".X11-unix",
	".local/share/Trash", ".mozilla/firefox/*/cache2",
	".config/google-chrome/*/Cache", ".config/chromium/*/Cache",
}

// Matcher reports whether a path is excluded from tracking.
type Matcher struct {
	segmentRules []string // matched against each path segment
	pathRules    []string // contain '/', matched against the relative path
}

// New builds a Matcher from the default rule set plus any extra patterns
// (typically from config). Extra patterns follow the same convention:
// slash-free patterns match segments, the rest match root-relative paths.
func New(extra ...string) *Matcher {
	m := &Matcher{}
	for _, r := range append(append([]string{}, defaultRules...), extra...) {
		if r == "" {
			continue
		}
		if strings.Contains(r, "/") {
			m.pathRules = append(m.pathRules, strings.Trim(r, "/"))
		} else {
			m.segmentRules = append(m.segmentRules, r)
		}
	}
	return m
}

// Excluded reports whether the root-relative slash path rel is ignored.
// A path is excluded when any of its segments is dot-prefixed or matches a
// segment rule, or when the path (or a parent directory of it) matches a
// path rule.
func (m *Matcher) Excluded(rel string) bool {
	rel = strings.Trim(rel, "/")
	if rel == "" || rel == "." {
		return false
	}

	segments := strings.Split(rel, "/")
	for _, seg := range segments {
		if strings.HasPrefix(seg, ".") {
			return true
		}
		for _, rule := range m.segmentRules {
			if ok, _ := doublestar.Match(rule, seg); ok {
				return true
			}
		}
	}

	for _, rule := range m.pathRules {
		if ok, _ := doublestar.Match(rule, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(rule+"/**", rel); ok {
			return true
		}
	}
	return false
}
