package exclude

import "testing"

func TestExcludedSegments(t *testing.T) {
	m := New()
	cases := []struct {
		rel  string
		want bool
	}{
		{"docs/readme.md", false},
		{"src/main.go", false},

		// Version control and caches anywhere in the tree.
		{".git/config", true},
		{"project/.git/HEAD", true},
		{"project/node_modules/left-pad/index.js", true},
		{"app/__pycache__/mod.cpython-311.pyc", true},
		{"lib/module.pyc", true},

		// Segment matching, not substring matching.
		{"cached-notes/todo.txt", false},
		{"my-build-notes/plan.md", false},
		{"build/output.bin", true},
		{"nested/dist/bundle.js", true},

		// Dot-prefixed segments.
		{".config/app/settings.json", true},
		{"work/.hidden/file", true},

		// Editor and OS metadata.
		{"notes/.DS_Store", true},
		{"src/main.go.swp", true},
		{"photos/Thumbs.db", true},
	}
	for _, c := range cases {
		if got := m.Excluded(c.rel); got != c.want {
			t.Errorf("Excluded(%q) = %v, want %v", c.rel, got, c.want)
		}
	}
}

func TestExcludedExtraPatterns(t *testing.T) {
	m := New("*.log", "scratch/**")
	if !m.Excluded("server/output.log") {
		t.Error("extra segment pattern should apply")
	}
	if !m.Excluded("scratch/tmp/file.txt") {
		t.Error("extra path pattern should apply")
	}
	if m.Excluded("logs-archive/index.txt") {
		t.Error("pattern must not match substrings")
	}
}

func TestExcludedRootItself(t *testing.T) {
	m := New()
	if m.Excluded(".") || m.Excluded("") {
		t.Error("the root itself is never excluded")
	}
}
