package paths

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeRelativeResolvesAgainstRoot(t *testing.T) {
	root := t.TempDir()
	got, err := Normalize(root, "notes/a.txt")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := filepath.Join(root, "notes", "a.txt")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalizeRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	cases := []string{
		"../outside.txt",
		"a/../../outside.txt",
		filepath.Join(filepath.Dir(root), "sibling.txt"),
		"",
	}
	for _, c := range cases {
		if _, err := Normalize(root, c); err == nil {
			t.Errorf("Normalize(%q) succeeded, want error", c)
		} else {
			var pe *Error
			if !errors.As(err, &pe) {
				t.Errorf("Normalize(%q) returned %T, want *paths.Error", c, err)
			}
		}
	}
}

func TestNormalizeCleansInsideTraversal(t *testing.T) {
	root := t.TempDir()
	// Traversal that stays inside the root is fine after cleaning.
	got, err := Normalize(root, "a/b/../c.txt")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := filepath.Join(root, "a", "c.txt")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestWithin(t *testing.T) {
	root := t.TempDir()
	if !Within(root, root) {
		t.Error("root should be within itself")
	}
	if !Within(root, filepath.Join(root, "x")) {
		t.Error("child should be within root")
	}
	// A sibling whose name shares the root as a string prefix must not match.
	if Within(root, root+"-sibling") {
		t.Error("prefix-named sibling must not be within root")
	}
}

func TestRootResolvesSymlinks(t *testing.T) {
	real := t.TempDir()
	link := filepath.Join(t.TempDir(), "link")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlink unsupported: %v", err)
	}
	got, err := Root(link)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	want, err := Root(real)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
