package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWithin(t *testing.T) {
	root := filepath.Join(t.TempDir(), "case_data")
	if !within(root, root) {
		t.Error("root should be within itself")
	}
	if !within(root, filepath.Join(root, "matters", "m1", "notes.md")) {
		t.Error("descendant should be within root")
	}
	if within(root, root+"-sibling") {
		t.Error("sibling with shared prefix must not be within root")
	}
	if within(root, filepath.Dir(root)) {
		t.Error("parent must not be within root")
	}
	if within("", root) {
		t.Error("empty root must contain nothing")
	}
}

func TestRealPath_MissingTail(t *testing.T) {
	base := t.TempDir()
	want, err := filepath.EvalSymlinks(base)
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	got, err := realPath(filepath.Join(base, "a", "b.txt"))
	if err != nil {
		t.Fatalf("realPath: %v", err)
	}
	if got != filepath.Join(want, "a", "b.txt") {
		t.Fatalf("realPath=%q, want %q", got, filepath.Join(want, "a", "b.txt"))
	}
}

func TestResolve_SymlinkEscape(t *testing.T) {
	base := t.TempDir()
	outside := filepath.Join(base, "outside")
	if err := os.MkdirAll(outside, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	a, err := New(filepath.Join(base, "root"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(a.Root(), "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	_, err = a.Resolve("link/secret.txt")
	if !errors.Is(err, ErrViolation) {
		t.Fatalf("Resolve through escaping symlink: err=%v, want ErrViolation", err)
	}
}
