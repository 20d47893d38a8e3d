package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDiscoverArchivesBasic(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "melspects.npz"))
	mustWrite(t, filepath.Join(dir, "nested", "extra.NPZ"))
	mustWrite(t, filepath.Join(dir, "ignore.txt"))

	found, err := DiscoverArchives(dir)
	if err != nil {
		t.Fatalf("DiscoverArchives error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "melspects.npz"),
		filepath.Join(dir, "nested", "extra.NPZ"),
	}
	if len(found) != len(want) {
		t.Fatalf("expected %d archives, got %d", len(want), len(found))
	}
	for i, path := range want {
		if found[i] != path {
			t.Fatalf("archive[%d]=%s want %s", i, found[i], path)
		}
	}
}

func TestResolveArchive(t *testing.T) {
	dir := t.TempDir()
	if _, err := ResolveArchive(dir); err == nil {
		t.Fatal("expected error for directory without archives")
	}

	only := filepath.Join(dir, "melspects.npz")
	mustWrite(t, only)
	got, err := ResolveArchive(dir)
	if err != nil {
		t.Fatalf("ResolveArchive: %v", err)
	}
	if got != only {
		t.Fatalf("resolved %s want %s", got, only)
	}

	got, err = ResolveArchive(only)
	if err != nil || got != only {
		t.Fatalf("file path should resolve to itself, got %s, %v", got, err)
	}

	_, err = ResolveArchive(filepath.Join(dir, "missing.npz"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
	if trace := fmt.Sprintf("%+v", err); !strings.Contains(trace, "discover.go") {
		t.Fatalf("expected a stack trace, got:\n%s", trace)
	}

	mustWrite(t, filepath.Join(dir, "second.npz"))
	if _, err := ResolveArchive(dir); err == nil {
		t.Fatal("expected error for ambiguous directory")
	}
}

func mustWrite(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
