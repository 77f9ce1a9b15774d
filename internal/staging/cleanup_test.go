package staging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"toolbox/internal/logging"
)

func TestCleanStaleInvalidPaths(t *testing.T) {
	for _, dir := range []string{"", "   ", "/nonexistent/path/12345"} {
		result := CleanStale(context.Background(), dir, time.Hour, logging.NewNop())
		if len(result.Removed) != 0 || len(result.Errors) != 0 {
			t.Errorf("expected empty result for path %q", dir)
		}
	}
}

func TestCleanStaleRemovesOldEntries(t *testing.T) {
	tmpDir := t.TempDir()
	old := time.Now().Add(-2 * time.Hour)

	oldDir := filepath.Join(tmpDir, "old-dir")
	if err := os.Mkdir(oldDir, 0o755); err != nil {
		t.Fatalf("create old dir: %v", err)
	}
	oldFile := filepath.Join(tmpDir, "job-1-input.mp4")
	if err := os.WriteFile(oldFile, []byte("x"), 0o644); err != nil {
		t.Fatalf("create old file: %v", err)
	}
	for _, p := range []string{oldDir, oldFile} {
		if err := os.Chtimes(p, old, old); err != nil {
			t.Fatalf("set old time: %v", err)
		}
	}
	recent := filepath.Join(tmpDir, "job-2-input.mp4")
	if err := os.WriteFile(recent, []byte("y"), 0o644); err != nil {
		t.Fatalf("create recent file: %v", err)
	}

	result := CleanStale(context.Background(), tmpDir, time.Hour, logging.NewNop())
	if len(result.Removed) != 2 {
		t.Fatalf("expected 2 removed, got %v", result.Removed)
	}
	for _, p := range []string{oldDir, oldFile} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed", p)
		}
	}
	if _, err := os.Stat(recent); err != nil {
		t.Fatalf("recent file should remain: %v", err)
	}
}

func TestCleanStaleKeepPredicate(t *testing.T) {
	tmpDir := t.TempDir()
	old := time.Now().Add(-2 * time.Hour)
	lock := filepath.Join(tmpDir, ".lock")
	if err := os.WriteFile(lock, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(lock, old, old); err != nil {
		t.Fatal(err)
	}

	result := CleanStale(context.Background(), tmpDir, time.Hour, logging.NewNop(), Options{
		Keep: func(name string) bool { return strings.HasPrefix(name, ".") },
	})
	if len(result.Removed) != 0 {
		t.Fatalf("expected lock kept, removed %v", result.Removed)
	}
}

func TestListEntries(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "a.bin"), []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(tmpDir, "dir")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "b.bin"), []byte("12345"), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := ListEntries(tmpDir)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	sizes := map[string]int64{}
	for _, e := range entries {
		sizes[e.Name] = e.Size
	}
	if sizes["a.bin"] != 3 || sizes["dir"] != 5 {
		t.Fatalf("unexpected sizes %v", sizes)
	}

	missing, err := ListEntries(filepath.Join(tmpDir, "missing"))
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing dir, got %v %v", missing, err)
	}
}
