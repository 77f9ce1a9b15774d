package artifacts

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"toolbox/internal/logging"
	"toolbox/internal/services"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "downloads"), ttl, logging.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestPutOpenRevoke(t *testing.T) {
	store := newTestStore(t, time.Hour)
	ctx := context.Background()

	entry, err := store.Put(ctx, "clip.mp3", "audio/mp3", []byte("mp3 bytes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if entry.Token == "" || entry.Size != 9 || entry.ExpiresAt.IsZero() {
		t.Fatalf("unexpected entry %+v", entry)
	}

	got, file, err := store.Open(ctx, entry.Token)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(file)
	_ = file.Close()
	if string(data) != "mp3 bytes" || got.Name != "clip.mp3" || got.MIMEType != "audio/mp3" {
		t.Fatalf("unexpected artifact %+v %q", got, data)
	}

	list, err := store.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %v, %v", list, err)
	}

	if err := store.Revoke(ctx, entry.Token); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := store.Stat(ctx, entry.Token); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found after revoke, got %v", err)
	}
	if err := store.Revoke(ctx, entry.Token); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found on second revoke, got %v", err)
	}
}

func TestPutSanitizesName(t *testing.T) {
	store := newTestStore(t, 0)
	entry, err := store.Put(context.Background(), "../../etc/passwd", "", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if entry.Name != "-..-etc-passwd" {
		t.Fatalf("name not sanitized: %q", entry.Name)
	}
	if entry.MIMEType != "application/octet-stream" {
		t.Fatalf("unexpected default mime %q", entry.MIMEType)
	}
	if !entry.ExpiresAt.IsZero() {
		t.Fatal("zero ttl should not set expiry")
	}
}

func TestExpiredEntriesAreNotFound(t *testing.T) {
	store := newTestStore(t, time.Minute)
	ctx := context.Background()
	entry, err := store.Put(ctx, "a.gif", "image/gif", []byte("gif"))
	if err != nil {
		t.Fatal(err)
	}
	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, _, err := store.Open(ctx, entry.Token); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected expired entry to be not found, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), entry.Token)); !os.IsNotExist(err) {
		t.Fatal("expected expired entry removed on lookup")
	}
}

func TestSweepRemovesOldEntries(t *testing.T) {
	store := newTestStore(t, time.Minute)
	ctx := context.Background()
	entry, err := store.Put(ctx, "a.wav", "audio/wav", []byte("wav"))
	if err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(store.Dir(), entry.Token), old, old); err != nil {
		t.Fatal(err)
	}
	result := store.Sweep(ctx)
	if len(result.Removed) != 1 {
		t.Fatalf("expected one removal, got %+v", result)
	}
}

func TestInvalidTokenIsNotFound(t *testing.T) {
	store := newTestStore(t, time.Hour)
	if _, err := store.Stat(context.Background(), "../../secret"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for malformed token, got %v", err)
	}
}
