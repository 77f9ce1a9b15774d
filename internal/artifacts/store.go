package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"toolbox/internal/fileutil"
	"toolbox/internal/logging"
	"toolbox/internal/services"
	"toolbox/internal/staging"
	"toolbox/internal/textutil"
)

const (
	dataFileName = "data"
	metaFileName = "meta.json"
)

// Entry describes one stored artifact.
type Entry struct {
	Token     string    `json:"token"`
	Name      string    `json:"name"`
	MIMEType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry is past its expiry at now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Store keeps downloadable artifacts on disk, one directory per token.
type Store struct {
	dir    string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewStore prepares dir for use. A zero ttl keeps artifacts until revoked.
func NewStore(dir string, ttl time.Duration, logger *slog.Logger) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("artifact store directory not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact store: %w", err)
	}
	return &Store{
		dir:    dir,
		ttl:    ttl,
		logger: logging.NewComponentLogger(logger, "artifacts"),
		now:    time.Now,
	}, nil
}

// Dir returns the store root.
func (s *Store) Dir() string { return s.dir }

// Put stores data and returns its entry with a fresh token.
func (s *Store) Put(_ context.Context, name, mimeType string, data []byte) (Entry, error) {
	name = textutil.SanitizeFileName(name)
	if name == "" {
		name = "download"
	}
	if strings.TrimSpace(mimeType) == "" {
		mimeType = "application/octet-stream"
	}
	now := s.now().UTC()
	entry := Entry{
		Token:     uuid.NewString(),
		Name:      name,
		MIMEType:  mimeType,
		Size:      int64(len(data)),
		CreatedAt: now,
	}
	if s.ttl > 0 {
		entry.ExpiresAt = now.Add(s.ttl)
	}

	entryDir := filepath.Join(s.dir, entry.Token)
	if err := os.Mkdir(entryDir, 0o755); err != nil {
		return Entry{}, fmt.Errorf("create artifact directory: %w", err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(entryDir, dataFileName), data, 0o644); err != nil {
		_ = os.RemoveAll(entryDir)
		return Entry{}, fmt.Errorf("write artifact: %w", err)
	}
	meta, err := json.Marshal(entry)
	if err != nil {
		_ = os.RemoveAll(entryDir)
		return Entry{}, fmt.Errorf("encode artifact metadata: %w", err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(entryDir, metaFileName), meta, 0o644); err != nil {
		_ = os.RemoveAll(entryDir)
		return Entry{}, fmt.Errorf("write artifact metadata: %w", err)
	}

	s.logger.Debug("artifact stored",
		logging.String("token", entry.Token),
		logging.String("name", entry.Name),
		logging.Int64("size", entry.Size),
	)
	return entry, nil
}

// Stat returns the entry for token. Unknown and expired tokens wrap
// services.ErrNotFound.
func (s *Store) Stat(_ context.Context, token string) (Entry, error) {
	entryDir, err := s.entryDir(token)
	if err != nil {
		return Entry{}, err
	}
	raw, err := os.ReadFile(filepath.Join(entryDir, metaFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Entry{}, notFound(token)
		}
		return Entry{}, fmt.Errorf("read artifact metadata: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode artifact metadata: %w", err)
	}
	if entry.Expired(s.now()) {
		_ = os.RemoveAll(entryDir)
		return Entry{}, notFound(token)
	}
	return entry, nil
}

// Open returns the entry and an open handle to its bytes. The caller closes it.
func (s *Store) Open(ctx context.Context, token string) (Entry, *os.File, error) {
	entry, err := s.Stat(ctx, token)
	if err != nil {
		return Entry{}, nil, err
	}
	file, err := os.Open(filepath.Join(s.dir, entry.Token, dataFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Entry{}, nil, notFound(token)
		}
		return Entry{}, nil, fmt.Errorf("open artifact: %w", err)
	}
	return entry, file, nil
}

// Revoke deletes the artifact for token.
func (s *Store) Revoke(_ context.Context, token string) error {
	entryDir, err := s.entryDir(token)
	if err != nil {
		return err
	}
	if _, err := os.Stat(entryDir); errors.Is(err, os.ErrNotExist) {
		return notFound(token)
	}
	if err := os.RemoveAll(entryDir); err != nil {
		return fmt.Errorf("remove artifact: %w", err)
	}
	s.logger.Debug("artifact revoked", logging.String("token", token))
	return nil
}

// List returns live entries, newest first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	infos, err := staging.ListEntries(s.dir)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entry, err := s.Stat(ctx, info.Name)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	return entries, nil
}

// Sweep removes artifacts older than the store TTL.
func (s *Store) Sweep(ctx context.Context) staging.CleanStaleResult {
	if s.ttl <= 0 {
		return staging.CleanStaleResult{}
	}
	return staging.CleanStale(ctx, s.dir, s.ttl, s.logger, staging.Options{Purpose: "downloads"})
}

func (s *Store) entryDir(token string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(token))
	if err != nil {
		return "", notFound(token)
	}
	return filepath.Join(s.dir, parsed.String()), nil
}

func notFound(token string) error {
	return services.Wrap(services.ErrNotFound, "", "artifact lookup", fmt.Sprintf("download %q not found or expired", token), nil)
}
