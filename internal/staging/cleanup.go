package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"toolbox/internal/logging"
)

// CleanStaleResult contains the outcome of a stale entry cleanup operation.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs an entry path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// Options narrows which entries CleanStale considers.
type Options struct {
	// Keep reports entries that must survive regardless of age.
	Keep func(name string) bool
	// Purpose labels log lines (e.g. "engine workspace", "downloads").
	Purpose string
}

// CleanStale removes files and directories under dir whose modification time
// is older than maxAge. Missing directories are not an error.
func CleanStale(ctx context.Context, dir string, maxAge time.Duration, logger *slog.Logger, opts ...Options) CleanStaleResult {
	result := CleanStaleResult{}

	dir = strings.TrimSpace(dir)
	if dir == "" {
		return result
	}
	var opt Options
	if len(opts) > 0 {
		opt = opts[0]
	}
	purpose := opt.Purpose
	if purpose == "" {
		purpose = "staging"
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: dir, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if opt.Keep != nil && opt.Keep(entry.Name()) {
			continue
		}

		entryPath := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			if !os.IsNotExist(err) {
				result.Errors = append(result.Errors, CleanupError{Path: entryPath, Error: err})
			}
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(entryPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: entryPath, Error: err})
			logging.WarnWithContext(logger, "failed to remove stale entry", "stale_cleanup_failed",
				logging.String("path", entryPath),
				logging.String("purpose", purpose),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check directory permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, entryPath)
		if logger != nil {
			logger.Info("removed stale entry",
				logging.String("path", entryPath),
				logging.String("purpose", purpose),
				logging.Duration("age", time.Since(info.ModTime()).Round(time.Second)),
				logging.String(logging.FieldEventType, "stale_cleanup"),
			)
		}
	}

	return result
}

// EntryInfo contains metadata about a directory entry.
type EntryInfo struct {
	Name    string
	Path    string
	ModTime time.Time
	Size    int64
}

// ListEntries returns the entries in dir with their metadata, sorted by name.
func ListEntries(dir string) ([]EntryInfo, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]EntryInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		entryPath := filepath.Join(dir, entry.Name())
		size := info.Size()
		if entry.IsDir() {
			size, _ = dirSize(entryPath)
		}
		out = append(out, EntryInfo{
			Name:    entry.Name(),
			Path:    entryPath,
			ModTime: info.ModTime(),
			Size:    size,
		})
	}
	return out, nil
}

func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if info, infoErr := d.Info(); infoErr == nil {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
