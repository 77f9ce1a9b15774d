package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"toolbox/internal/config"
	"toolbox/internal/fileutil"
	"toolbox/internal/textutil"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// resolveInputFile expands arg and requires it to name a regular file.
func resolveInputFile(arg string) (string, os.FileInfo, error) {
	path, err := config.ExpandPath(strings.TrimSpace(arg))
	if err != nil {
		return "", nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", nil, fmt.Errorf("inspect input %q: %w", path, err)
	}
	if info.IsDir() {
		return "", nil, fmt.Errorf("input %q is a directory", path)
	}
	return path, info, nil
}

// resolveOutputPath picks where a result named name is written. An explicit
// output wins; otherwise the result lands next to the input, with a suffix
// when that would overwrite the input itself.
func resolveOutputPath(output, inputPath, name, suffix string) (string, error) {
	if output = strings.TrimSpace(output); output != "" {
		expanded, err := config.ExpandPath(output)
		if err != nil {
			return "", err
		}
		if info, err := os.Stat(expanded); err == nil && info.IsDir() {
			return filepath.Join(expanded, name), nil
		}
		return expanded, nil
	}
	target := filepath.Join(filepath.Dir(inputPath), name)
	if target == inputPath {
		target = filepath.Join(filepath.Dir(inputPath), textutil.Stem(name)+suffix+filepath.Ext(name))
	}
	return target, nil
}

// readInput reads the file at path, refusing anything over limit bytes.
func readInput(path string, size, limit int64) ([]byte, error) {
	if limit > 0 && size > limit {
		return nil, fmt.Errorf("%s is %s; the limit is %s", filepath.Base(path), formatBytes(size), formatBytes(limit))
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer file.Close()
	data, err := fileutil.ReadLimited(file, limit)
	if err != nil {
		return nil, fmt.Errorf("read input %s: %w", filepath.Base(path), err)
	}
	return data, nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func valueOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
