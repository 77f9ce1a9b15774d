package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"

	"toolbox/internal/config"
	"toolbox/internal/deps"
)

var diskUsage = disk.UsageWithContext

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies the filesystem holding path has at least minFree
// bytes available. A missing path is measured at its nearest existing parent.
func CheckFreeSpace(ctx context.Context, name, path string, minFree uint64) Result {
	free, err := FreeBytes(ctx, path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	detail := fmt.Sprintf("%d MiB free", free>>20)
	if free < minFree {
		return Result{Name: name, Detail: fmt.Sprintf("%s; need %d MiB", detail, minFree>>20)}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// FreeBytes reports the bytes available to unprivileged users on the
// filesystem holding path.
func FreeBytes(ctx context.Context, path string) (uint64, error) {
	dir, err := nearestExisting(path)
	if err != nil {
		return 0, err
	}
	usage, err := diskUsage(ctx, dir)
	if err != nil {
		return 0, fmt.Errorf("disk usage: %w", err)
	}
	return usage.Free, nil
}

func nearestExisting(path string) (string, error) {
	if path == "" {
		return "", errors.New("path not configured")
	}
	dir := filepath.Clean(path)
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing parent for %s", path)
		}
		dir = parent
	}
}

// CheckSystemDeps evaluates the engine binaries for the given config. Both
// the daemon status endpoint and the CLI status command use it.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return deps.CheckBinaries(deps.EngineRequirements(cfg.Engine.FFmpegBinary, cfg.Engine.FFprobeBinary))
}
