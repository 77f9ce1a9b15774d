package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	LogDir       string `toml:"log_dir"`
	WorkspaceDir string `toml:"workspace_dir"`
	APIBind      string `toml:"api_bind"`
	APIToken     string `toml:"api_token"`
	APITokenHash string `toml:"api_token_hash"`
}

// Engine contains configuration for the external media engine.
type Engine struct {
	FFmpegBinary       string `toml:"ffmpeg_binary"`
	FFprobeBinary      string `toml:"ffprobe_binary"`
	LoadTimeoutSeconds int    `toml:"load_timeout_seconds"`
	MinFreeMiB         int    `toml:"min_free_mib"`
	StaleEntryMinutes  int    `toml:"stale_entry_minutes"`
	Preload            bool   `toml:"preload"`
}

// Conversion contains limits and defaults for media conversion jobs.
type Conversion struct {
	MaxInputMiB    int    `toml:"max_input_mib"`
	DefaultFormat  string `toml:"default_format"`
	DefaultQuality int    `toml:"default_quality"`
	Threads        int    `toml:"threads"`
}

// Images contains limits and defaults for the image compression pipeline.
type Images struct {
	MaxInputMiB    int    `toml:"max_input_mib"`
	DefaultQuality int    `toml:"default_quality"`
	DefaultFormat  string `toml:"default_format"`
	MaxDimension   int    `toml:"max_dimension"`
}

// Server contains configuration for the daemon HTTP surface.
type Server struct {
	CrossOriginIsolation bool `toml:"cross_origin_isolation"`
	DownloadTTLMinutes   int  `toml:"download_ttl_minutes"`
	SweepIntervalSeconds int  `toml:"sweep_interval_seconds"`
	RateLimitPerMinute   int  `toml:"rate_limit_per_minute"`
	RateLimitBurst       int  `toml:"rate_limit_burst"`
}

// Tracing contains OpenTelemetry exporter settings.
type Tracing struct {
	Enabled     bool    `toml:"enabled"`
	Endpoint    string  `toml:"endpoint"`
	ServiceName string  `toml:"service_name"`
	SampleRatio float64 `toml:"sample_ratio"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for toolbox.
//
// Configuration sections by subsystem:
//   - Paths: data, log and engine workspace directories plus API bind/auth
//   - Engine: ffmpeg/ffprobe binaries, load timeout, free-space floor
//   - Conversion: input ceiling and default target format/quality
//   - Images: image compression limits and defaults
//   - Server: cross-origin isolation headers, download expiry, rate limits
//   - Tracing: OpenTelemetry OTLP exporter
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Engine     Engine     `toml:"engine"`
	Conversion Conversion `toml:"conversion"`
	Images     Images     `toml:"images"`
	Server     Server     `toml:"server"`
	Tracing    Tracing    `toml:"tracing"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/toolbox/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("toolbox.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon and CLI operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.WorkspaceDir, c.DownloadsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CLIWorkspaceName is the directory inside paths.workspace_dir that in-process
// CLI conversions use, so they do not contend with a running daemon.
const CLIWorkspaceName = "cli"

// CLIWorkspaceDir returns the engine workspace for CLI conversions.
func (c *Config) CLIWorkspaceDir() string {
	return filepath.Join(c.Paths.WorkspaceDir, CLIWorkspaceName)
}

// DownloadsDir is where produced artifacts wait to be fetched.
func (c *Config) DownloadsDir() string {
	return filepath.Join(c.Paths.DataDir, "downloads")
}

// HistoryDBPath returns the conversion history database location.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.Paths.DataDir, "history.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "toolboxd.lock")
}

// LogFilePath returns the log file written alongside console output.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.LogDir, "toolbox.log")
}

// MaxInputBytes returns the conversion input ceiling in bytes.
func (c *Config) MaxInputBytes() int64 {
	return int64(c.Conversion.MaxInputMiB) << 20
}

// MaxImageBytes returns the image compression input ceiling in bytes.
func (c *Config) MaxImageBytes() int64 {
	return int64(c.Images.MaxInputMiB) << 20
}

// LoadTimeout bounds a single engine initialization attempt.
func (c *Config) LoadTimeout() time.Duration {
	return time.Duration(c.Engine.LoadTimeoutSeconds) * time.Second
}

// StaleEntryAge is the age after which leftover workspace entries are swept.
func (c *Config) StaleEntryAge() time.Duration {
	return time.Duration(c.Engine.StaleEntryMinutes) * time.Minute
}

// DownloadTTL is how long a produced artifact stays downloadable.
func (c *Config) DownloadTTL() time.Duration {
	return time.Duration(c.Server.DownloadTTLMinutes) * time.Minute
}

// SweepInterval is the period of the download expiry sweep.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Server.SweepIntervalSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultWorkspaceDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "toolbox", "workspace")
	}
	return "~/.cache/toolbox/workspace"
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
