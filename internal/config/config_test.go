package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"toolbox/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("XDG_CACHE_HOME", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "toolbox")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	wantWorkspace := filepath.Join(tempHome, ".cache", "toolbox", "workspace")
	if cfg.Paths.WorkspaceDir != wantWorkspace {
		t.Fatalf("unexpected workspace dir: got %q want %q", cfg.Paths.WorkspaceDir, wantWorkspace)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7488" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Conversion.MaxInputMiB != 100 {
		t.Fatalf("expected 100 MiB input ceiling, got %d", cfg.Conversion.MaxInputMiB)
	}
	if cfg.MaxInputBytes() != 100<<20 {
		t.Fatalf("unexpected max input bytes: %d", cfg.MaxInputBytes())
	}
	if cfg.Conversion.DefaultFormat != "mp3" || cfg.Conversion.DefaultQuality != 2 {
		t.Fatalf("unexpected conversion defaults: %+v", cfg.Conversion)
	}
	if cfg.Images.DefaultQuality != 80 || cfg.Images.DefaultFormat != "jpeg" {
		t.Fatalf("unexpected image defaults: %+v", cfg.Images)
	}
	if !cfg.Server.CrossOriginIsolation {
		t.Fatal("expected cross-origin isolation enabled by default")
	}
	if cfg.Tracing.Enabled {
		t.Fatal("expected tracing disabled by default")
	}
	if cfg.Logging.Format != "console" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if got := cfg.DownloadsDir(); got != filepath.Join(wantData, "downloads") {
		t.Fatalf("unexpected downloads dir: %q", got)
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "toolbox.toml")

	type payload struct {
		Paths struct {
			DataDir      string `toml:"data_dir"`
			WorkspaceDir string `toml:"workspace_dir"`
		} `toml:"paths"`
		Conversion struct {
			MaxInputMiB   int    `toml:"max_input_mib"`
			DefaultFormat string `toml:"default_format"`
		} `toml:"conversion"`
		Logging struct {
			Format string `toml:"format"`
		} `toml:"logging"`
	}
	custom := payload{}
	custom.Paths.DataDir = filepath.Join(tempDir, "data")
	custom.Paths.WorkspaceDir = filepath.Join(tempDir, "ws")
	custom.Conversion.MaxInputMiB = 10
	custom.Conversion.DefaultFormat = ".OGG"
	custom.Logging.Format = "JSON"

	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected custom config to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.DataDir != custom.Paths.DataDir {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Conversion.MaxInputMiB != 10 {
		t.Fatalf("expected max input 10, got %d", cfg.Conversion.MaxInputMiB)
	}
	if cfg.Conversion.DefaultFormat != "ogg" {
		t.Fatalf("expected normalized format ogg, got %q", cfg.Conversion.DefaultFormat)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected json log format, got %q", cfg.Logging.Format)
	}
	if cfg.Images.MaxDimension != config.Default().Images.MaxDimension {
		t.Fatalf("expected untouched sections to keep defaults, got %d", cfg.Images.MaxDimension)
	}
}

func TestEnvVarOverridesConfigFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "toolbox.toml")
	contents := "[paths]\napi_token = \"file-token\"\n[engine]\nffmpeg_binary = \"/opt/ffmpeg\"\n"
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("TOOLBOX_API_TOKEN", "env-token")
	t.Setenv("TOOLBOX_FFMPEG", "/usr/local/bin/ffmpeg")
	t.Setenv("TOOLBOX_LOG_LEVEL", "DEBUG")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.APIToken != "env-token" {
		t.Errorf("expected API token from env, got %q", cfg.Paths.APIToken)
	}
	if cfg.Engine.FFmpegBinary != "/usr/local/bin/ffmpeg" {
		t.Errorf("expected ffmpeg from env, got %q", cfg.Engine.FFmpegBinary)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level from env, got %q", cfg.Logging.Level)
	}
}

func TestCreateSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(target); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	for _, section := range []string{"[paths]", "[engine]", "[conversion]", "[images]", "[server]", "[logging]"} {
		if !strings.Contains(string(data), section) {
			t.Fatalf("expected sample to contain %s", section)
		}
	}

	t.Setenv("HOME", t.TempDir())
	if _, _, _, err := config.Load(target); err != nil {
		t.Fatalf("sample config should load cleanly: %v", err)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"bad bind", func(c *config.Config) { c.Paths.APIBind = "nope" }, "paths.api_bind"},
		{"bad hash", func(c *config.Config) { c.Paths.APITokenHash = "plaintext" }, "paths.api_token_hash"},
		{"zero load timeout", func(c *config.Config) { c.Engine.LoadTimeoutSeconds = 0 }, "engine.load_timeout_seconds"},
		{"zero ceiling", func(c *config.Config) { c.Conversion.MaxInputMiB = 0 }, "conversion.max_input_mib"},
		{"unknown format", func(c *config.Config) { c.Conversion.DefaultFormat = "exe" }, "conversion.default_format"},
		{"image quality", func(c *config.Config) { c.Images.DefaultQuality = 101 }, "images.default_quality"},
		{"image format", func(c *config.Config) { c.Images.DefaultFormat = "bmp" }, "images.default_format"},
		{"ttl", func(c *config.Config) { c.Server.DownloadTTLMinutes = 0 }, "server.download_ttl_minutes"},
		{"burst", func(c *config.Config) { c.Server.RateLimitBurst = 0 }, "server.rate_limit_burst"},
		{"tracing endpoint", func(c *config.Config) {
			c.Tracing.Enabled = true
			c.Tracing.Endpoint = ""
		}, "tracing.endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}
