package main

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"

	"toolbox/internal/api"
	"toolbox/internal/daemon"
	"toolbox/internal/testsupport"
)

func unusedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestStatusWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithStubbedBinaries())
	env.cfg.Paths.APIBind = unusedAddr(t)
	writeTestConfig(t, env.configPath, env.cfg)

	stdout, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, stdout, "== Environment ==")
	requireContains(t, stdout, "Data directory")
	requireContains(t, stdout, "FFmpeg")
	requireContains(t, stdout, "== Daemon ==")
	requireContains(t, stdout, "[WARN] not running")
}

func TestStatusReportsRunningDaemon(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithAPIToken("secret"))
	d, err := daemon.New(env.cfg, daemon.Options{Engine: testsupport.NewFakeEngine(), Version: "1.2.3"})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	env.cfg.Paths.APIBind = d.APIAddr()
	writeTestConfig(t, env.configPath, env.cfg)

	stdout, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, stdout, "[OK] Running")
	requireContains(t, stdout, "1.2.3")
	requireContains(t, stdout, "Current job:")
	requireContains(t, stdout, "idle")

	stdout, _, err = runCLI(t, []string{"status", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var report statusReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Daemon == nil || !report.Daemon.Running || report.Daemon.Version != "1.2.3" {
		t.Fatalf("unexpected daemon status %+v", report.Daemon)
	}
	if len(report.Checks) == 0 || report.ConfigPath != env.configPath {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestStatusRejectedToken(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithAPIToken("secret"))
	d, err := daemon.New(env.cfg, daemon.Options{Engine: testsupport.NewFakeEngine()})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	env.cfg.Paths.APIBind = d.APIAddr()
	env.cfg.Paths.APIToken = "wrong"
	writeTestConfig(t, env.configPath, env.cfg)

	stdout, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, stdout, "[ERROR]")
	requireContains(t, stdout, "401")
}

func TestDaemonLines(t *testing.T) {
	status := api.DaemonStatus{
		Running: true,
		PID:     42,
		Engine:  api.EngineStatus{State: "failed", Error: "ffmpeg not found"},
		CurrentJob: &api.Job{
			ID: "0123456789", InputName: "clip.wav", Format: "mp3", StageLabel: "Executing", Percent: 40,
		},
		History: api.HistorySummary{Total: 3, Succeeded: 1, Failed: 2},
		Dependencies: []api.DependencyStatus{
			{Name: "FFmpeg", Command: "ffmpeg", Available: true},
			{Name: "FFprobe", Optional: true},
		},
	}
	lines := strings.Join(daemonLines(status, false), "\n")
	requireContains(t, lines, "Running (pid 42)")
	requireContains(t, lines, "[ERROR] failed: ffmpeg not found")
	requireContains(t, lines, "01234567 clip.wav -> mp3 Executing 40%")
	requireContains(t, lines, "[WARN] 3 total, 1 succeeded, 2 failed, 0 running")
	requireContains(t, lines, "[OK] Ready (command: ffmpeg)")
	requireContains(t, lines, "[WARN] not available")
	requireContains(t, lines, "Missing:")
}
