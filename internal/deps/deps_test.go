package deps

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Unset", Command: "  ", Optional: true},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for unset command: %q", results[2].Detail)
	}

	missing := Missing(results)
	if len(missing) != 1 || missing[0].Name != "Missing" {
		t.Fatalf("expected only required missing dependency, got %#v", missing)
	}
}

func TestCheckBinariesExplicitPaths(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain")
	if err := os.WriteFile(plain, []byte("data"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	results := CheckBinaries([]Requirement{
		{Name: "Plain", Command: plain},
		{Name: "Gone", Command: filepath.Join(dir, "gone")},
	})
	if results[0].Available || results[0].Detail != plain+" is not executable" {
		t.Fatalf("unexpected status for non-executable file: %#v", results[0])
	}
	if results[1].Available || results[1].Detail != filepath.Join(dir, "gone")+" does not exist" {
		t.Fatalf("unexpected status for missing path: %#v", results[1])
	}
}

func TestResolveFFprobeSidecar(t *testing.T) {
	tmp := t.TempDir()
	script := []byte("#!/bin/sh\nexit 0\n")
	ffmpegPath := filepath.Join(tmp, executableName("ffmpeg"))
	ffprobePath := filepath.Join(tmp, executableName("ffprobe"))
	for _, p := range []string{ffmpegPath, ffprobePath} {
		if err := os.WriteFile(p, script, 0o755); err != nil {
			t.Fatalf("write stub: %v", err)
		}
	}

	if got := ResolveFFprobe(ffmpegPath, ""); got != ffprobePath {
		t.Fatalf("expected sidecar %q, got %q", ffprobePath, got)
	}
}

func TestResolveFFprobeExplicitWins(t *testing.T) {
	if got := ResolveFFprobe("ffmpeg", "/opt/bin/ffprobe"); got != "/opt/bin/ffprobe" {
		t.Fatalf("expected explicit binary, got %q", got)
	}
}

func TestResolveFFprobeFallback(t *testing.T) {
	tmp := t.TempDir()
	ffmpegPath := filepath.Join(tmp, executableName("ffmpeg"))
	if err := os.WriteFile(ffmpegPath, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	t.Setenv("PATH", "")
	if got := ResolveFFprobe(ffmpegPath, ""); got != "ffprobe" {
		t.Fatalf("expected PATH fallback, got %q", got)
	}
}

func TestEngineRequirements(t *testing.T) {
	reqs := EngineRequirements("", "/x/ffprobe")
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requirements, got %d", len(reqs))
	}
	if reqs[0].Command != "ffmpeg" || reqs[0].Optional {
		t.Fatalf("unexpected ffmpeg requirement %#v", reqs[0])
	}
	if reqs[1].Command != "/x/ffprobe" || !reqs[1].Optional {
		t.Fatalf("unexpected ffprobe requirement %#v", reqs[1])
	}
}
