package ffprobe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestResultHelpers(t *testing.T) {
	result := Result{
		Streams: []Stream{
			{CodecType: "video", Duration: "10.0"},
			{CodecType: "audio", Duration: "12.5"},
		},
		Format: Format{Duration: "123.45", Size: "1000"},
	}
	if !result.HasVideo() || !result.HasAudio() {
		t.Fatalf("expected audio and video streams")
	}
	if got := result.Duration(); got != 123450*time.Millisecond {
		t.Fatalf("unexpected duration: %v", got)
	}
	if result.SizeBytes() != 1000 {
		t.Fatalf("unexpected size: %d", result.SizeBytes())
	}
}

func TestDurationFallsBackToStreams(t *testing.T) {
	result := Result{
		Streams: []Stream{{CodecType: "audio", Duration: "12.5"}, {CodecType: "video", Duration: "bad"}},
		Format:  Format{Duration: "N/A", Size: "-1"},
	}
	if got := result.Duration(); got != 12500*time.Millisecond {
		t.Fatalf("unexpected duration: %v", got)
	}
	if result.SizeBytes() != 0 {
		t.Fatalf("expected size 0, got %d", result.SizeBytes())
	}
	if (Result{}).Duration() != 0 {
		t.Fatal("expected zero duration for empty result")
	}
}

func TestInspectParsesOutput(t *testing.T) {
	setHelperCommand(t, "success")
	result, err := Inspect(context.Background(), "", "/tmp/clip.mp4")
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if result.Duration() != 5*time.Second {
		t.Fatalf("unexpected duration %v", result.Duration())
	}
	if !result.HasAudio() {
		t.Fatal("expected audio stream")
	}
}

func TestInspectFailureIncludesStderr(t *testing.T) {
	setHelperCommand(t, "failure")
	_, err := Inspect(context.Background(), "ffprobe", "/tmp/clip.mp4")
	if err == nil {
		t.Fatal("expected error")
	}
	if want := "Invalid data found"; !strings.Contains(err.Error(), want) {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestInspectRequiresPath(t *testing.T) {
	if _, err := Inspect(context.Background(), "ffprobe", " "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func setHelperCommand(t *testing.T, mode string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", fmt.Sprintf("FFPROBE_HELPER_MODE=%s", mode))
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("FFPROBE_HELPER_MODE") {
	case "success":
		fmt.Println(`{"streams":[{"index":0,"codec_type":"audio","codec_name":"aac"}],"format":{"duration":"5.000000","size":"2048"}}`)
		os.Exit(0)
	case "failure":
		fmt.Fprintln(os.Stderr, "/tmp/clip.mp4: Invalid data found when processing input")
		os.Exit(1)
	default:
		os.Exit(0)
	}
}
