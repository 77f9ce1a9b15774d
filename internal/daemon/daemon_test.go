package daemon_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"toolbox/internal/config"
	"toolbox/internal/convert"
	"toolbox/internal/daemon"
	"toolbox/internal/history"
	"toolbox/internal/imaging"
	"toolbox/internal/logging"
	"toolbox/internal/services"
	"toolbox/internal/testsupport"
)

func newTestDaemon(t *testing.T, eng *testsupport.FakeEngine, opts ...testsupport.ConfigOption) (*daemon.Daemon, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	d, err := daemon.New(cfg, daemon.Options{Engine: eng, Version: "test"})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Close()
	})
	return d, cfg
}

func submitAndWait(t *testing.T, d *daemon.Daemon, name string, spec convert.CommandSpec) *convert.Job {
	t.Helper()
	job, err := d.Submit(context.Background(), convert.Input{Name: name, Data: testsupport.Bytes(4096)}, spec)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not settle")
	}
	return job
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDaemonStartStop(t *testing.T) {
	d, cfg := newTestDaemon(t, testsupport.NewFakeEngine())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if d.APIAddr() == "" {
		t.Fatal("expected api server to be listening")
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.Version != "test" || status.LockFilePath != cfg.LockPath() {
		t.Fatalf("unexpected status %+v", status)
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	other, err := daemon.New(cfg, daemon.Options{Engine: testsupport.NewFakeEngine()})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	defer other.Close()
	if err := other.Start(ctx); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock contention, got %v", err)
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
	if d.APIAddr() != "" {
		t.Fatal("expected api server to be closed")
	}
}

func TestDaemonSubmitAppliesDefaultsAndPublishesDownload(t *testing.T) {
	eng := testsupport.NewFakeEngine()
	d, _ := newTestDaemon(t, eng)
	ctx := context.Background()

	job := submitAndWait(t, d, "clip.wav", convert.CommandSpec{})
	snap := job.Snapshot()
	if snap.Stage != convert.StageDone || snap.Spec.Format != "mp3" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	argv := eng.ExecCalls()[0]
	if got := testsupport.ArgAfter(argv, "-q:a"); got != "2" {
		t.Fatalf("expected default quality 2, got %q", got)
	}

	dto, err := d.Job(ctx, job.ID())
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if dto.Download == nil {
		t.Fatal("expected a published download")
	}
	if dto.Download.Name != "clip.mp3" || dto.Download.MIMEType != "audio/mp3" {
		t.Fatalf("unexpected download %+v", dto.Download)
	}
	if !strings.HasSuffix(dto.Download.URL, dto.Download.Token) {
		t.Fatalf("download url %q does not carry token", dto.Download.URL)
	}

	entry, file, err := d.Download(ctx, dto.Download.Token)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, _ := io.ReadAll(file)
	_ = file.Close()
	if entry.Size != int64(len(data)) || !bytes.HasPrefix(data, []byte("converted:")) {
		t.Fatalf("unexpected download body (%d bytes, entry %d)", len(data), entry.Size)
	}
}

func TestDaemonNewResultRevokesPreviousDownload(t *testing.T) {
	d, _ := newTestDaemon(t, testsupport.NewFakeEngine())
	ctx := context.Background()

	first := submitAndWait(t, d, "one.wav", convert.CommandSpec{Format: "ogg"})
	firstDTO, err := d.Job(ctx, first.ID())
	if err != nil || firstDTO.Download == nil {
		t.Fatalf("first job: %+v %v", firstDTO, err)
	}

	second := submitAndWait(t, d, "two.wav", convert.CommandSpec{Format: "ogg"})
	secondDTO, err := d.Job(ctx, second.ID())
	if err != nil || secondDTO.Download == nil {
		t.Fatalf("second job: %+v %v", secondDTO, err)
	}

	if _, _, err := d.Download(ctx, firstDTO.Download.Token); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected first download revoked, got %v", err)
	}
	again, err := d.Job(ctx, first.ID())
	if err != nil {
		t.Fatalf("Job(first): %v", err)
	}
	if again.Download != nil {
		t.Fatalf("history still points at revoked download %+v", again.Download)
	}
}

func TestDaemonRevokeDownload(t *testing.T) {
	d, _ := newTestDaemon(t, testsupport.NewFakeEngine())
	ctx := context.Background()

	job := submitAndWait(t, d, "clip.wav", convert.CommandSpec{Format: "wav"})
	dto, _ := d.Job(ctx, job.ID())
	if dto.Download == nil {
		t.Fatal("expected download")
	}
	if err := d.RevokeDownload(ctx, dto.Download.Token); err != nil {
		t.Fatalf("RevokeDownload: %v", err)
	}
	if err := d.RevokeDownload(ctx, dto.Download.Token); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found on second revoke, got %v", err)
	}
	if dto, _ = d.Job(ctx, job.ID()); dto.Download != nil {
		t.Fatal("revoked download still listed")
	}
}

func TestDaemonCloseReleasesHeldDownload(t *testing.T) {
	eng := testsupport.NewFakeEngine()
	cfg := testsupport.NewConfig(t)
	d, err := daemon.New(cfg, daemon.Options{Engine: eng})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	job := submitAndWait(t, d, "clip.wav", convert.CommandSpec{Format: "ogg"})
	dto, err := d.Job(context.Background(), job.ID())
	if err != nil || dto.Download == nil {
		t.Fatalf("expected a download: %+v %v", dto, err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(filepath.Join(cfg.DownloadsDir(), dto.Download.Token)); !os.IsNotExist(err) {
		t.Fatalf("expected stored artifact removed, stat err %v", err)
	}
	store, err := history.OpenPath(cfg.HistoryDBPath(), logging.NewNop())
	if err != nil {
		t.Fatalf("history.OpenPath: %v", err)
	}
	defer store.Close()
	rec, err := store.Get(context.Background(), job.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.DownloadToken != "" {
		t.Fatalf("history still references token %q", rec.DownloadToken)
	}
}

func TestDaemonFailedJobHasNoDownload(t *testing.T) {
	eng := testsupport.NewFakeEngine()
	eng.Script = testsupport.FailExec("Invalid data found when processing input")
	d, _ := newTestDaemon(t, eng)

	job := submitAndWait(t, d, "clip.wav", convert.CommandSpec{})
	dto, err := d.Job(context.Background(), job.ID())
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if dto.Stage != string(convert.StageFailed) || dto.Error == nil || dto.Error.Kind != string(services.KindProcessing) {
		t.Fatalf("unexpected failed job %+v", dto)
	}
	if dto.Download != nil {
		t.Fatal("failed job must not publish a download")
	}
}

func TestDaemonJobsListsHistoryNewestFirst(t *testing.T) {
	d, _ := newTestDaemon(t, testsupport.NewFakeEngine())
	first := submitAndWait(t, d, "a.wav", convert.CommandSpec{})
	second := submitAndWait(t, d, "b.wav", convert.CommandSpec{})

	jobs, err := d.Jobs(context.Background(), 10)
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != second.ID() || jobs[1].ID != first.ID() {
		t.Fatalf("unexpected order %+v", jobs)
	}
	if jobs[1].Download != nil || jobs[0].Download == nil {
		t.Fatal("only the newest job should hold a download")
	}
}

func TestDaemonStartMarksInterruptedJobsFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store, err := history.OpenPath(cfg.HistoryDBPath(), logging.NewNop())
	if err != nil {
		t.Fatalf("history.OpenPath: %v", err)
	}
	now := time.Now()
	if err := store.Save(context.Background(), convert.Snapshot{
		ID:        "stuck",
		InputName: "clip.wav",
		InputSize: 10,
		Spec:      convert.CommandSpec{Format: "mp3"},
		Stage:     convert.StageExecuting,
		Percent:   40,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_ = store.Close()

	d, err := daemon.New(cfg, daemon.Options{Engine: testsupport.NewFakeEngine()})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	defer d.Close()
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	dto, err := d.Job(context.Background(), "stuck")
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if dto.Stage != string(convert.StageFailed) || dto.Error == nil {
		t.Fatalf("expected interrupted job failed, got %+v", dto)
	}
}

func TestDaemonPreloadWarmsEngine(t *testing.T) {
	eng := testsupport.NewFakeEngine()
	d, _ := newTestDaemon(t, eng, testsupport.WithConfig(func(cfg *config.Config) { cfg.Engine.Preload = true }))
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !d.Status(context.Background()).Engine.Ready {
		if time.Now().After(deadline) {
			t.Fatal("engine was not preloaded")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if eng.Loads() != 1 {
		t.Fatalf("expected one load, got %d", eng.Loads())
	}
}

func TestDaemonCompressImageAppliesConfigDefaults(t *testing.T) {
	d, _ := newTestDaemon(t, testsupport.NewFakeEngine(), testsupport.WithConfig(func(cfg *config.Config) { cfg.Images.MaxDimension = 40 }))

	result, err := d.CompressImage(context.Background(), imaging.Input{Name: "photo.png", Data: pngBytes(t, 80, 40)}, imaging.Options{})
	if err != nil {
		t.Fatalf("CompressImage: %v", err)
	}
	if result.Format != "jpeg" || result.Name != "photo.jpg" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Width != 40 || result.Height != 20 {
		t.Fatalf("expected resize to 40x20, got %dx%d", result.Width, result.Height)
	}

	if _, err := d.CompressImage(context.Background(), imaging.Input{Name: "x.png", Data: []byte("nope")}, imaging.Options{}); !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
