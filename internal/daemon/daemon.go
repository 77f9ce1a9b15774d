package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"toolbox/internal/api"
	"toolbox/internal/artifacts"
	"toolbox/internal/config"
	"toolbox/internal/convert"
	"toolbox/internal/engine"
	"toolbox/internal/history"
	"toolbox/internal/imaging"
	"toolbox/internal/logging"
	"toolbox/internal/metrics"
	"toolbox/internal/preflight"
	"toolbox/internal/services"
)

const (
	stopGrace       = 30 * time.Second
	downloadsPrefix = "/api/downloads/"
)

// Options supplies the collaborators New does not build from config.
type Options struct {
	// Engine overrides the ffmpeg engine built from config.
	Engine engine.Engine
	// Version is reported by Status.
	Version string
	Logger  *slog.Logger
}

// Daemon owns the engine loader, the job runner, and everything that outlives a
// single job: the held result, the history store, download expiry, metrics, and
// the HTTP API. A flock on the lock file keeps one instance per data directory.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	version string

	engine    engine.Engine
	loader    *engine.Loader
	runner    *convert.Runner
	results   *convert.ResultHolder
	downloads *artifacts.Store
	history   *history.Store
	metrics   *metrics.Metrics
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	store, err := history.Open(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	downloads, err := artifacts.NewStore(cfg.DownloadsDir(), cfg.DownloadTTL(), logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	eng := opts.Engine
	if eng == nil {
		eng = engine.NewFFmpeg(engine.FFmpegOptionsFromConfig(cfg, logger))
	}

	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		version:   opts.Version,
		engine:    eng,
		downloads: downloads,
		history:   store,
		metrics:   metrics.New(),
		lockPath:  cfg.LockPath(),
		lock:      flock.New(cfg.LockPath()),
	}
	d.loader = engine.NewLoader(eng,
		engine.WithLoadTimeout(cfg.LoadTimeout()),
		engine.WithLogger(logger),
		engine.WithLoadHook(d.metrics.ObserveEngineLoad),
	)
	d.results = convert.NewResultHolder(downloads, logger)
	// History must record the finished row before the result publisher
	// attaches the download token to it.
	d.runner = convert.NewRunner(d.loader,
		convert.WithMaxInputBytes(cfg.MaxInputBytes()),
		convert.WithRunnerLogger(logger),
		convert.WithObserver(store),
		convert.WithObserver(d.metrics),
		convert.WithObserver(convert.ObserverFuncs{OnFinish: d.publishResult}),
	)

	d.api, err = newAPIServer(cfg, d, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return d, nil
}

// Start acquires the daemon lock, recovers interrupted history rows, and
// launches the API server and download sweeper.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another toolbox daemon instance is already running")
	}

	if n, err := d.history.ResetInterrupted(ctx); err != nil {
		logging.WarnWithContext(d.logger, "failed to reset interrupted jobs", "history_reset_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "jobs from a previous run may still show as running"),
		)
	} else if n > 0 {
		d.logger.Info("marked interrupted jobs failed", logging.Int64("count", n))
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.api.start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start api server: %w", err)
	}

	d.wg.Add(1)
	go d.sweepLoop(d.ctx)

	if d.cfg.Engine.Preload {
		d.wg.Add(1)
		go d.preload(d.ctx)
	}

	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("toolbox daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api_bind", d.cfg.Paths.APIBind),
	)
	return nil
}

// Stop stops background work, waits for an in-flight job to settle, and
// releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.wg.Wait()

	settled := make(chan struct{})
	go func() {
		d.runner.Wait()
		close(settled)
	}()
	select {
	case <-settled:
	case <-time.After(stopGrace):
		logging.WarnWithContext(d.logger, "active job did not settle before shutdown", "job_abandoned",
			logging.Duration("grace", stopGrace),
			logging.String(logging.FieldImpact, "the job will be marked interrupted on next start"),
		)
	}

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("toolbox daemon stopped")
}

// Close releases resources held by the daemon, including the held download.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if held, ok := d.results.Current(); ok {
		ctx := context.Background()
		d.results.Release(ctx)
		if d.history != nil {
			errs = append(errs, d.history.ClearDownload(ctx, held.Token))
		}
	}
	if closer, ok := d.engine.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	if d.history != nil {
		errs = append(errs, d.history.Close())
	}
	return errors.Join(errs...)
}

// Handler returns the API handler, for tests and embedding.
func (d *Daemon) Handler() http.Handler { return d.api.handler }

// APIAddr returns the address the API server listens on, or "" when it is
// disabled or not started.
func (d *Daemon) APIAddr() string { return d.api.addr() }

// Submit applies configured defaults and starts a conversion job.
func (d *Daemon) Submit(ctx context.Context, input convert.Input, spec convert.CommandSpec) (*convert.Job, error) {
	spec = spec.WithDefaults(d.cfg.Conversion.DefaultFormat, d.cfg.Conversion.DefaultQuality)
	job, err := d.runner.StartJob(ctx, input, spec)
	if err != nil {
		return nil, err
	}
	logging.WithContext(ctx, d.logger).Info("job accepted",
		logging.String(logging.FieldJobID, job.ID()),
		logging.String("input", input.Name),
		logging.String("format", spec.Format),
	)
	return job, nil
}

// LiveJob returns the runner's current job if its ID matches.
func (d *Daemon) LiveJob(id string) (*convert.Job, bool) {
	return d.runner.Job(id)
}

// CurrentJob describes the active or most recently settled job.
func (d *Daemon) CurrentJob(ctx context.Context) (api.Job, bool) {
	job := d.runner.Current()
	if job == nil {
		return api.Job{}, false
	}
	return d.describe(ctx, api.FromSnapshot(job.Snapshot())), true
}

// Job describes id from the live runner or, failing that, history.
func (d *Daemon) Job(ctx context.Context, id string) (api.Job, error) {
	if job, ok := d.runner.Job(id); ok {
		return d.describe(ctx, api.FromSnapshot(job.Snapshot())), nil
	}
	rec, err := d.history.Get(ctx, id)
	if err != nil {
		return api.Job{}, err
	}
	return d.withDownload(ctx, api.FromRecord(*rec), rec.DownloadToken), nil
}

// Jobs lists recorded jobs, newest first.
func (d *Daemon) Jobs(ctx context.Context, limit int) ([]api.Job, error) {
	records, err := d.history.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	jobs := make([]api.Job, 0, len(records))
	for _, rec := range records {
		dto := api.FromRecord(rec)
		if job, ok := d.runner.Job(rec.ID); ok {
			dto = api.FromSnapshot(job.Snapshot())
		}
		jobs = append(jobs, d.withDownload(ctx, dto, rec.DownloadToken))
	}
	return jobs, nil
}

// Download opens the artifact for token. The caller closes the file.
func (d *Daemon) Download(ctx context.Context, token string) (artifacts.Entry, *os.File, error) {
	return d.downloads.Open(ctx, token)
}

// RevokeDownload deletes the artifact for token.
func (d *Daemon) RevokeDownload(ctx context.Context, token string) error {
	if err := d.results.Revoke(ctx, token); err != nil {
		return err
	}
	if err := d.history.ClearDownload(ctx, token); err != nil {
		d.logger.Warn("failed to clear revoked download from history", logging.String("token", token), logging.Error(err))
	}
	logging.WithContext(ctx, d.logger).Info("download revoked", logging.String("token", token))
	return nil
}

// CompressImage fills unset options from config and compresses input.
func (d *Daemon) CompressImage(ctx context.Context, input imaging.Input, opts imaging.Options) (imaging.Result, error) {
	opts = opts.WithDefaults(d.cfg.Images.DefaultQuality, d.cfg.Images.DefaultFormat, d.cfg.Images.MaxDimension)
	opts.MaxInputBytes = d.cfg.MaxImageBytes()

	result, err := imaging.Compress(ctx, input, opts)
	d.metrics.ObserveImage(err, result.OriginalSize-result.CompressedSize)
	if err != nil {
		return imaging.Result{}, err
	}
	logging.WithContext(ctx, d.logger).Info("image compressed",
		logging.String("input", input.Name),
		logging.String("format", result.Format),
		logging.Int64("original_size", result.OriginalSize),
		logging.Int64("compressed_size", result.CompressedSize),
	)
	return result, nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		Version:       d.version,
		StartedAt:     api.FormatTime(d.startedAt),
		HistoryDBPath: d.history.Path(),
		LockFilePath:  d.lockPath,
		Engine:        d.engineStatus(),
	}
	if job, ok := d.CurrentJob(ctx); ok {
		status.CurrentJob = &job
	}
	if summary, err := d.history.Summary(ctx); err != nil {
		d.logger.Warn("history summary unavailable", logging.Error(err))
	} else {
		status.History = api.HistorySummary(summary)
	}
	if entries, err := d.downloads.List(ctx); err == nil {
		status.Downloads = len(entries)
	}
	if memory, err := preflight.SampleMemory(ctx); err == nil {
		status.Host.MemoryTotal = memory.Total
		status.Host.MemoryAvailable = memory.Available
		status.Host.MemoryUsedPct = memory.UsedPercent
	}
	if free, err := preflight.FreeBytes(ctx, d.cfg.Paths.WorkspaceDir); err == nil {
		status.Host.WorkspaceFree = free
	}
	for _, dep := range preflight.CheckSystemDeps(d.cfg) {
		status.Dependencies = append(status.Dependencies, api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return status
}

func (d *Daemon) engineStatus() api.EngineStatus {
	state, err := d.loader.State()
	status := api.EngineStatus{
		State:    string(state),
		Ready:    d.loader.Ready(),
		Attempts: int(d.loader.Attempts()),
	}
	if err != nil {
		status.Error = err.Error()
	}
	if versioned, ok := d.engine.(interface{ Version() string }); ok {
		status.Version = versioned.Version()
	}
	return status
}

func (d *Daemon) describe(ctx context.Context, dto api.Job) api.Job {
	if dto.Stage != string(convert.StageDone) {
		return dto
	}
	rec, err := d.history.Get(ctx, dto.ID)
	if err != nil {
		return dto
	}
	return d.withDownload(ctx, dto, rec.DownloadToken)
}

func (d *Daemon) withDownload(ctx context.Context, dto api.Job, token string) api.Job {
	if token == "" {
		return dto
	}
	entry, err := d.downloads.Stat(ctx, token)
	if err != nil {
		return dto
	}
	dto.Download = api.FromEntry(entry, downloadsPrefix)
	return dto
}

// publishResult stores a successful job's output as the held download and
// points its history row at the new token.
func (d *Daemon) publishResult(ctx context.Context, snap convert.Snapshot) {
	if snap.Stage != convert.StageDone {
		return
	}
	job, ok := d.runner.Job(snap.ID)
	if !ok {
		return
	}
	logger := logging.WithContext(ctx, d.logger)

	previous, hadPrevious := d.results.Current()
	entry, err := d.results.Attach(ctx, job.Output())
	if err != nil {
		logging.ErrorWithContext(logger, "failed to store job output", "result_store_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the converted file cannot be downloaded"),
		)
		return
	}
	if hadPrevious {
		if err := d.history.ClearDownload(ctx, previous.Token); err != nil {
			logger.Warn("failed to clear previous download from history", logging.Error(err))
		}
	}
	if err := d.history.SetDownload(ctx, snap.ID, entry.Token); err != nil {
		logger.Warn("failed to record download token", logging.Error(err))
	}
	logger.Info("download published",
		logging.String("token", entry.Token),
		logging.String("name", entry.Name),
		logging.Int64("size", entry.Size),
	)
}

func (d *Daemon) sweepLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.SweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

func (d *Daemon) sweep(ctx context.Context) {
	result := d.downloads.Sweep(ctx)
	for _, path := range result.Removed {
		if err := d.history.ClearDownload(ctx, filepath.Base(path)); err != nil {
			d.logger.Warn("failed to clear expired download from history", logging.String("path", path), logging.Error(err))
		}
	}
	for _, failure := range result.Errors {
		logging.WarnWithContext(d.logger, "failed to remove expired download", "download_sweep_failed",
			logging.String("path", failure.Path),
			logging.Error(failure.Error),
			logging.String(logging.FieldImpact, "disk space is held until the next sweep"),
		)
	}
	d.metrics.ObserveSweep(len(result.Removed))
	if len(result.Removed) > 0 {
		d.logger.Info("expired downloads removed", logging.Int("count", len(result.Removed)))
	}
}

func (d *Daemon) preload(ctx context.Context) {
	defer d.wg.Done()
	if err := d.loader.EnsureReady(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logging.WarnWithContext(d.logger, "engine preload failed", "engine_preload_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, string(services.KindOf(err))),
			logging.String(logging.FieldImpact, "the next job retries the load"),
		)
		return
	}
	d.logger.Info("engine preloaded")
}
