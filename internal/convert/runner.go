package convert

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"toolbox/internal/engine"
	"toolbox/internal/logging"
	"toolbox/internal/services"
	"toolbox/internal/textutil"
)

const defaultMaxInputBytes = 100 * 1024 * 1024

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMaxInputBytes sets the input size ceiling.
func WithMaxInputBytes(n int64) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxInput = n
		}
	}
}

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithObserver registers an observer for every job.
func WithObserver(obs Observer) RunnerOption {
	return func(r *Runner) {
		if obs != nil {
			r.observers = append(r.observers, obs)
		}
	}
}

// WithIDGenerator overrides job ID generation.
func WithIDGenerator(fn func() string) RunnerOption {
	return func(r *Runner) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// Runner executes conversion jobs one at a time against a shared engine.
//
// The engine's callbacks and workspace are global, so a second StartJob while
// a job is active is rejected with services.ErrJobInProgress rather than
// queued. There is no mid-flight cancel: the engine call cannot be preempted,
// and a job keeps running after its caller stops waiting.
type Runner struct {
	loader    *engine.Loader
	maxInput  int64
	logger    *slog.Logger
	observers []Observer
	newID     func() string
	now       func() time.Time
	tracer    trace.Tracer

	busy    atomic.Bool
	mu      sync.RWMutex
	current *Job
	wg      sync.WaitGroup
}

// NewRunner constructs a runner over loader.
func NewRunner(loader *engine.Loader, opts ...RunnerOption) *Runner {
	r := &Runner{
		loader:   loader,
		maxInput: defaultMaxInputBytes,
		logger:   logging.NewNop(),
		newID:    uuid.NewString,
		now:      time.Now,
		tracer:   otel.Tracer("toolbox/convert"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "runner")
	return r
}

// MaxInputBytes returns the configured input ceiling.
func (r *Runner) MaxInputBytes() int64 { return r.maxInput }

// Busy reports whether a job is between StartJob and settling.
func (r *Runner) Busy() bool { return r.busy.Load() }

// Current returns the active job, or the most recent one once it settled.
func (r *Runner) Current() *Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Job returns the current job if its ID matches.
func (r *Runner) Job(id string) (*Job, bool) {
	job := r.Current()
	if job == nil || job.ID() != id {
		return nil, false
	}
	return job, true
}

// StartJob validates the request and launches the job asynchronously. Invalid
// input fails before any stage is entered. The job runs detached from ctx's
// cancellation but keeps its values.
func (r *Runner) StartJob(ctx context.Context, input Input, spec CommandSpec) (*Job, error) {
	if err := validateInput(input, r.maxInput); err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, services.Wrap(services.ErrInvalidInput, string(StageIdle), "validate command", err.Error(), nil)
	}
	if !r.busy.CompareAndSwap(false, true) {
		active := ""
		if job := r.Current(); job != nil {
			active = job.ID()
		}
		return nil, services.Wrap(services.ErrJobInProgress, "", "start job",
			fmt.Sprintf("job %s is still running; retry after it settles", active), nil)
	}

	job := newJob(r.newID(), input, spec, r.now())
	r.mu.Lock()
	r.current = job
	r.mu.Unlock()

	jobCtx := services.WithJobID(context.WithoutCancel(ctx), job.ID())
	r.wg.Add(1)
	go r.run(jobCtx, job, input.Data)
	return job, nil
}

// Run starts a job and waits for it.
func (r *Runner) Run(ctx context.Context, input Input, spec CommandSpec) (*Job, *Artifact, error) {
	job, err := r.StartJob(ctx, input, spec)
	if err != nil {
		return nil, nil, err
	}
	out, err := job.Wait(ctx)
	return job, out, err
}

// Wait blocks until every started job has settled.
func (r *Runner) Wait() { r.wg.Wait() }

type jobRun struct {
	r       *Runner
	job     *Job
	logger  *slog.Logger
	span    trace.Span
	sampler *logging.ProgressSampler
}

func (r *Runner) run(ctx context.Context, job *Job, data []byte) {
	defer r.wg.Done()

	ctx, span := r.tracer.Start(ctx, "convert.job", trace.WithAttributes(
		attribute.String("job.id", job.ID()),
		attribute.String("job.format", job.spec.Format),
		attribute.Int64("job.input_bytes", int64(len(data))),
	))
	jr := &jobRun{
		r:       r,
		job:     job,
		logger:  logging.WithContext(ctx, r.logger),
		span:    span,
		sampler: logging.NewProgressSampler(10),
	}

	snap := job.Snapshot()
	jr.logger.Info("conversion job started",
		logging.String("input", snap.InputName),
		logging.Int64("input_bytes", snap.InputSize),
		logging.String("format", snap.Spec.Format),
		logging.String(logging.FieldEventType, "job_started"),
	)
	for _, obs := range r.observers {
		obs.JobStarted(ctx, snap)
	}

	output, jobErr := jr.execute(ctx, data)
	jr.finish(ctx, output, jobErr)
}

func (jr *jobRun) execute(ctx context.Context, data []byte) (*Artifact, *JobError) {
	job := jr.job
	if err := jr.enter(ctx, StageLoadingEngine); err != nil {
		return nil, internalError(StageLoadingEngine, err)
	}
	if err := jr.r.loader.EnsureReady(ctx); err != nil {
		return nil, newJobError(services.KindEngineLoad, StageLoadingEngine, "media engine failed to load", err)
	}

	eng := jr.r.loader.Engine()
	unroute := jr.r.loader.Route(engine.Listener{
		Progress: func(p engine.Progress) { jr.progress(ratioToPercent(p.Ratio)) },
		Log:      func(line string) { jr.logger.Debug("engine output", logging.String("line", line)) },
	})
	defer unroute()

	target, _ := LookupTarget(job.spec.Format)
	prefix := "job-" + job.ID()
	inName := prefix + "-input" + inputExtension(job.inputName)
	outName := prefix + "-output." + target.Extension

	if err := jr.enter(ctx, StageWriting); err != nil {
		return nil, internalError(StageWriting, err)
	}
	output, jobErr := jr.stageAndConvert(ctx, eng, data, inName, outName, target)

	// The input may be partially written even when WriteFile failed, so
	// cleanup runs for every job that reached Writing.
	if err := jr.enter(ctx, StageCleaningUp); err != nil && jobErr == nil {
		jobErr = internalError(StageCleaningUp, err)
	}
	jr.cleanup(ctx, eng, inName, outName)
	if jobErr != nil {
		return nil, jobErr
	}
	return output, nil
}

func (jr *jobRun) stageAndConvert(ctx context.Context, eng engine.Engine, data []byte, inName, outName string, target Target) (*Artifact, *JobError) {
	job := jr.job
	if err := guard(func() error { return eng.WriteFile(ctx, inName, data) }); err != nil {
		return nil, newJobError(services.KindStaging, StageWriting, "could not stage input in the engine workspace", err)
	}

	if err := jr.enter(ctx, StageExecuting); err != nil {
		return nil, internalError(StageExecuting, err)
	}
	args, err := BuildArgs(job.spec, inName, outName)
	if err != nil {
		return nil, newJobError(services.KindInvalidInput, StageExecuting, err.Error(), err)
	}
	jr.progress(0)
	if err := guard(func() error { return eng.Exec(ctx, args) }); err != nil {
		return nil, newJobError(services.KindProcessing, StageExecuting, processingMessage(err), err)
	}

	if err := jr.enter(ctx, StageReading); err != nil {
		return nil, internalError(StageReading, err)
	}
	var out []byte
	if err := guard(func() error {
		var readErr error
		out, readErr = eng.ReadFile(ctx, outName)
		return readErr
	}); err != nil {
		return nil, newJobError(services.KindOutputMissing, StageReading, "engine reported success but produced no output", err)
	}
	if len(out) == 0 {
		return nil, newJobError(services.KindOutputMissing, StageReading, "engine produced an empty output", nil)
	}
	return &Artifact{
		Name:     OutputName(job.inputName, target.Format),
		MIMEType: target.MIMEType,
		Data:     out,
	}, nil
}

func (jr *jobRun) cleanup(ctx context.Context, eng engine.Engine, names ...string) {
	for _, name := range names {
		err := guard(func() error { return eng.DeleteFile(ctx, name) })
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			continue
		}
		logging.WarnWithContext(jr.logger, "workspace cleanup failed", "workspace_cleanup_failed",
			logging.String("entry", name),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check engine workspace permissions"),
			logging.String(logging.FieldImpact, "stale entry removed at next engine load"),
		)
	}
}

func (jr *jobRun) enter(ctx context.Context, stage Stage) error {
	from, err := jr.job.transition(stage, jr.r.now())
	if err != nil {
		return err
	}
	jr.span.AddEvent("stage", trace.WithAttributes(attribute.String("stage", string(stage))))
	jr.logger.Debug("stage changed",
		logging.String("from", string(from)),
		logging.String(logging.FieldStage, string(stage)),
	)
	snap := jr.job.Snapshot()
	stageCtx := services.WithStage(ctx, string(stage))
	for _, obs := range jr.r.observers {
		obs.StageChanged(stageCtx, snap, from)
	}
	return nil
}

func (jr *jobRun) progress(percent int) {
	delivered, changed := jr.job.progress.publish(percent, jr.r.now())
	if !changed {
		return
	}
	jr.job.setPercent(delivered)
	if jr.sampler.ShouldLog(delivered, string(jr.job.Stage())) {
		jr.logger.Info("conversion progress", logging.Int("percent", delivered))
	}
}

func (jr *jobRun) finish(ctx context.Context, output *Artifact, jobErr *JobError) {
	job := jr.job
	if jobErr == nil {
		jr.progress(100)
	}
	from, to, err := job.settle(output, jobErr, jr.r.now())
	if err != nil {
		// Only reachable through a runner bug; record it rather than hang.
		jobErr = internalError(from, err)
		job.mu.Lock()
		job.stage, job.output, job.err = StageFailed, nil, jobErr
		job.finishedAt = jr.r.now()
		job.mu.Unlock()
		to = StageFailed
	}
	job.progress.close()

	snap := job.Snapshot()
	if to == StageFailed {
		jr.span.RecordError(jobErr)
		jr.span.SetStatus(codes.Error, string(jobErr.Kind))
		logging.ErrorWithContext(jr.logger, "conversion job failed", "job_failed",
			logging.String(logging.FieldErrorKind, string(jobErr.Kind)),
			logging.String(logging.FieldStage, string(jobErr.Stage)),
			logging.String("reason", jobErr.Message),
			logging.Duration("elapsed", snap.Duration()),
			logging.String(logging.FieldErrorHint, hintFor(jobErr.Kind)),
		)
	} else {
		jr.span.SetAttributes(attribute.Int64("job.output_bytes", snap.OutputSize))
		jr.logger.Info("conversion job completed",
			logging.String("output", snap.OutputName),
			logging.Int64("output_bytes", snap.OutputSize),
			logging.Duration("elapsed", snap.Duration()),
			logging.String(logging.FieldEventType, "job_completed"),
		)
	}
	for _, obs := range jr.r.observers {
		obs.JobFinished(ctx, snap)
	}
	jr.span.End()

	jr.r.busy.Store(false)
	close(job.done)
}

func newJobError(kind services.Kind, stage Stage, message string, err error) *JobError {
	return &JobError{Kind: kind, Stage: stage, Message: message, Err: err}
}

func internalError(stage Stage, err error) *JobError {
	return newJobError(services.KindInternal, stage, "internal runner error", err)
}

// guard converts an engine panic into an error so no failure escapes the job.
func guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("engine panic: %v", rec)
		}
	}()
	return fn()
}

func processingMessage(err error) string {
	var execErr *engine.ExecError
	if errors.As(err, &execErr) {
		if diag := strings.TrimSpace(execErr.Diagnostic); diag != "" {
			lines := strings.Split(diag, "\n")
			return "conversion failed: " + strings.TrimSpace(lines[len(lines)-1])
		}
	}
	return "conversion failed: " + err.Error()
}

func hintFor(kind services.Kind) string {
	switch kind {
	case services.KindEngineLoad:
		return "run toolbox status to check the ffmpeg installation; the next job retries the load"
	case services.KindStaging:
		return "check free space and permissions of engine.workspace_dir"
	case services.KindProcessing:
		return "the input may be corrupt or use an unsupported codec"
	case services.KindOutputMissing:
		return "check the engine log lines for this job"
	default:
		return "check logs for details"
	}
}

func inputExtension(name string) string {
	ext := textutil.Ext(name)
	if len(ext) < 2 || len(ext) > 8 || engine.ValidateName("x"+ext) != nil {
		return ".bin"
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return ".bin"
		}
	}
	return ext
}
