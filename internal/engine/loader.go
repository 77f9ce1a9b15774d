package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"toolbox/internal/logging"
	"toolbox/internal/services"
)

// LoadState describes where the loader is in its lifecycle.
type LoadState string

const (
	StateIdle    LoadState = "idle"
	StateLoading LoadState = "loading"
	StateReady   LoadState = "ready"
	StateFailed  LoadState = "failed"
)

const defaultLoadTimeout = 60 * time.Second

// LoadHook observes every completed load attempt.
type LoadHook func(err error, elapsed time.Duration)

// Listener receives the engine's shared progress and log callbacks while routed.
type Listener struct {
	Progress ProgressFunc
	Log      LogFunc
}

// Option configures a Loader.
type Option func(*Loader)

// WithLoadTimeout bounds a single load attempt.
func WithLoadTimeout(d time.Duration) Option {
	return func(l *Loader) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithLogger sets the loader logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLoadHook registers a callback invoked after each load attempt.
func WithLoadHook(hook LoadHook) Option {
	return func(l *Loader) {
		if hook != nil {
			l.hooks = append(l.hooks, hook)
		}
	}
}

// Loader guarantees the engine is initialized exactly once. Concurrent
// callers of EnsureReady share one in-flight attempt; a failed attempt leaves
// the loader retryable.
type Loader struct {
	engine  Engine
	timeout time.Duration
	logger  *slog.Logger
	hooks   []LoadHook

	group    singleflight.Group
	ready    atomic.Bool
	attempts atomic.Int64
	listener atomic.Pointer[Listener]

	mu      sync.Mutex
	state   LoadState
	lastErr error
}

// NewLoader wraps eng. The engine is not touched until EnsureReady is called.
func NewLoader(eng Engine, opts ...Option) *Loader {
	l := &Loader{
		engine:  eng,
		timeout: defaultLoadTimeout,
		logger:  logging.NewNop(),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logging.NewComponentLogger(l.logger, "engine")
	return l
}

// Engine returns the wrapped engine.
func (l *Loader) Engine() Engine { return l.engine }

// Ready reports whether a load attempt has succeeded.
func (l *Loader) Ready() bool { return l.ready.Load() }

// Attempts returns how many underlying load attempts have started.
func (l *Loader) Attempts() int64 { return l.attempts.Load() }

// State returns the current load state and the error of the last failed attempt.
func (l *Loader) State() (LoadState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, l.lastErr
}

// EnsureReady loads the engine if needed. A cancelled ctx stops this caller's
// wait but not the shared attempt, which runs under the load timeout.
func (l *Loader) EnsureReady(ctx context.Context) error {
	if l.ready.Load() {
		return nil
	}
	ch := l.group.DoChan("load", func() (any, error) {
		if l.ready.Load() {
			return nil, nil
		}
		return nil, l.load(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loader) load(ctx context.Context) error {
	l.attempts.Add(1)
	l.setState(StateLoading, nil)

	ctx, span := otel.Tracer("toolbox/engine").Start(ctx, "engine.load")
	defer span.End()
	loadCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	l.logger.Info("loading engine", logging.Duration("timeout", l.timeout))
	err := l.engine.Load(loadCtx)
	elapsed := time.Since(start)

	if err != nil {
		err = services.Wrap(services.ErrEngineLoad, "loading_engine", "load engine", "engine failed to initialize", err)
		l.setState(StateFailed, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "engine load failed")
		logging.ErrorWithContext(l.logger, "engine load failed", "engine_load_failed",
			logging.Error(err),
			logging.Duration("elapsed", elapsed),
			logging.String(logging.FieldErrorHint, "verify engine.ffmpeg_binary and the workspace directory"),
		)
		l.notify(err, elapsed)
		return err
	}

	l.engine.SetProgressHandler(l.dispatchProgress)
	l.engine.SetLogHandler(l.dispatchLog)
	l.ready.Store(true)
	l.setState(StateReady, nil)
	span.SetAttributes(attribute.Int64("engine.load_ms", elapsed.Milliseconds()))
	l.logger.Info("engine ready",
		logging.Duration("elapsed", elapsed),
		logging.String(logging.FieldEventType, "engine_ready"),
	)
	l.notify(nil, elapsed)
	return nil
}

func (l *Loader) setState(state LoadState, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = state
	l.lastErr = err
}

func (l *Loader) notify(err error, elapsed time.Duration) {
	for _, hook := range l.hooks {
		hook(err, elapsed)
	}
}

// Route directs the engine's shared callbacks to listener until the returned
// function is called. Only one listener is routed at a time; routing a new
// one replaces the previous.
func (l *Loader) Route(listener Listener) (unroute func()) {
	ptr := &listener
	l.listener.Store(ptr)
	return func() {
		l.listener.CompareAndSwap(ptr, nil)
	}
}

func (l *Loader) dispatchProgress(p Progress) {
	if lst := l.listener.Load(); lst != nil && lst.Progress != nil {
		lst.Progress(p)
	}
}

func (l *Loader) dispatchLog(line string) {
	if lst := l.listener.Load(); lst != nil && lst.Log != nil {
		lst.Log(line)
		return
	}
	l.logger.Debug("engine log", logging.String("line", line))
}
