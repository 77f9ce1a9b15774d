package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"toolbox/internal/services"
)

type stubEngine struct {
	mu        sync.Mutex
	loads     atomic.Int64
	loadErr   error
	release   chan struct{}
	progress  ProgressFunc
	logFn     LogFunc
	loadCtxOK bool
}

func (s *stubEngine) Load(ctx context.Context) error {
	s.loads.Add(1)
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, hasDeadline := ctx.Deadline()
	s.loadCtxOK = hasDeadline
	return s.loadErr
}

func (s *stubEngine) WriteFile(context.Context, string, []byte) error { return nil }
func (s *stubEngine) Exec(context.Context, []string) error { return nil }
func (s *stubEngine) ReadFile(context.Context, string) ([]byte, error) { return nil, nil }
func (s *stubEngine) DeleteFile(context.Context, string) error { return nil }

func (s *stubEngine) SetProgressHandler(fn ProgressFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = fn
}

func (s *stubEngine) SetLogHandler(fn LogFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logFn = fn
}

func TestEnsureReadyConcurrentCallersShareOneLoad(t *testing.T) {
	eng := &stubEngine{release: make(chan struct{})}
	loader := NewLoader(eng)

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- loader.EnsureReady(context.Background())
		}()
	}

	deadline := time.After(2 * time.Second)
	for eng.loads.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("load never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if state, _ := loader.State(); state != StateLoading {
		t.Fatalf("expected loading state, got %s", state)
	}
	close(eng.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("EnsureReady returned error: %v", err)
		}
	}
	if got := eng.loads.Load(); got != 1 {
		t.Fatalf("expected exactly one load, got %d", got)
	}
	if !loader.Ready() {
		t.Fatal("expected loader ready")
	}
	if !eng.loadCtxOK {
		t.Fatal("expected load context to carry the load timeout")
	}

	if err := loader.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady after ready: %v", err)
	}
	if got := loader.Attempts(); got != 1 {
		t.Fatalf("expected no further attempts, got %d", got)
	}
}

func TestEnsureReadyFailureIsRetryable(t *testing.T) {
	eng := &stubEngine{loadErr: errors.New("resource fetch failed")}
	var hookErrs []error
	loader := NewLoader(eng, WithLoadHook(func(err error, _ time.Duration) { hookErrs = append(hookErrs, err) }))

	err := loader.EnsureReady(context.Background())
	if !errors.Is(err, services.ErrEngineLoad) {
		t.Fatalf("expected ErrEngineLoad, got %v", err)
	}
	if services.KindOf(err) != services.KindEngineLoad {
		t.Fatalf("unexpected kind %s", services.KindOf(err))
	}
	if loader.Ready() {
		t.Fatal("loader should not be ready after failure")
	}
	if state, lastErr := loader.State(); state != StateFailed || lastErr == nil {
		t.Fatalf("expected failed state with error, got %s %v", state, lastErr)
	}

	eng.mu.Lock()
	eng.loadErr = nil
	eng.mu.Unlock()
	if err := loader.EnsureReady(context.Background()); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if eng.loads.Load() != 2 {
		t.Fatalf("expected two load attempts, got %d", eng.loads.Load())
	}
	if len(hookErrs) != 2 || hookErrs[0] == nil || hookErrs[1] != nil {
		t.Fatalf("unexpected hook results %v", hookErrs)
	}
}

func TestEnsureReadyCallerCancelDoesNotAbortLoad(t *testing.T) {
	eng := &stubEngine{release: make(chan struct{})}
	loader := NewLoader(eng)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loader.EnsureReady(ctx) }()
	for eng.loads.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(eng.release)
	if err := loader.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if eng.loads.Load() != 1 {
		t.Fatalf("expected the original attempt to complete, got %d loads", eng.loads.Load())
	}
}

func TestEnsureReadyLoadTimeout(t *testing.T) {
	eng := &stubEngine{release: make(chan struct{})}
	defer close(eng.release)
	loader := NewLoader(eng, WithLoadTimeout(20*time.Millisecond))

	err := loader.EnsureReady(context.Background())
	if !errors.Is(err, services.ErrEngineLoad) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected engine load timeout, got %v", err)
	}
}

func TestRouteDeliversToCurrentListener(t *testing.T) {
	eng := &stubEngine{}
	loader := NewLoader(eng)
	if err := loader.EnsureReady(context.Background()); err != nil {
		t.Fatal(err)
	}

	var first, second []float64
	unrouteFirst := loader.Route(Listener{Progress: func(p Progress) { first = append(first, p.Ratio) }})
	eng.progress(Progress{Ratio: 0.1})
	unrouteSecond := loader.Route(Listener{Progress: func(p Progress) { second = append(second, p.Ratio) }})
	eng.progress(Progress{Ratio: 0.2})
	unrouteFirst()
	eng.progress(Progress{Ratio: 0.3})
	unrouteSecond()
	eng.progress(Progress{Ratio: 0.4})

	if len(first) != 1 || first[0] != 0.1 {
		t.Fatalf("unexpected first listener events %v", first)
	}
	if len(second) != 2 || second[1] != 0.3 {
		t.Fatalf("unexpected second listener events %v", second)
	}
}
