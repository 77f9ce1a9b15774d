package testsupport

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"sort"
	"sync"

	"toolbox/internal/engine"
)

// ExecFunc scripts a FakeEngine command. It runs without the engine lock so
// it may call Emit, Log, and Put.
type ExecFunc func(ctx context.Context, f *FakeEngine, argv []string) error

// FakeEngine is an in-memory engine.Engine for runner and API tests.
type FakeEngine struct {
	LoadErr   error
	LoadGate  chan struct{}
	WriteErr  error
	ReadErr   error
	DeleteErr error
	Script    ExecFunc

	mu        sync.Mutex
	loaded    bool
	loads     int
	files     map[string][]byte
	writes    []string
	execCalls [][]string
	progress  engine.ProgressFunc
	logFn     engine.LogFunc
}

// NewFakeEngine returns an engine whose Exec copies the -i input to the
// output name and reports progress 25%, 50%, then done.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{files: make(map[string][]byte)}
}

// Load marks the engine loaded unless LoadErr is set. LoadGate, when set,
// blocks the load until it is closed.
func (f *FakeEngine) Load(ctx context.Context) error {
	f.mu.Lock()
	f.loads++
	gate := f.LoadGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LoadErr != nil {
		return f.LoadErr
	}
	f.loaded = true
	return nil
}

func (f *FakeEngine) WriteFile(_ context.Context, name string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkLocked(name); err != nil {
		return err
	}
	f.writes = append(f.writes, name)
	if f.WriteErr != nil {
		// A failed write may still leave a partial entry behind.
		f.files[name] = append([]byte(nil), data[:len(data)/2]...)
		return f.WriteErr
	}
	f.files[name] = append([]byte(nil), data...)
	return nil
}

func (f *FakeEngine) Exec(ctx context.Context, argv []string) error {
	f.mu.Lock()
	if !f.loaded {
		f.mu.Unlock()
		return engine.ErrNotLoaded
	}
	f.execCalls = append(f.execCalls, slices.Clone(argv))
	script := f.Script
	f.mu.Unlock()

	if script == nil {
		script = CopyExec
	}
	return script(ctx, f, argv)
}

func (f *FakeEngine) ReadFile(_ context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkLocked(name); err != nil {
		return nil, err
	}
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	data, ok := f.files[name]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", name, fs.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

func (f *FakeEngine) DeleteFile(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkLocked(name); err != nil {
		return err
	}
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	if _, ok := f.files[name]; !ok {
		return fmt.Errorf("delete %s: %w", name, fs.ErrNotExist)
	}
	delete(f.files, name)
	return nil
}

// List returns the names currently held, sorted.
func (f *FakeEngine) List(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.files))
	for name := range f.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *FakeEngine) SetProgressHandler(fn engine.ProgressFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = fn
}

func (f *FakeEngine) SetLogHandler(fn engine.LogFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logFn = fn
}

// Emit fires the registered progress handler.
func (f *FakeEngine) Emit(ratio float64) {
	f.mu.Lock()
	fn := f.progress
	f.mu.Unlock()
	if fn != nil {
		fn(engine.Progress{Ratio: ratio})
	}
}

// Log fires the registered log handler.
func (f *FakeEngine) Log(line string) {
	f.mu.Lock()
	fn := f.logFn
	f.mu.Unlock()
	if fn != nil {
		fn(line)
	}
}

// Put stores a file directly, bypassing WriteErr.
func (f *FakeEngine) Put(name string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[name] = append([]byte(nil), data...)
}

// Get returns a stored file.
func (f *FakeEngine) Get(name string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[name]
	return data, ok
}

// Loads returns the number of Load calls.
func (f *FakeEngine) Loads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

// Writes returns the names passed to WriteFile.
func (f *FakeEngine) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.writes)
}

// ExecCalls returns the argv of each Exec call.
func (f *FakeEngine) ExecCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.execCalls))
	for i, call := range f.execCalls {
		out[i] = slices.Clone(call)
	}
	return out
}

func (f *FakeEngine) checkLocked(name string) error {
	if !f.loaded {
		return engine.ErrNotLoaded
	}
	return engine.ValidateName(name)
}

// CopyExec is the default FakeEngine script.
func CopyExec(_ context.Context, f *FakeEngine, argv []string) error {
	input := ArgAfter(argv, "-i")
	data, ok := f.Get(input)
	if !ok {
		return &engine.ExecError{ExitCode: 1, Diagnostic: input + ": No such file or directory"}
	}
	f.Log("Input #0 from '" + input + "'")
	f.Emit(0.25)
	f.Emit(0.5)
	f.Put(argv[len(argv)-1], append([]byte("converted:"), data...))
	f.Emit(1)
	return nil
}

// FailExec returns a script that fails with the given diagnostic.
func FailExec(diagnostic string) ExecFunc {
	return func(_ context.Context, f *FakeEngine, _ []string) error {
		f.Log(diagnostic)
		return &engine.ExecError{ExitCode: 1, Diagnostic: diagnostic}
	}
}

// ArgAfter returns the argument following flag, or "".
func ArgAfter(argv []string, flag string) string {
	if idx := slices.Index(argv, flag); idx >= 0 && idx+1 < len(argv) {
		return argv[idx+1]
	}
	return ""
}

var (
	_ engine.Engine = (*FakeEngine)(nil)
	_ engine.Lister = (*FakeEngine)(nil)
)
