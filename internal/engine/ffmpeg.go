package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"toolbox/internal/config"
	"toolbox/internal/deps"
	"toolbox/internal/fileutil"
	"toolbox/internal/logging"
	"toolbox/internal/media/ffprobe"
	"toolbox/internal/staging"
)

var (
	commandContext = exec.CommandContext
	inspectMedia   = ffprobe.Inspect
)

const (
	lockFileName    = ".workspace.lock"
	diagnosticLines = 20
)

// FFmpegOptions configures the ffmpeg-backed engine.
type FFmpegOptions struct {
	FFmpegBinary  string
	FFprobeBinary string
	WorkspaceDir  string
	Threads       int
	StaleAge      time.Duration
	// Reserved names workspace entries owned by someone else (another
	// engine's nested workspace). They are never swept or listed.
	Reserved []string
	Logger   *slog.Logger
}

// FFmpegOptionsFromConfig derives engine options from the [engine] and
// [paths] config sections. ffprobe defaults to the sidecar next to ffmpeg.
func FFmpegOptionsFromConfig(cfg *config.Config, logger *slog.Logger) FFmpegOptions {
	return FFmpegOptions{
		FFmpegBinary:  cfg.Engine.FFmpegBinary,
		FFprobeBinary: deps.ResolveFFprobe(cfg.Engine.FFmpegBinary, cfg.Engine.FFprobeBinary),
		WorkspaceDir:  cfg.Paths.WorkspaceDir,
		Threads:       cfg.Conversion.Threads,
		StaleAge:      cfg.StaleEntryAge(),
		Reserved:      []string{config.CLIWorkspaceName},
		Logger:        logger,
	}
}

// FFmpeg implements Engine by running the ffmpeg binary against a private
// workspace directory that acts as the virtual filesystem. A file lock keeps
// two processes from sharing one workspace.
type FFmpeg struct {
	opts    FFmpegOptions
	logger  *slog.Logger
	lock    *flock.Flock
	loaded  atomic.Bool
	version string

	execMu   sync.Mutex
	progress atomic.Pointer[ProgressFunc]
	logFn    atomic.Pointer[LogFunc]
}

// NewFFmpeg constructs an unloaded engine.
func NewFFmpeg(opts FFmpegOptions) *FFmpeg {
	if strings.TrimSpace(opts.FFmpegBinary) == "" {
		opts.FFmpegBinary = "ffmpeg"
	}
	if strings.TrimSpace(opts.FFprobeBinary) == "" {
		opts.FFprobeBinary = "ffprobe"
	}
	return &FFmpeg{
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "ffmpeg"),
	}
}

// Version returns the ffmpeg version reported at load.
func (f *FFmpeg) Version() string { return f.version }

// WorkspaceDir returns the directory backing the virtual filesystem.
func (f *FFmpeg) WorkspaceDir() string { return f.opts.WorkspaceDir }

// Load verifies the ffmpeg binary runs, claims the workspace, and removes
// entries left behind by a previous process.
func (f *FFmpeg) Load(ctx context.Context) error {
	if f.loaded.Load() {
		return nil
	}
	dir := strings.TrimSpace(f.opts.WorkspaceDir)
	if dir == "" {
		return errors.New("workspace directory not configured")
	}

	binary, err := exec.LookPath(f.opts.FFmpegBinary)
	if err != nil {
		return fmt.Errorf("resolve ffmpeg binary %q: %w", f.opts.FFmpegBinary, err)
	}
	out, err := commandContext(ctx, binary, "-hide_banner", "-version").Output()
	if err != nil {
		return fmt.Errorf("probe ffmpeg version: %w", err)
	}
	version := parseVersion(string(out))
	if version == "" {
		return fmt.Errorf("probe ffmpeg version: unrecognized output %q", firstLine(string(out)))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	if f.lock == nil {
		f.lock = flock.New(filepath.Join(dir, lockFileName))
	}
	locked, err := f.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock workspace: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrWorkspaceBusy, dir)
	}

	staleAge := f.opts.StaleAge
	if staleAge <= 0 {
		staleAge = time.Hour
	}
	staging.CleanStale(ctx, dir, staleAge, f.logger, staging.Options{
		Purpose: "engine workspace",
		Keep:    func(name string) bool { return name == lockFileName || f.reserved(name) },
	})

	f.opts.FFmpegBinary = binary
	f.version = version
	f.loaded.Store(true)
	f.logger.Info("ffmpeg engine loaded",
		logging.String("binary", binary),
		logging.String("version", version),
		logging.String("workspace", dir),
	)
	return nil
}

// Close releases the workspace lock.
func (f *FFmpeg) Close() error {
	f.loaded.Store(false)
	if f.lock == nil {
		return nil
	}
	return f.lock.Unlock()
}

func (f *FFmpeg) path(name string) (string, error) {
	if !f.loaded.Load() {
		return "", ErrNotLoaded
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(f.opts.WorkspaceDir, name), nil
}

// WriteFile stores data under name in the workspace.
func (f *FFmpeg) WriteFile(_ context.Context, name string, data []byte) error {
	path, err := f.path(name)
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(path, data, 0o600)
}

// ReadFile returns the contents of name. Missing entries wrap fs.ErrNotExist.
func (f *FFmpeg) ReadFile(_ context.Context, name string) ([]byte, error) {
	path, err := f.path(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// DeleteFile removes name. Missing entries wrap fs.ErrNotExist.
func (f *FFmpeg) DeleteFile(_ context.Context, name string) error {
	path, err := f.path(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// List returns the names currently held in the workspace.
func (f *FFmpeg) List(_ context.Context) ([]string, error) {
	if !f.loaded.Load() {
		return nil, ErrNotLoaded
	}
	entries, err := os.ReadDir(f.opts.WorkspaceDir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") || f.reserved(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (f *FFmpeg) reserved(name string) bool {
	return slices.Contains(f.opts.Reserved, name)
}

// SetProgressHandler registers the shared progress callback.
func (f *FFmpeg) SetProgressHandler(fn ProgressFunc) {
	if fn == nil {
		f.progress.Store(nil)
		return
	}
	f.progress.Store(&fn)
}

// SetLogHandler registers the shared log callback.
func (f *FFmpeg) SetLogHandler(fn LogFunc) {
	if fn == nil {
		f.logFn.Store(nil)
		return
	}
	f.logFn.Store(&fn)
}

// Exec runs ffmpeg with argv. Arguments following "-i" and the final argument
// name workspace entries and are rewritten to paths. Calls are serialized.
func (f *FFmpeg) Exec(ctx context.Context, argv []string) error {
	if !f.loaded.Load() {
		return ErrNotLoaded
	}
	if len(argv) == 0 {
		return errors.New("exec: empty argument list")
	}
	f.execMu.Lock()
	defer f.execMu.Unlock()

	args, inputs, err := f.rewriteArgs(argv)
	if err != nil {
		return err
	}
	duration := f.probeDuration(ctx, inputs)

	full := []string{"-hide_banner", "-nostdin", "-y", "-progress", "pipe:1", "-nostats"}
	if f.opts.Threads > 0 {
		full = append(full, "-threads", strconv.Itoa(f.opts.Threads))
	}
	full = append(full, args...)

	cmd := commandContext(ctx, f.opts.FFmpegBinary, full...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	tail := newTailBuffer(diagnosticLines)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			tail.add(line)
			if fn := f.logFn.Load(); fn != nil {
				(*fn)(line)
			}
		}
	}()

	parser := &progressParser{duration: duration, emit: func(p Progress) {
		if fn := f.progress.Load(); fn != nil {
			(*fn)(p)
		}
	}}
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		parser.line(scanner.Text())
	}
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &ExecError{ExitCode: exitCode, Diagnostic: tail.String(), Err: err}
	}
	return nil
}

func (f *FFmpeg) rewriteArgs(argv []string) ([]string, []string, error) {
	args := append([]string(nil), argv...)
	var inputs []string
	for i := 0; i < len(args); i++ {
		isInput := i > 0 && args[i-1] == "-i"
		isOutput := i == len(args)-1
		if !isInput && !isOutput {
			continue
		}
		path, err := f.path(args[i])
		if err != nil {
			return nil, nil, err
		}
		if isInput {
			if _, statErr := os.Stat(path); statErr != nil {
				return nil, nil, fmt.Errorf("exec input %s: %w", args[i], fs.ErrNotExist)
			}
			inputs = append(inputs, path)
		}
		args[i] = path
	}
	if len(inputs) == 0 {
		return nil, nil, errors.New("exec: no -i input given")
	}
	return args, inputs, nil
}

func (f *FFmpeg) probeDuration(ctx context.Context, inputs []string) time.Duration {
	var longest time.Duration
	for _, input := range inputs {
		result, err := inspectMedia(ctx, f.opts.FFprobeBinary, input)
		if err != nil {
			f.logger.Debug("ffprobe failed; progress will not report percentages",
				logging.String("input", filepath.Base(input)),
				logging.Error(err),
			)
			continue
		}
		if d := result.Duration(); d > longest {
			longest = d
		}
	}
	return longest
}

func parseVersion(output string) string {
	fields := strings.Fields(firstLine(output))
	if len(fields) >= 3 && fields[0] == "ffmpeg" && fields[1] == "version" {
		return fields[2]
	}
	return ""
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}

var (
	_ Engine = (*FFmpeg)(nil)
	_ Lister = (*FFmpeg)(nil)
)
