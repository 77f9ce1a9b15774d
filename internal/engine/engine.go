package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Progress is one progress callback from the engine. Ratio is the completed
// fraction of the current Exec in [0,1] when known; Time is the output
// position reached so far.
type Progress struct {
	Ratio float64
	Time  time.Duration
}

// ProgressFunc receives engine progress callbacks.
type ProgressFunc func(Progress)

// LogFunc receives engine diagnostic log lines.
type LogFunc func(line string)

// Engine is the capability contract of the external media engine. Files live
// in the engine's private virtual filesystem and are addressed by flat names.
type Engine interface {
	Load(ctx context.Context) error
	WriteFile(ctx context.Context, name string, data []byte) error
	Exec(ctx context.Context, argv []string) error
	ReadFile(ctx context.Context, name string) ([]byte, error)
	DeleteFile(ctx context.Context, name string) error
	SetProgressHandler(fn ProgressFunc)
	SetLogHandler(fn LogFunc)
}

// Lister is implemented by engines that can enumerate their virtual filesystem.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

var (
	// ErrNotLoaded is returned by file and exec operations before Load succeeds.
	ErrNotLoaded = errors.New("engine not loaded")
	// ErrInvalidName rejects virtual filesystem names that are not flat file names.
	ErrInvalidName = errors.New("invalid virtual file name")
	// ErrWorkspaceBusy is returned by Load when another process holds the
	// workspace lock.
	ErrWorkspaceBusy = errors.New("workspace in use by another process")
)

// ExecError reports a failed engine command. Diagnostic carries the tail of
// the engine's own log output.
type ExecError struct {
	ExitCode   int
	Diagnostic string
	Err        error
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("engine exec failed (exit %d)", e.ExitCode)
	if diag := strings.TrimSpace(e.Diagnostic); diag != "" {
		msg += ": " + diag
	}
	return msg
}

func (e *ExecError) Unwrap() error { return e.Err }

// ValidateName checks that name is a flat virtual filesystem entry name.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case name != strings.TrimSpace(name):
		return fmt.Errorf("%w: %q has surrounding whitespace", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidName, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidName, name)
	}
	return nil
}
