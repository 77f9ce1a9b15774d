package convert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"toolbox/internal/services"
)

// Input is the artifact handed to StartJob. Size is the declared byte count;
// zero means undeclared.
type Input struct {
	Name string
	Data []byte
	Size int64
}

// Artifact is a produced output.
type Artifact struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Size returns the artifact length in bytes.
func (a *Artifact) Size() int64 {
	if a == nil {
		return 0
	}
	return int64(len(a.Data))
}

// JobError is the classified failure recorded on a failed job.
type JobError struct {
	Kind    services.Kind `json:"kind"`
	Stage   Stage         `json:"stage"`
	Message string        `json:"message"`
	Err     error         `json:"-"`
}

func (e *JobError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *JobError) Unwrap() error { return e.Err }

// ErrorKind exposes the taxonomy kind to services.KindOf.
func (e *JobError) ErrorKind() services.Kind { return e.Kind }

// Snapshot is a point-in-time copy of a job's observable state.
type Snapshot struct {
	ID         string      `json:"id"`
	InputName  string      `json:"input_name"`
	InputSize  int64       `json:"input_size"`
	Spec       CommandSpec `json:"spec"`
	Stage      Stage       `json:"stage"`
	Percent    int         `json:"percent"`
	OutputName string      `json:"output_name,omitempty"`
	OutputSize int64       `json:"output_size,omitempty"`
	MIMEType   string      `json:"mime_type,omitempty"`
	Error      *JobError   `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// Duration returns the elapsed time of a finished job.
func (s Snapshot) Duration() time.Duration {
	if s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(s.CreatedAt)
}

// Job is one conversion attempt. Only the Runner mutates it.
type Job struct {
	id        string
	inputName string
	inputSize int64
	spec      CommandSpec
	createdAt time.Time
	progress  *ProgressChannel

	mu         sync.RWMutex
	stage      Stage
	percent    int
	output     *Artifact
	err        *JobError
	updatedAt  time.Time
	finishedAt time.Time

	done chan struct{}
}

func newJob(id string, input Input, spec CommandSpec, now time.Time) *Job {
	return &Job{
		id:        id,
		inputName: input.Name,
		inputSize: int64(len(input.Data)),
		spec:      spec,
		createdAt: now,
		updatedAt: now,
		stage:     StageIdle,
		progress:  newProgressChannel(),
		done:      make(chan struct{}),
	}
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// Progress returns the job's progress channel.
func (j *Job) Progress() *ProgressChannel { return j.progress }

// Done is closed when the job reaches Done or Failed.
func (j *Job) Done() <-chan struct{} { return j.done }

// Stage returns the current stage.
func (j *Job) Stage() Stage {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.stage
}

// Output returns the produced artifact; non-nil only once the job is Done.
func (j *Job) Output() *Artifact {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.output
}

// Err returns the classified failure; non-nil only once the job has Failed.
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.err == nil {
		return nil
	}
	return j.err
}

// Wait blocks until the job settles or ctx ends. A ctx expiry only stops the
// wait; the in-flight engine call keeps running and the runner stays busy
// until it settles.
func (j *Job) Wait(ctx context.Context) (*Artifact, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.err != nil {
		return nil, j.err
	}
	return j.output, nil
}

// Snapshot returns a copy of the job's state.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	snap := Snapshot{
		ID:        j.id,
		InputName: j.inputName,
		InputSize: j.inputSize,
		Spec:      j.spec,
		Stage:     j.stage,
		Percent:   j.percent,
		CreatedAt: j.createdAt,
		UpdatedAt: j.updatedAt,
	}
	if j.output != nil {
		snap.OutputName = j.output.Name
		snap.OutputSize = j.output.Size()
		snap.MIMEType = j.output.MIMEType
	}
	if j.err != nil {
		errCopy := *j.err
		snap.Error = &errCopy
	}
	if !j.finishedAt.IsZero() {
		finished := j.finishedAt
		snap.FinishedAt = &finished
	}
	return snap
}

func (j *Job) transition(to Stage, now time.Time) (Stage, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	from := j.stage
	if err := ValidateTransition(from, to); err != nil {
		return from, err
	}
	j.stage = to
	j.updatedAt = now
	return from, nil
}

// settle records the terminal outcome. Output is set iff the job is Done and
// err iff it Failed.
func (j *Job) settle(output *Artifact, jobErr *JobError, now time.Time) (Stage, Stage, error) {
	to := StageDone
	if jobErr != nil {
		to = StageFailed
		output = nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	from := j.stage
	if err := ValidateTransition(from, to); err != nil {
		return from, to, err
	}
	j.stage = to
	j.output = output
	j.err = jobErr
	if to == StageDone {
		j.percent = 100
	}
	j.updatedAt = now
	j.finishedAt = now
	return from, to, nil
}

func (j *Job) setPercent(p int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if p > j.percent {
		j.percent = p
	}
}

func validateInput(input Input, maxBytes int64) error {
	size := int64(len(input.Data))
	var problem string
	switch {
	case strings.TrimSpace(input.Name) == "":
		problem = "input name is required"
	case size == 0:
		problem = "input is empty"
	case input.Size != 0 && input.Size != size:
		problem = fmt.Sprintf("declared size %d does not match %d bytes received", input.Size, size)
	case maxBytes > 0 && size > maxBytes:
		problem = fmt.Sprintf("input is %d bytes; the limit is %d MiB", size, maxBytes/(1024*1024))
	}
	if problem == "" {
		return nil
	}
	return services.Wrap(services.ErrInvalidInput, string(StageIdle), "validate input", problem, nil)
}

// IsInvalidInput reports whether err rejects the caller's input.
func IsInvalidInput(err error) bool { return errors.Is(err, services.ErrInvalidInput) }

// IsJobInProgress reports whether err rejects a start because a job is active.
func IsJobInProgress(err error) bool { return errors.Is(err, services.ErrJobInProgress) }
