package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"

	"toolbox/internal/convert"
	"toolbox/internal/logging"
)

const (
	progressBucket     = 10
	progressRenderTick = 100 * time.Millisecond
)

// progressReporter presents a job's progress events to the user.
type progressReporter interface {
	update(convert.ProgressEvent)
	finish(err error)
}

func newProgressReporter(w io.Writer, label string, interactive bool) progressReporter {
	if interactive {
		return newBarReporter(w, label)
	}
	return &lineReporter{w: w, label: label, sampler: logging.NewProgressSampler(progressBucket)}
}

// lineReporter prints a line each time progress crosses a bucket boundary.
type lineReporter struct {
	mu      sync.Mutex
	w       io.Writer
	label   string
	sampler *logging.ProgressSampler
	last    int
}

func (r *lineReporter) update(ev convert.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = ev.Percent
	if r.sampler.ShouldLog(ev.Percent, "converting") {
		fmt.Fprintf(r.w, "%s: %3d%%\n", r.label, ev.Percent)
	}
}

func (r *lineReporter) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil && r.last < 100 {
		fmt.Fprintf(r.w, "%s: %3d%%\n", r.label, 100)
	}
}

// barReporter renders a go-pretty progress bar on a terminal.
type barReporter struct {
	pw      progress.Writer
	tracker *progress.Tracker
	done    chan struct{}
}

func newBarReporter(w io.Writer, label string) *barReporter {
	pw := progress.NewWriter()
	pw.SetOutputWriter(w)
	pw.SetAutoStop(false)
	pw.SetTrackerLength(30)
	pw.SetUpdateFrequency(progressRenderTick)
	pw.SetStyle(progress.StyleDefault)
	pw.Style().Visibility.ETA = true
	pw.Style().Visibility.Value = false

	tracker := &progress.Tracker{Message: label, Total: 100, Units: progress.UnitsDefault}
	pw.AppendTracker(tracker)

	r := &barReporter{pw: pw, tracker: tracker, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		pw.Render()
	}()
	return r
}

func (r *barReporter) update(ev convert.ProgressEvent) {
	r.tracker.SetValue(int64(ev.Percent))
}

func (r *barReporter) finish(err error) {
	if err != nil {
		r.tracker.MarkAsErrored()
	} else {
		r.tracker.SetValue(100)
		r.tracker.MarkAsDone()
	}
	// One more tick so the final state is drawn before stopping.
	time.Sleep(progressRenderTick)
	r.pw.Stop()
	<-r.done
}
