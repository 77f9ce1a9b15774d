package convert

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Stage is a step of the conversion job lifecycle.
type Stage string

const (
	StageIdle          Stage = "idle"
	StageLoadingEngine Stage = "loading_engine"
	StageWriting       Stage = "writing_input"
	StageExecuting     Stage = "executing"
	StageReading       Stage = "reading_output"
	StageCleaningUp    Stage = "cleaning_up"
	StageDone          Stage = "done"
	StageFailed        Stage = "failed"
)

// validTransitions lists the stages reachable from each stage. Failed is
// reachable from every non-terminal stage; the runner routes failures after
// Writing through CleaningUp so the workspace is emptied first.
var validTransitions = map[Stage][]Stage{
	StageIdle:          {StageLoadingEngine, StageFailed},
	StageLoadingEngine: {StageWriting, StageFailed},
	StageWriting:       {StageExecuting, StageCleaningUp, StageFailed},
	StageExecuting:     {StageReading, StageCleaningUp, StageFailed},
	StageReading:       {StageCleaningUp, StageFailed},
	StageCleaningUp:    {StageDone, StageFailed},
}

// ValidateTransition reports whether a job may move from one stage to another.
func ValidateTransition(from, to Stage) error {
	if slices.Contains(validTransitions[from], to) {
		return nil
	}
	return fmt.Errorf("invalid stage transition %s -> %s", from, to)
}

// Terminal reports whether the stage ends the job.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// Active reports whether the stage holds the engine workspace.
func (s Stage) Active() bool {
	switch s {
	case StageWriting, StageExecuting, StageReading, StageCleaningUp:
		return true
	}
	return false
}

// Label returns a human-readable stage name ("Writing Input"). A Caser keeps
// state between calls, so each call builds its own.
func (s Stage) Label() string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(s), "_", " "))
}

// Stages returns every stage in lifecycle order.
func Stages() []Stage {
	return []Stage{
		StageIdle, StageLoadingEngine, StageWriting, StageExecuting,
		StageReading, StageCleaningUp, StageDone, StageFailed,
	}
}
