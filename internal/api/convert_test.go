package api

import (
	"errors"
	"testing"
	"time"

	"toolbox/internal/convert"
	"toolbox/internal/history"
	"toolbox/internal/services"
)

func TestFromSnapshotFailed(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	finished := created.Add(1500 * time.Millisecond)
	dto := FromSnapshot(convert.Snapshot{
		ID:         "j1",
		InputName:  "clip.mp4",
		Spec:       convert.CommandSpec{Format: "mp3"},
		Stage:      convert.StageFailed,
		Error:      &convert.JobError{Kind: services.KindProcessing, Stage: convert.StageExecuting, Message: "conversion failed"},
		CreatedAt:  created,
		FinishedAt: &finished,
	})
	if dto.Live || dto.Error == nil || dto.Error.Kind != "processing" || dto.Error.Stage != "executing" {
		t.Fatalf("unexpected dto %+v", dto)
	}
	if dto.CreatedAt != "2026-01-02T03:04:05.000Z" || dto.DurationMS != 1500 {
		t.Fatalf("unexpected timing %q %d", dto.CreatedAt, dto.DurationMS)
	}
	if dto.StageLabel != "Failed" {
		t.Fatalf("unexpected label %q", dto.StageLabel)
	}
}

func TestFromRecordDerivesMIME(t *testing.T) {
	dto := FromRecord(history.Record{ID: "r", Format: "mp3", Stage: convert.StageDone, OutputName: "clip.mp3"})
	if dto.MIMEType != "audio/mp3" || dto.Error != nil {
		t.Fatalf("unexpected dto %+v", dto)
	}
}

func TestFromErrorUsesJobErrorFields(t *testing.T) {
	jobErr := &convert.JobError{Kind: services.KindStaging, Stage: convert.StageWriting, Message: "could not stage input", Err: errors.New("disk full")}
	payload := FromError(jobErr)
	if payload.Error.Kind != "staging" || payload.Error.Message != "could not stage input" || payload.Error.Stage != "writing_input" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	plain := FromError(services.Wrap(services.ErrJobInProgress, "", "start job", "job a is still running", nil))
	if plain.Error.Kind != "job_in_progress" || plain.Error.Stage != "" {
		t.Fatalf("unexpected payload %+v", plain)
	}
}
