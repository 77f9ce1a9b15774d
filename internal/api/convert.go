package api

import (
	"errors"
	"time"

	"toolbox/internal/artifacts"
	"toolbox/internal/convert"
	"toolbox/internal/history"
	"toolbox/internal/services"
)

// FromSnapshot converts a live job snapshot to its API representation.
func FromSnapshot(snap convert.Snapshot) Job {
	dto := Job{
		ID:         snap.ID,
		InputName:  snap.InputName,
		InputSize:  snap.InputSize,
		Format:     snap.Spec.Format,
		Stage:      string(snap.Stage),
		StageLabel: snap.Stage.Label(),
		Percent:    snap.Percent,
		Live:       !snap.Stage.Terminal(),
		OutputName: snap.OutputName,
		OutputSize: snap.OutputSize,
		MIMEType:   snap.MIMEType,
		CreatedAt:  FormatTime(snap.CreatedAt),
		UpdatedAt:  FormatTime(snap.UpdatedAt),
		DurationMS: snap.Duration().Milliseconds(),
	}
	if snap.FinishedAt != nil {
		dto.FinishedAt = FormatTime(*snap.FinishedAt)
	}
	if snap.Error != nil {
		dto.Error = &JobError{
			Kind:    string(snap.Error.Kind),
			Message: snap.Error.Message,
			Stage:   string(snap.Error.Stage),
		}
	}
	return dto
}

// FromRecord converts a history row to its API representation.
func FromRecord(rec history.Record) Job {
	dto := Job{
		ID:         rec.ID,
		InputName:  rec.InputName,
		InputSize:  rec.InputSize,
		Format:     rec.Format,
		Stage:      string(rec.Stage),
		StageLabel: rec.Stage.Label(),
		Percent:    rec.Percent,
		OutputName: rec.OutputName,
		OutputSize: rec.OutputSize,
		CreatedAt:  FormatTime(rec.CreatedAt),
		UpdatedAt:  FormatTime(rec.UpdatedAt),
		DurationMS: rec.Duration().Milliseconds(),
	}
	if target, ok := convert.LookupTarget(rec.Format); ok && rec.OutputName != "" {
		dto.MIMEType = target.MIMEType
	}
	if rec.FinishedAt != nil {
		dto.FinishedAt = FormatTime(*rec.FinishedAt)
	}
	if rec.ErrorKind != "" {
		dto.Error = &JobError{Kind: string(rec.ErrorKind), Message: rec.ErrorMessage}
	}
	return dto
}

// FromRecords converts history rows in order.
func FromRecords(records []history.Record) []Job {
	out := make([]Job, 0, len(records))
	for _, rec := range records {
		out = append(out, FromRecord(rec))
	}
	return out
}

// FromEntry describes a stored artifact. urlPrefix is joined with the token.
func FromEntry(entry artifacts.Entry, urlPrefix string) *Download {
	return &Download{
		Token:     entry.Token,
		URL:       urlPrefix + entry.Token,
		Name:      entry.Name,
		MIMEType:  entry.MIMEType,
		Size:      entry.Size,
		ExpiresAt: FormatTime(entry.ExpiresAt),
	}
}

// FromError builds the error payload for err.
func FromError(err error) ErrorResponse {
	payload := JobError{Kind: string(services.KindOf(err)), Message: err.Error()}
	var jobErr *convert.JobError
	if errors.As(err, &jobErr) {
		payload.Message = jobErr.Message
		payload.Stage = string(jobErr.Stage)
	}
	return ErrorResponse{Error: payload}
}

// FormatTime renders t for API payloads; the zero time renders empty.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
