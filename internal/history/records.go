package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"toolbox/internal/convert"
	"toolbox/internal/logging"
	"toolbox/internal/services"
)

// Record is one persisted job.
type Record struct {
	ID            string              `json:"id"`
	InputName     string              `json:"input_name"`
	InputSize     int64               `json:"input_size"`
	Format        string              `json:"format"`
	Spec          convert.CommandSpec `json:"spec"`
	Stage         convert.Stage       `json:"stage"`
	Percent       int                 `json:"percent"`
	ErrorKind     services.Kind       `json:"error_kind,omitempty"`
	ErrorMessage  string              `json:"error_message,omitempty"`
	OutputName    string              `json:"output_name,omitempty"`
	OutputSize    int64               `json:"output_size,omitempty"`
	DownloadToken string              `json:"download_token,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	FinishedAt    *time.Time          `json:"finished_at,omitempty"`
}

// Succeeded reports whether the job finished with an output.
func (r Record) Succeeded() bool { return r.Stage == convert.StageDone }

// Duration returns the elapsed time of a finished job.
func (r Record) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.CreatedAt)
}

// Summary counts records by outcome.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Running   int `json:"running"`
}

const recordColumns = "id, input_name, input_size, format, spec_json, stage, percent, error_kind, error_message, output_name, output_size, download_token, created_at, updated_at, finished_at"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		rec          Record
		specJSON     sql.NullString
		stage        string
		errorKind    sql.NullString
		errorMessage sql.NullString
		outputName   sql.NullString
		token        sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		finishedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.InputName,
		&rec.InputSize,
		&rec.Format,
		&specJSON,
		&stage,
		&rec.Percent,
		&errorKind,
		&errorMessage,
		&outputName,
		&rec.OutputSize,
		&token,
		&createdRaw,
		&updatedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	if specJSON.Valid && specJSON.String != "" {
		if err := json.Unmarshal([]byte(specJSON.String), &rec.Spec); err != nil {
			return nil, fmt.Errorf("decode spec for %s: %w", rec.ID, err)
		}
	}
	rec.Stage = convert.Stage(stage)
	rec.ErrorKind = services.Kind(errorKind.String)
	rec.ErrorMessage = errorMessage.String
	rec.OutputName = outputName.String
	rec.DownloadToken = token.String
	rec.CreatedAt = parseTime(createdRaw)
	rec.UpdatedAt = parseTime(updatedRaw)
	if finished := parseTime(finishedRaw); !finished.IsZero() {
		rec.FinishedAt = &finished
	}
	return &rec, nil
}

// Save inserts or replaces the record for snap.
func (s *Store) Save(ctx context.Context, snap convert.Snapshot) error {
	specJSON, err := json.Marshal(snap.Spec)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}
	var (
		kind     any
		message  any
		finished any
	)
	if snap.Error != nil {
		kind = string(snap.Error.Kind)
		message = snap.Error.Message
	}
	if snap.FinishedAt != nil {
		finished = formatTime(*snap.FinishedAt)
	}
	_, err = s.execWithRetry(ctx,
		`INSERT INTO jobs (
            id, input_name, input_size, format, spec_json, stage, percent,
            error_kind, error_message, output_name, output_size, created_at, updated_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            stage = excluded.stage,
            percent = excluded.percent,
            error_kind = excluded.error_kind,
            error_message = excluded.error_message,
            output_name = excluded.output_name,
            output_size = excluded.output_size,
            updated_at = excluded.updated_at,
            finished_at = excluded.finished_at`,
		snap.ID,
		snap.InputName,
		snap.InputSize,
		snap.Spec.Format,
		string(specJSON),
		string(snap.Stage),
		snap.Percent,
		kind,
		message,
		nullableString(snap.OutputName),
		snap.OutputSize,
		formatTime(snap.CreatedAt),
		formatTime(snap.UpdatedAt),
		finished,
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", snap.ID, err)
	}
	return nil
}

// SetDownload records the download token issued for a job's output.
func (s *Store) SetDownload(ctx context.Context, id, token string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET download_token = ?, updated_at = ? WHERE id = ?`,
		nullableString(token), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set download for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.Wrap(services.ErrNotFound, "history", "set download", "job "+id, nil)
	}
	return nil
}

// ClearDownload drops a token that was revoked or expired.
func (s *Store) ClearDownload(ctx context.Context, token string) error {
	_, err := s.execWithRetry(ctx, `UPDATE jobs SET download_token = NULL WHERE download_token = ?`, token)
	if err != nil {
		return fmt.Errorf("clear download %s: %w", token, err)
	}
	return nil
}

// Get fetches a record by job id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM jobs WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "history", "get", "job "+id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return rec, nil
}

// List returns the most recent records first. A limit of 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM jobs ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Summary counts records by outcome.
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stage, COUNT(1) FROM jobs GROUP BY stage`)
	if err != nil {
		return Summary{}, fmt.Errorf("history summary: %w", err)
	}
	defer rows.Close()

	var summary Summary
	for rows.Next() {
		var (
			stage string
			count int
		)
		if err := rows.Scan(&stage, &count); err != nil {
			return Summary{}, err
		}
		summary.Total += count
		switch convert.Stage(stage) {
		case convert.StageDone:
			summary.Succeeded += count
		case convert.StageFailed:
			summary.Failed += count
		default:
			summary.Running += count
		}
	}
	return summary, rows.Err()
}

// Clear removes finished records, or every record when all is set. It
// returns the number of rows deleted.
func (s *Store) Clear(ctx context.Context, all bool) (int64, error) {
	query := `DELETE FROM jobs WHERE stage IN (?, ?)`
	args := []any{string(convert.StageDone), string(convert.StageFailed)}
	if all {
		query, args = `DELETE FROM jobs`, nil
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return res.RowsAffected()
}

// ResetInterrupted marks records left in a non-terminal stage as failed.
// It runs at daemon start, before any job can be live.
func (s *Store) ResetInterrupted(ctx context.Context) (int64, error) {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs
            SET stage = ?, error_kind = ?, error_message = ?, updated_at = ?, finished_at = ?
          WHERE stage NOT IN (?, ?)`,
		string(convert.StageFailed),
		string(services.KindInternal),
		"interrupted by daemon shutdown",
		now,
		now,
		string(convert.StageDone),
		string(convert.StageFailed),
	)
	if err != nil {
		return 0, fmt.Errorf("reset interrupted jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n > 0 {
		s.logger.Info("marked interrupted jobs failed", logging.Int64("count", n))
	}
	return n, err
}
