package history

import (
	"context"

	"toolbox/internal/convert"
	"toolbox/internal/logging"
)

var _ convert.Observer = (*Store)(nil)

// JobStarted records a new job.
func (s *Store) JobStarted(ctx context.Context, snap convert.Snapshot) {
	s.record(ctx, snap)
}

// StageChanged records the job's new stage.
func (s *Store) StageChanged(ctx context.Context, snap convert.Snapshot, _ convert.Stage) {
	s.record(ctx, snap)
}

// JobFinished records the outcome.
func (s *Store) JobFinished(ctx context.Context, snap convert.Snapshot) {
	s.record(ctx, snap)
}

func (s *Store) record(ctx context.Context, snap convert.Snapshot) {
	if err := s.Save(ctx, snap); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "failed to record job history", "history_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check free space and permissions on the data directory"),
			logging.String(logging.FieldImpact, "job missing from toolbox jobs output"),
		)
	}
}
