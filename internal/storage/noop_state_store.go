package storage

import (
	"context"
	"log/slog"
	"time"
)

// NoopStateStore is a state store that persists nothing. Used for dry runs and local runs.
type NoopStateStore struct {
	logger *slog.Logger
	since  time.Time
}

// NewNoopStateStore creates a new NoopStateStore reporting since as the last sync time.
func NewNoopStateStore(since time.Time, logger *slog.Logger) *NoopStateStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopStateStore{logger: logger, since: since}
}

// LastSyncTime returns the configured time.
func (s *NoopStateStore) LastSyncTime(_ context.Context) (time.Time, error) {
	return s.since, nil
}

// SetLastSyncTime does nothing.
func (s *NoopStateStore) SetLastSyncTime(_ context.Context, _ time.Time) error {
	return nil
}

// AddPendingJob logs the job and does nothing else.
func (s *NoopStateStore) AddPendingJob(_ context.Context, jobID string) error {
	s.logger.Debug("not persisting pending job", "job_id", jobID)
	return nil
}

// RemovePendingJob does nothing.
func (s *NoopStateStore) RemovePendingJob(_ context.Context, _ string) error {
	return nil
}
