package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
)

// dryRun logs write operations instead of executing them.
// It implements both BulkAPI and RecordClient.
type dryRun struct {
	counter uint64
	logger  *slog.Logger
}

// NewDryRun returns a BulkAPI and RecordClient pair that only log what would be written.
func NewDryRun(logger *slog.Logger) (BulkAPI, RecordClient) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &dryRun{logger: logger}
	return d, d
}

// AbortJob logs the abort.
func (d *dryRun) AbortJob(_ context.Context, jobID string) error {
	d.logger.Info("[DRY-RUN] would abort bulk job", "job_id", jobID)
	return nil
}

// CloseJob logs the close.
func (d *dryRun) CloseJob(_ context.Context, jobID string) error {
	d.logger.Info("[DRY-RUN] would close bulk job", "job_id", jobID)
	return nil
}

// CreateJob logs what would be created and returns a fake job ID.
func (d *dryRun) CreateJob(_ context.Context, req JobRequest) (string, error) {
	jobID := "dry-run-job-" + uuid.NewString()

	attrs := []any{"job_id", jobID, "object", req.Object}
	if req.Operation != nil {
		attrs = append(attrs, "operation", req.Operation.Kind())
		if m := MatchOf(req.Operation); m != nil {
			attrs = append(attrs, "match", m.String())
		}
	}
	d.logger.Info("[DRY-RUN] would create bulk job", attrs...)

	return jobID, nil
}

// JobResults returns a successful result for every row.
func (d *dryRun) JobResults(_ context.Context, jobID string, payload Payload) ([]RowResult, error) {
	rows := make([]RowResult, payload.Rows)
	for i := range rows {
		rows[i] = RowResult{RemoteID: d.nextFakeID("record"), Success: true}
	}
	return rows, nil
}

// JobStatus reports the job as complete.
func (d *dryRun) JobStatus(_ context.Context, _ string) (JobStatus, error) {
	return JobStatus{State: JobStateCompleted}, nil
}

// UploadJobData logs the payload shape.
func (d *dryRun) UploadJobData(_ context.Context, jobID string, payload Payload) error {
	d.logger.Info("[DRY-RUN] would upload bulk job data",
		"job_id", jobID,
		"columns", payload.Columns,
		"rows", payload.Rows,
		"bytes", len(payload.Data))
	return nil
}

// CreateRecord logs what would be created and returns a fake ID.
func (d *dryRun) CreateRecord(_ context.Context, op Create, event Event) (RowResult, error) {
	fakeID := d.nextFakeID("record")
	d.logger.Info("[DRY-RUN] would create record",
		"fake_id", fakeID,
		"object", op.Object.Name,
		"fields", fieldNames(event.Fields))
	return RowResult{Created: true, RemoteID: fakeID, Success: true}, nil
}

// DeleteRecord logs what would be deleted.
func (d *dryRun) DeleteRecord(_ context.Context, op Delete, event Event) (RowResult, error) {
	d.logger.Info("[DRY-RUN] would delete record",
		"object", op.Object.Name,
		"match", op.Match.String(),
		"record_id", event.RecordID)
	return RowResult{RemoteID: d.matchedID(event), Success: true}, nil
}

// UpdateRecord logs what would be updated.
func (d *dryRun) UpdateRecord(_ context.Context, op Update, event Event) (RowResult, error) {
	d.logger.Info("[DRY-RUN] would update record",
		"object", op.Object.Name,
		"match", op.Match.String(),
		"fields", fieldNames(event.Fields))
	return RowResult{RemoteID: d.matchedID(event), Success: true}, nil
}

// UpsertRecord logs what would be upserted.
func (d *dryRun) UpsertRecord(_ context.Context, op Upsert, event Event) (RowResult, error) {
	d.logger.Info("[DRY-RUN] would upsert record",
		"object", op.Object.Name,
		"match", op.Match.String(),
		"external_id", event.ExternalID,
		"fields", fieldNames(event.Fields))
	return RowResult{RemoteID: d.nextFakeID("record"), Success: true}, nil
}

// nextFakeID generates a unique fake ID for dry-run operations.
func (d *dryRun) nextFakeID(prefix string) string {
	n := atomic.AddUint64(&d.counter, 1)
	return fmt.Sprintf("dry-run-%s-%d", prefix, n)
}

// matchedID returns the event's record ID, or a fake ID when the match is not by record ID.
func (d *dryRun) matchedID(event Event) string {
	if event.RecordID != "" {
		return event.RecordID
	}
	return d.nextFakeID("record")
}

func fieldNames(fields Fields) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}
