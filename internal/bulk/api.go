package bulk

import (
	"context"
)

// BulkAPI defines the remote bulk-job operations required by the Manager.
type BulkAPI interface {
	// AbortJob asks the remote system to stop processing a job.
	AbortJob(ctx context.Context, jobID string) error

	// CloseJob tells the remote system that no more data will be uploaded.
	CloseJob(ctx context.Context, jobID string) error

	// CreateJob allocates a remote job and returns its ID.
	CreateJob(ctx context.Context, req JobRequest) (string, error)

	// JobResults returns one RowResult per submitted row, in submission order.
	JobResults(ctx context.Context, jobID string, payload Payload) ([]RowResult, error)

	// JobStatus reads the current job state. It must be free of side effects.
	JobStatus(ctx context.Context, jobID string) (JobStatus, error)

	// UploadJobData uploads the framed payload.
	UploadJobData(ctx context.Context, jobID string, payload Payload) error
}

// RecordClient defines the single-record REST operations required by the Dispatcher.
type RecordClient interface {
	// CreateRecord inserts one record.
	CreateRecord(ctx context.Context, op Create, event Event) (RowResult, error)

	// DeleteRecord removes the record matched by op.
	DeleteRecord(ctx context.Context, op Delete, event Event) (RowResult, error)

	// UpdateRecord modifies the record matched by op.
	UpdateRecord(ctx context.Context, op Update, event Event) (RowResult, error)

	// UpsertRecord modifies the record matched by op or creates one.
	UpsertRecord(ctx context.Context, op Upsert, event Event) (RowResult, error)
}

// JobRecorder persists a summary of every bulk job the Dispatcher ran.
type JobRecorder interface {
	RecordJob(ctx context.Context, record JobRecord) error
}

// nopRecorder discards job records.
type nopRecorder struct{}

func (nopRecorder) RecordJob(context.Context, JobRecord) error { return nil }
