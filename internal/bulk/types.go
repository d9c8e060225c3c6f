// Package bulk synchronises batches of outbound events into a CRM object store,
// either one record at a time or through the asynchronous bulk-job API.
package bulk

import (
	"time"
)

// OperationKind is the write performed against the remote record.
type OperationKind string

const (
	// OperationCreate inserts a new record.
	OperationCreate OperationKind = "create"

	// OperationUpdate modifies an existing, matched record.
	OperationUpdate OperationKind = "update"

	// OperationUpsert updates a matched record or creates one when nothing matches.
	OperationUpsert OperationKind = "upsert"

	// OperationDelete removes a matched record.
	OperationDelete OperationKind = "delete"
)

// Valid reports whether k is a supported operation.
func (k OperationKind) Valid() bool {
	switch k {
	case OperationCreate, OperationUpdate, OperationUpsert, OperationDelete:
		return true
	}
	return false
}

// Field is a single named value on an Event. A nil Value means the field should be cleared remotely.
type Field struct {
	Name  string
	Value any
}

// Fields is an ordered set of event fields.
type Fields []Field

// Get returns the value for name and whether the field was provided at all.
func (f Fields) Get(name string) (any, bool) {
	for _, field := range f {
		if field.Name == name {
			return field.Value, true
		}
	}
	return nil, false
}

// Has reports whether name is present with a non-nil, non-empty value.
func (f Fields) Has(name string) bool {
	v, ok := f.Get(name)
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString && s == "" {
		return false
	}
	return true
}

// Event is one outbound record. Events are treated as immutable once handed to the engine.
type Event struct {
	// ExternalID is the value of the external ID field used to match the remote record.
	ExternalID string

	// Fields holds the record attributes in the order they were provided.
	Fields Fields

	// Operation overrides the request operation when set.
	Operation OperationKind

	// RecordID is the remote record identifier used to match the remote record.
	RecordID string
}

// Batch is a contiguous run of events sharing one operation.
type Batch struct {
	// Events are the records in the batch, in input order.
	Events []Event

	// Offset is the index of the first event within the original input.
	Offset int

	// Operation is the operation shared by every event in the batch.
	Operation OperationKind
}

// Payload is a framed batch ready for upload to a bulk job.
type Payload struct {
	// Columns are the header fields in payload order.
	Columns []string

	// Data is the encoded CSV, including the header line.
	Data []byte

	// Rows is the number of data rows, excluding the header.
	Rows int
}

// JobState is the local lifecycle state of a bulk job.
type JobState string

const (
	JobStateCreated      JobState = "Created"
	JobStateDataUploaded JobState = "DataUploaded"
	JobStateSubmitted    JobState = "Submitted"
	JobStateInProgress   JobState = "InProgress"
	JobStateCompleted    JobState = "Completed"
	JobStateFailed       JobState = "Failed"
	JobStateAborted      JobState = "Aborted"
)

// Terminal reports whether no further transitions are possible from s.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateAborted
}

// JobRequest describes the bulk job to create.
type JobRequest struct {
	// Object is the remote object type, e.g. Contact.
	Object string

	// Operation is the validated operation the job will run.
	Operation Operation
}

// JobStatus is a single read of the remote job state.
type JobStatus struct {
	// ErrorMessage is the job-level error reported by the remote system, if any.
	ErrorMessage string

	// RecordsFailed is the number of rows the remote system rejected so far.
	RecordsFailed int

	// RecordsProcessed is the number of rows the remote system processed so far.
	RecordsProcessed int

	// State is the remote state mapped onto the local lifecycle.
	State JobState
}

// RowResult is the remote outcome of one submitted row.
type RowResult struct {
	// Created indicates a new record was inserted rather than an existing one modified.
	Created bool

	// ErrorMessage is the remote rejection reason when Success is false.
	ErrorMessage string

	// RemoteID is the identifier of the created or modified record.
	RemoteID string

	// Success indicates the row was applied.
	Success bool
}

// JobOutcome is what the Manager learned about a job it drove.
type JobOutcome struct {
	// JobID is the remote job identifier; empty when creation failed.
	JobID string

	// Rows are the per-row results, only set when State is JobStateCompleted.
	Rows []RowResult

	// State is the final local state.
	State JobState
}

// JobRecord summarises a finished job for the JobRecorder.
type JobRecord struct {
	BatchOffset int
	BatchSize   int
	Error       string
	FinishedAt  time.Time
	JobID       string
	Object      string
	Operation   OperationKind
	RowsFailed  int
	RunID       string
	State       JobState
}

// SyncResult is the outcome for one input event.
type SyncResult struct {
	// Created indicates a new record was inserted.
	Created bool

	// Err is the failure reason; nil on success.
	Err error

	// Event is the originating event.
	Event Event

	// Index is the position of Event within the original input.
	Index int

	// JobID is the bulk job that carried the event; empty on the single-record path.
	JobID string

	// RemoteID is the identifier of the created or modified remote record.
	RemoteID string

	// Success indicates the event was applied remotely.
	Success bool
}

// Message returns a human-readable reason for a failed result.
func (r SyncResult) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
