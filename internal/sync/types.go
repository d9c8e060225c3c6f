// Package sync provides request-level orchestration for syncing upstream events into Salesforce.
package sync

import (
	"context"
	"time"

	"github.com/peteski22/sfbridge/internal/bulk"
	"github.com/peteski22/sfbridge/internal/contact"
)

// Request is one sync invocation as received from the Lambda or HTTP ingress.
type Request struct {
	// Batching configures bulk delivery. Enabled is always taken from the request; a zero Size or
	// Concurrency falls back to the configured default.
	Batching *bulk.BatchOptions `json:"batching,omitempty"`

	// Events are the upstream events to write, in order.
	Events []contact.Input `json:"events"`

	// Match configures how existing records are identified.
	Match *bulk.MatchConfig `json:"match,omitempty"`

	// Operation is applied to every event that does not set its own.
	Operation bulk.OperationKind `json:"operation,omitempty"`
}

// EventResult is the outcome for one event, at the same index as the request event.
type EventResult struct {
	// Created indicates a new record was inserted.
	Created bool `json:"created,omitempty"`

	// Error is the failure reason.
	Error string `json:"error,omitempty"`

	// Index is the position of the event in the request.
	Index int `json:"index"`

	// JobID is the bulk job that carried the event, if any.
	JobID string `json:"job_id,omitempty"`

	// RemoteID is the Salesforce record ID.
	RemoteID string `json:"remote_id,omitempty"`

	// Success indicates the event was applied.
	Success bool `json:"success"`
}

// Result contains the outcome of a sync invocation.
type Result struct {
	// Created is the number of records inserted.
	Created int `json:"created"`

	// DryRun indicates nothing was written to Salesforce.
	DryRun bool `json:"dry_run"`

	// Events holds one result per request event, in request order.
	Events []EventResult `json:"events"`

	// Failed is the number of events that were not applied.
	Failed int `json:"failed"`

	// LastSyncAt is when the previous sync completed, if known.
	LastSyncAt time.Time `json:"last_sync_at,omitzero"`

	// RunID identifies this invocation's bulk jobs in the job ledger.
	RunID string `json:"run_id"`

	// StaleJobs are bulk jobs left pending by earlier invocations.
	StaleJobs []string `json:"stale_jobs,omitempty"`

	// Succeeded is the number of events applied.
	Succeeded int `json:"succeeded"`
}

// Dispatcher writes events to Salesforce.
type Dispatcher interface {
	// Dispatch returns exactly one result per event, in input order.
	Dispatch(ctx context.Context, req bulk.Request) ([]bulk.SyncResult, error)
}

// StateStore manages persistent state for the sync process.
type StateStore interface {
	// LastSyncTime returns the timestamp of the last successful sync.
	LastSyncTime(ctx context.Context) (time.Time, error)

	// SetLastSyncTime updates the last sync timestamp.
	SetLastSyncTime(ctx context.Context, t time.Time) error
}

// PendingJobs lists and claims bulk jobs that never reached a terminal state.
type PendingJobs interface {
	// PendingJobs returns the jobs still registered as in flight.
	PendingJobs(ctx context.Context) ([]bulk.PendingJob, error)

	// ClaimPendingJob clears a job from the pending list, reporting false when another caller
	// already cleared it.
	ClaimPendingJob(ctx context.Context, jobID string) (bool, error)
}

// JobAborter aborts a bulk job.
type JobAborter interface {
	// AbortJob asks Salesforce to stop processing a job.
	AbortJob(ctx context.Context, jobID string) error
}
