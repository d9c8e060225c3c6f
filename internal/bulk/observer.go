package bulk

import (
	"context"
	"log/slog"
	"time"
)

// Transition is a change in a bulk job's local lifecycle state.
type Transition struct {
	Err       error
	From      JobState
	JobID     string
	Object    string
	Operation OperationKind
	To        JobState
}

// Observer receives job lifecycle transitions from the Manager.
type Observer interface {
	// JobTransition is called synchronously after each state change.
	JobTransition(ctx context.Context, t Transition)
}

// Observers fans a transition out to several observers in order.
type Observers []Observer

// JobTransition implements Observer.
func (o Observers) JobTransition(ctx context.Context, t Transition) {
	for _, obs := range o {
		obs.JobTransition(ctx, t)
	}
}

// SlogObserver traces job lifecycle transitions to a structured logger.
type SlogObserver struct {
	logger  *slog.Logger
	verbose bool
}

// NewSlogObserver creates an observer that logs at Debug, or at Info when verbose is set.
func NewSlogObserver(logger *slog.Logger, verbose bool) *SlogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogObserver{logger: logger, verbose: verbose}
}

// JobTransition implements Observer.
func (o *SlogObserver) JobTransition(ctx context.Context, t Transition) {
	level := slog.LevelDebug
	if o.verbose {
		level = slog.LevelInfo
	}

	attrs := []any{
		"job_id", t.JobID,
		"object", t.Object,
		"operation", t.Operation,
		"from", t.From,
		"to", t.To,
	}
	if t.Err != nil {
		attrs = append(attrs, "error", t.Err)
		if level < slog.LevelWarn {
			level = slog.LevelWarn
		}
	}

	o.logger.Log(ctx, level, "bulk job transition", attrs...)
}

// PendingJob is a tracked bulk job that has not been resolved.
type PendingJob struct {
	// CreatedAt is when the job was registered. Zero when unknown.
	CreatedAt time.Time

	// ID is the Salesforce job ID.
	ID string
}

// JobTracker keeps the list of bulk jobs that have been created but not yet resolved.
type JobTracker interface {
	AddPendingJob(ctx context.Context, jobID string) error
	RemovePendingJob(ctx context.Context, jobID string) error
}

// TrackingObserver registers jobs with a JobTracker on creation and removes them once the remote
// system has finished with them. Timed-out and cancelled jobs stay pending so they can be inspected.
type TrackingObserver struct {
	logger  *slog.Logger
	tracker JobTracker
}

// NewTrackingObserver creates an observer backed by tracker.
func NewTrackingObserver(tracker JobTracker, logger *slog.Logger) *TrackingObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrackingObserver{logger: logger, tracker: tracker}
}

// JobTransition implements Observer.
func (o *TrackingObserver) JobTransition(ctx context.Context, t Transition) {
	if t.JobID == "" {
		return
	}

	switch {
	case t.To == JobStateCreated:
		if err := o.tracker.AddPendingJob(ctx, t.JobID); err != nil {
			o.logger.Error("failed to track pending job", "job_id", t.JobID, "error", err)
		}
	case t.To == JobStateCompleted,
		t.To == JobStateFailed && (t.From == JobStateSubmitted || t.From == JobStateInProgress):
		if err := o.tracker.RemovePendingJob(ctx, t.JobID); err != nil {
			o.logger.Error("failed to remove pending job", "job_id", t.JobID, "error", err)
		}
	}
}
