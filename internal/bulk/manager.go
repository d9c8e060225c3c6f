package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ManagerConfig holds the configuration for creating a Manager.
type ManagerConfig struct {
	// API is the remote bulk-job API.
	API BulkAPI

	// AbortOnTimeout makes a best-effort request to abort a job whose poll budget ran out.
	AbortOnTimeout bool

	// Logger is the structured logger for retry and poll diagnostics.
	Logger *slog.Logger

	// Observer receives job lifecycle transitions. Optional.
	Observer Observer

	// Poll bounds how long a submitted job is waited on.
	Poll PollPolicy

	// Retry bounds retries of individual remote calls.
	Retry RetryPolicy

	// Timer overrides the timers used for delays. Optional.
	Timer TimerFunc
}

// validate checks that all required ManagerConfig fields are set.
func (c *ManagerConfig) validate() error {
	if c.API == nil {
		return errors.New("bulk API is required")
	}
	return nil
}

// Manager drives remote bulk jobs from creation to fetched results.
// It creates at most one remote job per Run and never re-submits.
type Manager struct {
	abortOnTimeout bool
	api            BulkAPI
	logger         *slog.Logger
	observer       Observer
	poll           PollPolicy
	retry          RetryPolicy
	timer          TimerFunc
}

// NewManager creates a new bulk job manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	observer := cfg.Observer
	if observer == nil {
		observer = Observers(nil)
	}

	timer := cfg.Timer
	if timer == nil {
		timer = newSystemTimer
	}

	return &Manager{
		abortOnTimeout: cfg.AbortOnTimeout,
		api:            cfg.API,
		logger:         logger,
		observer:       observer,
		poll:           cfg.Poll.withDefaults(),
		retry:          cfg.Retry.withDefaults(),
		timer:          timer,
	}, nil
}

// job tracks one Run through its states.
type job struct {
	id    string
	req   JobRequest
	state JobState
}

// Run creates a job for payload, uploads it, submits it, waits for it to finish and fetches
// the per-row results. Failures are reported as ErrFatalJob, ErrTimeout or ErrCancelled; the
// returned outcome always carries the job ID (if one was created) and the final state.
func (m *Manager) Run(ctx context.Context, req JobRequest, payload Payload) (JobOutcome, error) {
	j := &job{req: req}

	var jobID string
	err := m.call(ctx, "create job", "", true, func() error {
		var err error
		jobID, err = m.api.CreateJob(ctx, req)
		return err
	})
	if err != nil {
		return m.outcome(j), m.failure(ctx, "creating job", err)
	}
	j.id = jobID
	m.transition(ctx, j, JobStateCreated, nil)

	err = m.call(ctx, "upload data", j.id, false, func() error {
		return m.api.UploadJobData(ctx, j.id, payload)
	})
	if err != nil {
		return m.fail(ctx, j, "uploading job data", err)
	}
	m.transition(ctx, j, JobStateDataUploaded, nil)

	err = m.call(ctx, "close job", j.id, true, func() error {
		return m.api.CloseJob(ctx, j.id)
	})
	if err != nil {
		return m.fail(ctx, j, "closing job", err)
	}
	m.transition(ctx, j, JobStateSubmitted, nil)

	if err := m.await(ctx, j); err != nil {
		return m.outcome(j), err
	}

	var rows []RowResult
	err = m.call(ctx, "fetch results", j.id, false, func() error {
		var err error
		rows, err = m.api.JobResults(ctx, j.id, payload)
		return err
	})
	if err != nil {
		return m.outcome(j), m.failure(ctx, "fetching job results", err)
	}
	if len(rows) != payload.Rows {
		return m.outcome(j), fmt.Errorf("%w: job %s returned %d results for %d rows",
			ErrFatalJob, j.id, len(rows), payload.Rows)
	}

	out := m.outcome(j)
	out.Rows = rows
	return out, nil
}

// await polls the job until it reaches a terminal state or the poll budget runs out.
func (m *Manager) await(ctx context.Context, j *job) error {
	var waited time.Duration

	for {
		var status JobStatus
		err := m.call(ctx, "poll status", j.id, true, func() error {
			var err error
			status, err = m.api.JobStatus(ctx, j.id)
			return err
		})
		if err != nil {
			err = m.failure(ctx, "polling job status", err)
			if errors.Is(err, ErrFatalJob) {
				m.transition(ctx, j, JobStateFailed, err)
			}
			return err
		}

		m.logger.DebugContext(ctx, "polled bulk job",
			"job_id", j.id,
			"state", status.State,
			"records_processed", status.RecordsProcessed,
			"records_failed", status.RecordsFailed)

		switch status.State {
		case JobStateCompleted:
			m.transition(ctx, j, JobStateCompleted, nil)
			return nil
		case JobStateFailed, JobStateAborted:
			reason := status.ErrorMessage
			if reason == "" {
				reason = "no reason given"
			}
			err := fmt.Errorf("%w: job %s %s remotely: %s", ErrFatalJob, j.id, status.State, reason)
			m.transition(ctx, j, status.State, err)
			return err
		case JobStateInProgress:
			if j.state != JobStateInProgress {
				m.transition(ctx, j, JobStateInProgress, nil)
			}
		}

		if waited+m.poll.Interval > m.poll.MaxWait {
			err := fmt.Errorf("%w: job %s still %s after %s", ErrTimeout, j.id, j.state, waited)
			m.transition(ctx, j, JobStateAborted, err)
			m.abort(ctx, j)
			return err
		}

		if err := m.sleep(ctx, m.poll.Interval); err != nil {
			return fmt.Errorf("%w: waiting on job %s: %w", ErrCancelled, j.id, err)
		}
		waited += m.poll.Interval
	}
}

// abort asks the remote system to stop a timed-out job when configured to.
func (m *Manager) abort(ctx context.Context, j *job) {
	if !m.abortOnTimeout {
		return
	}
	if err := m.api.AbortJob(ctx, j.id); err != nil {
		m.logger.WarnContext(ctx, "failed to abort bulk job", "job_id", j.id, "error", err)
	}
}

// call runs fn under the retry policy. When transientOnly is set, only ErrTransientNetwork is retried.
func (m *Manager) call(ctx context.Context, step string, jobID string, transientOnly bool, fn func() error) error {
	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		if transientOnly && !errors.Is(err, ErrTransientNetwork) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		m.logger.WarnContext(ctx, "retrying bulk call",
			"step", step,
			"job_id", jobID,
			"delay", delay,
			"error", err)
	}

	return backoff.RetryNotifyWithTimer(op, m.retry.backOff(ctx), notify, m.timer())
}

// sleep waits for d or until ctx is done.
func (m *Manager) sleep(ctx context.Context, d time.Duration) error {
	t := m.timer()
	t.Start(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

// fail moves the job to Failed and returns the classified error.
func (m *Manager) fail(ctx context.Context, j *job, step string, err error) (JobOutcome, error) {
	err = m.failure(ctx, step, err)
	if errors.Is(err, ErrFatalJob) {
		m.transition(ctx, j, JobStateFailed, err)
	}
	return m.outcome(j), err
}

// failure classifies err as a cancellation or a fatal job error.
func (m *Manager) failure(ctx context.Context, step string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %w", ErrCancelled, step, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrFatalJob, step, err)
}

func (m *Manager) transition(ctx context.Context, j *job, to JobState, err error) {
	from := j.state
	j.state = to

	var op OperationKind
	if j.req.Operation != nil {
		op = j.req.Operation.Kind()
	}

	m.observer.JobTransition(ctx, Transition{
		Err:       err,
		From:      from,
		JobID:     j.id,
		Object:    j.req.Object,
		Operation: op,
		To:        to,
	})
}

func (m *Manager) outcome(j *job) JobOutcome {
	state := j.state
	if state == "" {
		state = JobStateFailed
	}
	return JobOutcome{JobID: j.id, State: state}
}
