package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/peteski22/sfbridge/internal/bulk"
	"github.com/peteski22/sfbridge/internal/contact"
)

// defaultMaxEventsPerRun limits the events accepted by one invocation. Ten full bulk jobs fit well
// inside a Lambda timeout.
const defaultMaxEventsPerRun = 10 * bulk.MaxBatchSize

// Defaults are applied to requests that leave a setting out.
type Defaults struct {
	// Batching fills the batching settings a request leaves out or sets to zero.
	Batching bulk.BatchOptions

	// Match is used when a request has no match block.
	Match bulk.MatchConfig

	// Operation is used when a request has no operation.
	Operation bulk.OperationKind
}

// Config holds the required configuration for creating a Service.
type Config struct {
	// AbortStaleJobs aborts jobs left pending by earlier invocations instead of only reporting them.
	AbortStaleJobs bool

	// Aborter aborts stale jobs. Required when AbortStaleJobs is set.
	Aborter JobAborter

	// Defaults fill in settings a request leaves out.
	Defaults Defaults

	// Dispatcher writes events to Salesforce.
	Dispatcher Dispatcher

	// DryRun marks results as dry-run and skips state writes.
	DryRun bool

	// Logger is the structured logger for the service.
	Logger *slog.Logger

	// Mapper converts upstream events to Contact records.
	Mapper *contact.Mapper

	// MaxEventsPerRun limits the events accepted by one invocation.
	MaxEventsPerRun int

	// PendingJobs lists jobs left pending by earlier invocations. Optional.
	PendingJobs PendingJobs

	// StaleAfter is how long a pending job may stay unresolved before it is treated as stale.
	// Defaults to the default bulk poll budget.
	StaleAfter time.Duration

	// StateStore manages sync state persistence.
	StateStore StateStore
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if c.Dispatcher == nil {
		errs = append(errs, errors.New("dispatcher is required"))
	}
	if c.Mapper == nil {
		errs = append(errs, errors.New("mapper is required"))
	}
	if c.StateStore == nil {
		errs = append(errs, errors.New("state store is required"))
	}
	if c.AbortStaleJobs && (c.Aborter == nil || c.PendingJobs == nil) {
		errs = append(errs, errors.New("aborting stale jobs requires an aborter and pending jobs"))
	}
	if c.Defaults.Operation != "" && !c.Defaults.Operation.Valid() {
		errs = append(errs, fmt.Errorf("invalid default operation %q", c.Defaults.Operation))
	}
	return errors.Join(errs...)
}

// Service validates and maps sync requests and hands them to the dispatcher.
type Service struct {
	abortStaleJobs  bool
	aborter         JobAborter
	defaults        Defaults
	dispatcher      Dispatcher
	dryRun          bool
	logger          *slog.Logger
	mapper          *contact.Mapper
	maxEventsPerRun int
	newRunID        func() string
	now             func() time.Time
	pendingJobs     PendingJobs
	staleAfter      time.Duration
	stateStore      StateStore
}

// New creates a new sync orchestration service.
func New(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxEvents := cfg.MaxEventsPerRun
	if maxEvents <= 0 {
		maxEvents = defaultMaxEventsPerRun
	}

	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = bulk.DefaultPollPolicy().MaxWait
	}

	return &Service{
		abortStaleJobs:  cfg.AbortStaleJobs,
		aborter:         cfg.Aborter,
		defaults:        cfg.Defaults,
		dispatcher:      cfg.Dispatcher,
		dryRun:          cfg.DryRun,
		logger:          logger,
		mapper:          cfg.Mapper,
		maxEventsPerRun: maxEvents,
		newRunID:        uuid.NewString,
		now:             time.Now,
		pendingJobs:     cfg.PendingJobs,
		staleAfter:      staleAfter,
		stateStore:      cfg.StateStore,
	}, nil
}

// Run executes one sync invocation. Request problems are returned wrapping bulk.ErrConfiguration
// before anything is sent. Per-event failures are reported in the result.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	if len(req.Events) > s.maxEventsPerRun {
		return nil, fmt.Errorf("%w: %d events exceeds the limit of %d per run",
			bulk.ErrConfiguration, len(req.Events), s.maxEventsPerRun)
	}

	events, err := s.mapper.MapAll(req.Events)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", bulk.ErrConfiguration, err)
	}

	result := &Result{DryRun: s.dryRun, RunID: s.newRunID()}

	lastSync, err := s.stateStore.LastSyncTime(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting last sync time: %w", err)
	}
	result.LastSyncAt = lastSync

	result.StaleJobs = s.sweepStaleJobs(ctx)

	dispatchReq := s.dispatchRequest(req, events)
	dispatchReq.RunID = result.RunID
	s.logger.Info("starting sync",
		"run_id", result.RunID,
		"events", len(events),
		"operation", dispatchReq.Operation,
		"batching", dispatchReq.Batch.Enabled,
		"dry_run", s.dryRun)

	results, err := s.dispatcher.Dispatch(ctx, dispatchReq)
	if err != nil {
		return nil, fmt.Errorf("dispatching events: %w", err)
	}

	result.Events = make([]EventResult, len(results))
	for i, r := range results {
		result.Events[i] = EventResult{
			Created:  r.Created,
			Error:    r.Message(),
			Index:    r.Index,
			JobID:    r.JobID,
			RemoteID: r.RemoteID,
			Success:  r.Success,
		}
		switch {
		case !r.Success:
			result.Failed++
		case r.Created:
			result.Created++
			result.Succeeded++
		default:
			result.Succeeded++
		}
	}

	if !s.dryRun {
		if err := s.stateStore.SetLastSyncTime(ctx, s.now()); err != nil {
			return result, fmt.Errorf("updating last sync time: %w", err)
		}
	}

	s.logSyncComplete(result)
	return result, nil
}

// dispatchRequest applies the configured defaults to req.
func (s *Service) dispatchRequest(req Request, events []bulk.Event) bulk.Request {
	out := bulk.Request{
		Batch:     s.defaults.Batching,
		Events:    events,
		Match:     s.defaults.Match,
		Operation: s.defaults.Operation,
	}
	if req.Batching != nil {
		out.Batch.Enabled = req.Batching.Enabled
		if req.Batching.Size > 0 {
			out.Batch.Size = req.Batching.Size
		}
		if req.Batching.Concurrency > 0 {
			out.Batch.Concurrency = req.Batching.Concurrency
		}
	}
	if req.Match != nil {
		out.Match = *req.Match
	}
	if req.Operation != "" {
		out.Operation = req.Operation
	}
	return out
}

// sweepStaleJobs reports jobs left pending by earlier invocations for longer than staleAfter and,
// when configured, claims and aborts them. Younger jobs may still be polled by a concurrent
// invocation and are left alone. Failures are logged and never fail the run.
func (s *Service) sweepStaleJobs(ctx context.Context) []string {
	if s.pendingJobs == nil || s.dryRun {
		return nil
	}

	jobs, err := s.pendingJobs.PendingJobs(ctx)
	if err != nil {
		s.logger.Error("failed to list pending jobs", "error", err)
		return nil
	}

	cutoff := s.now().Add(-s.staleAfter)
	var ids []string
	for _, job := range jobs {
		if job.CreatedAt.After(cutoff) {
			continue
		}
		ids = append(ids, job.ID)
	}
	if len(ids) == 0 {
		return nil
	}

	if !s.abortStaleJobs {
		s.logger.Warn("bulk jobs from earlier runs are still pending", "job_ids", ids)
		return ids
	}

	for _, id := range ids {
		claimed, err := s.pendingJobs.ClaimPendingJob(ctx, id)
		if err != nil {
			s.logger.Error("failed to claim stale job", "job_id", id, "error", err)
			continue
		}
		if !claimed {
			s.logger.Debug("stale job already resolved elsewhere", "job_id", id)
			continue
		}
		if err := s.aborter.AbortJob(ctx, id); err != nil {
			s.logger.Error("failed to abort stale job", "job_id", id, "error", err)
			continue
		}
		s.logger.Info("aborted stale job", "job_id", id)
	}
	return ids
}

// logSyncComplete logs the final sync summary.
func (s *Service) logSyncComplete(result *Result) {
	s.logger.Info("sync completed",
		"events", len(result.Events),
		"succeeded", result.Succeeded,
		"created", result.Created,
		"failed", result.Failed,
		"stale_jobs", len(result.StaleJobs),
		"dry_run", s.dryRun)
}
