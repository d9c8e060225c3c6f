package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// BatchOptions configures bulk delivery.
type BatchOptions struct {
	// Concurrency is the number of bulk jobs run at once. Defaults to 1.
	Concurrency int `json:"concurrency,omitempty"`

	// Enabled selects the bulk path for requests with more than one event.
	Enabled bool `json:"enabled"`

	// Size is the maximum number of events per bulk job, capped at MaxBatchSize.
	Size int `json:"size,omitempty"`
}

// Request is a single dispatch invocation.
type Request struct {
	// Batch configures bulk delivery.
	Batch BatchOptions

	// Events are the records to write, in order.
	Events []Event

	// Match configures how existing records are identified.
	Match MatchConfig

	// Operation is applied to every event that does not set its own.
	Operation OperationKind

	// RunID groups the bulk jobs of this dispatch in the job ledger. Generated when empty.
	RunID string
}

// Config holds the configuration for creating a Dispatcher.
type Config struct {
	// Logger is the structured logger for the dispatcher.
	Logger *slog.Logger

	// Manager drives bulk jobs. Required for the bulk path.
	Manager *Manager

	// Object is the remote object type written by this dispatcher.
	Object ObjectSpec

	// Recorder persists a summary of each bulk job. Optional.
	Recorder JobRecorder

	// Records is the single-record REST client.
	Records RecordClient
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if c.Object.Name == "" {
		errs = append(errs, errors.New("object name is required"))
	}
	if c.Records == nil {
		errs = append(errs, errors.New("record client is required"))
	}
	return errors.Join(errs...)
}

// Dispatcher routes events to the single-record path or the bulk-job path.
type Dispatcher struct {
	logger   *slog.Logger
	manager  *Manager
	object   ObjectSpec
	recorder JobRecorder
	records  RecordClient
}

// New creates a new Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Dispatcher{
		logger:   logger,
		manager:  cfg.Manager,
		object:   cfg.Object,
		recorder: recorder,
		records:  cfg.Records,
	}, nil
}

// Dispatch writes every event and returns exactly one result per event, in input order.
// Configuration problems are returned as ErrConfiguration before anything is sent; failures
// after that point are reported per event and never fail the whole call.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) ([]SyncResult, error) {
	if len(req.Events) == 0 {
		return nil, configErrorf("no events to dispatch")
	}

	events := make([]Event, len(req.Events))
	for i, e := range req.Events {
		if e.Operation == "" {
			e.Operation = req.Operation
		}
		events[i] = e
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := d.logger.With("run_id", runID, "object", d.object.Name)

	var (
		results []SyncResult
		err     error
	)
	if len(events) == 1 || !req.Batch.Enabled {
		results, err = d.dispatchRecords(ctx, logger, events, req.Match)
	} else {
		results, err = d.dispatchBulk(ctx, logger, runID, events, req.Match, req.Batch)
	}
	if err != nil {
		return nil, err
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	logger.Info("dispatch completed",
		"events", len(results),
		"succeeded", succeeded,
		"failed", len(results)-succeeded)

	return results, nil
}

// dispatchRecords sends one REST call per event after validating every operation up front.
func (d *Dispatcher) dispatchRecords(
	ctx context.Context,
	logger *slog.Logger,
	events []Event,
	match MatchConfig,
) ([]SyncResult, error) {
	groups, err := Partition(events, len(events))
	if err != nil {
		return nil, err
	}

	ops := make([]Operation, len(groups))
	for i, g := range groups {
		op, err := Resolve(d.object, g.Operation, match, PathRecord, g.Events)
		if err != nil {
			return nil, fmt.Errorf("events from %d: %w", g.Offset, err)
		}
		ops[i] = op
	}

	results := make([]SyncResult, 0, len(events))
	for i, g := range groups {
		for j, e := range g.Events {
			index := g.Offset + j
			if err := ctx.Err(); err != nil {
				results = append(results, SyncResult{
					Err:   fmt.Errorf("%w: %w", ErrCancelled, err),
					Event: e,
					Index: index,
				})
				continue
			}

			row, err := d.sendRecord(ctx, ops[i], e)
			if err != nil {
				logger.Warn("record write failed", "index", index, "operation", g.Operation, "error", err)
				results = append(results, SyncResult{Err: err, Event: e, Index: index})
				continue
			}
			results = append(results, resultFromRow(index, e, row))
		}
	}

	return results, nil
}

func (d *Dispatcher) sendRecord(ctx context.Context, op Operation, e Event) (RowResult, error) {
	switch o := op.(type) {
	case Create:
		return d.records.CreateRecord(ctx, o, e)
	case Update:
		return d.records.UpdateRecord(ctx, o, e)
	case Upsert:
		return d.records.UpsertRecord(ctx, o, e)
	case Delete:
		return d.records.DeleteRecord(ctx, o, e)
	}
	return RowResult{}, configErrorf("unsupported operation %T", op)
}

// bulkPlan is a batch ready to be submitted, or already failed during framing.
type bulkPlan struct {
	batch     Batch
	frameErr  error
	operation Operation
	payload   Payload
}

// dispatchBulk partitions events, validates and frames every batch, then runs one bulk job per batch.
func (d *Dispatcher) dispatchBulk(
	ctx context.Context,
	logger *slog.Logger,
	runID string,
	events []Event,
	match MatchConfig,
	opts BatchOptions,
) ([]SyncResult, error) {
	if d.manager == nil {
		return nil, configErrorf("bulk delivery is not configured")
	}

	size := opts.Size
	if size <= 0 {
		size = DefaultBatchSize
	}
	size = min(size, MaxBatchSize)

	batches, err := Partition(events, size)
	if err != nil {
		return nil, err
	}

	plans := make([]bulkPlan, len(batches))
	for i, b := range batches {
		op, err := Resolve(d.object, b.Operation, match, PathBulk, b.Events)
		if err != nil {
			return nil, fmt.Errorf("batch from event %d: %w", b.Offset, err)
		}
		plans[i] = bulkPlan{batch: b, operation: op}
	}

	// Framing failures only fail their own batch.
	for i := range plans {
		payload, err := Frame(plans[i].batch, plans[i].operation)
		if err != nil {
			logger.Warn("failed to frame batch",
				"batch_offset", plans[i].batch.Offset,
				"batch_size", len(plans[i].batch.Events),
				"error", err)
			plans[i].frameErr = err
			continue
		}
		plans[i].payload = payload
	}

	logger.Info("dispatching bulk batches",
		"events", len(events),
		"batches", len(plans),
		"batch_size", size)

	results := make([]SyncResult, len(events))

	var g errgroup.Group
	g.SetLimit(max(opts.Concurrency, 1))
	for _, plan := range plans {
		if plan.frameErr != nil {
			copy(results[plan.batch.Offset:], FailBatch(plan.batch, plan.frameErr))
			continue
		}
		g.Go(func() error {
			copy(results[plan.batch.Offset:], d.runBatch(ctx, logger, runID, plan))
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

// runBatch drives one bulk job and converts its outcome into per-event results.
func (d *Dispatcher) runBatch(ctx context.Context, logger *slog.Logger, runID string, plan bulkPlan) []SyncResult {
	logger = logger.With("batch_offset", plan.batch.Offset, "batch_size", len(plan.batch.Events))

	outcome, err := d.manager.Run(ctx, JobRequest{Object: d.object.Name, Operation: plan.operation}, plan.payload)

	var results []SyncResult
	if err == nil {
		results, err = Correlate(plan.batch, outcome.Rows)
	}
	if err != nil {
		logger.Error("bulk job failed", "job_id", outcome.JobID, "state", outcome.State, "error", err)
		results = FailBatch(plan.batch, err)
	}
	for i := range results {
		results[i].JobID = outcome.JobID
	}

	record := JobRecord{
		BatchOffset: plan.batch.Offset,
		BatchSize:   len(plan.batch.Events),
		FinishedAt:  time.Now().UTC(),
		JobID:       outcome.JobID,
		Object:      d.object.Name,
		Operation:   plan.batch.Operation,
		RunID:       runID,
		State:       outcome.State,
	}
	if err != nil {
		record.Error = err.Error()
	}
	for _, r := range results {
		if !r.Success {
			record.RowsFailed++
		}
	}

	// The job record outlives a cancelled request.
	if err := d.recorder.RecordJob(context.WithoutCancel(ctx), record); err != nil {
		logger.Error("failed to record bulk job", "job_id", outcome.JobID, "error", err)
	}

	return results
}
