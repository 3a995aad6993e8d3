package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
	"github.com/cuongbtq/jobnex-queue/internal/metrics"
)

const (
	// DefaultBatchSize is used when RunOnce gets a non-positive batch size
	DefaultBatchSize = 10

	maxErrorLength  = 500
	staleLeaseError = "processing lease expired"
)

// JobStore is the part of the queue store the dispatcher needs. Every
// transition out of processing is conditional on the job still being
// processing and returns domain.ErrClaimConflict otherwise.
type JobStore interface {
	ClaimJobs(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)
	MarkCompleted(ctx context.Context, jobID string, now time.Time) error
	MarkFailed(ctx context.Context, jobID string, status domain.JobStatus, errMsg string, now time.Time) error
	MarkRetry(ctx context.Context, jobID string, errMsg string, runAt, now time.Time) error
	TouchHeartbeat(ctx context.Context, jobID string, now time.Time) error
	RecoverStale(ctx context.Context, staleBefore, now time.Time, errMsg string) (int, error)
	Stats(ctx context.Context) (*domain.QueueStats, error)
}

// ResultStore persists job results
type ResultStore interface {
	SaveResult(ctx context.Context, result *domain.JobResult) error
}

// Config holds dispatcher settings
type Config struct {
	BatchSize         int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	Retry             RetryPolicy
}

// Summary reports what one RunOnce did
type Summary struct {
	Processed int `json:"processed_count"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Retried   int `json:"retried"`
}

// Dispatcher claims due jobs and runs them through the handler registry
type Dispatcher struct {
	jobs     JobStore
	results  ResultStore
	registry *Registry
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithClock overrides the dispatcher clock
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(jobs JobStore, results ResultStore, registry *Registry, cfg Config, logger *slog.Logger, opts ...Option) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}

	d := &Dispatcher{
		jobs:     jobs,
		results:  results,
		registry: registry,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunOnce claims up to batchSize eligible jobs and processes each of them.
// A failing job never affects the others in the batch. An error is returned
// only when the claim itself fails or ctx is already done.
//
// Canceling ctx stops new claims only. Jobs that were claimed run to
// completion under their own timeout and their state is always recorded.
func (d *Dispatcher) RunOnce(ctx context.Context, batchSize int) (Summary, error) {
	if batchSize <= 0 {
		batchSize = d.cfg.BatchSize
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, fmt.Errorf("dispatch canceled before claim: %w", err)
	}

	metrics.DispatchRuns.Inc()

	ctx = context.WithoutCancel(ctx)

	jobs, err := d.jobs.ClaimJobs(ctx, d.now().UTC(), batchSize)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to claim jobs: %w", err)
	}

	summary := Summary{Processed: len(jobs)}
	if len(jobs) == 0 {
		return summary, nil
	}

	d.logger.Info("Claimed jobs",
		slog.Int("count", len(jobs)),
		slog.Int("batch_size", batchSize),
	)

	for i := range jobs {
		switch d.processJob(ctx, &jobs[i]) {
		case outcomeSucceeded:
			summary.Succeeded++
		case outcomeRetried:
			summary.Retried++
		default:
			summary.Failed++
		}
	}

	d.logger.Info("Dispatch run finished",
		slog.Int("processed", summary.Processed),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
		slog.Int("retried", summary.Retried),
	)

	return summary, nil
}

type outcome string

const (
	outcomeSucceeded outcome = "succeeded"
	outcomeFailed    outcome = "failed"
	outcomeRetried   outcome = "retried"
	outcomeDead      outcome = "dead"
)

// processJob runs one claimed job to a terminal state or back to pending
func (d *Dispatcher) processJob(ctx context.Context, job *domain.Job) outcome {
	logger := d.logger.With(
		slog.String("job_id", job.ID),
		slog.String("type", string(job.Type)),
	)

	handler, ok := d.registry.Lookup(job.Type)
	if !ok {
		err := fmt.Errorf("%w: %s", domain.ErrUnknownJobType, job.Type)
		logger.Warn("No handler registered for job type")
		return d.fail(ctx, job, err, true, logger)
	}

	start := time.Now()
	result, err := d.execute(ctx, job, handler)
	metrics.JobDuration.WithLabelValues(string(job.Type)).Observe(time.Since(start).Seconds())

	if err != nil {
		var vErr *domain.ValidationError
		permanent := errors.As(err, &vErr)
		logger.Error("Job execution failed",
			slog.Any("error", err),
			slog.Int("attempt", job.Attempts+1),
		)
		return d.fail(ctx, job, err, permanent, logger)
	}

	if len(result) == 0 || !json.Valid(result) {
		result = json.RawMessage(`{}`)
	}

	now := d.now().UTC()
	if err := d.results.SaveResult(ctx, &domain.JobResult{JobID: job.ID, Result: result, CreatedAt: now}); err != nil {
		logger.Error("Failed to save job result", slog.Any("error", err))
		return d.fail(ctx, job, fmt.Errorf("failed to save result: %w", err), false, logger)
	}

	if err := d.jobs.MarkCompleted(ctx, job.ID, now); err != nil {
		if errors.Is(err, domain.ErrClaimConflict) {
			logger.Warn("Job left processing before completion was recorded")
		} else {
			logger.Error("Failed to mark job completed", slog.Any("error", err))
		}
		metrics.JobsProcessed.WithLabelValues(string(job.Type), string(outcomeFailed)).Inc()
		return outcomeFailed
	}

	logger.Info("Job completed successfully")
	metrics.JobsProcessed.WithLabelValues(string(job.Type), string(outcomeSucceeded)).Inc()
	return outcomeSucceeded
}

// execute runs the handler under the job timeout with a heartbeat, turning
// panics into handler errors
func (d *Dispatcher) execute(ctx context.Context, job *domain.Job, handler Handler) (json.RawMessage, error) {
	jobCtx, cancel := context.WithTimeout(ctx, d.cfg.JobTimeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go d.sendJobHeartbeat(jobCtx, job.ID, heartbeatDone)
	defer close(heartbeatDone)

	type handlerResult struct {
		out json.RawMessage
		err error
	}
	done := make(chan handlerResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerResult{err: &domain.HandlerError{Type: job.Type, Err: fmt.Errorf("panic: %v", r)}}
			}
		}()
		out, err := handler.Handle(jobCtx, job.Payload)
		if err != nil {
			var hErr *domain.HandlerError
			if !errors.As(err, &hErr) {
				err = &domain.HandlerError{Type: job.Type, Err: err}
			}
		}
		done <- handlerResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-jobCtx.Done():
		cause := fmt.Errorf("job execution canceled: %w", jobCtx.Err())
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			cause = fmt.Errorf("job timed out after %s: %w", d.cfg.JobTimeout, jobCtx.Err())
		}
		return nil, &domain.HandlerError{Type: job.Type, Err: cause}
	}
}

// fail records a failed attempt. Permanent failures skip the retry policy.
func (d *Dispatcher) fail(ctx context.Context, job *domain.Job, cause error, permanent bool, logger *slog.Logger) outcome {
	now := d.now().UTC()
	errMsg := truncateError(cause.Error())
	attempts := job.Attempts + 1

	if !permanent && d.cfg.Retry.ShouldRetry(attempts) {
		runAt := now.Add(d.cfg.Retry.Backoff(attempts))
		if err := d.jobs.MarkRetry(ctx, job.ID, errMsg, runAt, now); err != nil {
			logger.Error("Failed to reschedule job", slog.Any("error", err))
		} else {
			logger.Info("Job rescheduled",
				slog.Int("attempts", attempts),
				slog.Int("max_attempts", d.cfg.Retry.MaxAttempts),
				slog.Time("run_at", runAt),
			)
		}
		metrics.JobsProcessed.WithLabelValues(string(job.Type), string(outcomeRetried)).Inc()
		return outcomeRetried
	}

	status, result := domain.JobStatusFailed, outcomeFailed
	if !permanent && d.cfg.Retry.Enabled() {
		status, result = domain.JobStatusDead, outcomeDead
	}

	if err := d.jobs.MarkFailed(ctx, job.ID, status, errMsg, now); err != nil {
		if errors.Is(err, domain.ErrClaimConflict) {
			logger.Warn("Job left processing before failure was recorded")
		} else {
			logger.Error("Failed to mark job failed", slog.Any("error", err))
		}
	}

	metrics.JobsProcessed.WithLabelValues(string(job.Type), string(result)).Inc()
	return result
}

// sendJobHeartbeat periodically updates the job's heartbeat timestamp
func (d *Dispatcher) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(d.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.jobs.TouchHeartbeat(ctx, jobID, d.now().UTC()); err != nil {
				d.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.Any("error", err),
				)
			}
		}
	}
}

// RecoverStale returns processing jobs whose heartbeat is older than
// threshold to pending. This is how jobs held by a crashed dispatcher run again.
func (d *Dispatcher) RecoverStale(ctx context.Context, threshold time.Duration) (int, error) {
	now := d.now().UTC()
	count, err := d.jobs.RecoverStale(ctx, now.Add(-threshold), now, staleLeaseError)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	if count > 0 {
		metrics.StaleRecovered.Add(float64(count))
		d.logger.Warn("Recovered stale jobs",
			slog.Int("count", count),
			slog.Duration("threshold", threshold),
		)
	}
	return count, nil
}

// Stats returns job counts per status and refreshes the queue depth gauge
func (d *Dispatcher) Stats(ctx context.Context) (*domain.QueueStats, error) {
	stats, err := d.jobs.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}

	metrics.QueueDepth.WithLabelValues(string(domain.JobStatusPending)).Set(float64(stats.Pending))
	metrics.QueueDepth.WithLabelValues(string(domain.JobStatusProcessing)).Set(float64(stats.Processing))
	metrics.QueueDepth.WithLabelValues(string(domain.JobStatusCompleted)).Set(float64(stats.Completed))
	metrics.QueueDepth.WithLabelValues(string(domain.JobStatusFailed)).Set(float64(stats.Failed))
	metrics.QueueDepth.WithLabelValues(string(domain.JobStatusDead)).Set(float64(stats.Dead))

	return stats, nil
}

func truncateError(msg string) string {
	if len(msg) <= maxErrorLength {
		return msg
	}
	return msg[:maxErrorLength-3] + "..."
}
