// Package queue implements the enqueue side of the job engine: validation,
// quota gating, persistence and wake-up notification, plus result retrieval,
// listing and requeue for job owners.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
	"github.com/cuongbtq/jobnex-queue/internal/metrics"
	"github.com/cuongbtq/jobnex-queue/internal/usage"
)

const maxIdempotencyKeyLength = 255

// Listing page sizes
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// JobStore is the part of the queue store the enqueuer needs
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	GetJobByIdempotencyKey(ctx context.Context, subscriberID, key string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error)
}

// ResultStore reads job results
type ResultStore interface {
	GetResult(ctx context.Context, jobID string) (*domain.JobResult, error)
}

// Limiter gates enqueues by quota
type Limiter interface {
	CheckAndConsume(ctx context.Context, subscriberID string, action domain.Action, mode usage.Mode) (domain.UsageDecision, error)
	Release(ctx context.Context, subscriberID string, action domain.Action) error
}

// Notifier wakes dispatchers after a job becomes eligible
type Notifier interface {
	Notify(ctx context.Context, msg domain.WakeupMessage) error
}

// EnqueueRequest is the input of Enqueue
type EnqueueRequest struct {
	SubscriberID   string
	Type           domain.JobType
	Payload        json.RawMessage
	ScheduledFor   *time.Time
	IdempotencyKey string
}

// EnqueueResult is the output of Enqueue
type EnqueueResult struct {
	JobID string
	// Duplicate is true when an existing job was returned for the idempotency key
	Duplicate bool
	// Usage is the limiter decision, nil for ungated types and duplicates
	Usage *domain.UsageDecision
}

// ResultView is what a job owner sees when polling a job
type ResultView struct {
	Status domain.JobStatus
	Result json.RawMessage
	Error  string
}

// JobPage is one page of a job listing
type JobPage struct {
	Jobs []domain.Job
	Next *domain.JobCursor
}

// Service is the enqueuer and the read side of the queue
type Service struct {
	jobs     JobStore
	results  ResultStore
	limiter  Limiter
	notifier  Notifier
	platforms map[string]struct{}
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the clock
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNotifier sets the wake-up notifier
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithPlatforms restricts scraping jobs to the named platforms. Without it any
// platform name is accepted and unsupported ones fail at dispatch.
func WithPlatforms(names ...string) Option {
	return func(s *Service) {
		if len(names) == 0 {
			return
		}
		s.platforms = make(map[string]struct{}, len(names))
		for _, n := range names {
			s.platforms[n] = struct{}{}
		}
	}
}

// NewService creates a new Service
func NewService(jobs JobStore, results ResultStore, limiter Limiter, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		jobs:    jobs,
		results: results,
		limiter: limiter,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue validates the request, applies the usage limiter and persists a
// pending job. No job row exists when validation or the quota check fails.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.jobs.GetJobByIdempotencyKey(ctx, req.SubscriberID, req.IdempotencyKey)
		switch {
		case err == nil:
			s.logger.Info("Duplicate enqueue - returning existing job",
				slog.String("job_id", existing.ID),
				slog.String("idempotency_key", req.IdempotencyKey),
			)
			return &EnqueueResult{JobID: existing.ID, Duplicate: true}, nil
		case !errors.Is(err, domain.ErrJobNotFound):
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
	}

	action, gated := domain.ActionFor(req.Type)
	var decision *domain.UsageDecision
	if gated {
		d, err := s.limiter.CheckAndConsume(ctx, req.SubscriberID, action, usage.ModeConsume)
		if err != nil {
			return nil, err
		}
		if !d.Allowed {
			return nil, &domain.QuotaError{Action: action, Decision: d}
		}
		decision = &d
	}

	now := s.now().UTC()
	scheduledFor := now
	if req.ScheduledFor != nil && req.ScheduledFor.After(now) {
		scheduledFor = req.ScheduledFor.UTC()
	}

	job := &domain.Job{
		ID:             uuid.NewString(),
		SubscriberID:   req.SubscriberID,
		Type:           req.Type,
		Payload:        req.Payload,
		Status:         domain.JobStatusPending,
		ScheduledFor:   scheduledFor,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		if gated {
			s.release(ctx, req.SubscriberID, action)
		}
		if errors.Is(err, domain.ErrDuplicateJob) {
			existing, lookupErr := s.jobs.GetJobByIdempotencyKey(ctx, req.SubscriberID, req.IdempotencyKey)
			if lookupErr == nil {
				return &EnqueueResult{JobID: existing.ID, Duplicate: true}, nil
			}
		}
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	metrics.JobsEnqueued.WithLabelValues(string(job.Type)).Inc()
	s.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("type", string(job.Type)),
		slog.String("subscriber_id", job.SubscriberID),
		slog.Time("scheduled_for", job.ScheduledFor),
	)

	if s.notifier != nil && !job.ScheduledFor.After(now) {
		msg := domain.WakeupMessage{JobID: job.ID, Type: job.Type, ScheduledFor: job.ScheduledFor}
		if err := s.notifier.Notify(ctx, msg); err != nil {
			s.logger.Warn("Failed to publish wake-up - job will be picked up by the next scheduled run",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
		}
	}

	return &EnqueueResult{JobID: job.ID, Usage: decision}, nil
}

func (s *Service) release(ctx context.Context, subscriberID string, action domain.Action) {
	if err := s.limiter.Release(ctx, subscriberID, action); err != nil {
		s.logger.Error("Failed to release usage after insert failure",
			slog.String("subscriber_id", subscriberID),
			slog.String("action", string(action)),
			slog.Any("error", err),
		)
	}
}

func (s *Service) validate(req EnqueueRequest) error {
	if _, err := uuid.Parse(req.SubscriberID); err != nil {
		return domain.NewValidationError("subscriber_id", "must be a valid UUID")
	}
	if req.Type == "" {
		return domain.NewValidationError("type", "is required")
	}
	if !req.Type.Valid() {
		return domain.NewValidationError("type", "must match ^[a-z][a-z0-9_-]{0,63}$")
	}
	if !domain.IsJSONObject(req.Payload) {
		return domain.NewValidationError("payload", "must be a JSON object")
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLength {
		return domain.NewValidationError("idempotency_key", "must be at most 255 characters")
	}

	// Unknown types are accepted here and fail at dispatch
	if !req.Type.Known() {
		return nil
	}

	payload, err := domain.DecodePayload(req.Type, req.Payload)
	if err != nil {
		return err
	}
	if err := domain.CheckOwner(payload, req.SubscriberID); err != nil {
		return err
	}
	if p, ok := payload.(domain.ScrapingPayload); ok && s.platforms != nil {
		if _, supported := s.platforms[p.Platform]; !supported {
			return domain.NewValidationError("payload.platform", fmt.Sprintf("unsupported platform %q", p.Platform))
		}
	}
	return nil
}

// GetJob returns a job owned by subscriberID
func (s *Service) GetJob(ctx context.Context, jobID, subscriberID string) (*domain.Job, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	// Foreign jobs are indistinguishable from missing ones
	if job.SubscriberID != subscriberID {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

// GetResult returns the status of a job and, once terminal, its result or error
func (s *Service) GetResult(ctx context.Context, jobID, subscriberID string) (*ResultView, error) {
	job, err := s.GetJob(ctx, jobID, subscriberID)
	if err != nil {
		return nil, err
	}

	view := &ResultView{Status: job.Status}
	switch job.Status {
	case domain.JobStatusCompleted:
		result, err := s.results.GetResult(ctx, jobID)
		if err != nil {
			if errors.Is(err, domain.ErrResultNotFound) {
				return view, nil
			}
			return nil, fmt.Errorf("failed to get job result: %w", err)
		}
		view.Result = result.Result
	case domain.JobStatusFailed, domain.JobStatusDead:
		view.Error = job.LastError
	}
	return view, nil
}

// ListJobs returns one page of the subscriber's jobs, newest first
func (s *Service) ListJobs(ctx context.Context, filter domain.JobFilter) (*JobPage, error) {
	switch {
	case filter.PageSize <= 0:
		filter.PageSize = DefaultPageSize
	case filter.PageSize > MaxPageSize:
		filter.PageSize = MaxPageSize
	}

	jobs, err := s.jobs.ListJobs(ctx, filter)
	if err != nil {
		return nil, err
	}

	page := &JobPage{Jobs: jobs}
	if len(jobs) > filter.PageSize {
		page.Jobs = jobs[:filter.PageSize]
		last := page.Jobs[len(page.Jobs)-1]
		page.Next = &domain.JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID}
	}
	return page, nil
}

// Requeue creates a new pending job with the type and payload of a failed or
// dead job. The original job keeps its terminal status and the new job goes
// through the usage limiter like any other enqueue.
func (s *Service) Requeue(ctx context.Context, jobID, subscriberID string) (*EnqueueResult, error) {
	job, err := s.GetJob(ctx, jobID, subscriberID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusFailed && job.Status != domain.JobStatusDead {
		return nil, domain.ErrNotRequeueable
	}

	return s.Enqueue(ctx, EnqueueRequest{
		SubscriberID: subscriberID,
		Type:         job.Type,
		Payload:      job.Payload,
	})
}

// Usage previews the subscriber's quota for action without consuming it
func (s *Service) Usage(ctx context.Context, subscriberID string, action domain.Action) (domain.UsageDecision, error) {
	return s.limiter.CheckAndConsume(ctx, subscriberID, action, usage.ModePreview)
}
