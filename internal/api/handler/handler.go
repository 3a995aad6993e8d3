package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
	"github.com/cuongbtq/jobnex-queue/internal/queue"
	"github.com/cuongbtq/jobnex-queue/internal/worker"
)

// QueueService is the enqueue and read side used by the job endpoints
type QueueService interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (*queue.EnqueueResult, error)
	GetJob(ctx context.Context, jobID, subscriberID string) (*domain.Job, error)
	GetResult(ctx context.Context, jobID, subscriberID string) (*queue.ResultView, error)
	ListJobs(ctx context.Context, filter domain.JobFilter) (*queue.JobPage, error)
	Requeue(ctx context.Context, jobID, subscriberID string) (*queue.EnqueueResult, error)
	Usage(ctx context.Context, subscriberID string, action domain.Action) (domain.UsageDecision, error)
}

// Dispatcher runs one dispatch pass on demand
type Dispatcher interface {
	RunOnce(ctx context.Context, batchSize int) (worker.Summary, error)
	RecoverStale(ctx context.Context, threshold time.Duration) (int, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger     *slog.Logger
	Queue      QueueService
	Dispatcher Dispatcher
	// DispatchToken must be presented on /internal/dispatch. The route is not
	// mounted when it is empty.
	DispatchToken string
	// StaleThreshold, when positive, makes every dispatch call recover jobs
	// whose heartbeat is older than it before claiming
	StaleThreshold time.Duration
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	queue  QueueService
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		queue:  deps.Queue,
	}
}

// DispatchHandler exposes the dispatcher to an external scheduler
type DispatchHandler struct {
	logger         *slog.Logger
	dispatcher     Dispatcher
	staleThreshold time.Duration
}

// NewDispatchHandler creates a new DispatchHandler instance
func NewDispatchHandler(deps *Dependencies) *DispatchHandler {
	return &DispatchHandler{
		logger:         deps.Logger,
		dispatcher:     deps.Dispatcher,
		staleThreshold: deps.StaleThreshold,
	}
}
