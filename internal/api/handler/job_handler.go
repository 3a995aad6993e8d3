package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/jobnex-queue/internal/api/dto"
	"github.com/cuongbtq/jobnex-queue/internal/domain"
	"github.com/cuongbtq/jobnex-queue/internal/queue"
)

// SubscriberIDKey is the gin context key holding the caller's subscriber id
const SubscriberIDKey = "subscriber_id"

func subscriberID(c *gin.Context) string {
	return c.GetString(SubscriberIDKey)
}

// jobIDParam validates the :job_id path parameter and writes a 400 when it is not a UUID
func jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "job_id must be a valid UUID", Field: "job_id"})
		return "", false
	}
	return jobID, true
}

// CreateJob handles POST /api/v1/jobs
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.EnqueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	result, err := h.queue.Enqueue(c.Request.Context(), queue.EnqueueRequest{
		SubscriberID:   subscriberID(c),
		Type:           domain.JobType(req.Type),
		Payload:        req.Payload,
		ScheduledFor:   req.ScheduledFor,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	resp := dto.EnqueueJobResponse{JobID: result.JobID, Duplicate: result.Duplicate}
	if result.Usage != nil {
		action, _ := domain.ActionFor(domain.JobType(req.Type))
		usage := toUsageResponse(action, *result.Usage)
		resp.Usage = &usage
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.queue.GetJob(c.Request.Context(), jobID, subscriberID(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

// GetJobResult handles GET /api/v1/jobs/:job_id/result
func (h *JobHandler) GetJobResult(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	view, err := h.queue.GetResult(c.Request.Context(), jobID, subscriberID(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.JobResultResponse{
		JobID:  jobID,
		Status: string(view.Status),
		Result: view.Result,
		Error:  view.Error,
	})
}

// ListJobs handles GET /api/v1/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	if req.Status != "" && !domain.JobStatus(req.Status).Valid() {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid status", Field: "status"})
		return
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid cursor", Field: "cursor"})
		return
	}

	page, err := h.queue.ListJobs(c.Request.Context(), domain.JobFilter{
		SubscriberID: subscriberID(c),
		Type:         domain.JobType(req.Type),
		Status:       domain.JobStatus(req.Status),
		PageSize:     req.PageSize,
		Cursor:       cursor,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(page.Jobs))}
	for i := range page.Jobs {
		resp.Jobs[i] = toJobDTO(&page.Jobs[i])
	}
	if page.Next != nil {
		resp.NextCursor = EncodeJobCursor(page.Next)
	}

	c.JSON(http.StatusOK, resp)
}

// RequeueJob handles POST /api/v1/jobs/:job_id/requeue
func (h *JobHandler) RequeueJob(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	result, err := h.queue.Requeue(c.Request.Context(), jobID, subscriberID(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.logger.Info("Job requeued",
		slog.String("job_id", jobID),
		slog.String("new_job_id", result.JobID),
	)

	c.JSON(http.StatusCreated, dto.EnqueueJobResponse{JobID: result.JobID})
}

// GetUsage handles GET /api/v1/usage/:action
func (h *JobHandler) GetUsage(c *gin.Context) {
	action := domain.Action(c.Param("action"))

	decision, err := h.queue.Usage(c.Request.Context(), subscriberID(c), action)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, toUsageResponse(action, decision))
}

func toJobDTO(job *domain.Job) dto.JobDTO {
	return dto.JobDTO{
		JobID:          job.ID,
		Type:           string(job.Type),
		Payload:        job.Payload,
		Status:         string(job.Status),
		ScheduledFor:   job.ScheduledFor.UTC().Format(time.RFC3339),
		Attempts:       job.Attempts,
		LastError:      job.LastError,
		IdempotencyKey: job.IdempotencyKey,
		CreatedAt:      job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      job.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
