package dto

import (
	"encoding/json"
	"time"
)

type EnqueueJobRequest struct {
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	ScheduledFor   *time.Time      `json:"scheduled_for,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type EnqueueJobResponse struct {
	JobID     string         `json:"job_id"`
	Duplicate bool           `json:"duplicate,omitempty"`
	Usage     *UsageResponse `json:"usage,omitempty"`
}

type ListJobsRequest struct {
	Type     string `form:"type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID          string          `json:"job_id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	Status         string          `json:"status"`
	ScheduledFor   string          `json:"scheduled_for"`
	Attempts       int             `json:"attempts"`
	LastError      string          `json:"last_error,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

type JobResultResponse struct {
	JobID  string          `json:"job_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type UsageResponse struct {
	Action       string `json:"action,omitempty"`
	Allowed      bool   `json:"allowed"`
	CurrentUsage int    `json:"current_usage"`
	Limit        int    `json:"limit"`
	Remaining    int    `json:"remaining"`
}

type DispatchRequest struct {
	BatchSize int `json:"batch_size"`
}

type DispatchResponse struct {
	ProcessedCount int `json:"processed_count"`
	Succeeded      int `json:"succeeded"`
	Failed         int `json:"failed"`
	Retried        int `json:"retried"`
}

type ErrorResponse struct {
	Error string         `json:"error"`
	Field string         `json:"field,omitempty"`
	Usage *UsageResponse `json:"usage,omitempty"`
}
