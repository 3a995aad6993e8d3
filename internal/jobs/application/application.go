// Package application implements the application job handler: it submits one
// job application and guards against submitting the same one twice when a job
// is delivered more than once.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
)

// Statuses reported in Result
const (
	StatusSubmitted = "submitted"
	StatusDuplicate = "duplicate"
)

// Guard is a cross-process "already submitted" marker
type Guard interface {
	// Acquire sets key if absent and reports whether this caller set it
	Acquire(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Get returns the value stored under key, or "" if absent
	Get(ctx context.Context, key string) (string, error)
	// Set overwrites the value under key
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Release deletes key
	Release(ctx context.Context, key string) error
}

// Submission is the submitter's acknowledgement
type Submission struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
}

// Submitter sends an application to the submission service
type Submitter interface {
	Submit(ctx context.Context, payload domain.ApplicationPayload) (*Submission, error)
}

// Result is the output of an application job
type Result struct {
	PostingID    string `json:"posting_id"`
	SubmissionID string `json:"submission_id,omitempty"`
	Status       string `json:"status"`
}

// Handler submits applications
type Handler struct {
	guard     Guard
	submitter Submitter
	guardTTL  time.Duration
	logger    *slog.Logger
}

// NewHandler creates a new application Handler
func NewHandler(guard Guard, submitter Submitter, guardTTL time.Duration, logger *slog.Logger) *Handler {
	if guardTTL <= 0 {
		guardTTL = 30 * 24 * time.Hour
	}
	return &Handler{guard: guard, submitter: submitter, guardTTL: guardTTL, logger: logger}
}

func guardKey(p domain.ApplicationPayload) string {
	return fmt.Sprintf("jobnex:application:%s:%s", p.SubscriberID, p.PostingID)
}

const pendingMarker = "pending"

// Apply submits the application unless an earlier delivery already did
func (h *Handler) Apply(ctx context.Context, payload domain.ApplicationPayload) (*Result, error) {
	key := guardKey(payload)

	acquired, err := h.guard.Acquire(ctx, key, pendingMarker, h.guardTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire submission guard: %w", err)
	}

	if !acquired {
		existing, err := h.guard.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read submission guard: %w", err)
		}
		h.logger.Info("Application already submitted - skipping",
			slog.String("posting_id", payload.PostingID),
			slog.String("subscriber_id", payload.SubscriberID),
		)
		result := &Result{PostingID: payload.PostingID, Status: StatusDuplicate}
		if existing != pendingMarker {
			result.SubmissionID = existing
		}
		return result, nil
	}

	submission, err := h.submitter.Submit(ctx, payload)
	if err != nil {
		if relErr := h.guard.Release(context.WithoutCancel(ctx), key); relErr != nil {
			h.logger.Error("Failed to release submission guard",
				slog.String("key", key),
				slog.Any("error", relErr),
			)
		}
		return nil, fmt.Errorf("failed to submit application: %w", err)
	}

	if err := h.guard.Set(ctx, key, submission.SubmissionID, h.guardTTL); err != nil {
		h.logger.Warn("Failed to record submission id in guard",
			slog.String("key", key),
			slog.Any("error", err),
		)
	}

	status := submission.Status
	if status == "" {
		status = StatusSubmitted
	}

	h.logger.Info("Application submitted",
		slog.String("posting_id", payload.PostingID),
		slog.String("submission_id", submission.SubmissionID),
	)

	return &Result{
		PostingID:    payload.PostingID,
		SubmissionID: submission.SubmissionID,
		Status:       status,
	}, nil
}
