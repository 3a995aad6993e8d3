package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
)

// CreateJob inserts a pending job. A repeated idempotency key for the same
// subscriber returns domain.ErrDuplicateJob.
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			id, subscriber_id, type, payload, status, scheduled_for,
			attempts, idempotency_key, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.SubscriberID,
		job.Type,
		string(job.Payload),
		job.Status,
		job.ScheduledFor,
		job.Attempts,
		nullString(job.IdempotencyKey),
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateJob
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by id
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var row jobRow
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	if err := s.db.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job := row.toDomain()
	return &job, nil
}

// GetJobByIdempotencyKey finds the job a subscriber created with key
func (s *Storage) GetJobByIdempotencyKey(ctx context.Context, subscriberID, key string) (*domain.Job, error) {
	var row jobRow
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE subscriber_id = $1 AND idempotency_key = $2`

	if err := s.db.GetContext(ctx, &row, query, subscriberID, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job by idempotency key: %w", err)
	}

	job := row.toDomain()
	return &job, nil
}

// ListJobs returns up to PageSize+1 jobs ordered by created_at DESC, id DESC.
// The extra row tells the caller whether another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.SubscriberID != "" {
		query += fmt.Sprintf(" AND subscriber_id = $%d", argIdx)
		args = append(args, filter.SubscriberID)
		argIdx++
	}

	if filter.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, filter.Type)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]domain.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toDomain())
	}
	return jobs, nil
}

// ClaimJobs atomically moves up to limit eligible pending jobs to processing.
// SKIP LOCKED lets concurrent dispatchers take disjoint batches and the
// status guard in the UPDATE keeps a job from being claimed twice.
func (s *Storage) ClaimJobs(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	query := `
		WITH claimable AS (
			SELECT id
			FROM jobs
			WHERE status = 'pending'
			  AND scheduled_for <= $1
			ORDER BY scheduled_for ASC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		UPDATE jobs j
		SET status = 'processing',
		    heartbeat_at = $1,
		    updated_at = $1
		FROM claimable c
		WHERE j.id = c.id
		  AND j.status = 'pending'
		RETURNING j.id, j.subscriber_id, j.type, j.payload, j.status, j.scheduled_for, j.attempts,
		          j.last_error, j.idempotency_key, j.heartbeat_at, j.created_at, j.updated_at
	`

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}

	jobs := make([]domain.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toDomain())
	}

	// RETURNING does not preserve the CTE order
	sortByEligibility(jobs)
	return jobs, nil
}

// MarkCompleted moves a processing job to completed
func (s *Storage) MarkCompleted(ctx context.Context, jobID string, now time.Time) error {
	query := `
		UPDATE jobs
		SET status = 'completed',
		    heartbeat_at = NULL,
		    updated_at = $2
		WHERE id = $1 AND status = 'processing'
	`
	return s.transition(ctx, "complete", jobID, query, jobID, now)
}

// MarkFailed records a failed attempt and moves the job to status (failed or dead)
func (s *Storage) MarkFailed(ctx context.Context, jobID string, status domain.JobStatus, errMsg string, now time.Time) error {
	query := `
		UPDATE jobs
		SET status = $2,
		    attempts = attempts + 1,
		    last_error = $3,
		    heartbeat_at = NULL,
		    updated_at = $4
		WHERE id = $1 AND status = 'processing'
	`
	return s.transition(ctx, "fail", jobID, query, jobID, status, errMsg, now)
}

// MarkRetry records a failed attempt and reschedules the job at runAt
func (s *Storage) MarkRetry(ctx context.Context, jobID string, errMsg string, runAt, now time.Time) error {
	query := `
		UPDATE jobs
		SET status = 'pending',
		    attempts = attempts + 1,
		    last_error = $2,
		    scheduled_for = $3,
		    heartbeat_at = NULL,
		    updated_at = $4
		WHERE id = $1 AND status = 'processing'
	`
	return s.transition(ctx, "retry", jobID, query, jobID, errMsg, runAt, now)
}

// TouchHeartbeat updates heartbeat_at for a processing job
func (s *Storage) TouchHeartbeat(ctx context.Context, jobID string, now time.Time) error {
	query := `UPDATE jobs SET heartbeat_at = $2 WHERE id = $1 AND status = 'processing'`
	return s.transition(ctx, "heartbeat", jobID, query, jobID, now)
}

func (s *Storage) transition(ctx context.Context, op, jobID, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s job: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job transition skipped - job is no longer processing",
			slog.String("job_id", jobID),
			slog.String("op", op),
		)
		return domain.ErrClaimConflict
	}
	return nil
}

// RecoverStale returns processing jobs whose heartbeat is older than
// staleBefore to pending, counting the lost run as an attempt.
func (s *Storage) RecoverStale(ctx context.Context, staleBefore, now time.Time, errMsg string) (int, error) {
	query := `
		UPDATE jobs
		SET status = 'pending',
		    attempts = attempts + 1,
		    last_error = $3,
		    scheduled_for = $2,
		    heartbeat_at = NULL,
		    updated_at = $2
		WHERE status = 'processing'
		  AND (heartbeat_at IS NULL OR heartbeat_at < $1)
	`

	result, err := s.db.ExecContext(ctx, query, staleBefore, now, errMsg)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale jobs: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(count), nil
}

// Stats returns job counts per status
func (s *Storage) Stats(ctx context.Context) (*domain.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending')    AS pending,
			COUNT(*) FILTER (WHERE status = 'processing') AS processing,
			COUNT(*) FILTER (WHERE status = 'completed')  AS completed,
			COUNT(*) FILTER (WHERE status = 'failed')     AS failed,
			COUNT(*) FILTER (WHERE status = 'dead')       AS dead
		FROM jobs
	`

	var stats domain.QueueStats
	if err := s.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	return &stats, nil
}
