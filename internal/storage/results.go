package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
)

// SaveResult writes a job result. A second write for the same job is a no-op,
// so a redelivered job never overwrites the first result.
func (s *Storage) SaveResult(ctx context.Context, result *domain.JobResult) error {
	query := `
		INSERT INTO job_results (job_id, result, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_id) DO NOTHING
	`

	if _, err := s.db.ExecContext(ctx, query, result.JobID, string(result.Result), result.CreatedAt); err != nil {
		return fmt.Errorf("failed to save job result: %w", err)
	}
	return nil
}

// GetResult returns the stored result for a job
func (s *Storage) GetResult(ctx context.Context, jobID string) (*domain.JobResult, error) {
	var row struct {
		JobID     string    `db:"job_id"`
		Result    []byte    `db:"result"`
		CreatedAt time.Time `db:"created_at"`
	}

	query := `SELECT job_id, result, created_at FROM job_results WHERE job_id = $1`
	if err := s.db.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to get job result: %w", err)
	}

	return &domain.JobResult{
		JobID:     row.JobID,
		Result:    row.Result,
		CreatedAt: row.CreatedAt.UTC(),
	}, nil
}
