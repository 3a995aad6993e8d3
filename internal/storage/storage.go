// Package storage implements the job, result, usage and embedding stores on
// PostgreSQL through sqlx.
package storage

import (
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Storage handles all database operations for the queue engine
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// jobRow mirrors the jobs table. Payload is scanned into a fresh byte slice
// so it never aliases the driver buffer.
type jobRow struct {
	ID             string         `db:"id"`
	SubscriberID   string         `db:"subscriber_id"`
	Type           string         `db:"type"`
	Payload        []byte         `db:"payload"`
	Status         string         `db:"status"`
	ScheduledFor   time.Time      `db:"scheduled_for"`
	Attempts       int            `db:"attempts"`
	LastError      sql.NullString `db:"last_error"`
	IdempotencyKey sql.NullString `db:"idempotency_key"`
	HeartbeatAt    sql.NullTime   `db:"heartbeat_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

const jobColumns = `id, subscriber_id, type, payload, status, scheduled_for, attempts,
	last_error, idempotency_key, heartbeat_at, created_at, updated_at`

func (r jobRow) toDomain() domain.Job {
	job := domain.Job{
		ID:             r.ID,
		SubscriberID:   r.SubscriberID,
		Type:           domain.JobType(r.Type),
		Payload:        r.Payload,
		Status:         domain.JobStatus(r.Status),
		ScheduledFor:   r.ScheduledFor.UTC(),
		Attempts:       r.Attempts,
		LastError:      r.LastError.String,
		IdempotencyKey: r.IdempotencyKey.String,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if r.HeartbeatAt.Valid {
		heartbeat := r.HeartbeatAt.Time.UTC()
		job.HeartbeatAt = &heartbeat
	}
	return job
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
