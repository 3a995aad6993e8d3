package domain

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a job
type JobStatus string

// Job status constants
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	// JobStatusDead is only reached when the retry policy is enabled and attempts are exhausted
	JobStatusDead JobStatus = "dead"
)

// IsTerminal reports whether no further transition happens without a requeue
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusDead:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusDead:
		return true
	default:
		return false
	}
}

// Job represents a unit of deferred work
type Job struct {
	ID             string
	SubscriberID   string
	Type           JobType
	Payload        json.RawMessage
	Status         JobStatus
	ScheduledFor   time.Time
	Attempts       int
	LastError      string
	IdempotencyKey string
	HeartbeatAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobResult is the durable output of a successfully completed job
type JobResult struct {
	JobID     string
	Result    json.RawMessage
	CreatedAt time.Time
}

// JobFilter narrows a job listing for one subscriber
type JobFilter struct {
	SubscriberID string
	Type         JobType
	Status       JobStatus
	PageSize     int
	Cursor       *JobCursor
}

// JobCursor is the keyset position used for pagination
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// QueueStats holds job counts per status
type QueueStats struct {
	Pending    int64 `json:"pending" db:"pending"`
	Processing int64 `json:"processing" db:"processing"`
	Completed  int64 `json:"completed" db:"completed"`
	Failed     int64 `json:"failed" db:"failed"`
	Dead       int64 `json:"dead" db:"dead"`
}
