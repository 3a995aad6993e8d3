package domain

import "time"

// WakeupMessage is published after an enqueue so idle dispatchers run early.
// It carries no job state; the database remains authoritative.
type WakeupMessage struct {
	JobID        string    `json:"job_id"`
	Type         JobType   `json:"type"`
	ScheduledFor time.Time `json:"scheduled_for"`
}
