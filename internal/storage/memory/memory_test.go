package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
)

func pendingJob(id string, now time.Time) *domain.Job {
	return &domain.Job{
		ID:           id,
		SubscriberID: "7b0c1a36-2f55-4c4e-8f43-1c8a6a0f3b11",
		Type:         domain.JobTypeScraping,
		Payload:      json.RawMessage(`{}`),
		Status:       domain.JobStatusPending,
		ScheduledFor: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestStore_TerminalTransitionsClearHeartbeat(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		transition func(s *Store, jobID string) error
		wantStatus domain.JobStatus
	}{
		{
			name: "completed",
			transition: func(s *Store, jobID string) error {
				return s.MarkCompleted(ctx, jobID, now)
			},
			wantStatus: domain.JobStatusCompleted,
		},
		{
			name: "failed",
			transition: func(s *Store, jobID string) error {
				return s.MarkFailed(ctx, jobID, domain.JobStatusFailed, "boom", now)
			},
			wantStatus: domain.JobStatusFailed,
		},
		{
			name: "dead",
			transition: func(s *Store, jobID string) error {
				return s.MarkFailed(ctx, jobID, domain.JobStatusDead, "boom", now)
			},
			wantStatus: domain.JobStatusDead,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			require.NoError(t, s.CreateJob(ctx, pendingJob("job-1", now)))

			claimed, err := s.ClaimJobs(ctx, now, 1)
			require.NoError(t, err)
			require.Len(t, claimed, 1)
			require.NotNil(t, claimed[0].HeartbeatAt)

			require.NoError(t, tt.transition(s, "job-1"))

			job, err := s.GetJob(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, job.Status)
			assert.Nil(t, job.HeartbeatAt)
		})
	}
}

func TestStore_ResultIsCopiedOnRead(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.SaveResult(ctx, &domain.JobResult{
		JobID:  "job-1",
		Result: json.RawMessage(`{"count":1}`),
	}))

	first, err := s.GetResult(ctx, "job-1")
	require.NoError(t, err)
	first.Result[2] = 'X'

	second, err := s.GetResult(ctx, "job-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":1}`, string(second.Result))
}
