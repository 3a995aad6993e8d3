//go:build integration

package storage_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
	"github.com/cuongbtq/jobnex-queue/internal/storage"
	"github.com/cuongbtq/jobnex-queue/migrations"
)

func setupTestStorage(t *testing.T) (*storage.Storage, *sqlx.DB) {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("jobnex_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sqlx.Connect("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migrations.Up(ctx, db.DB))

	return storage.NewStorage(db, slog.Default()), db
}

func newJob(subscriberID string, scheduledFor time.Time) *domain.Job {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Job{
		ID:           uuid.NewString(),
		SubscriberID: subscriberID,
		Type:         domain.JobTypeScraping,
		Payload:      json.RawMessage(`{"platform":"indeed","keywords":["go"]}`),
		Status:       domain.JobStatusPending,
		ScheduledFor: scheduledFor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestStorage_JobLifecycle(t *testing.T) {
	s, _ := setupTestStorage(t)
	ctx := context.Background()
	subscriberID := uuid.NewString()
	now := time.Now().UTC()

	due := newJob(subscriberID, now.Add(-time.Minute))
	future := newJob(subscriberID, now.Add(time.Hour))
	require.NoError(t, s.CreateJob(ctx, due))
	require.NoError(t, s.CreateJob(ctx, future))

	claimed, err := s.ClaimJobs(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)
	assert.Equal(t, domain.JobStatusProcessing, claimed[0].Status)
	assert.JSONEq(t, string(due.Payload), string(claimed[0].Payload))

	require.NoError(t, s.SaveResult(ctx, &domain.JobResult{JobID: due.ID, Result: json.RawMessage(`{"count":1}`), CreatedAt: now}))
	require.NoError(t, s.SaveResult(ctx, &domain.JobResult{JobID: due.ID, Result: json.RawMessage(`{"count":2}`), CreatedAt: now}))
	require.NoError(t, s.MarkCompleted(ctx, due.ID, now))
	assert.ErrorIs(t, s.MarkCompleted(ctx, due.ID, now), domain.ErrClaimConflict)

	result, err := s.GetResult(ctx, due.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":1}`, string(result.Result))

	_, err = s.GetResult(ctx, future.ID)
	assert.ErrorIs(t, err, domain.ErrResultNotFound)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Pending)
}

func TestStorage_ConcurrentClaim(t *testing.T) {
	s, _ := setupTestStorage(t)
	ctx := context.Background()
	subscriberID := uuid.NewString()
	now := time.Now().UTC()

	const total = 20
	for i := 0; i < total; i++ {
		require.NoError(t, s.CreateJob(ctx, newJob(subscriberID, now.Add(-time.Second))))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := s.ClaimJobs(ctx, now, 3)
				if err != nil || len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, job := range jobs {
					seen[job.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}

func TestStorage_FailAndRecover(t *testing.T) {
	s, _ := setupTestStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()

	failing := newJob(uuid.NewString(), now.Add(-time.Second))
	stale := newJob(uuid.NewString(), now.Add(-time.Second))
	require.NoError(t, s.CreateJob(ctx, failing))
	require.NoError(t, s.CreateJob(ctx, stale))

	_, err := s.ClaimJobs(ctx, now.Add(-time.Millisecond), 10)
	require.NoError(t, err)

	require.NoError(t, s.MarkFailed(ctx, failing.ID, domain.JobStatusFailed, "boom", now))
	job, err := s.GetJob(ctx, failing.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "boom", job.LastError)

	recovered, err := s.RecoverStale(ctx, now.Add(time.Minute), now, "processing lease expired")
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	job, err = s.GetJob(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Nil(t, job.HeartbeatAt)
}

func TestStorage_IdempotencyKey(t *testing.T) {
	s, _ := setupTestStorage(t)
	ctx := context.Background()
	subscriberID := uuid.NewString()

	first := newJob(subscriberID, time.Now().UTC())
	first.IdempotencyKey = "abc"
	require.NoError(t, s.CreateJob(ctx, first))

	second := newJob(subscriberID, time.Now().UTC())
	second.IdempotencyKey = "abc"
	assert.ErrorIs(t, s.CreateJob(ctx, second), domain.ErrDuplicateJob)

	found, err := s.GetJobByIdempotencyKey(ctx, subscriberID, "abc")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
}

func TestStorage_ConsumeUsage(t *testing.T) {
	s, db := setupTestStorage(t)
	ctx := context.Background()
	subscriberID := uuid.NewString()

	_, err := db.ExecContext(ctx, `INSERT INTO subscribers (id, tier) VALUES ($1, 'trial')`, subscriberID)
	require.NoError(t, err)

	tier, err := s.GetSubscriberTier(ctx, subscriberID)
	require.NoError(t, err)
	assert.Equal(t, domain.TierTrial, tier)

	_, err = s.GetSubscriberTier(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrSubscriberNotFound)

	const limit = 5
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.ConsumeUsage(ctx, subscriberID, "2026-10", domain.ActionApplications, limit)
			if err == nil && ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, granted)
	used, err := s.GetUsage(ctx, subscriberID, "2026-10", domain.ActionApplications)
	require.NoError(t, err)
	assert.Equal(t, limit, used)

	require.NoError(t, s.ReleaseUsage(ctx, subscriberID, "2026-10", domain.ActionApplications))
	used, err = s.GetUsage(ctx, subscriberID, "2026-10", domain.ActionApplications)
	require.NoError(t, err)
	assert.Equal(t, limit-1, used)
}

func TestStorage_Embeddings(t *testing.T) {
	s, db := setupTestStorage(t)
	ctx := context.Background()
	subscriberID := uuid.NewString()

	_, err := s.GetProfileEmbedding(ctx, subscriberID)
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)

	require.NoError(t, s.SaveProfileEmbedding(ctx, &domain.ProfileEmbedding{
		SubscriberID: subscriberID,
		ProfileText:  "go developer",
		Embedding:    []float64{0.1, 0.2},
	}))

	profile, err := s.GetProfileEmbedding(ctx, subscriberID)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2}, profile.Embedding)

	_, err = db.ExecContext(ctx, `INSERT INTO posting_embeddings (posting_id, title, embedding) VALUES ('p1', 'Go Engineer', '{1,0}')`)
	require.NoError(t, err)

	postings, err := s.ListPostingEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, postings, 1)
	assert.Equal(t, []float64{1, 0}, postings[0].Embedding)
}
