package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
	"github.com/cuongbtq/jobnex-queue/internal/storage/memory"
	"github.com/cuongbtq/jobnex-queue/internal/usage"
)

const (
	subscriberID = "7b0c1a36-2f55-4c4e-8f43-1c8a6a0f3b11"
	otherID      = "0f8e9a1c-5c3b-4b6a-9a52-6f0c2a8d7e44"
)

var fixedNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []domain.WakeupMessage
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, msg domain.WakeupMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return n.err
}

type failingCreateStore struct {
	*memory.Store
}

func (f failingCreateStore) CreateJob(context.Context, *domain.Job) error {
	return errors.New("connection reset")
}

type fixture struct {
	service  *Service
	store    *memory.Store
	notifier *recordingNotifier
}

func newFixture(t *testing.T, tier domain.Tier) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return fixedNow }

	store := memory.New()
	store.PutSubscriber(subscriberID, tier)
	store.PutSubscriber(otherID, tier)

	limiter := usage.NewLimiter(store, nil, logger, usage.WithClock(clock))
	notifier := &recordingNotifier{}
	service := NewService(store, store, limiter, logger, WithClock(clock), WithNotifier(notifier))

	return &fixture{service: service, store: store, notifier: notifier}
}

func applicationPayload() json.RawMessage {
	return json.RawMessage(`{"subscriber_id":"` + subscriberID + `","posting_id":"p-1"}`)
}

func TestService_Enqueue(t *testing.T) {
	f := newFixture(t, domain.TierTrial)
	ctx := context.Background()

	res, err := f.service.Enqueue(ctx, EnqueueRequest{
		SubscriberID: subscriberID,
		Type:         domain.JobTypeApplication,
		Payload:      applicationPayload(),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 1, res.Usage.CurrentUsage)

	job, err := f.store.GetJob(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, fixedNow, job.ScheduledFor)
	assert.Equal(t, 0, job.Attempts)

	require.Len(t, f.notifier.messages, 1)
	assert.Equal(t, res.JobID, f.notifier.messages[0].JobID)
}

func TestService_EnqueueValidation(t *testing.T) {
	tests := []struct {
		name  string
		req   EnqueueRequest
		field string
	}{
		{
			name:  "missing type",
			req:   EnqueueRequest{SubscriberID: subscriberID, Payload: json.RawMessage(`{}`)},
			field: "type",
		},
		{
			name:  "malformed type",
			req:   EnqueueRequest{SubscriberID: subscriberID, Type: "Bad Type", Payload: json.RawMessage(`{}`)},
			field: "type",
		},
		{
			name:  "payload not an object",
			req:   EnqueueRequest{SubscriberID: subscriberID, Type: domain.JobTypeScraping, Payload: json.RawMessage(`[1]`)},
			field: "payload",
		},
		{
			name:  "invalid subscriber",
			req:   EnqueueRequest{SubscriberID: "nope", Type: domain.JobTypeScraping, Payload: json.RawMessage(`{}`)},
			field: "subscriber_id",
		},
		{
			name: "typed payload rejected",
			req: EnqueueRequest{
				SubscriberID: subscriberID,
				Type:         domain.JobTypeApplication,
				Payload:      json.RawMessage(`{"subscriber_id":"` + subscriberID + `"}`),
			},
			field: "payload.posting_id",
		},
		{
			name: "application on behalf of another subscriber",
			req: EnqueueRequest{
				SubscriberID: subscriberID,
				Type:         domain.JobTypeApplication,
				Payload:      json.RawMessage(`{"subscriber_id":"` + otherID + `","posting_id":"p-1"}`),
			},
			field: "payload.subscriber_id",
		},
		{
			name: "matching on behalf of another subscriber",
			req: EnqueueRequest{
				SubscriberID: subscriberID,
				Type:         domain.JobTypeMatching,
				Payload:      json.RawMessage(`{"subscriber_id":"` + otherID + `"}`),
			},
			field: "payload.subscriber_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, domain.TierTrial)

			_, err := f.service.Enqueue(context.Background(), tt.req)

			var vErr *domain.ValidationError
			require.True(t, errors.As(err, &vErr), "got %v", err)
			assert.Equal(t, tt.field, vErr.Field)

			stats, err := f.store.Stats(context.Background())
			require.NoError(t, err)
			assert.Zero(t, stats.Pending)
		})
	}
}

func TestService_EnqueueForeignSubscriberIsNotCharged(t *testing.T) {
	f := newFixture(t, domain.TierTrial)
	ctx := context.Background()

	_, err := f.service.Enqueue(ctx, EnqueueRequest{
		SubscriberID: subscriberID,
		Type:         domain.JobTypeApplication,
		Payload:      json.RawMessage(`{"subscriber_id":"` + otherID + `","posting_id":"p-1"}`),
	})
	require.Error(t, err)

	for _, id := range []string{subscriberID, otherID} {
		decision, err := f.service.Usage(ctx, id, domain.ActionApplications)
		require.NoError(t, err)
		assert.Equal(t, 0, decision.CurrentUsage, id)
	}
}

func TestService_EnqueueScrapingPlatform(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	store.PutSubscriber(subscriberID, domain.TierFree)
	limiter := usage.NewLimiter(store, nil, logger, usage.WithClock(func() time.Time { return fixedNow }))
	service := NewService(store, store, limiter, logger, WithPlatforms("indeed", "linkedin"))
	ctx := context.Background()

	tests := []struct {
		name     string
		platform string
		wantErr  bool
	}{
		{name: "configured platform", platform: "indeed"},
		{name: "unsupported platform", platform: "monster", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, err := service.Usage(ctx, subscriberID, domain.ActionSearches)
			require.NoError(t, err)

			_, err = service.Enqueue(ctx, EnqueueRequest{
				SubscriberID: subscriberID,
				Type:         domain.JobTypeScraping,
				Payload:      json.RawMessage(`{"platform":"` + tt.platform + `","keywords":["go"]}`),
			})

			after, usageErr := service.Usage(ctx, subscriberID, domain.ActionSearches)
			require.NoError(t, usageErr)

			if tt.wantErr {
				var vErr *domain.ValidationError
				require.True(t, errors.As(err, &vErr), "got %v", err)
				assert.Equal(t, "payload.platform", vErr.Field)
				assert.Equal(t, before.CurrentUsage, after.CurrentUsage, "no quota consumed")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, before.CurrentUsage+1, after.CurrentUsage)
		})
	}
}

func TestService_EnqueueQuotaExceeded(t *testing.T) {
	f := newFixture(t, domain.TierTrial)
	ctx := context.Background()
	f.store.SetUsage(subscriberID, usage.Period(fixedNow), domain.ActionApplications, 5)

	_, err := f.service.Enqueue(ctx, EnqueueRequest{
		SubscriberID: subscriberID,
		Type:         domain.JobTypeApplication,
		Payload:      applicationPayload(),
	})

	require.ErrorIs(t, err, domain.ErrQuotaExceeded)
	var qErr *domain.QuotaError
	require.True(t, errors.As(err, &qErr))
	assert.Equal(t, 5, qErr.Decision.Limit)
	assert.Equal(t, 5, qErr.Decision.CurrentUsage)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
	assert.Empty(t, f.notifier.messages)
}

func TestService_EnqueueUnknownTypeIsAccepted(t *testing.T) {
	f := newFixture(t, domain.TierFree)

	res, err := f.service.Enqueue(context.Background(), EnqueueRequest{
		SubscriberID: subscriberID,
		Type:         "unknown-type",
		Payload:      json.RawMessage(`{"anything":true}`),
	})
	require.NoError(t, err)
	assert.Nil(t, res.Usage)
}

func TestService_EnqueueScheduledInFuture(t *testing.T) {
	f := newFixture(t, domain.TierPro)
	later := fixedNow.Add(time.Hour)

	res, err := f.service.Enqueue(context.Background(), EnqueueRequest{
		SubscriberID: subscriberID,
		Type:         domain.JobTypeScraping,
		Payload:      json.RawMessage(`{"platform":"indeed","keywords":["go"]}`),
		ScheduledFor: &later,
	})
	require.NoError(t, err)

	job, err := f.store.GetJob(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.Equal(t, later, job.ScheduledFor)
	assert.Empty(t, f.notifier.messages, "future jobs do not wake dispatchers")
}

func TestService_EnqueuePastScheduleClampedToNow(t *testing.T) {
	f := newFixture(t, domain.TierPro)
	earlier := fixedNow.Add(-time.Hour)

	res, err := f.service.Enqueue(context.Background(), EnqueueRequest{
		SubscriberID: subscriberID,
		Type:         domain.JobTypeScraping,
		Payload:      json.RawMessage(`{"platform":"indeed","keywords":["go"]}`),
		ScheduledFor: &earlier,
	})
	require.NoError(t, err)

	job, err := f.store.GetJob(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, job.ScheduledFor)
}

func TestService_EnqueueIdempotency(t *testing.T) {
	f := newFixture(t, domain.TierTrial)
	ctx := context.Background()
	req := EnqueueRequest{
		SubscriberID:   subscriberID,
		Type:           domain.JobTypeApplication,
		Payload:        applicationPayload(),
		IdempotencyKey: "apply-p-1",
	}

	first, err := f.service.Enqueue(ctx, req)
	require.NoError(t, err)
	second, err := f.service.Enqueue(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.JobID, second.JobID)
	assert.True(t, second.Duplicate)

	used, err := f.store.GetUsage(ctx, subscriberID, usage.Period(fixedNow), domain.ActionApplications)
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

func TestService_EnqueueInsertFailureReleasesQuota(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return fixedNow }
	store := memory.New()
	store.PutSubscriber(subscriberID, domain.TierTrial)
	limiter := usage.NewLimiter(store, nil, logger, usage.WithClock(clock))
	service := NewService(failingCreateStore{store}, store, limiter, logger, WithClock(clock))

	_, err := service.Enqueue(context.Background(), EnqueueRequest{
		SubscriberID: subscriberID,
		Type:         domain.JobTypeApplication,
		Payload:      applicationPayload(),
	})
	require.Error(t, err)

	used, err := store.GetUsage(context.Background(), subscriberID, usage.Period(fixedNow), domain.ActionApplications)
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}

func TestService_EnqueueNotifyFailureStillSucceeds(t *testing.T) {
	f := newFixture(t, domain.TierPro)
	f.notifier.err = errors.New("broker down")

	res, err := f.service.Enqueue(context.Background(), EnqueueRequest{
		SubscriberID: subscriberID,
		Type:         domain.JobTypeScraping,
		Payload:      json.RawMessage(`{"platform":"indeed","keywords":["go"]}`),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.JobID)
}

func TestService_GetResult(t *testing.T) {
	f := newFixture(t, domain.TierPro)
	ctx := context.Background()

	res, err := f.service.Enqueue(ctx, EnqueueRequest{
		SubscriberID: subscriberID,
		Type:         domain.JobTypeScraping,
		Payload:      json.RawMessage(`{"platform":"indeed","keywords":["go"]}`),
	})
	require.NoError(t, err)

	view, err := f.service.GetResult(ctx, res.JobID, subscriberID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, view.Status)
	assert.Nil(t, view.Result)

	_, err = f.store.ClaimJobs(ctx, fixedNow, 10)
	require.NoError(t, err)
	require.NoError(t, f.store.SaveResult(ctx, &domain.JobResult{JobID: res.JobID, Result: json.RawMessage(`{"count":3}`)}))
	require.NoError(t, f.store.MarkCompleted(ctx, res.JobID, fixedNow))

	view, err = f.service.GetResult(ctx, res.JobID, subscriberID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, view.Status)
	assert.JSONEq(t, `{"count":3}`, string(view.Result))

	_, err = f.service.GetResult(ctx, res.JobID, otherID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	_, err = f.service.GetResult(ctx, "3f1d1a0e-0000-4000-8000-000000000000", subscriberID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestService_Requeue(t *testing.T) {
	f := newFixture(t, domain.TierPro)
	ctx := context.Background()

	res, err := f.service.Enqueue(ctx, EnqueueRequest{
		SubscriberID: subscriberID,
		Type:         domain.JobTypeScraping,
		Payload:      json.RawMessage(`{"platform":"indeed","keywords":["go"]}`),
	})
	require.NoError(t, err)

	_, err = f.service.Requeue(ctx, res.JobID, subscriberID)
	assert.ErrorIs(t, err, domain.ErrNotRequeueable)

	_, err = f.store.ClaimJobs(ctx, fixedNow, 10)
	require.NoError(t, err)
	require.NoError(t, f.store.MarkFailed(ctx, res.JobID, domain.JobStatusFailed, "timeout", fixedNow))

	view, err := f.service.GetResult(ctx, res.JobID, subscriberID)
	require.NoError(t, err)
	assert.Equal(t, "timeout", view.Error)

	requeued, err := f.service.Requeue(ctx, res.JobID, subscriberID)
	require.NoError(t, err)
	assert.NotEqual(t, res.JobID, requeued.JobID)

	original, err := f.store.GetJob(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, original.Status)
}

func TestService_ListJobs(t *testing.T) {
	f := newFixture(t, domain.TierEnterprise)
	ctx := context.Background()

	tick := fixedNow
	f.service.now = func() time.Time { tick = tick.Add(time.Second); return tick }

	for i := 0; i < 5; i++ {
		_, err := f.service.Enqueue(ctx, EnqueueRequest{
			SubscriberID: subscriberID,
			Type:         domain.JobTypeScraping,
			Payload:      json.RawMessage(`{"platform":"indeed","keywords":["go"]}`),
		})
		require.NoError(t, err)
	}

	page, err := f.service.ListJobs(ctx, domain.JobFilter{SubscriberID: subscriberID, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Jobs, 2)
	require.NotNil(t, page.Next)
	assert.True(t, page.Jobs[0].CreatedAt.After(page.Jobs[1].CreatedAt))

	seen := map[string]bool{}
	for page != nil {
		for _, job := range page.Jobs {
			assert.False(t, seen[job.ID])
			seen[job.ID] = true
		}
		if page.Next == nil {
			break
		}
		page, err = f.service.ListJobs(ctx, domain.JobFilter{SubscriberID: subscriberID, PageSize: 2, Cursor: page.Next})
		require.NoError(t, err)
	}
	assert.Len(t, seen, 5)

	other, err := f.service.ListJobs(ctx, domain.JobFilter{SubscriberID: otherID, PageSize: 10})
	require.NoError(t, err)
	assert.Empty(t, other.Jobs)
}
