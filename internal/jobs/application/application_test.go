package application

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *fakeSubmitter) Submit(_ context.Context, p domain.ApplicationPayload) (*Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Submission{SubmissionID: "sub-" + p.PostingID}, nil
}

var payload = domain.ApplicationPayload{
	SubscriberID: "7b0c1a36-2f55-4c4e-8f43-1c8a6a0f3b11",
	PostingID:    "p-42",
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandler_ApplyIsIdempotent(t *testing.T) {
	guard := NewLocalGuard()
	submitter := &fakeSubmitter{}
	h := NewHandler(guard, submitter, time.Hour, testLogger())

	first, err := h.Apply(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, Result{PostingID: "p-42", SubmissionID: "sub-p-42", Status: StatusSubmitted}, *first)

	second, err := h.Apply(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, second.Status)
	assert.Equal(t, "sub-p-42", second.SubmissionID)

	assert.Equal(t, 1, submitter.calls)
}

func TestHandler_ApplyReleasesGuardOnFailure(t *testing.T) {
	guard := NewLocalGuard()
	submitter := &fakeSubmitter{err: errors.New("board offline")}
	h := NewHandler(guard, submitter, time.Hour, testLogger())

	_, err := h.Apply(context.Background(), payload)
	require.Error(t, err)
	assert.Empty(t, guard.keys)

	submitter.err = nil
	result, err := h.Apply(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, result.Status)
	assert.Equal(t, 2, submitter.calls)
}

func TestHTTPSubmitter(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
		wantID  string
	}{
		{name: "accepted", status: http.StatusCreated, body: `{"submission_id":"s-1","status":"submitted"}`, wantID: "s-1"},
		{name: "rejected", status: http.StatusUnprocessableEntity, body: `{"error":"posting closed"}`, wantErr: "posting closed"},
		{name: "missing id", status: http.StatusOK, body: `{}`, wantErr: "no submission id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/applications", r.URL.Path)
				var got domain.ApplicationPayload
				_ = json.NewDecoder(r.Body).Decode(&got)
				assert.Equal(t, payload.PostingID, got.PostingID)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			submission, err := NewHTTPSubmitter(SubmitterConfig{BaseURL: srv.URL}).Submit(context.Background(), payload)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, submission.SubmissionID)
		})
	}
}

func TestLocalGuard_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	guard := NewLocalGuard()
	guard.now = func() time.Time { return now }

	ok, err := guard.Acquire(ctx, "k", "pending", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Acquire(ctx, "k", "pending", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	value, err := guard.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, value)

	ok, err = guard.Acquire(ctx, "k", "pending", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}
