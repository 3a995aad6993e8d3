package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
)

func TestTyped(t *testing.T) {
	h := Typed(domain.JobTypeScraping, func(_ context.Context, p domain.ScrapingPayload) (map[string]any, error) {
		return map[string]any{"platform": p.Platform, "keywords": len(p.Keywords)}, nil
	})

	tests := []struct {
		name      string
		payload   string
		want      string
		wantField string
	}{
		{
			name:    "valid payload",
			payload: `{"platform":"indeed","keywords":["go","rust"]}`,
			want:    `{"platform":"indeed","keywords":2}`,
		},
		{
			name:      "missing keywords",
			payload:   `{"platform":"indeed"}`,
			wantField: "payload.keywords",
		},
		{
			name:      "unknown field",
			payload:   `{"platform":"indeed","keywords":["go"],"extra":1}`,
			wantField: "payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := h.Handle(context.Background(), json.RawMessage(tt.payload))
			if tt.wantField != "" {
				var vErr *domain.ValidationError
				require.True(t, errors.As(err, &vErr))
				assert.Equal(t, tt.wantField, vErr.Field)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(out))
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(domain.JobTypeScraping, echoHandler())
	r.Register(domain.JobTypeApplication, echoHandler())

	_, ok := r.Lookup(domain.JobTypeScraping)
	assert.True(t, ok)
	_, ok = r.Lookup(domain.JobTypeMatching)
	assert.False(t, ok)

	assert.Equal(t, []domain.JobType{domain.JobTypeApplication, domain.JobTypeScraping}, r.Types())
}

func TestRetryPolicy(t *testing.T) {
	disabled := RetryPolicy{MaxAttempts: 1}
	assert.False(t, disabled.Enabled())
	assert.False(t, disabled.ShouldRetry(1))

	policy := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second}
	assert.True(t, policy.ShouldRetry(1))
	assert.True(t, policy.ShouldRetry(2))
	assert.False(t, policy.ShouldRetry(3))

	for attempt := 1; attempt <= 10; attempt++ {
		d := policy.Backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 10*time.Second+10*time.Second/4)
	}

	first := policy.Backoff(1)
	assert.GreaterOrEqual(t, first, 750*time.Millisecond)
	assert.LessOrEqual(t, first, 1250*time.Millisecond)
}
