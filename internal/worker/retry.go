package worker

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy decides what happens to a failed job. With MaxAttempts <= 1 a
// failure is terminal (status failed). With more attempts the job goes back
// to pending after a backoff and becomes dead once attempts are exhausted.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Enabled reports whether failed jobs are retried at all
func (p RetryPolicy) Enabled() bool {
	return p.MaxAttempts > 1
}

// ShouldRetry reports whether a job that has now failed attempts times gets another run
func (p RetryPolicy) ShouldRetry(attempts int) bool {
	return p.Enabled() && attempts < p.MaxAttempts
}

// Backoff returns the delay before retry n (1-indexed): exponential growth
// from InitialDelay capped at MaxDelay, with up to 25% jitter either way.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := p.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}

	d := time.Duration(float64(initial) * math.Pow(2, float64(attempt-1)))
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}

	jitter := float64(d) * 0.25
	d = time.Duration(float64(d) - jitter + rand.Float64()*2*jitter) //nolint:gosec // jitter does not need crypto randomness
	if d < 0 {
		d = 0
	}
	return d
}
