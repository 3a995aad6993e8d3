package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job does not exist or is not owned by the caller
	ErrJobNotFound = errors.New("job not found")

	// ErrResultNotFound is returned when a job has no stored result yet
	ErrResultNotFound = errors.New("job result not found")

	// ErrProfileNotFound is returned when a subscriber has no profile text to embed
	ErrProfileNotFound = errors.New("profile not found")

	// ErrSubscriberNotFound is returned when the usage limiter cannot resolve a subscriber
	ErrSubscriberNotFound = errors.New("subscriber not found")

	// ErrQuotaExceeded is returned when the usage limiter denies an enqueue
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrUnknownJobType is recorded as a job failure when no handler exists for a type
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrClaimConflict means another dispatcher moved the job first. It is benign.
	ErrClaimConflict = errors.New("job already claimed or not in expected status")

	// ErrDuplicateJob is returned by stores when an idempotency key is already used
	ErrDuplicateJob = errors.New("job with idempotency key already exists")

	// ErrNotRequeueable is returned when requeue is requested for a non-failed job
	ErrNotRequeueable = errors.New("job is not in a failed state")
)

// ValidationError rejects bad enqueue input before persistence
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// NewValidationError creates a new validation error
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ConfigurationError reports an unknown tier or action in the limit table
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Msg
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// HandlerError wraps a domain failure raised inside a job handler
type HandlerError struct {
	Type JobType
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s handler: %s", e.Type, e.Err.Error())
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// QuotaError carries the limiter decision that caused ErrQuotaExceeded
type QuotaError struct {
	Action   Action
	Decision UsageDecision
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s: %s used %d of %d", ErrQuotaExceeded.Error(), e.Action, e.Decision.CurrentUsage, e.Decision.Limit)
}

func (e *QuotaError) Unwrap() error {
	return ErrQuotaExceeded
}
