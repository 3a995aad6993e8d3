package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
)

// Handler executes one job type. It receives the stored payload and returns
// the JSON result to persist. Handlers never touch queue state and must
// tolerate being invoked more than once for the same job.
type Handler interface {
	Handle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	return f(ctx, payload)
}

// Typed builds a Handler for a known job type from a function over its typed
// payload. The payload is decoded strictly and validated before fn runs.
func Typed[P domain.Payload, R any](jobType domain.JobType, fn func(ctx context.Context, payload P) (R, error)) Handler {
	return HandlerFunc(func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		decoded, err := domain.DecodePayload(jobType, raw)
		if err != nil {
			return nil, err
		}
		payload, ok := decoded.(P)
		if !ok {
			return nil, fmt.Errorf("payload for %s decoded as %T", jobType, decoded)
		}

		result, err := fn(ctx, payload)
		if err != nil {
			return nil, err
		}

		out, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		return out, nil
	})
}

// Registry maps job types to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.JobType]Handler
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.JobType]Handler)}
}

// Register binds a handler to a job type, replacing any previous binding
func (r *Registry) Register(jobType domain.JobType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Lookup returns the handler for a job type
func (r *Registry) Lookup(jobType domain.JobType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types returns the registered job types in sorted order
func (r *Registry) Types() []domain.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]domain.JobType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
