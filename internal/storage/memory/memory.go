// Package memory is an in-memory implementation of every store used by the
// queue engine. It is safe for concurrent use and backs unit tests and the
// "memory" database driver for local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
)

// Store keeps jobs, results, usage counters and embeddings in maps
type Store struct {
	mu sync.Mutex

	jobs        map[string]*domain.Job
	results     map[string]*domain.JobResult
	subscribers map[string]domain.Tier
	usage       map[usageKey]int
	profiles    map[string]*domain.ProfileEmbedding
	postings    []domain.PostingEmbedding
}

type usageKey struct {
	subscriberID string
	period       string
	action       domain.Action
}

// New returns an empty Store
func New() *Store {
	return &Store{
		jobs:        make(map[string]*domain.Job),
		results:     make(map[string]*domain.JobResult),
		subscribers: make(map[string]domain.Tier),
		usage:       make(map[usageKey]int),
		profiles:    make(map[string]*domain.ProfileEmbedding),
	}
}

// Jobs

func (s *Store) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.IdempotencyKey != "" {
		for _, existing := range s.jobs {
			if existing.SubscriberID == job.SubscriberID && existing.IdempotencyKey == job.IdempotencyKey {
				return domain.ErrDuplicateJob
			}
		}
	}

	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *Store) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (s *Store) GetJobByIdempotencyKey(_ context.Context, subscriberID, key string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if job.SubscriberID == subscriberID && job.IdempotencyKey == key {
			return cloneJob(job), nil
		}
	}
	return nil, domain.ErrJobNotFound
}

func (s *Store) ListJobs(_ context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []domain.Job
	for _, job := range s.jobs {
		if filter.SubscriberID != "" && job.SubscriberID != filter.SubscriberID {
			continue
		}
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Cursor != nil && !before(job, filter.Cursor) {
			continue
		}
		jobs = append(jobs, *cloneJob(job))
	}

	// created_at DESC, id DESC
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID > jobs[j].ID
	})

	if limit := filter.PageSize + 1; filter.PageSize > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func before(job *domain.Job, cursor *domain.JobCursor) bool {
	if job.CreatedAt.Equal(cursor.CreatedAt) {
		return job.ID < cursor.JobID
	}
	return job.CreatedAt.Before(cursor.CreatedAt)
}

// ClaimJobs moves up to limit eligible pending jobs to processing, oldest
// scheduled_for first. The whole selection happens under the store lock so
// concurrent callers never claim the same job.
func (s *Store) ClaimJobs(_ context.Context, now time.Time, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var eligible []*domain.Job
	for _, job := range s.jobs {
		if job.Status == domain.JobStatusPending && !job.ScheduledFor.After(now) {
			eligible = append(eligible, job)
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].ScheduledFor.Equal(eligible[j].ScheduledFor) {
			return eligible[i].ScheduledFor.Before(eligible[j].ScheduledFor)
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	claimed := make([]domain.Job, 0, len(eligible))
	for _, job := range eligible {
		job.Status = domain.JobStatusProcessing
		heartbeat := now
		job.HeartbeatAt = &heartbeat
		job.UpdatedAt = now
		claimed = append(claimed, *cloneJob(job))
	}
	return claimed, nil
}

func (s *Store) MarkCompleted(_ context.Context, jobID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.processing(jobID)
	if err != nil {
		return err
	}
	job.Status = domain.JobStatusCompleted
	job.HeartbeatAt = nil
	job.UpdatedAt = now
	return nil
}

func (s *Store) MarkFailed(_ context.Context, jobID string, status domain.JobStatus, errMsg string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.processing(jobID)
	if err != nil {
		return err
	}
	job.Status = status
	job.Attempts++
	job.LastError = errMsg
	job.HeartbeatAt = nil
	job.UpdatedAt = now
	return nil
}

func (s *Store) MarkRetry(_ context.Context, jobID string, errMsg string, runAt, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.processing(jobID)
	if err != nil {
		return err
	}
	job.Status = domain.JobStatusPending
	job.Attempts++
	job.LastError = errMsg
	job.ScheduledFor = runAt
	job.HeartbeatAt = nil
	job.UpdatedAt = now
	return nil
}

func (s *Store) TouchHeartbeat(_ context.Context, jobID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.processing(jobID)
	if err != nil {
		return err
	}
	heartbeat := now
	job.HeartbeatAt = &heartbeat
	return nil
}

func (s *Store) RecoverStale(_ context.Context, staleBefore, now time.Time, errMsg string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recovered := 0
	for _, job := range s.jobs {
		if job.Status != domain.JobStatusProcessing {
			continue
		}
		if job.HeartbeatAt != nil && !job.HeartbeatAt.Before(staleBefore) {
			continue
		}
		job.Status = domain.JobStatusPending
		job.Attempts++
		job.LastError = errMsg
		job.ScheduledFor = now
		job.HeartbeatAt = nil
		job.UpdatedAt = now
		recovered++
	}
	return recovered, nil
}

func (s *Store) Stats(_ context.Context) (*domain.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &domain.QueueStats{}
	for _, job := range s.jobs {
		switch job.Status {
		case domain.JobStatusPending:
			stats.Pending++
		case domain.JobStatusProcessing:
			stats.Processing++
		case domain.JobStatusCompleted:
			stats.Completed++
		case domain.JobStatusFailed:
			stats.Failed++
		case domain.JobStatusDead:
			stats.Dead++
		}
	}
	return stats, nil
}

// processing returns the job if it is still processing. Caller holds s.mu.
func (s *Store) processing(jobID string) (*domain.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.Status != domain.JobStatusProcessing {
		return nil, domain.ErrClaimConflict
	}
	return job, nil
}

// Results

func (s *Store) SaveResult(_ context.Context, result *domain.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.results[result.JobID]; ok {
		return nil
	}
	stored := *result
	stored.Result = append([]byte(nil), result.Result...)
	s.results[result.JobID] = &stored
	return nil
}

func (s *Store) GetResult(_ context.Context, jobID string) (*domain.JobResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, ok := s.results[jobID]
	if !ok {
		return nil, domain.ErrResultNotFound
	}
	out := *result
	out.Result = append([]byte(nil), result.Result...)
	return &out, nil
}

// ResultCount returns how many results are stored for jobID (0 or 1)
func (s *Store) ResultCount(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.results[jobID]; ok {
		return 1
	}
	return 0
}

// Usage

// PutSubscriber registers a subscriber with a tier
func (s *Store) PutSubscriber(subscriberID string, tier domain.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[subscriberID] = tier
}

// SetUsage overwrites a usage counter
func (s *Store) SetUsage(subscriberID, period string, action domain.Action, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[usageKey{subscriberID, period, action}] = count
}

func (s *Store) GetSubscriberTier(_ context.Context, subscriberID string) (domain.Tier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tier, ok := s.subscribers[subscriberID]
	if !ok {
		return "", domain.ErrSubscriberNotFound
	}
	return tier, nil
}

func (s *Store) GetUsage(_ context.Context, subscriberID, period string, action domain.Action) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[usageKey{subscriberID, period, action}], nil
}

func (s *Store) ConsumeUsage(_ context.Context, subscriberID, period string, action domain.Action, limit int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey{subscriberID, period, action}
	current := s.usage[key]
	if limit != domain.Unlimited && current >= limit {
		return current, false, nil
	}
	s.usage[key] = current + 1
	return current + 1, true, nil
}

func (s *Store) ReleaseUsage(_ context.Context, subscriberID, period string, action domain.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey{subscriberID, period, action}
	if s.usage[key] > 0 {
		s.usage[key]--
	}
	return nil
}

// Embeddings

// PutProfile stores profile text (and optionally an embedding) for a subscriber
func (s *Store) PutProfile(profile domain.ProfileEmbedding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := profile
	s.profiles[profile.SubscriberID] = &p
}

// PutPosting adds a matching candidate
func (s *Store) PutPosting(posting domain.PostingEmbedding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postings = append(s.postings, posting)
}

func (s *Store) GetProfileEmbedding(_ context.Context, subscriberID string) (*domain.ProfileEmbedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[subscriberID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	out := *profile
	out.Embedding = append([]float64(nil), profile.Embedding...)
	return &out, nil
}

func (s *Store) SaveProfileEmbedding(_ context.Context, profile *domain.ProfileEmbedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := *profile
	p.Embedding = append([]float64(nil), profile.Embedding...)
	s.profiles[profile.SubscriberID] = &p
	return nil
}

func (s *Store) ListPostingEmbeddings(_ context.Context) ([]domain.PostingEmbedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PostingEmbedding(nil), s.postings...), nil
}

func cloneJob(job *domain.Job) *domain.Job {
	out := *job
	out.Payload = append([]byte(nil), job.Payload...)
	if job.HeartbeatAt != nil {
		heartbeat := *job.HeartbeatAt
		out.HeartbeatAt = &heartbeat
	}
	return &out
}
