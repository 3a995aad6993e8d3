// Package usage implements the per-subscriber monthly usage limiter that
// gates enqueues by subscription tier.
package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
	"github.com/cuongbtq/jobnex-queue/internal/metrics"
)

// Mode selects whether a check mutates the counter
type Mode int

const (
	// ModePreview reads the counter without changing it
	ModePreview Mode = iota
	// ModeConsume increments the counter when the limit allows it
	ModeConsume
)

// Store persists subscriber tiers and usage counters
type Store interface {
	GetSubscriberTier(ctx context.Context, subscriberID string) (domain.Tier, error)
	GetUsage(ctx context.Context, subscriberID, period string, action domain.Action) (int, error)
	ConsumeUsage(ctx context.Context, subscriberID, period string, action domain.Action, limit int) (int, bool, error)
	ReleaseUsage(ctx context.Context, subscriberID, period string, action domain.Action) error
}

// Limits maps a tier to per-action monthly caps. domain.Unlimited means no cap.
type Limits map[domain.Tier]map[domain.Action]int

// DefaultLimits returns the built-in tier table
func DefaultLimits() Limits {
	return Limits{
		domain.TierFree: {
			domain.ActionApplications: 2,
			domain.ActionMatches:      3,
			domain.ActionSearches:     5,
		},
		domain.TierTrial: {
			domain.ActionApplications: 5,
			domain.ActionMatches:      10,
			domain.ActionSearches:     20,
		},
		domain.TierPro: {
			domain.ActionApplications: 100,
			domain.ActionMatches:      200,
			domain.ActionSearches:     domain.Unlimited,
		},
		domain.TierEnterprise: {
			domain.ActionApplications: domain.Unlimited,
			domain.ActionMatches:      domain.Unlimited,
			domain.ActionSearches:     domain.Unlimited,
		},
	}
}

// Merge overlays override on top of l and returns the result
func (l Limits) Merge(override Limits) Limits {
	out := make(Limits, len(l))
	for tier, actions := range l {
		out[tier] = make(map[domain.Action]int, len(actions))
		for action, limit := range actions {
			out[tier][action] = limit
		}
	}
	for tier, actions := range override {
		if out[tier] == nil {
			out[tier] = make(map[domain.Action]int, len(actions))
		}
		for action, limit := range actions {
			out[tier][action] = limit
		}
	}
	return out
}

// Period returns the usage period key (UTC calendar month) for t
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Limiter checks and consumes monthly quota
type Limiter struct {
	store  Store
	limits Limits
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock overrides the clock used to derive the period
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a new Limiter
func NewLimiter(store Store, limits Limits, logger *slog.Logger, opts ...Option) *Limiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	l := &Limiter{
		store:  store,
		limits: limits,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndConsume evaluates the subscriber's quota for action. In ModePreview
// nothing is written. In ModeConsume the read and the increment are a single
// atomic store operation, so concurrent callers never exceed the limit.
func (l *Limiter) CheckAndConsume(ctx context.Context, subscriberID string, action domain.Action, mode Mode) (domain.UsageDecision, error) {
	tier, limit, err := l.resolve(ctx, subscriberID, action)
	if err != nil {
		return domain.UsageDecision{}, err
	}

	period := Period(l.now())

	if mode == ModePreview {
		used, err := l.store.GetUsage(ctx, subscriberID, period, action)
		if err != nil {
			return domain.UsageDecision{}, fmt.Errorf("failed to read usage: %w", err)
		}
		return decide(limit == domain.Unlimited || used < limit, used, limit), nil
	}

	used, granted, err := l.store.ConsumeUsage(ctx, subscriberID, period, action, limit)
	if err != nil {
		return domain.UsageDecision{}, fmt.Errorf("failed to consume usage: %w", err)
	}

	if !granted {
		metrics.QuotaDenials.WithLabelValues(string(action), string(tier)).Inc()
		l.logger.Info("Usage limit reached",
			slog.String("subscriber_id", subscriberID),
			slog.String("action", string(action)),
			slog.String("tier", string(tier)),
			slog.Int("used", used),
			slog.Int("limit", limit),
		)
	}

	return decide(granted, used, limit), nil
}

// Release gives back one unit consumed in the current period
func (l *Limiter) Release(ctx context.Context, subscriberID string, action domain.Action) error {
	if err := l.store.ReleaseUsage(ctx, subscriberID, Period(l.now()), action); err != nil {
		return fmt.Errorf("failed to release usage: %w", err)
	}
	return nil
}

func (l *Limiter) resolve(ctx context.Context, subscriberID string, action domain.Action) (domain.Tier, int, error) {
	tier, err := l.store.GetSubscriberTier(ctx, subscriberID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriberNotFound) {
			return "", 0, err
		}
		return "", 0, fmt.Errorf("failed to resolve subscriber tier: %w", err)
	}

	actions, ok := l.limits[tier]
	if !ok {
		return "", 0, domain.NewConfigurationError("unknown tier %q", tier)
	}

	limit, ok := actions[action]
	if !ok {
		return "", 0, domain.NewConfigurationError("unknown action %q for tier %q", action, tier)
	}

	return tier, limit, nil
}

func decide(allowed bool, used, limit int) domain.UsageDecision {
	remaining := domain.Unlimited
	if limit != domain.Unlimited {
		remaining = limit - used
		if remaining < 0 {
			remaining = 0
		}
	}
	return domain.UsageDecision{
		Allowed:      allowed,
		CurrentUsage: used,
		Limit:        limit,
		Remaining:    remaining,
	}
}
