package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
)

// GetSubscriberTier returns the subscription tier of a subscriber
func (s *Storage) GetSubscriberTier(ctx context.Context, subscriberID string) (domain.Tier, error) {
	var tier string
	if err := s.db.GetContext(ctx, &tier, `SELECT tier FROM subscribers WHERE id = $1`, subscriberID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrSubscriberNotFound
		}
		return "", fmt.Errorf("failed to get subscriber tier: %w", err)
	}
	return domain.Tier(tier), nil
}

// GetUsage reads the counter for one action in a period
func (s *Storage) GetUsage(ctx context.Context, subscriberID, period string, action domain.Action) (int, error) {
	query := `
		SELECT COALESCE((counts->>$3::text)::int, 0)
		FROM usage_counters
		WHERE subscriber_id = $1 AND period = $2
	`

	var used int
	if err := s.db.GetContext(ctx, &used, query, subscriberID, period, string(action)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}
	return used, nil
}

// ConsumeUsage increments the counter when it is below limit. The conditional
// UPDATE holds the row lock so concurrent consumers cannot both pass the check.
// It returns the counter value after the call and whether a unit was granted.
func (s *Storage) ConsumeUsage(ctx context.Context, subscriberID, period string, action domain.Action, limit int) (int, bool, error) {
	ensure := `
		INSERT INTO usage_counters (subscriber_id, period)
		VALUES ($1, $2)
		ON CONFLICT (subscriber_id, period) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, ensure, subscriberID, period); err != nil {
		return 0, false, fmt.Errorf("failed to create usage counter: %w", err)
	}

	consume := `
		UPDATE usage_counters
		SET counts = jsonb_set(counts, ARRAY[$3::text], to_jsonb(COALESCE((counts->>$3::text)::int, 0) + 1)),
		    updated_at = NOW()
		WHERE subscriber_id = $1
		  AND period = $2
		  AND ($4::int < 0 OR COALESCE((counts->>$3::text)::int, 0) < $4::int)
		RETURNING (counts->>$3::text)::int
	`

	var used int
	err := s.db.GetContext(ctx, &used, consume, subscriberID, period, string(action), limit)
	if err == nil {
		return used, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("failed to consume usage: %w", err)
	}

	used, err = s.GetUsage(ctx, subscriberID, period, action)
	if err != nil {
		return 0, false, err
	}
	return used, false, nil
}

// ReleaseUsage gives back one unit, never going below zero
func (s *Storage) ReleaseUsage(ctx context.Context, subscriberID, period string, action domain.Action) error {
	query := `
		UPDATE usage_counters
		SET counts = jsonb_set(counts, ARRAY[$3::text], to_jsonb(GREATEST(COALESCE((counts->>$3::text)::int, 0) - 1, 0))),
		    updated_at = NOW()
		WHERE subscriber_id = $1 AND period = $2
	`

	if _, err := s.db.ExecContext(ctx, query, subscriberID, period, string(action)); err != nil {
		return fmt.Errorf("failed to release usage: %w", err)
	}
	return nil
}
