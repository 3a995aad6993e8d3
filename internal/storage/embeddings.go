package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
	"github.com/lib/pq"
)

// GetProfileEmbedding loads the profile text and cached embedding of a
// subscriber. Embedding is empty when it has not been generated yet.
func (s *Storage) GetProfileEmbedding(ctx context.Context, subscriberID string) (*domain.ProfileEmbedding, error) {
	var row struct {
		SubscriberID string          `db:"subscriber_id"`
		ProfileText  string          `db:"profile_text"`
		Embedding    pq.Float64Array `db:"embedding"`
	}

	query := `SELECT subscriber_id, profile_text, embedding FROM profile_embeddings WHERE subscriber_id = $1`
	if err := s.db.GetContext(ctx, &row, query, subscriberID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile embedding: %w", err)
	}

	return &domain.ProfileEmbedding{
		SubscriberID: row.SubscriberID,
		ProfileText:  row.ProfileText,
		Embedding:    row.Embedding,
	}, nil
}

// SaveProfileEmbedding upserts a profile embedding
func (s *Storage) SaveProfileEmbedding(ctx context.Context, profile *domain.ProfileEmbedding) error {
	query := `
		INSERT INTO profile_embeddings (subscriber_id, profile_text, embedding, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (subscriber_id) DO UPDATE
		SET profile_text = EXCLUDED.profile_text,
		    embedding = EXCLUDED.embedding,
		    updated_at = NOW()
	`

	_, err := s.db.ExecContext(ctx, query, profile.SubscriberID, profile.ProfileText, pq.Float64Array(profile.Embedding))
	if err != nil {
		return fmt.Errorf("failed to save profile embedding: %w", err)
	}
	return nil
}

// ListPostingEmbeddings returns every matching candidate
func (s *Storage) ListPostingEmbeddings(ctx context.Context) ([]domain.PostingEmbedding, error) {
	var rows []struct {
		PostingID string          `db:"posting_id"`
		Title     string          `db:"title"`
		Company   string          `db:"company"`
		URL       string          `db:"url"`
		Embedding pq.Float64Array `db:"embedding"`
	}

	query := `SELECT posting_id, title, company, url, embedding FROM posting_embeddings`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list posting embeddings: %w", err)
	}

	postings := make([]domain.PostingEmbedding, 0, len(rows))
	for _, row := range rows {
		postings = append(postings, domain.PostingEmbedding{
			PostingID: row.PostingID,
			Title:     row.Title,
			Company:   row.Company,
			URL:       row.URL,
			Embedding: row.Embedding,
		})
	}
	return postings, nil
}
