// Package matching implements the matching job handler: it ranks stored job
// postings against a subscriber's profile embedding by cosine similarity.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
)

const (
	DefaultThreshold = 0.7
	DefaultLimit     = 20
)

// EmbeddingStore reads and caches embeddings
type EmbeddingStore interface {
	GetProfileEmbedding(ctx context.Context, subscriberID string) (*domain.ProfileEmbedding, error)
	SaveProfileEmbedding(ctx context.Context, profile *domain.ProfileEmbedding) error
	ListPostingEmbeddings(ctx context.Context) ([]domain.PostingEmbedding, error)
}

// Embedder turns text into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Result is the output of a matching job
type Result struct {
	SubscriberID string         `json:"subscriber_id"`
	Threshold    float64        `json:"threshold"`
	Matches      []domain.Match `json:"matches"`
	Count        int            `json:"count"`
}

// Handler ranks postings for a subscriber
type Handler struct {
	store    EmbeddingStore
	embedder Embedder
	logger   *slog.Logger
}

// NewHandler creates a new matching Handler
func NewHandler(store EmbeddingStore, embedder Embedder, logger *slog.Logger) *Handler {
	return &Handler{store: store, embedder: embedder, logger: logger}
}

// Match ranks postings whose similarity to the profile is at least the
// threshold, best first. A missing profile embedding is generated and cached
// before use.
func (h *Handler) Match(ctx context.Context, payload domain.MatchingPayload) (*Result, error) {
	threshold := payload.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	limit := payload.Limit
	if limit == 0 {
		limit = DefaultLimit
	}

	profile, err := h.profileEmbedding(ctx, payload.SubscriberID)
	if err != nil {
		return nil, err
	}

	postings, err := h.store.ListPostingEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load postings: %w", err)
	}

	matches := Rank(profile, postings, threshold, limit)

	h.logger.Info("Matching finished",
		slog.String("subscriber_id", payload.SubscriberID),
		slog.Int("candidates", len(postings)),
		slog.Int("matches", len(matches)),
	)

	return &Result{
		SubscriberID: payload.SubscriberID,
		Threshold:    threshold,
		Matches:      matches,
		Count:        len(matches),
	}, nil
}

func (h *Handler) profileEmbedding(ctx context.Context, subscriberID string) ([]float64, error) {
	profile, err := h.store.GetProfileEmbedding(ctx, subscriberID)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			return nil, fmt.Errorf("subscriber %s has no profile to match against: %w", subscriberID, err)
		}
		return nil, fmt.Errorf("failed to load profile embedding: %w", err)
	}

	if len(profile.Embedding) > 0 {
		return profile.Embedding, nil
	}

	if profile.ProfileText == "" {
		return nil, fmt.Errorf("subscriber %s has an empty profile: %w", subscriberID, domain.ErrProfileNotFound)
	}

	embedding, err := h.embedder.Embed(ctx, profile.ProfileText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed profile: %w", err)
	}

	profile.Embedding = embedding
	if err := h.store.SaveProfileEmbedding(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to cache profile embedding: %w", err)
	}

	h.logger.Info("Generated profile embedding",
		slog.String("subscriber_id", subscriberID),
		slog.Int("dimensions", len(embedding)),
	)

	return embedding, nil
}

// Rank scores every posting against profile and returns those at or above
// threshold, highest similarity first, at most limit of them. Postings whose
// embedding dimension differs from the profile are skipped.
func Rank(profile []float64, postings []domain.PostingEmbedding, threshold float64, limit int) []domain.Match {
	matches := make([]domain.Match, 0)
	for _, p := range postings {
		if len(p.Embedding) != len(profile) {
			continue
		}
		sim := CosineSimilarity(profile, p.Embedding)
		if sim < threshold {
			continue
		}
		matches = append(matches, domain.Match{
			PostingID:  p.PostingID,
			Title:      p.Title,
			Company:    p.Company,
			URL:        p.URL,
			Similarity: math.Round(sim*10000) / 10000,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either vector is zero or the lengths differ
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
