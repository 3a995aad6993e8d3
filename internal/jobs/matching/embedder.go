package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// ClientConfig configures the embedding API client
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

type apiError struct {
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// Client calls an OpenAI/Mistral compatible /v1/embeddings endpoint
type Client struct {
	http  *resty.Client
	model string
}

// NewClient creates a new embedding API client
func NewClient(cfg ClientConfig) *Client {
	if cfg.Model == "" {
		cfg.Model = "mistral-embed"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		httpClient.SetAuthToken(cfg.APIKey)
	}

	return &Client{http: httpClient, model: cfg.Model}
}

// Embed returns the embedding vector of text
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	var (
		out    embeddingResponse
		apiErr apiError
	)

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(embeddingRequest{Model: c.model, Input: []string{text}}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v1/embeddings")
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}

	if resp.IsError() {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Detail
		}
		if msg == "" {
			msg = resp.String()
		}
		return nil, fmt.Errorf("embedding API returned %d: %s", resp.StatusCode(), msg)
	}

	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding API returned no vectors")
	}
	return out.Data[0].Embedding, nil
}
