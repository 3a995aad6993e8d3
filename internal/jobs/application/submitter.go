package application

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
)

// SubmitterConfig configures the HTTP submitter
type SubmitterConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPSubmitter posts applications to the submission service
type HTTPSubmitter struct {
	http *resty.Client
}

// NewHTTPSubmitter creates a new HTTPSubmitter
func NewHTTPSubmitter(cfg SubmitterConfig) *HTTPSubmitter {
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

	return &HTTPSubmitter{http: httpClient}
}

type submissionError struct {
	Error string `json:"error"`
}

// Submit posts the application and returns the submission acknowledgement
func (s *HTTPSubmitter) Submit(ctx context.Context, payload domain.ApplicationPayload) (*Submission, error) {
	var (
		out    Submission
		errOut submissionError
	)

	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&out).
		SetError(&errOut).
		Post("/v1/applications")
	if err != nil {
		return nil, fmt.Errorf("submission request failed: %w", err)
	}

	if resp.IsError() {
		msg := errOut.Error
		if msg == "" {
			msg = resp.String()
		}
		return nil, fmt.Errorf("submission service returned %d: %s", resp.StatusCode(), msg)
	}

	if out.SubmissionID == "" {
		return nil, fmt.Errorf("submission service returned no submission id")
	}
	return &out, nil
}
