// Package scraping implements the scraping job handler: it runs a keyword
// search on a configured job board and extracts postings from the result page.
package scraping

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
)

// Platform describes how to search one job board and read its result page
type Platform struct {
	Name string
	// SearchURL may contain {keywords} and {location} placeholders
	SearchURL        string
	ItemSelector     string
	TitleSelector    string
	CompanySelector  string
	LocationSelector string
	LinkSelector     string
	// RequestsPerSecond caps the request rate to the platform across all jobs
	RequestsPerSecond float64
	MaxResults        int
}

// Result is the output of a scraping job
type Result struct {
	Platform string           `json:"platform"`
	Query    string           `json:"query"`
	Postings []domain.Posting `json:"postings"`
	Count    int              `json:"count"`
}

// Handler scrapes job boards with colly
type Handler struct {
	platforms      map[string]Platform
	userAgent      string
	requestTimeout time.Duration
	logger         *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHandler creates a new scraping Handler
func NewHandler(platforms []Platform, userAgent string, requestTimeout time.Duration, logger *slog.Logger) *Handler {
	byName := make(map[string]Platform, len(platforms))
	for _, p := range platforms {
		byName[strings.ToLower(p.Name)] = p
	}
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (compatible; jobnex-scraper/1.0)"
	}
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	return &Handler{
		platforms:      byName,
		userAgent:      userAgent,
		requestTimeout: requestTimeout,
		logger:         logger,
		limiters:       make(map[string]*rate.Limiter),
	}
}

// Platforms returns the configured platform names
func (h *Handler) Platforms() []string {
	names := make([]string, 0, len(h.platforms))
	for name := range h.platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// limiter returns the shared rate limiter of a platform
func (h *Handler) limiter(p Platform) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	if l, ok := h.limiters[p.Name]; ok {
		return l
	}
	rps := p.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	l := rate.NewLimiter(rate.Limit(rps), 1)
	h.limiters[p.Name] = l
	return l
}

// Scrape runs one search and returns the postings found
func (h *Handler) Scrape(ctx context.Context, payload domain.ScrapingPayload) (*Result, error) {
	platform, ok := h.platforms[strings.ToLower(payload.Platform)]
	if !ok {
		return nil, domain.NewValidationError("payload.platform", fmt.Sprintf("unsupported platform %q", payload.Platform))
	}

	searchURL, err := buildSearchURL(platform.SearchURL, payload)
	if err != nil {
		return nil, err
	}

	if err := h.limiter(platform).Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	c := colly.NewCollector(colly.UserAgent(h.userAgent))
	c.SetRequestTimeout(h.requestTimeout)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	var (
		postings []domain.Posting
		seen     = make(map[string]bool)
		visitErr error
	)

	c.OnHTML(platform.ItemSelector, func(e *colly.HTMLElement) {
		if platform.MaxResults > 0 && len(postings) >= platform.MaxResults {
			return
		}

		title := strings.TrimSpace(e.ChildText(platform.TitleSelector))
		link := e.ChildAttr(platform.LinkSelector, "href")
		if title == "" || link == "" {
			return
		}

		absolute := e.Request.AbsoluteURL(link)
		if seen[absolute] {
			return
		}
		seen[absolute] = true

		posting := domain.Posting{Title: title, URL: absolute}
		if platform.CompanySelector != "" {
			posting.Company = strings.TrimSpace(e.ChildText(platform.CompanySelector))
		}
		if platform.LocationSelector != "" {
			posting.Location = strings.TrimSpace(e.ChildText(platform.LocationSelector))
		}
		postings = append(postings, posting)
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			visitErr = fmt.Errorf("search page returned HTTP %d: %w", r.StatusCode, err)
			return
		}
		visitErr = err
	})

	if err := c.Visit(searchURL); err != nil && visitErr == nil {
		visitErr = err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if visitErr != nil {
		return nil, fmt.Errorf("failed to scrape %s: %w", platform.Name, visitErr)
	}

	h.logger.Info("Scraping finished",
		slog.String("platform", platform.Name),
		slog.Int("postings", len(postings)),
	)

	if postings == nil {
		postings = []domain.Posting{}
	}

	return &Result{
		Platform: platform.Name,
		Query:    strings.Join(payload.Keywords, " "),
		Postings: postings,
		Count:    len(postings),
	}, nil
}

func buildSearchURL(template string, payload domain.ScrapingPayload) (string, error) {
	replaced := strings.NewReplacer(
		"{keywords}", url.QueryEscape(strings.Join(payload.Keywords, " ")),
		"{location}", url.QueryEscape(payload.Location),
	).Replace(template)

	u, err := url.Parse(replaced)
	if err != nil {
		return "", fmt.Errorf("invalid search url for platform: %w", err)
	}

	if len(payload.Filters) > 0 {
		q := u.Query()
		keys := make([]string, 0, len(payload.Filters))
		for k := range payload.Filters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			q.Set(k, payload.Filters[k])
		}
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}
