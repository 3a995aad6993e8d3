// Package jobs wires the concrete job handlers into a dispatcher registry.
package jobs

import (
	"github.com/cuongbtq/jobnex-queue/internal/domain"
	"github.com/cuongbtq/jobnex-queue/internal/jobs/application"
	"github.com/cuongbtq/jobnex-queue/internal/jobs/matching"
	"github.com/cuongbtq/jobnex-queue/internal/jobs/scraping"
	"github.com/cuongbtq/jobnex-queue/internal/worker"
)

// Handlers groups the built-in handlers. Nil entries are not registered, so
// jobs of that type fail with an unknown job type error.
type Handlers struct {
	Scraping    *scraping.Handler
	Matching    *matching.Handler
	Application *application.Handler
}

// Register binds every non-nil handler to its job type
func Register(r *worker.Registry, h Handlers) {
	if h.Scraping != nil {
		r.Register(domain.JobTypeScraping, worker.Typed(domain.JobTypeScraping, h.Scraping.Scrape))
	}
	if h.Matching != nil {
		r.Register(domain.JobTypeMatching, worker.Typed(domain.JobTypeMatching, h.Matching.Match))
	}
	if h.Application != nil {
		r.Register(domain.JobTypeApplication, worker.Typed(domain.JobTypeApplication, h.Application.Apply))
	}
}
