package bootstrap

import (
	"log/slog"

	"github.com/cuongbtq/jobnex-queue/internal/config"
	"github.com/cuongbtq/jobnex-queue/internal/jobs"
	"github.com/cuongbtq/jobnex-queue/internal/jobs/application"
	"github.com/cuongbtq/jobnex-queue/internal/jobs/matching"
	"github.com/cuongbtq/jobnex-queue/internal/jobs/scraping"
	"github.com/cuongbtq/jobnex-queue/internal/worker"
	"github.com/cuongbtq/jobnex-queue/shared/redis"
)

// NewHandlers builds the job handlers that have their external services
// configured. Unconfigured types are left out of the registry and their jobs
// fail as unknown.
func NewHandlers(cfg *config.Config, store Store, rdb *redis.Client, log *slog.Logger) jobs.Handlers {
	var h jobs.Handlers

	if len(cfg.Scraping.Platforms) > 0 {
		platforms := make([]scraping.Platform, len(cfg.Scraping.Platforms))
		for i, p := range cfg.Scraping.Platforms {
			platforms[i] = scraping.Platform{
				Name:              p.Name,
				SearchURL:         p.SearchURL,
				ItemSelector:      p.ItemSelector,
				TitleSelector:     p.TitleSelector,
				CompanySelector:   p.CompanySelector,
				LocationSelector:  p.LocationSelector,
				LinkSelector:      p.LinkSelector,
				RequestsPerSecond: p.RequestsPerSecond,
				MaxResults:        p.MaxResults,
			}
		}
		h.Scraping = scraping.NewHandler(platforms, cfg.Scraping.UserAgent, cfg.Scraping.RequestTimeout, log)
	} else {
		log.Warn("No scraping platforms configured - scraping jobs will fail")
	}

	if cfg.Embedding.BaseURL != "" {
		embedder := matching.NewClient(matching.ClientConfig{
			BaseURL: cfg.Embedding.BaseURL,
			APIKey:  cfg.Embedding.APIKey,
			Model:   cfg.Embedding.Model,
			Timeout: cfg.Embedding.Timeout,
		})
		h.Matching = matching.NewHandler(store, embedder, log)
	} else {
		log.Warn("Embedding API not configured - matching jobs will fail")
	}

	if cfg.Submission.BaseURL != "" {
		var guard application.Guard
		if rdb != nil {
			guard = application.NewRedisGuard(rdb.GetClient())
		} else {
			log.Warn("Redis not configured - application guard is local to this process")
			guard = application.NewLocalGuard()
		}
		submitter := application.NewHTTPSubmitter(application.SubmitterConfig{
			BaseURL: cfg.Submission.BaseURL,
			APIKey:  cfg.Submission.APIKey,
			Timeout: cfg.Submission.Timeout,
		})
		h.Application = application.NewHandler(guard, submitter, cfg.Submission.GuardTTL, log)
	} else {
		log.Warn("Submission API not configured - application jobs will fail")
	}

	return h
}

// NewDispatcher builds the dispatcher with every configured handler registered
func NewDispatcher(cfg *config.Config, store Store, handlers jobs.Handlers, log *slog.Logger) *worker.Dispatcher {
	registry := worker.NewRegistry()
	jobs.Register(registry, handlers)

	log.Info("Job handlers registered", slog.Any("types", registry.Types()))

	return worker.NewDispatcher(store, store, registry, worker.Config{
		BatchSize:         cfg.Dispatcher.BatchSize,
		JobTimeout:        cfg.Dispatcher.JobTimeout,
		HeartbeatInterval: cfg.Dispatcher.HeartbeatInterval,
		Retry: worker.RetryPolicy{
			MaxAttempts:  cfg.Dispatcher.Retry.MaxAttempts,
			InitialDelay: cfg.Dispatcher.Retry.InitialDelay,
			MaxDelay:     cfg.Dispatcher.Retry.MaxDelay,
		},
	}, log)
}

// NewRunner wraps the dispatcher in the long-running cron and wake-up host.
// wakeups may be nil.
func NewRunner(cfg *config.Config, dispatcher *worker.Dispatcher, wakeups worker.WakeupSource, log *slog.Logger) *worker.Runner {
	return worker.NewRunner(dispatcher, wakeups, worker.RunnerConfig{
		Concurrency:    cfg.Dispatcher.Concurrency,
		BatchSize:      cfg.Dispatcher.BatchSize,
		Schedule:       cfg.Dispatcher.Schedule,
		StaleSchedule:  cfg.Dispatcher.StaleSchedule,
		StaleThreshold: cfg.Dispatcher.StaleThreshold,
		ConsumerTag:    cfg.RabbitMQ.Consumer.Tag,
		PrefetchCount:  cfg.RabbitMQ.Consumer.PrefetchCount,
	}, log)
}
