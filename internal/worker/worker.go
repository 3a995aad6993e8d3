package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RunnerConfig holds the settings of the long-running dispatcher host
type RunnerConfig struct {
	// Concurrency is the number of goroutines calling RunOnce
	Concurrency int
	// BatchSize is passed to every RunOnce call
	BatchSize int
	// Schedule is a cron spec (seconds precision) for periodic runs, e.g. "@every 5s"
	Schedule string
	// StaleSchedule is a cron spec for stale job recovery
	StaleSchedule string
	// StaleThreshold is how old a heartbeat must be before a job is recovered
	StaleThreshold time.Duration
	// ConsumerTag identifies this host on the wake-up queue
	ConsumerTag string
	// PrefetchCount limits unacknowledged wake-up messages
	PrefetchCount int
}

// Runner drives a Dispatcher from a cron schedule and broker wake-ups. Every
// trigger is only a hint: the claim query decides which jobs actually run.
type Runner struct {
	dispatcher *Dispatcher
	wakeups    WakeupSource
	cron       *cron.Cron
	cfg        RunnerConfig
	trigger    chan struct{}
	logger     *slog.Logger
	wg         sync.WaitGroup
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewRunner creates a new Runner. wakeups may be nil, in which case only the
// schedule triggers runs.
func NewRunner(dispatcher *Dispatcher, wakeups WakeupSource, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 5s"
	}
	if cfg.StaleSchedule == "" {
		cfg.StaleSchedule = "@every 1m"
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 5 * time.Minute
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "jobnex-dispatcher"
	}

	return &Runner{
		dispatcher: dispatcher,
		wakeups:    wakeups,
		cron:       cron.New(cron.WithSeconds()),
		cfg:        cfg,
		trigger:    make(chan struct{}, cfg.Concurrency),
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
}

// Trigger asks the pool for a dispatch run without blocking. Triggers that
// arrive while every slot is already pending are dropped.
func (r *Runner) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Start schedules periodic runs, starts the pool and the wake-up listener,
// and blocks until ctx is canceled
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Info("Starting dispatcher runner",
		slog.Int("concurrency", r.cfg.Concurrency),
		slog.Int("batch_size", r.cfg.BatchSize),
		slog.String("schedule", r.cfg.Schedule),
	)

	if _, err := r.cron.AddFunc(r.cfg.Schedule, r.Trigger); err != nil {
		return fmt.Errorf("invalid dispatch schedule %q: %w", r.cfg.Schedule, err)
	}
	if _, err := r.cron.AddFunc(r.cfg.StaleSchedule, func() { r.recoverStale(ctx) }); err != nil {
		return fmt.Errorf("invalid stale recovery schedule %q: %w", r.cfg.StaleSchedule, err)
	}

	// Jobs left processing by a previous crash become eligible right away
	r.recoverStale(ctx)

	r.spawnWorkerPool(ctx)

	if r.wakeups != nil {
		deliveries, err := r.setupConsumer()
		if err != nil {
			r.logger.Warn("Wake-up consumer unavailable - relying on schedule only", slog.Any("error", err))
		} else {
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.startWakeupListener(ctx, deliveries)
			}()
		}
	}

	r.cron.Start()
	r.Trigger()

	<-ctx.Done()
	r.logger.Info("Runner context canceled, stopping...")
	return nil
}

// Stop waits for in-flight runs to finish
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info("Stopping dispatcher runner...")
		<-r.cron.Stop().Done()
		close(r.stopChan)
		r.wg.Wait()
		r.logger.Info("Dispatcher runner stopped")
	})
}

func (r *Runner) recoverStale(ctx context.Context) {
	if _, err := r.dispatcher.RecoverStale(ctx, r.cfg.StaleThreshold); err != nil {
		r.logger.Error("Stale job recovery failed", slog.Any("error", err))
	}
	if _, err := r.dispatcher.Stats(ctx); err != nil {
		r.logger.Warn("Failed to refresh queue stats", slog.Any("error", err))
	}
}
