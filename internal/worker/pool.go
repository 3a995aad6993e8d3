package worker

import (
	"context"
	"fmt"
	"log/slog"
)

// spawnWorkerPool spawns N goroutines that each call RunOnce on trigger
func (r *Runner) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < r.cfg.Concurrency; i++ {
		r.wg.Add(1)
		go r.workerLoop(ctx, i)
	}

	r.logger.Info("Dispatcher pool spawned",
		slog.Int("worker_count", r.cfg.Concurrency),
	)
}

// workerLoop waits for a trigger and then drains due jobs batch by batch
func (r *Runner) workerLoop(ctx context.Context, workerNum int) {
	defer r.wg.Done()

	workerName := fmt.Sprintf("%s-%d", r.cfg.ConsumerTag, workerNum)
	r.logger.Debug("Dispatcher goroutine started", slog.String("worker_name", workerName))

	for {
		select {
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		case <-r.trigger:
			r.drain(ctx, workerName)
		}
	}
}

// drain keeps calling RunOnce while full batches come back
func (r *Runner) drain(ctx context.Context, workerName string) {
	batchSize := r.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = r.dispatcher.cfg.BatchSize
	}

	for ctx.Err() == nil {
		summary, err := r.dispatcher.RunOnce(ctx, batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("Dispatch run failed",
				slog.String("worker_name", workerName),
				slog.Any("error", err),
			)
			return
		}
		if summary.Processed < batchSize {
			return
		}
	}
}
