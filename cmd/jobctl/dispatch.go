package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/jobnex-queue/internal/bootstrap"
	"github.com/cuongbtq/jobnex-queue/internal/worker"
)

func newDispatcher(e *env) (*worker.Dispatcher, func(), error) {
	redisClient, err := bootstrap.InitRedis(&e.cfg.Redis, e.logger.Logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if redisClient != nil {
			redisClient.Close()
		}
	}

	handlers := bootstrap.NewHandlers(e.cfg, e.db.Store, redisClient, e.logger.Logger)
	return bootstrap.NewDispatcher(e.cfg, e.db.Store, handlers, e.logger.Logger), closeFn, nil
}

func newRunOnceCommand(opts *rootOptions) *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "run-once",
		Short: "Claim and process one batch of due jobs",
		Long: `Claim up to --batch-size due jobs, run each through its handler and print
the outcome counts. Suitable for driving the queue from an external cron.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if batchSize < 0 || batchSize > 100 {
				return fmt.Errorf("batch-size must be between 0 and 100, got %d", batchSize)
			}

			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			dispatcher, closeFn, err := newDispatcher(e)
			if err != nil {
				return err
			}
			defer closeFn()

			summary, err := dispatcher.RunOnce(cmd.Context(), batchSize)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), opts.output, summary)
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "maximum jobs to claim (0 uses dispatcher.batch_size)")
	return cmd
}

func newStatsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print job counts per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			dispatcher, closeFn, err := newDispatcher(e)
			if err != nil {
				return err
			}
			defer closeFn()

			stats, err := dispatcher.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), opts.output, stats)
		},
	}
}

func newRecoverStaleCommand(opts *rootOptions) *cobra.Command {
	var threshold time.Duration

	cmd := &cobra.Command{
		Use:   "recover-stale",
		Short: "Return jobs with an expired heartbeat to pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			if threshold <= 0 {
				threshold = e.cfg.Dispatcher.StaleThreshold
			}

			dispatcher, closeFn, err := newDispatcher(e)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := dispatcher.RecoverStale(cmd.Context(), threshold)
			if err != nil {
				return err
			}

			e.logger.Info("Stale recovery finished", slog.Int("recovered", count))
			return printResult(cmd.OutOrStdout(), opts.output, map[string]any{
				"recovered": count,
				"threshold": threshold.String(),
			})
		},
	}

	cmd.Flags().DurationVar(&threshold, "threshold", 0, "heartbeat age after which a job is stale (0 uses dispatcher.stale_threshold)")
	return cmd
}
