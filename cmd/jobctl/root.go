package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/jobnex-queue/internal/bootstrap"
	"github.com/cuongbtq/jobnex-queue/internal/config"
	"github.com/cuongbtq/jobnex-queue/shared/logger"
)

const (
	outputYAML = "yaml"
	outputJSON = "json"
)

type rootOptions struct {
	configPath string
	output     string
}

// env is what every subcommand works against once the config is loaded
type env struct {
	cfg    *config.Config
	logger *logger.Logger
	db     *bootstrap.Database
}

func (e *env) Close() {
	e.db.Close()
	e.logger.Close()
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	defaultConfigPath := os.Getenv("JOBCTL_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}

	cmd := &cobra.Command{
		Use:   "jobctl",
		Short: "Operate the JobNex job queue",
		Long: `Administrative commands for the JobNex job queue.

jobctl reads the same configuration file as the worker service and talks to
the job store directly. Use it to apply schema migrations, drain the queue
once from a cron job, inspect queue depth and release jobs held by a crashed
dispatcher.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "path to configuration file")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", outputYAML, "output format (yaml, json)")

	cmd.AddCommand(
		newMigrateCommand(opts),
		newRunOnceCommand(opts),
		newStatsCommand(opts),
		newRecoverStaleCommand(opts),
	)

	return cmd
}

// openEnv loads the config and opens the store. Logs go to stderr unless the
// config names another output so stdout carries only command results.
func openEnv(cmd *cobra.Command, opts *rootOptions) (*env, error) {
	cfg, err := bootstrap.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	appLogger, err := bootstrap.InitLogger(&cfg.Logging, "jobctl")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := bootstrap.OpenDatabase(cmd.Context(), &cfg.Database, appLogger.Logger)
	if err != nil {
		appLogger.Close()
		return nil, err
	}

	return &env{cfg: cfg, logger: appLogger, db: db}, nil
}

func printResult(w io.Writer, format string, v any) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}
