// Package bootstrap builds the services shared by the binaries from the loaded
// configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobnex-queue/internal/config"
	"github.com/cuongbtq/jobnex-queue/internal/domain"
	"github.com/cuongbtq/jobnex-queue/internal/jobs/matching"
	"github.com/cuongbtq/jobnex-queue/internal/queue"
	"github.com/cuongbtq/jobnex-queue/internal/storage"
	"github.com/cuongbtq/jobnex-queue/internal/storage/memory"
	"github.com/cuongbtq/jobnex-queue/internal/usage"
	"github.com/cuongbtq/jobnex-queue/internal/worker"
	"github.com/cuongbtq/jobnex-queue/migrations"
	"github.com/cuongbtq/jobnex-queue/shared/logger"
	"github.com/cuongbtq/jobnex-queue/shared/postgresql"
	"github.com/cuongbtq/jobnex-queue/shared/rabbitmq"
	"github.com/cuongbtq/jobnex-queue/shared/redis"
)

// Store is every persistence operation the services need. Both the
// PostgreSQL storage and the memory store implement it.
type Store interface {
	queue.JobStore
	queue.ResultStore
	worker.JobStore
	worker.ResultStore
	usage.Store
	matching.EmbeddingStore
}

var (
	_ Store = (*storage.Storage)(nil)
	_ Store = (*memory.Store)(nil)
)

// Database is the opened store plus the connection behind it, if any
type Database struct {
	Store  Store
	Client *postgresql.Client
}

// HealthCheck pings PostgreSQL. The memory driver is always healthy.
func (d *Database) HealthCheck(ctx context.Context) error {
	if d.Client == nil {
		return nil
	}
	return d.Client.HealthCheck(ctx)
}

// Close releases the connection pool
func (d *Database) Close() error {
	if d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

// LoadConfig reads the YAML file at path
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig, service string) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      service,
	})
}

// OpenDatabase opens the configured store and runs migrations when
// auto_migrate is set
func OpenDatabase(ctx context.Context, cfg *config.DatabaseConfig, log *slog.Logger) (*Database, error) {
	if cfg.Driver == config.DriverMemory {
		store := memory.New()
		for id, tier := range cfg.Subscribers {
			store.PutSubscriber(id, domain.Tier(tier))
		}
		log.Warn("Using in-memory store - jobs are lost on restart",
			slog.Int("subscribers", len(cfg.Subscribers)),
		)
		return &Database{Store: store}, nil
	}

	client, err := InitPostgreSQL(cfg, log)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := migrations.Up(ctx, client.GetDB().DB); err != nil {
			client.Close()
			return nil, err
		}
		log.Info("Database migrations applied")
	}

	return &Database{
		Store:  storage.NewStorage(client.GetDB(), log),
		Client: client,
	}, nil
}

// InitPostgreSQL initializes the PostgreSQL database client
func InitPostgreSQL(cfg *config.DatabaseConfig, log *slog.Logger) (*postgresql.Client, error) {
	client, err := postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return client, nil
}

// InitRabbitMQ initializes the RabbitMQ client. It returns nil when wake-ups
// are disabled.
func InitRabbitMQ(cfg *config.RabbitMQConfig, log *slog.Logger) (*rabbitmq.Client, error) {
	if !cfg.Enabled {
		log.Info("RabbitMQ disabled - dispatchers rely on their schedule")
		return nil, nil
	}

	client, err := rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	return client, nil
}

// InitRedis initializes the Redis client. It returns nil when no address is configured.
func InitRedis(cfg *config.RedisConfig, log *slog.Logger) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	client, err := redis.NewClient(&redis.Config{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}
	return client, nil
}

// NewLimiter builds the usage limiter with the configured overrides on top of
// the default tier table
func NewLimiter(cfg *config.Config, store usage.Store, log *slog.Logger) *usage.Limiter {
	return usage.NewLimiter(store, usage.DefaultLimits().Merge(cfg.UsageLimits()), log)
}

// NewQueueService builds the enqueuer. notifier may be nil.
func NewQueueService(cfg *config.Config, store Store, rabbit *rabbitmq.Client, log *slog.Logger) *queue.Service {
	opts := []queue.Option{}
	if len(cfg.Scraping.Platforms) > 0 {
		names := make([]string, 0, len(cfg.Scraping.Platforms))
		for _, p := range cfg.Scraping.Platforms {
			names = append(names, p.Name)
		}
		opts = append(opts, queue.WithPlatforms(names...))
	}
	if rabbit != nil {
		opts = append(opts, queue.WithNotifier(queue.NewBrokerNotifier(rabbit)))
	}
	return queue.NewService(store, store, NewLimiter(cfg, store, log), log, opts...)
}
