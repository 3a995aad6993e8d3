package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Storage drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig              `yaml:"server"`
	Database   DatabaseConfig            `yaml:"database"`
	RabbitMQ   RabbitMQConfig            `yaml:"rabbitmq"`
	Redis      RedisConfig               `yaml:"redis"`
	Logging    LoggingConfig             `yaml:"logging"`
	App        AppConfig                 `yaml:"app"`
	Dispatcher DispatcherConfig          `yaml:"dispatcher"`
	Limits     map[string]map[string]int `yaml:"limits"`
	Scraping   ScrapingConfig            `yaml:"scraping"`
	Embedding  EmbeddingConfig           `yaml:"embedding"`
	Submission SubmissionConfig          `yaml:"submission"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// DispatchToken enables POST /internal/dispatch for callers presenting it
	DispatchToken   string        `yaml:"dispatch_token"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	// Driver is "postgres" (default) or "memory" for local runs
	Driver          string            `yaml:"driver"`
	AutoMigrate     bool              `yaml:"auto_migrate"`
	Host            string            `yaml:"host"`
	Port            int               `yaml:"port"`
	User            string            `yaml:"user"`
	Password        string            `yaml:"password"`
	Database        string            `yaml:"database"`
	SSLMode         string            `yaml:"sslmode"`
	MaxOpenConns    int               `yaml:"max_open_conns"`
	MaxIdleConns    int               `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration     `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration     `yaml:"conn_max_idle_time"`
	// Subscribers seeds subscriber tiers for the memory driver
	Subscribers     map[string]string `yaml:"subscribers"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	// Enabled turns on wake-up notifications. Without it dispatchers rely on their schedule.
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	Tag           string `yaml:"tag"`
	PrefetchCount int    `yaml:"prefetch_count"`
}

// RedisConfig holds Redis connection settings used by the application guard
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// DispatcherConfig holds settings for the dispatcher and its runner
type DispatcherConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	BatchSize         int           `yaml:"batch_size"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	Schedule          string        `yaml:"schedule"`
	StaleSchedule     string        `yaml:"stale_schedule"`
	StaleThreshold    time.Duration `yaml:"stale_threshold"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MetricsPort       int           `yaml:"metrics_port"`
	Retry             RetryConfig   `yaml:"retry"`
}

// RetryConfig configures the optional retry policy. MaxAttempts <= 1 disables it.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// ScrapingConfig holds the scraping handler settings
type ScrapingConfig struct {
	UserAgent      string           `yaml:"user_agent"`
	RequestTimeout time.Duration    `yaml:"request_timeout"`
	Platforms      []PlatformConfig `yaml:"platforms"`
}

// PlatformConfig describes one job board
type PlatformConfig struct {
	Name              string  `yaml:"name"`
	SearchURL         string  `yaml:"search_url"`
	ItemSelector      string  `yaml:"item_selector"`
	TitleSelector     string  `yaml:"title_selector"`
	CompanySelector   string  `yaml:"company_selector"`
	LocationSelector  string  `yaml:"location_selector"`
	LinkSelector      string  `yaml:"link_selector"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MaxResults        int     `yaml:"max_results"`
}

// EmbeddingConfig holds the embedding API settings for matching
type EmbeddingConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// SubmissionConfig holds the application submission API settings
type SubmissionConfig struct {
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
	GuardTTL time.Duration `yaml:"guard_ttl"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverPostgres
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Dispatcher.Concurrency <= 0 {
		c.Dispatcher.Concurrency = 1
	}
	if c.Dispatcher.BatchSize <= 0 {
		c.Dispatcher.BatchSize = 10
	}
	if c.Dispatcher.JobTimeout <= 0 {
		c.Dispatcher.JobTimeout = 5 * time.Minute
	}
	if c.Dispatcher.HeartbeatInterval <= 0 {
		c.Dispatcher.HeartbeatInterval = 30 * time.Second
	}
	if c.Dispatcher.StaleThreshold <= 0 {
		c.Dispatcher.StaleThreshold = 5 * time.Minute
	}
	if c.Dispatcher.ShutdownTimeout <= 0 {
		c.Dispatcher.ShutdownTimeout = 30 * time.Second
	}
	if c.Submission.GuardTTL <= 0 {
		c.Submission.GuardTTL = 24 * time.Hour
	}
}

// Validate checks the settings shared by every binary
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres, "":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}

		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}

		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}

		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}

		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}

		if c.RabbitMQ.Queue.Name == "" {
			return fmt.Errorf("rabbitmq queue name is required")
		}
	}

	for tier, actions := range c.Limits {
		for action, limit := range actions {
			if limit < domain.Unlimited {
				return fmt.Errorf("invalid limit for %s/%s: %d (use -1 for unlimited)", tier, action, limit)
			}
		}
	}

	return nil
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	return c.Validate()
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if c.Dispatcher.Concurrency <= 0 {
		return fmt.Errorf("dispatcher concurrency must be greater than 0")
	}

	if c.Dispatcher.BatchSize <= 0 {
		return fmt.Errorf("dispatcher batch_size must be greater than 0")
	}

	if c.Dispatcher.JobTimeout <= 0 {
		return fmt.Errorf("dispatcher job_timeout must be greater than 0")
	}

	if c.Dispatcher.HeartbeatInterval <= 0 {
		return fmt.Errorf("dispatcher heartbeat_interval must be greater than 0")
	}

	if c.Dispatcher.HeartbeatInterval >= c.Dispatcher.StaleThreshold {
		return fmt.Errorf("dispatcher heartbeat_interval must be shorter than stale_threshold")
	}

	if c.Dispatcher.MetricsPort != 0 && (c.Dispatcher.MetricsPort < MinPort || c.Dispatcher.MetricsPort > MaxPort) {
		return fmt.Errorf("invalid metrics port: %d (must be between %d and %d)", c.Dispatcher.MetricsPort, MinPort, MaxPort)
	}

	for _, p := range c.Scraping.Platforms {
		if p.Name == "" || p.SearchURL == "" {
			return fmt.Errorf("scraping platform requires name and search_url")
		}
	}

	return c.Validate()
}

// UsageLimits converts the limits section into typed tier and action keys
func (c *Config) UsageLimits() map[domain.Tier]map[domain.Action]int {
	if len(c.Limits) == 0 {
		return nil
	}

	out := make(map[domain.Tier]map[domain.Action]int, len(c.Limits))
	for tier, actions := range c.Limits {
		row := make(map[domain.Action]int, len(actions))
		for action, limit := range actions {
			row[domain.Action(action)] = limit
		}
		out[domain.Tier(tier)] = row
	}
	return out
}
