package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the job relay
type Config struct {
	// Server configuration
	HTTPPort int    `env:"JOBRELAY_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"JOBRELAY_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Local mode keeps job records and events in memory, resolves applications
	// from the pipeline registry and stops runs before submission
	LocalMode bool `env:"JOBRELAY_LOCAL_MODE" envDefault:"false"`

	// Identity of this relay, recorded on every job record
	Nickname string `env:"JOBRELAY_NICKNAME" envDefault:"jobrelay"`
	AgentID  string `env:"JOBRELAY_AGENT_ID" envDefault:"jobrelay-local"`

	// Redis configuration
	Redis RedisConfig

	// Pipeline registry configuration
	Pipelines PipelineConfig

	// Remote execution API configuration
	Remote RemoteConfig

	// Job record configuration
	Jobs JobConfig

	// Worker configuration
	Workers WorkerConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// Job records expire this long after their last write
	JobTTL time.Duration `env:"REDIS_JOB_TTL" envDefault:"720h"`
}

// PipelineConfig holds pipeline registry configuration
type PipelineConfig struct {
	DBPath   string `env:"PIPELINES_DB_PATH" envDefault:"./data/pipelines.db"`
	SeedFile string `env:"PIPELINES_FILE"`
}

// RemoteConfig holds remote execution API and app registry configuration
type RemoteConfig struct {
	BaseURL        string        `env:"REMOTE_API_BASE_URL" envDefault:"https://api.tacc.utexas.edu"`
	Token          string        `env:"REMOTE_API_TOKEN"`
	RequestTimeout time.Duration `env:"REMOTE_API_TIMEOUT" envDefault:"30s"`
}

// JobConfig holds job record setup configuration
type JobConfig struct {
	// CallbackBaseURL is the externally reachable base URL of this relay
	CallbackBaseURL string `env:"JOBS_CALLBACK_BASE_URL" envDefault:"http://localhost:8080"`
	// UpdatesNonce signs callback tokens
	UpdatesNonce  string `env:"JOBS_UPDATES_NONCE"`
	ArchiveSystem string `env:"JOBS_ARCHIVE_SYSTEM" envDefault:"data-sd2e-community"`
	ArchiveRoot   string `env:"JOBS_ARCHIVE_ROOT" envDefault:"/products/v2"`
	// NotificationPolicy is "wildcard" or "per-event"
	NotificationPolicy string `env:"JOBS_NOTIFICATION_POLICY" envDefault:"wildcard"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"5"`
	QueueSize           int           `env:"WORKER_QUEUE_SIZE" envDefault:"100"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	// Validate Redis config
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	if c.Pipelines.DBPath == "" {
		return fmt.Errorf("pipeline database path is required")
	}

	// Validate remote API config
	if _, err := url.ParseRequestURI(c.Remote.BaseURL); err != nil {
		return fmt.Errorf("invalid remote API base URL: %w", err)
	}
	if c.Remote.Token == "" && !c.LocalMode {
		return fmt.Errorf("remote API token is required unless local mode is enabled")
	}

	// Validate job config
	if _, err := url.ParseRequestURI(c.Jobs.CallbackBaseURL); err != nil {
		return fmt.Errorf("invalid callback base URL: %w", err)
	}
	if c.Jobs.UpdatesNonce == "" {
		return fmt.Errorf("job updates nonce is required")
	}
	if c.Jobs.NotificationPolicy != "wildcard" && c.Jobs.NotificationPolicy != "per-event" {
		return fmt.Errorf("invalid notification policy: %s (must be wildcard or per-event)", c.Jobs.NotificationPolicy)
	}

	// Validate worker config
	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}
	if c.Workers.QueueSize < 1 {
		return fmt.Errorf("worker queue size must be at least 1")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
