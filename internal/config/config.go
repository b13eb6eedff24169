// Package config provides configuration management for the extraction service.
// It loads configuration from environment variables and .env files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Upstream UpstreamConfig
	Worker   WorkerConfig
	Webhook  WebhookConfig
	Coins    CoinsConfig
	Cache    CacheConfig
	Logging  LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port        string
	Host        string
	UserRPS     int // per-user request rate on /api routes
	ReadTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the connection URL used by golang-migrate
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// ClickHouseConfig holds ClickHouse configuration for the result store
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// UpstreamConfig holds the extraction API client configuration
type UpstreamConfig struct {
	BaseURL        string
	AccessKey      string
	RequestsPerSec float64
	Burst          int
	Timeout        time.Duration
	MaxAttempts    int
	Budget         BudgetConfig
}

// BudgetConfig holds the Redis-shared upstream request budget. A zero
// PerWindow disables it and leaves only the per-process limiter.
type BudgetConfig struct {
	PerWindow     int
	Reserved      int
	Window        time.Duration
	MaxWait       time.Duration
	EndpointCosts string // "path=units,..." overrides
}

// WorkerConfig holds poller configuration
type WorkerConfig struct {
	PollInterval time.Duration
	// ShutdownTimeout bounds the wait for the job in hand on shutdown; the job
	// is then marked failed. Zero waits for it to finish.
	ShutdownTimeout time.Duration
}

// WebhookConfig holds the shared secret checked on chunk webhooks
type WebhookConfig struct {
	Secret string
}

// CoinsConfig holds cost estimation settings
type CoinsConfig struct {
	FallbackEstimate int64 // items assumed per target when a count lookup fails
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	CountTTL time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			UserRPS:     getEnvAsInt("SERVER_USER_RPS", 10),
			ReadTimeout: getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "extractor"),
				User:           getEnv("POSTGRES_USER", "extractor"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", true),
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "extractor"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Upstream: UpstreamConfig{
			BaseURL:        getEnv("UPSTREAM_BASE_URL", "https://api.hikerapi.com"),
			AccessKey:      getEnv("UPSTREAM_ACCESS_KEY", ""),
			RequestsPerSec: getEnvAsFloat("UPSTREAM_RPS", 5),
			Burst:          getEnvAsInt("UPSTREAM_BURST", 5),
			Timeout:        getEnvAsDuration("UPSTREAM_TIMEOUT", 30*time.Second),
			MaxAttempts:    getEnvAsInt("UPSTREAM_MAX_ATTEMPTS", 4),
			Budget: BudgetConfig{
				PerWindow:     getEnvAsInt("UPSTREAM_BUDGET", 0),
				Reserved:      getEnvAsInt("UPSTREAM_BUDGET_RESERVED", 0),
				Window:        getEnvAsDuration("UPSTREAM_BUDGET_WINDOW", time.Second),
				MaxWait:       getEnvAsDuration("UPSTREAM_BUDGET_MAX_WAIT", 30*time.Second),
				EndpointCosts: getEnv("UPSTREAM_ENDPOINT_COSTS", ""),
			},
		},
		Worker: WorkerConfig{
			PollInterval:    getEnvAsDuration("WORKER_POLL_INTERVAL", 3*time.Second),
			ShutdownTimeout: getEnvAsDuration("WORKER_SHUTDOWN_TIMEOUT", 0),
		},
		Webhook: WebhookConfig{
			Secret: getEnv("WEBHOOK_SECRET", ""),
		},
		Coins: CoinsConfig{
			FallbackEstimate: int64(getEnvAsInt("COINS_FALLBACK_ESTIMATE", 1000)),
		},
		Cache: CacheConfig{
			CountTTL: getEnvAsDuration("COUNT_CACHE_TTL", 10*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// Validate reports configuration values that must be set before the
// service can talk to its collaborators.
func (c *Config) Validate() error {
	var errs []error
	if c.Upstream.AccessKey == "" {
		errs = append(errs, errors.New("UPSTREAM_ACCESS_KEY is required"))
	}
	if c.Upstream.RequestsPerSec <= 0 {
		errs = append(errs, errors.New("UPSTREAM_RPS must be positive"))
	}
	if b := c.Upstream.Budget; b.PerWindow < 0 || b.Reserved < 0 || (b.PerWindow > 0 && b.Reserved > b.PerWindow) {
		errs = append(errs, errors.New("UPSTREAM_BUDGET_RESERVED must be between 0 and UPSTREAM_BUDGET"))
	}
	if c.Worker.PollInterval <= 0 {
		errs = append(errs, errors.New("WORKER_POLL_INTERVAL must be positive"))
	}
	if c.Coins.FallbackEstimate < 0 {
		errs = append(errs, errors.New("COINS_FALLBACK_ESTIMATE cannot be negative"))
	}
	return errors.Join(errs...)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
