package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the reportrunner server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Insights InsightsConfig
	Retry    RetryConfig
	Runner   RunnerConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type InsightsConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RetryConfig is the backoff schedule applied to insights API calls.
type RetryConfig struct {
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	MaxAttempts  int
}

// RunnerConfig tunes the report sweeper.
type RunnerConfig struct {
	PollInterval time.Duration
	MaxRestarts  int
	JobStatusTTL time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("REPORTRUNNER_PORT", 8080),
			Env:  envString("REPORTRUNNER_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Insights: InsightsConfig{
			BaseURL: os.Getenv("INSIGHTS_BASE_URL"),
			APIKey:  os.Getenv("INSIGHTS_API_KEY"),
			Timeout: envDuration("INSIGHTS_TIMEOUT", 30*time.Second),
		},
		Retry: RetryConfig{
			InitialDelay: envDuration("RETRY_INITIAL_DELAY", time.Second),
			Factor:       envFloat("RETRY_FACTOR", 5),
			MaxDelay:     envDuration("RETRY_MAX_DELAY", time.Minute),
			MaxAttempts:  envInt("RETRY_MAX_ATTEMPTS", 5),
		},
		Runner: RunnerConfig{
			PollInterval: envDuration("RUNNER_POLL_INTERVAL", 10*time.Second),
			MaxRestarts:  envInt("RUNNER_MAX_RESTARTS", 2),
			JobStatusTTL: envDuration("RUNNER_JOB_STATUS_TTL", 30*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Insights.BaseURL == "" {
		return fmt.Errorf("INSIGHTS_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Insights.BaseURL, "http://") && !strings.HasPrefix(c.Insights.BaseURL, "https://") {
		return fmt.Errorf("INSIGHTS_BASE_URL must start with http:// or https://, got %q", c.Insights.BaseURL)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Factor < 1 {
		return fmt.Errorf("RETRY_FACTOR must be at least 1, got %v", c.Retry.Factor)
	}

	if c.Runner.PollInterval <= 0 {
		return fmt.Errorf("RUNNER_POLL_INTERVAL must be positive, got %v", c.Runner.PollInterval)
	}
	if c.Runner.MaxRestarts < 0 {
		return fmt.Errorf("RUNNER_MAX_RESTARTS must not be negative, got %d", c.Runner.MaxRestarts)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
