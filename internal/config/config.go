package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	BackendSQL   = "sql"
	BackendRedis = "redis"
)

// Config is the full configuration of the API/worker process.
type Config struct {
	StorageConfig

	RabbitMQURL       string `env:"RABBITMQ_URL,required=true"`
	MailRelayURL      string `env:"MAIL_RELAY_URL,required=true"`
	MaxRetries        int    `env:"MAX_RETRIES,default=3"`
	RetryDelayMs      int    `env:"RETRY_DELAY_MS,default=1000"`
	MaxRetryDelayMs   int    `env:"MAX_RETRY_DELAY_MS,default=60000"`
	TimeoutMs         int    `env:"TIMEOUT_MS,default=10000"`
	CleanupIntervalMn int    `env:"CLEANUP_INTERVAL_MINUTES,default=15"`
	RateLimitPerSec   int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=4"`
	APIPort           int    `env:"API_PORT,default=8080"`
}

// StorageConfig is the subset needed by tools that only touch storage, such
// as the operator CLI.
type StorageConfig struct {
	DatabaseDriver       string `env:"DATABASE_DRIVER,default=postgres"`
	DatabaseDSN          string `env:"DATABASE_DSN,required=true"`
	RedisURL             string `env:"REDIS_URL"`
	IdempotencyBackend   string `env:"IDEMPOTENCY_BACKEND,default=sql"`
	DedupWindowMinutes   int    `env:"DEDUP_WINDOW_MINUTES,default=60"`
	DedupKeyScope        string `env:"DEDUP_KEY_SCOPE,default=content"`
	FingerprintRulesPath string `env:"FINGERPRINT_RULES_PATH"`
	RetentionDays        int    `env:"RETENTION_DAYS,default=30"`
	ClockSkewToleranceMs int    `env:"CLOCK_SKEW_TOLERANCE_MS,default=1000"`
	LogLevel             string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	// Embedded structs are loaded explicitly; go-env only recurses into
	// struct fields in some versions.
	if _, err := env.UnmarshalFromEnviron(&cfg.StorageConfig); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func LoadStorage() (*StorageConfig, error) {
	var cfg StorageConfig
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := c.StorageConfig.Validate(); err != nil {
		return err
	}
	required := []struct {
		name  string
		value string
	}{
		{"REDIS_URL", c.RedisURL},
		{"RABBITMQ_URL", c.RabbitMQURL},
		{"MAIL_RELAY_URL", c.MailRelayURL},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("invalid config: %s is required", r.name)
		}
	}

	positive := []struct {
		name  string
		value int
	}{
		{"MAX_RETRIES", c.MaxRetries},
		{"RETRY_DELAY_MS", c.RetryDelayMs},
		{"MAX_RETRY_DELAY_MS", c.MaxRetryDelayMs},
		{"TIMEOUT_MS", c.TimeoutMs},
		{"CLEANUP_INTERVAL_MINUTES", c.CleanupIntervalMn},
		{"RATE_LIMIT_PER_SEC", c.RateLimitPerSec},
		{"WORKER_CONCURRENCY", c.WorkerConcurrency},
		{"API_PORT", c.APIPort},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("invalid config: %s must be > 0 (got %d)", p.name, p.value)
		}
	}
	if c.MaxRetryDelayMs < c.RetryDelayMs {
		return fmt.Errorf("invalid config: MAX_RETRY_DELAY_MS must be >= RETRY_DELAY_MS")
	}
	return nil
}

func (c *StorageConfig) Validate() error {
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("invalid config: DATABASE_DSN is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.DatabaseDriver)) {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid config: unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}

	switch c.Backend() {
	case BackendSQL:
	case BackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("invalid config: REDIS_URL is required when IDEMPOTENCY_BACKEND=redis")
		}
	default:
		return fmt.Errorf("invalid config: unsupported IDEMPOTENCY_BACKEND %q", c.IdempotencyBackend)
	}

	switch strings.ToLower(strings.TrimSpace(c.DedupKeyScope)) {
	case "content", "recipient":
	default:
		return fmt.Errorf("invalid config: unsupported DEDUP_KEY_SCOPE %q", c.DedupKeyScope)
	}

	if c.DedupWindowMinutes <= 0 {
		return fmt.Errorf("invalid config: DEDUP_WINDOW_MINUTES must be > 0 (got %d)", c.DedupWindowMinutes)
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("invalid config: RETENTION_DAYS must be > 0 (got %d)", c.RetentionDays)
	}
	if c.ClockSkewToleranceMs < 0 {
		return fmt.Errorf("invalid config: CLOCK_SKEW_TOLERANCE_MS must be >= 0 (got %d)", c.ClockSkewToleranceMs)
	}
	return nil
}

func (c *StorageConfig) Backend() string {
	return strings.ToLower(strings.TrimSpace(c.IdempotencyBackend))
}

func (c *StorageConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowMinutes) * time.Minute
}

func (c *StorageConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// ClockSkewTolerance is how long an expired SQL idempotency key stays
// unclaimable.
func (c *StorageConfig) ClockSkewTolerance() time.Duration {
	return time.Duration(c.ClockSkewToleranceMs) * time.Millisecond
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

func (c *Config) MaxRetryDelay() time.Duration {
	return time.Duration(c.MaxRetryDelayMs) * time.Millisecond
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMn) * time.Minute
}
