// Package config builds the process configuration once at startup.
// Core logic never inspects the environment; everything is passed in
// as an explicit value object from here.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store holds DynamoDB connection and table settings. A non-empty Endpoint
// selects a local DynamoDB with static credentials; otherwise the default
// AWS credential chain applies.
type Store struct {
	TableName string `env:"AUDIT_TABLE" envDefault:"audit-logs"`
	IndexName string `env:"AUDIT_DATE_INDEX" envDefault:"created-at-index"`
	Region    string `env:"AWS_REGION" envDefault:"us-east-1"`
	Endpoint  string `env:"DYNAMODB_ENDPOINT"`
	AccessKey string `env:"DYNAMODB_ACCESS_KEY_ID" envDefault:"dummy"`
	SecretKey string `env:"DYNAMODB_SECRET_ACCESS_KEY" envDefault:"dummy"`
}

// Queue controls the deferred-write path.
type Queue struct {
	Enabled        bool          `env:"AUDIT_QUEUE_ENABLED" envDefault:"false"`
	Workers        int           `env:"AUDIT_QUEUE_WORKERS" envDefault:"4"`
	AttemptTimeout time.Duration `env:"AUDIT_QUEUE_ATTEMPT_TIMEOUT" envDefault:"60s"`
	RedisURL       string        `env:"AUDIT_QUEUE_REDIS_URL"`
}

// Redis tunes the go-redis client used by the Redis-backed queue.
type Redis struct {
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// Config is the full process configuration.
type Config struct {
	Addr string `env:"SCRIBE_ADDR" envDefault:":8080"`

	// RetentionDays drives the expires_at attribute on written records.
	// Unset defaults to two years; zero or negative disables expiry
	// entirely (infinite retention), surfaced as a nil Retention().
	RetentionDays *int `env:"AUDIT_TTL_DAYS"`

	// IndexEnabled routes recent-browsing queries through the date index
	// when it is ready. IndexOnly makes the index the exclusive source,
	// skipping the hybrid merge with the base table.
	IndexEnabled bool `env:"AUDIT_ENABLE_DATE_INDEX" envDefault:"false"`
	IndexOnly    bool `env:"AUDIT_DATE_INDEX_ONLY" envDefault:"false"`

	JWTSigningKey string `env:"JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`

	Store Store
	Queue Queue
	Redis Redis
}

const defaultRetentionDays = 730

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.RetentionDays == nil {
		days := defaultRetentionDays
		cfg.RetentionDays = &days
	}
	return cfg, nil
}

// Retention returns the configured retention period, or nil when expiry
// is disabled.
func (c *Config) Retention() *time.Duration {
	if c.RetentionDays == nil || *c.RetentionDays <= 0 {
		return nil
	}
	d := time.Duration(*c.RetentionDays) * 24 * time.Hour
	return &d
}
