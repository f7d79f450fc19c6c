package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the sequence engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Quota     QuotaConfig     `yaml:"quota"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Storage   StorageConfig   `yaml:"storage"`
}

// StorageConfig holds the S3 bucket used for bulk suppression list imports.
// Optional: with no bucket, the import endpoint is disabled.
type StorageConfig struct {
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"`
}

// ServerConfig holds the admin API listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the Redis connection used for the quota ledger and
// distributed locks. Optional: with no address, locks fall back to PG
// advisory locks and the ledger must be configured elsewhere.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SchedulerConfig tunes the dispatch worker.
type SchedulerConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	ClaimBatchSize      int `yaml:"claim_batch_size"`
	HeartbeatSeconds    int `yaml:"heartbeat_seconds"`
}

// QuotaConfig holds quota policy defaults. DefaultDailyLimit applies to
// identities with no limit recorded in the ledger. RestrictWindowDays bounds
// restrict-mode: an activation that cannot finish within the window is
// rejected instead of spread.
type QuotaConfig struct {
	DefaultDailyLimit  int    `yaml:"default_daily_limit"`
	RestrictMode       bool   `yaml:"restrict_mode"`
	RestrictWindowDays int    `yaml:"restrict_window_days"`
	DefaultTimezone    string `yaml:"default_timezone"`
}

// DeliveryConfig holds the ESP (email service provider) settings used by
// the dispatch worker to hand messages off for delivery. Provider selects
// the backend: "http" for a generic ESP API, "ses" for AWS SES v2.
type DeliveryConfig struct {
	Provider       string `yaml:"provider"`
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	FromDomain     string `yaml:"from_domain"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
	AWSRegion      string `yaml:"aws_region"`
	AWSAccessKey   string `yaml:"aws_access_key"`
	AWSSecretKey   string `yaml:"aws_secret_key"`
}

// Timeout returns the HTTP client timeout for delivery API calls.
func (d DeliveryConfig) Timeout() time.Duration {
	if d.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is loaded first, so secrets can live in .env
// locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if os.IsNotExist(errors.Unwrap(err)) {
		// No config file: run on defaults plus env overrides.
		cfg = &Config{}
		applyDefaults(cfg)
	} else if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("DELIVERY_API_KEY"); v != "" {
		cfg.Delivery.APIKey = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.Delivery.AWSAccessKey = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.Delivery.AWSSecretKey = v
	}
	if v := os.Getenv("QUOTA_DAILY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Quota.DefaultDailyLimit = n
		}
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Scheduler.PollIntervalSeconds == 0 {
		cfg.Scheduler.PollIntervalSeconds = 15
	}
	if cfg.Scheduler.ClaimBatchSize == 0 {
		cfg.Scheduler.ClaimBatchSize = 500
	}
	if cfg.Scheduler.HeartbeatSeconds == 0 {
		cfg.Scheduler.HeartbeatSeconds = 10
	}
	if cfg.Quota.DefaultDailyLimit == 0 {
		cfg.Quota.DefaultDailyLimit = 200
	}
	if cfg.Quota.RestrictWindowDays == 0 {
		cfg.Quota.RestrictWindowDays = 14
	}
	if cfg.Quota.DefaultTimezone == "" {
		cfg.Quota.DefaultTimezone = "UTC"
	}
	if cfg.Delivery.Provider == "" {
		cfg.Delivery.Provider = "http"
	}
	if cfg.Delivery.MaxRetries == 0 {
		cfg.Delivery.MaxRetries = 3
	}
}
