package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Gateway    GatewayConfig
	Settlement SettlementConfig
	Jobs       JobsConfig
	Secrets    SecretsConfig
	Logger     LoggerConfig
	RateLimit  RateLimitConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string
	Port           int
	MetricsPort    int
	HealthGRPCPort int
}

// DatabaseConfig holds PostgreSQL configuration.
// URL wins over the individual parts when set.
type DatabaseConfig struct {
	URL      string
	Host     string
	User     string
	Password string
	Database string
	SSLMode  string
	Port     int
	MaxConns int32
	MinConns int32
}

// GatewayConfig holds settlement network configuration
type GatewayConfig struct {
	BaseURL          string // e.g. https://rtp.example.net
	APIKeySecretPath string // secret manager path of the bearer API key
	Timeout          time.Duration
	MaxRetries       int
}

// SettlementConfig holds the engine's business settings
type SettlementConfig struct {
	DebitAccount       string
	ReferencePrefix    string
	LineMode           string // per_record or consolidated
	MaxRecordsPerBatch int
	LockTTL            time.Duration
}

// JobsConfig holds background job schedules
type JobsConfig struct {
	PollInterval       time.Duration
	PollMinAge         time.Duration
	StaleSweepInterval time.Duration
	PollWorkers        int
	PollBatchLimit     int
}

// SecretsConfig selects and configures the secret backend
type SecretsConfig struct {
	Manager           string // aws, vault or local
	LocalPath         string
	AWSRegion         string
	VaultAddress      string
	VaultToken        string
	WebhookSecretPath string
	CacheTTL          time.Duration
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	File        string // optional rotated log file
	Development bool
}

// RateLimitConfig holds per-IP API rate limits
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
			HealthGRPCPort: getEnvAsInt("HEALTH_GRPC_PORT", 9091),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "harvest_settlement"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		},
		Gateway: GatewayConfig{
			BaseURL:          getEnv("NETWORK_BASE_URL", ""),
			APIKeySecretPath: getEnv("NETWORK_API_KEY_SECRET", "harvest-settlement/network-api-key"),
			Timeout:          getEnvAsDuration("NETWORK_TIMEOUT", 30*time.Second),
			MaxRetries:       getEnvAsInt("NETWORK_MAX_RETRIES", 3),
		},
		Settlement: SettlementConfig{
			DebitAccount:       getEnv("SETTLEMENT_DEBIT_ACCOUNT", ""),
			ReferencePrefix:    getEnv("SETTLEMENT_REFERENCE_PREFIX", "HARVEST"),
			LineMode:           getEnv("SETTLEMENT_LINE_MODE", "per_record"),
			MaxRecordsPerBatch: getEnvAsInt("SETTLEMENT_MAX_RECORDS_PER_BATCH", 100),
			LockTTL:            getEnvAsDuration("SETTLEMENT_LOCK_TTL", 15*time.Minute),
		},
		Jobs: JobsConfig{
			PollInterval:       getEnvAsDuration("POLL_INTERVAL", time.Minute),
			PollMinAge:         getEnvAsDuration("POLL_MIN_AGE", 2*time.Minute),
			StaleSweepInterval: getEnvAsDuration("STALE_SWEEP_INTERVAL", 5*time.Minute),
			PollWorkers:        getEnvAsInt("POLL_WORKERS", 8),
			PollBatchLimit:     getEnvAsInt("POLL_BATCH_LIMIT", 200),
		},
		Secrets: SecretsConfig{
			Manager:           getEnv("SECRET_MANAGER", "local"),
			LocalPath:         getEnv("LOCAL_SECRETS_PATH", "./secrets"),
			AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
			VaultAddress:      getEnv("VAULT_ADDR", ""),
			VaultToken:        getEnv("VAULT_TOKEN", ""),
			WebhookSecretPath: getEnv("WEBHOOK_SECRET_PATH", "harvest-settlement/webhook-signing-key"),
			CacheTTL:          getEnvAsDuration("SECRET_CACHE_TTL", 5*time.Minute),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			File:        getEnv("LOG_FILE", ""),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 40),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if c.Database.URL == "" && c.Database.Password == "" {
		return fmt.Errorf("DATABASE_URL or DB_PASSWORD is required")
	}
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("NETWORK_BASE_URL is required")
	}
	if c.Settlement.DebitAccount == "" {
		return fmt.Errorf("SETTLEMENT_DEBIT_ACCOUNT is required")
	}
	if c.Settlement.LineMode != "per_record" && c.Settlement.LineMode != "consolidated" {
		return fmt.Errorf("SETTLEMENT_LINE_MODE must be per_record or consolidated, got %q", c.Settlement.LineMode)
	}
	if c.Settlement.MaxRecordsPerBatch < 1 {
		return fmt.Errorf("SETTLEMENT_MAX_RECORDS_PER_BATCH must be positive")
	}
	if c.Settlement.LockTTL <= 0 {
		return fmt.Errorf("SETTLEMENT_LOCK_TTL must be positive")
	}
	if c.Jobs.PollWorkers < 1 {
		return fmt.Errorf("POLL_WORKERS must be positive")
	}
	switch c.Secrets.Manager {
	case "aws", "local":
	case "vault":
		if c.Secrets.VaultAddress == "" {
			return fmt.Errorf("VAULT_ADDR is required when SECRET_MANAGER=vault")
		}
	default:
		return fmt.Errorf("unknown SECRET_MANAGER: %s", c.Secrets.Manager)
	}
	return nil
}

// ConnectionString returns the PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
