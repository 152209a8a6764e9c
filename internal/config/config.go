// Package config loads engine configuration from a YAML file with
// environment variable overrides on top.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Redis    RedisConfig    `yaml:"redis"`
	Provider ProviderConfig `yaml:"provider"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// TickSecret authenticates the external scheduler's tick trigger.
	// Empty disables the check (local development only).
	TickSecret string `yaml:"tick_secret"`
}

// StoreConfig holds DynamoDB settings.
type StoreConfig struct {
	TableName  string `yaml:"table_name"`
	Region     string `yaml:"region"`
	AWSProfile string `yaml:"aws_profile"`
	Endpoint   string `yaml:"endpoint"`

	// AllowScanFallback enables the degraded full-scan discovery path when
	// the status index is missing. Never enable in production.
	AllowScanFallback bool `yaml:"allow_scan_fallback"`
}

// GetAWSProfile returns the configured profile, with an env override, and
// no profile at all when running on ECS (task role credentials).
func (c StoreConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		return envProfile
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// RedisConfig holds the tick-lock Redis settings. An empty Addr disables
// the tick overlap guard.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ProviderConfig holds messaging provider settings.
type ProviderConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the provider HTTP timeout.
func (c ProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DispatchConfig holds dispatch cycle settings.
type DispatchConfig struct {
	TickSeconds     int `yaml:"tick_seconds"`
	TenantChunkSize int `yaml:"tenant_chunk_size"`
	LockTTLSeconds  int `yaml:"lock_ttl_seconds"`
}

// TickPeriod returns the interval between dispatch ticks.
func (c DispatchConfig) TickPeriod() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}

// LockTTL returns the tick lock lease duration.
func (c DispatchConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// LoggingConfig holds structured logging settings. Redaction is on unless
// explicitly disabled, so the zero value is safe.
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"` // "json" or "text"
	DisableRedaction bool   `yaml:"disable_redaction"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Store.Region == "" {
		cfg.Store.Region = "us-east-1"
	}
	if cfg.Provider.TimeoutSeconds == 0 {
		cfg.Provider.TimeoutSeconds = 30
	}
	if cfg.Dispatch.TickSeconds == 0 {
		cfg.Dispatch.TickSeconds = 60
	}
	if cfg.Dispatch.TenantChunkSize == 0 {
		cfg.Dispatch.TenantChunkSize = 10
	}
	if cfg.Dispatch.LockTTLSeconds == 0 {
		cfg.Dispatch.LockTTLSeconds = 5 * cfg.Dispatch.TickSeconds
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) first, so secrets can live in .env
// locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if secret := os.Getenv("TICK_SECRET"); secret != "" {
		cfg.Server.TickSecret = secret
	}
	if table := os.Getenv("DYNAMO_TABLE"); table != "" {
		cfg.Store.TableName = table
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.Store.Region = region
	}
	if endpoint := os.Getenv("DYNAMO_ENDPOINT"); endpoint != "" {
		cfg.Store.Endpoint = endpoint
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if baseURL := os.Getenv("PROVIDER_BASE_URL"); baseURL != "" {
		cfg.Provider.BaseURL = baseURL
	}

	return cfg, nil
}
