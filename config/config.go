// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/artpar/usagegate/domain/plan"
)

// Config is the root configuration structure.
type Config struct {
	Server            ServerConfig      `yaml:"server"`
	Database          DatabaseConfig    `yaml:"database"`
	Keys              KeysConfig        `yaml:"keys"`
	RateLimit         RateLimitConfig   `yaml:"rate_limit"`
	Billing           BillingConfig     `yaml:"billing"`
	Plans             []PlanConfig      `yaml:"plans"`
	CapabilityPricing map[string]string `yaml:"capability_pricing"`
	Logging           LoggingConfig     `yaml:"logging"`
	Metrics           MetricsConfig     `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures the database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	DSN    string `yaml:"dsn"`
}

// KeysConfig configures API key handling.
type KeysConfig struct {
	Prefix string `yaml:"prefix"` // raw key prefix, e.g. "ug_"
	Header string `yaml:"header"` // header carrying the key (default: X-API-Key)
}

// RateLimitConfig configures the limiter.
type RateLimitConfig struct {
	CacheShards     int           `yaml:"cache_shards"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// BillingConfig configures billing cycle maintenance.
type BillingConfig struct {
	CloseInterval time.Duration `yaml:"close_interval"`
}

// PlanConfig configures one subscription tier. Prices are decimal
// strings ("0.005", "49.99") to avoid float drift in YAML.
type PlanConfig struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	CallsPerMinute int64  `yaml:"calls_per_minute"`
	CallsPerHour   int64  `yaml:"calls_per_hour"`
	CallsPerDay    int64  `yaml:"calls_per_day"`
	MonthlyCalls   int64  `yaml:"monthly_calls"`
	PricePerCall   string `yaml:"price_per_call"`
	MonthlyFee     string `yaml:"monthly_fee"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // default: /metrics
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment
// variables, for deployments without a config file.
//
// Environment variables:
//
//	USAGEGATE_DATABASE_DSN     - Database path (default: usagegate.db)
//	USAGEGATE_SERVER_HOST      - Server host (default: 0.0.0.0)
//	USAGEGATE_SERVER_PORT      - Server port (default: 8080)
//	USAGEGATE_KEY_PREFIX       - API key prefix (default: ug_)
//	USAGEGATE_LOG_LEVEL        - Log level (default: info)
//	USAGEGATE_LOG_FORMAT       - json or console (default: json)
//	USAGEGATE_METRICS_ENABLED  - Enable /metrics (default: true)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries the file, then falls back to environment.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// DomainPlans converts the configured tiers to domain plans. An empty
// catalog yields the built-in defaults.
func (c *Config) DomainPlans() ([]plan.Plan, error) {
	if len(c.Plans) == 0 {
		return plan.Defaults(), nil
	}

	plans := make([]plan.Plan, 0, len(c.Plans))
	for _, pc := range c.Plans {
		p := plan.Plan{
			ID:             pc.ID,
			Name:           pc.Name,
			CallsPerMinute: pc.CallsPerMinute,
			CallsPerHour:   pc.CallsPerHour,
			CallsPerDay:    pc.CallsPerDay,
			MonthlyCalls:   pc.MonthlyCalls,
			PricePerCall:   decimal.Zero,
			MonthlyFee:     decimal.Zero,
		}
		var err error
		if pc.PricePerCall != "" {
			if p.PricePerCall, err = decimal.NewFromString(pc.PricePerCall); err != nil {
				return nil, fmt.Errorf("plan %s: price_per_call: %w", pc.ID, err)
			}
		}
		if pc.MonthlyFee != "" {
			if p.MonthlyFee, err = decimal.NewFromString(pc.MonthlyFee); err != nil {
				return nil, fmt.Errorf("plan %s: monthly_fee: %w", pc.ID, err)
			}
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// Pricing converts the configured capability prices. An empty table
// yields the built-in module catalog.
func (c *Config) Pricing() (plan.CapabilityPricing, error) {
	if len(c.CapabilityPricing) == 0 {
		return plan.DefaultCapabilityPricing(), nil
	}

	pricing := make(plan.CapabilityPricing, len(c.CapabilityPricing))
	for capability, price := range c.CapabilityPricing {
		d, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("capability_pricing %s: %w", capability, err)
		}
		pricing[capability] = d
	}
	return pricing, nil
}

// applyEnvOverrides applies USAGEGATE_* environment variables.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("USAGEGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("USAGEGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("USAGEGATE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("USAGEGATE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("USAGEGATE_KEY_PREFIX"); v != "" {
		cfg.Keys.Prefix = v
	}
	if v := os.Getenv("USAGEGATE_KEY_HEADER"); v != "" {
		cfg.Keys.Header = v
	}
	if v := os.Getenv("USAGEGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("USAGEGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("USAGEGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "usagegate.db"
	}

	if cfg.Keys.Prefix == "" {
		cfg.Keys.Prefix = "ug_"
	}
	if cfg.Keys.Header == "" {
		cfg.Keys.Header = "X-API-Key"
	}

	if cfg.RateLimit.CacheShards == 0 {
		cfg.RateLimit.CacheShards = 32
	}
	if cfg.RateLimit.SweepInterval == 0 {
		cfg.RateLimit.SweepInterval = time.Minute
	}
	if cfg.RateLimit.CleanupInterval == 0 {
		cfg.RateLimit.CleanupInterval = time.Hour
	}

	if cfg.Billing.CloseInterval == 0 {
		cfg.Billing.CloseInterval = time.Hour
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", cfg.Server.Port)
	}

	validDrivers := map[string]bool{"sqlite": true, "memory": true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be 'sqlite' or 'memory', got %q", cfg.Database.Driver)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", cfg.Logging.Level)
	}

	seen := make(map[string]bool, len(cfg.Plans))
	for _, pc := range cfg.Plans {
		if pc.ID == "" {
			return fmt.Errorf("plan with empty id")
		}
		if seen[pc.ID] {
			return fmt.Errorf("duplicate plan id %q", pc.ID)
		}
		seen[pc.ID] = true
	}

	// Decimal prices must parse; fail at load, not mid-request.
	if _, err := (&Config{Plans: cfg.Plans}).DomainPlans(); err != nil {
		return err
	}
	if _, err := (&Config{CapabilityPricing: cfg.CapabilityPricing}).Pricing(); err != nil {
		return err
	}

	return nil
}
