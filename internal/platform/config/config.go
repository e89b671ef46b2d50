package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the indexer
type Config struct {
	Solana        SolanaConfig        `mapstructure:"solana"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Warmup        WarmupConfig        `mapstructure:"warmup"`
	Maintenance   MaintenanceConfig   `mapstructure:"maintenance"`
	Watcher       WatcherConfig       `mapstructure:"watcher"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	HTTP          HTTPConfig          `mapstructure:"http"`
}

// SolanaConfig holds Solana RPC connection configuration
type SolanaConfig struct {
	RPCEndpoints        []string        `mapstructure:"rpc_endpoints"`
	Commitment          string          `mapstructure:"commitment"` // processed, confirmed, finalized
	RateLimit           RateLimitConfig `mapstructure:"rate_limit"`
	HealthCheckInterval time.Duration   `mapstructure:"health_check_interval"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// CacheConfig holds per-tier cache configuration
type CacheConfig struct {
	Slots        TierConfig `mapstructure:"slots"`
	Transactions TierConfig `mapstructure:"transactions"`
	Accounts     TierConfig `mapstructure:"accounts"`
	Blocks       TierConfig `mapstructure:"blocks"`
}

// TierConfig holds capacity and expiry settings for one cache tier
type TierConfig struct {
	MaxEntries  uint64        `mapstructure:"max_entries"`
	MaxWeight   uint64        `mapstructure:"max_weight"`
	TTL         time.Duration `mapstructure:"ttl"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// WarmupConfig holds cache warming settings
type WarmupConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	SlotCount   uint64        `mapstructure:"slot_count"`
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// MaintenanceConfig holds background sweep settings
type MaintenanceConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// WatcherConfig holds account watcher settings
type WatcherConfig struct {
	Accounts     []string      `mapstructure:"accounts"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Sampler  string `mapstructure:"sampler"` // always, never, ratio
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not fatal if env vars are set
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Solana defaults
	v.SetDefault("solana.rpc_endpoints", []string{"https://api.mainnet-beta.solana.com"})
	v.SetDefault("solana.commitment", "confirmed")
	v.SetDefault("solana.rate_limit.requests_per_second", 10.0)
	v.SetDefault("solana.rate_limit.burst", 20)
	v.SetDefault("solana.health_check_interval", "30s")

	// Cache tier defaults
	v.SetDefault("cache.slots.max_entries", 1000)
	v.SetDefault("cache.slots.ttl", "30s")
	v.SetDefault("cache.slots.idle_timeout", "10s")

	v.SetDefault("cache.transactions.max_entries", 10000)
	v.SetDefault("cache.transactions.max_weight", 50_000_000)
	v.SetDefault("cache.transactions.ttl", "5m")
	v.SetDefault("cache.transactions.idle_timeout", "1m")

	v.SetDefault("cache.accounts.max_entries", 5000)
	v.SetDefault("cache.accounts.max_weight", 100_000_000)
	v.SetDefault("cache.accounts.ttl", "10m")
	v.SetDefault("cache.accounts.idle_timeout", "2m")

	v.SetDefault("cache.blocks.max_entries", 500)
	v.SetDefault("cache.blocks.max_weight", 500_000_000)
	v.SetDefault("cache.blocks.ttl", "1h")

	// Warmup defaults
	v.SetDefault("warmup.enabled", true)
	v.SetDefault("warmup.slot_count", 50)
	v.SetDefault("warmup.concurrency", 4)
	v.SetDefault("warmup.timeout", "30s")

	// Maintenance defaults
	v.SetDefault("maintenance.interval", "30s")

	// Watcher defaults
	v.SetDefault("watcher.accounts", []string{})
	v.SetDefault("watcher.poll_interval", "10s")

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sampler", "always")

	// HTTP defaults
	v.SetDefault("http.port", 8080)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Solana validation
	if len(c.Solana.RPCEndpoints) == 0 {
		return fmt.Errorf("at least one RPC endpoint is required")
	}

	validCommitments := map[string]bool{
		"processed": true,
		"confirmed": true,
		"finalized": true,
	}
	if !validCommitments[c.Solana.Commitment] {
		return fmt.Errorf("invalid commitment: %s", c.Solana.Commitment)
	}

	if c.Solana.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be > 0")
	}

	// Cache validation
	for name, tier := range map[string]TierConfig{
		"slots":        c.Cache.Slots,
		"transactions": c.Cache.Transactions,
		"accounts":     c.Cache.Accounts,
		"blocks":       c.Cache.Blocks,
	} {
		if tier.MaxEntries == 0 {
			return fmt.Errorf("cache.%s.max_entries must be > 0", name)
		}
		if tier.TTL <= 0 {
			return fmt.Errorf("cache.%s.ttl must be > 0", name)
		}
	}

	// Warmup validation
	if c.Warmup.Enabled && c.Warmup.SlotCount == 0 {
		return fmt.Errorf("warmup slot count must be > 0 when warmup is enabled")
	}

	// Maintenance validation
	if c.Maintenance.Interval <= 0 {
		return fmt.Errorf("maintenance interval must be > 0")
	}

	// Watcher validation
	if c.Watcher.PollInterval <= 0 {
		return fmt.Errorf("watcher poll interval must be > 0")
	}

	// Observability validation
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	return nil
}
