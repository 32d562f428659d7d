// Package config provides configuration loading for AgentLens.
//
// Precedence: defaults, then YAML file, then environment variables with the
// AGENTLENS_ prefix.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete AgentLens configuration.
type Config struct {
	// Log configures structured logging.
	Log LogConfig `yaml:"log"`
	// Database configures the span store connection.
	Database DatabaseConfig `yaml:"database"`
	// Redis configures the analysis report cache.
	Redis RedisConfig `yaml:"redis"`
	// Telemetry configures OTel self-instrumentation.
	Telemetry TelemetryConfig `yaml:"telemetry"`
	// Analysis configures the trace analyzer.
	Analysis AnalysisConfig `yaml:"analysis"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format string `yaml:"format"`
}

// DatabaseConfig configures the span store.
type DatabaseConfig struct {
	// Driver is sqlite, mysql, or postgres.
	Driver string `yaml:"driver"`
	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn"`
	// MaxOpenConns bounds the connection pool.
	MaxOpenConns int `yaml:"max_open_conns"`
	// MaxIdleConns bounds idle connections.
	MaxIdleConns int `yaml:"max_idle_conns"`
	// ConnMaxLifetime recycles connections older than this.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig configures the report cache.
type RedisConfig struct {
	// Enabled turns the cache on.
	Enabled bool `yaml:"enabled"`
	// Addr is the Redis address.
	Addr string `yaml:"addr"`
	// Password is the Redis password, empty for none.
	Password string `yaml:"password"`
	// DB is the Redis database number.
	DB int `yaml:"db"`
	// TTL is how long cached analyses stay valid.
	TTL time.Duration `yaml:"ttl"`
}

// TelemetryConfig configures OTel self-instrumentation.
type TelemetryConfig struct {
	// Enabled turns the OTLP exporter on.
	Enabled bool `yaml:"enabled"`
	// OTLPEndpoint is the OTLP gRPC endpoint.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	// ServiceName identifies this process in exported traces.
	ServiceName string `yaml:"service_name"`
	// SampleRate is the trace sampling ratio in [0, 1].
	SampleRate float64 `yaml:"sample_rate"`
}

// AnalysisConfig configures the trace analyzer.
type AnalysisConfig struct {
	// Concurrency bounds parallel per-trace analysis in a batch.
	Concurrency int `yaml:"concurrency"`
	// TopN bounds the slowest-spans list of the bottleneck detector.
	TopN int `yaml:"top_n"`
	// CostThreshold is the USD cost above which a span is flagged.
	CostThreshold float64 `yaml:"cost_threshold"`
	// FetchRatePerSecond throttles store fetches, 0 for unlimited.
	FetchRatePerSecond float64 `yaml:"fetch_rate_per_second"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "agentlens.db",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			TTL:     5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "agentlens",
			SampleRate:   1.0,
		},
		Analysis: AnalysisConfig{
			Concurrency:   4,
			TopN:          10,
			CostThreshold: 0.10,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// AGENTLENS_ environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("invalid database driver %q", c.Database.Driver)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry sample_rate must be in [0, 1], got %f", c.Telemetry.SampleRate)
	}
	if c.Analysis.Concurrency < 0 {
		return fmt.Errorf("analysis concurrency must be >= 0, got %d", c.Analysis.Concurrency)
	}
	return nil
}

func (c *Config) applyEnv() {
	setString(&c.Log.Level, "AGENTLENS_LOG_LEVEL")
	setString(&c.Log.Format, "AGENTLENS_LOG_FORMAT")

	setString(&c.Database.Driver, "AGENTLENS_DATABASE_DRIVER")
	setString(&c.Database.DSN, "AGENTLENS_DATABASE_DSN")
	setInt(&c.Database.MaxOpenConns, "AGENTLENS_DATABASE_MAX_OPEN_CONNS")

	setBool(&c.Redis.Enabled, "AGENTLENS_REDIS_ENABLED")
	setString(&c.Redis.Addr, "AGENTLENS_REDIS_ADDR")
	setString(&c.Redis.Password, "AGENTLENS_REDIS_PASSWORD")
	setInt(&c.Redis.DB, "AGENTLENS_REDIS_DB")
	setDuration(&c.Redis.TTL, "AGENTLENS_REDIS_TTL")

	setBool(&c.Telemetry.Enabled, "AGENTLENS_TELEMETRY_ENABLED")
	setString(&c.Telemetry.OTLPEndpoint, "AGENTLENS_TELEMETRY_OTLP_ENDPOINT")
	setString(&c.Telemetry.ServiceName, "AGENTLENS_TELEMETRY_SERVICE_NAME")
	setFloat(&c.Telemetry.SampleRate, "AGENTLENS_TELEMETRY_SAMPLE_RATE")

	setInt(&c.Analysis.Concurrency, "AGENTLENS_ANALYSIS_CONCURRENCY")
	setInt(&c.Analysis.TopN, "AGENTLENS_ANALYSIS_TOP_N")
	setFloat(&c.Analysis.CostThreshold, "AGENTLENS_ANALYSIS_COST_THRESHOLD")
	setFloat(&c.Analysis.FetchRatePerSecond, "AGENTLENS_ANALYSIS_FETCH_RATE_PER_SECOND")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
