// Package config loads and validates the lithelper configuration from file,
// environment, and defaults.
package config

import (
	"errors"
	"time"
)

// Config is the top-level configuration struct for lithelper.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Metadata    MetadataConfig    `mapstructure:"metadata"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Organize    OrganizeConfig    `mapstructure:"organize"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// SchedulerConfig holds the per-handler executor knobs.
type SchedulerConfig struct {
	Organize HandlerConfig `mapstructure:"organize"`
	Metadata HandlerConfig `mapstructure:"metadata"`
}

// HandlerConfig holds one executor's capacity and cadence settings.
type HandlerConfig struct {
	MaxConcurrency    int           `mapstructure:"max_concurrency"`
	ExecutionCapacity int           `mapstructure:"execution_capacity"`
	WaitingCapacity   int           `mapstructure:"waiting_capacity"`
	IdleInterval      time.Duration `mapstructure:"idle_interval"`
	YieldInterval     time.Duration `mapstructure:"yield_interval"`
	ErrorBackoff      time.Duration `mapstructure:"error_backoff"`
}

// MetadataConfig holds the readiness protocol settings.
type MetadataConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	WaitTimeout  time.Duration `mapstructure:"wait_timeout"`
}

// PersistenceConfig holds the durable queue settings.
type PersistenceConfig struct {
	// Strategy is "none" or "fixed_duration" ("fixed_count" is reserved).
	Strategy string `mapstructure:"strategy"`
	// Dir is the directory for queue snapshots.
	Dir string `mapstructure:"dir"`
	// RetentionMinutes is the task age limit under fixed_duration.
	RetentionMinutes int `mapstructure:"retention_minutes"`
	// Compression is "json" or "lz4".
	Compression string `mapstructure:"compression"`
}

// RetentionLimit returns the retention duration.
func (p PersistenceConfig) RetentionLimit() time.Duration {
	return time.Duration(p.RetentionMinutes) * time.Minute
}

// OrganizeConfig holds pipeline defaults applied when a request leaves them unset.
type OrganizeConfig struct {
	DefaultTargetLanguage string `mapstructure:"default_target_language"`
	DefaultStandard       string `mapstructure:"default_standard"`
	StorageRoot           string `mapstructure:"storage_root"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	LogJSON      bool   `mapstructure:"log_json"`
	LogLevel     string `mapstructure:"log_level"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
}

// Persistence strategy names.
const (
	// StrategyNone disables queue persistence.
	StrategyNone = "none"
	// StrategyFixedDuration persists queues with an age limit.
	StrategyFixedDuration = "fixed_duration"
	// StrategyFixedCount is reserved and rejected by validation.
	StrategyFixedCount = "fixed_count"
)

// Compression codec names.
const (
	// CompressionJSON stores snapshots as plain JSON.
	CompressionJSON = "json"
	// CompressionLZ4 stores snapshots as LZ4-framed JSON.
	CompressionLZ4 = "lz4"
)

// Sentinel errors for configuration validation.
var (
	// ErrInvalidConcurrency indicates a non-positive max concurrency.
	ErrInvalidConcurrency = errors.New("scheduler max_concurrency must be positive")
	// ErrInvalidExecutionCapacity indicates a non-positive execution capacity.
	ErrInvalidExecutionCapacity = errors.New("scheduler execution_capacity must be positive")
	// ErrInvalidWaitingCapacity indicates a negative waiting capacity.
	ErrInvalidWaitingCapacity = errors.New("scheduler waiting_capacity must be non-negative")
	// ErrInvalidPollInterval indicates a non-positive metadata poll interval.
	ErrInvalidPollInterval = errors.New("metadata.poll_interval must be positive")
	// ErrInvalidWaitTimeout indicates a negative metadata wait timeout.
	ErrInvalidWaitTimeout = errors.New("metadata.wait_timeout must be non-negative")
	// ErrInvalidStrategy indicates an unknown persistence strategy.
	ErrInvalidStrategy = errors.New("persistence.strategy must be none or fixed_duration")
	// ErrReservedStrategy indicates the reserved fixed_count strategy.
	ErrReservedStrategy = errors.New("persistence.strategy fixed_count is reserved")
	// ErrInvalidRetention indicates a non-positive retention under fixed_duration.
	ErrInvalidRetention = errors.New("persistence.retention_minutes must be positive")
	// ErrInvalidCompression indicates an unknown snapshot compression codec.
	ErrInvalidCompression = errors.New("persistence.compression must be json or lz4")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	handlerErr := c.validateHandlers()
	if handlerErr != nil {
		return handlerErr
	}

	metadataErr := c.validateMetadata()
	if metadataErr != nil {
		return metadataErr
	}

	return c.validatePersistence()
}

func (c *Config) validateHandlers() error {
	for _, h := range []HandlerConfig{c.Scheduler.Organize, c.Scheduler.Metadata} {
		if h.MaxConcurrency < 1 {
			return ErrInvalidConcurrency
		}

		if h.ExecutionCapacity < 1 {
			return ErrInvalidExecutionCapacity
		}

		if h.WaitingCapacity < 0 {
			return ErrInvalidWaitingCapacity
		}
	}

	return nil
}

func (c *Config) validateMetadata() error {
	if c.Metadata.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}

	if c.Metadata.WaitTimeout < 0 {
		return ErrInvalidWaitTimeout
	}

	return nil
}

func (c *Config) validatePersistence() error {
	switch c.Persistence.Strategy {
	case StrategyNone:
	case StrategyFixedDuration:
		if c.Persistence.RetentionMinutes < 1 {
			return ErrInvalidRetention
		}
	case StrategyFixedCount:
		return ErrReservedStrategy
	default:
		return ErrInvalidStrategy
	}

	switch c.Persistence.Compression {
	case CompressionJSON, CompressionLZ4:
	default:
		return ErrInvalidCompression
	}

	return nil
}
