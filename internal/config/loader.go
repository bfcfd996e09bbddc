package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".lithelper"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for lithelper settings.
const envPrefix = "LITHELPER"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// Default executor settings.
const (
	DefaultOrganizeConcurrency = 2
	DefaultMetadataConcurrency = 3
	DefaultExecutionCapacity   = 50
	DefaultWaitingCapacity     = 100
	DefaultIdleInterval        = time.Second
	DefaultYieldInterval       = 100 * time.Millisecond
	DefaultErrorBackoff        = 2 * time.Second
)

// Default metadata readiness settings.
const (
	DefaultPollInterval = 1500 * time.Millisecond
	DefaultWaitTimeout  = 5 * time.Minute
)

// Default persistence settings.
const (
	DefaultStrategy         = StrategyFixedDuration
	DefaultRetentionMinutes = 24 * 60
	DefaultCompression      = CompressionJSON
	defaultPersistenceDir   = ".lithelper/queues"
)

// Default organize settings.
const (
	DefaultTargetLanguage = "Chinese"
	DefaultStandard       = "ACM"
	defaultStorageRoot    = "lithelper-output"
)

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("scheduler.organize.max_concurrency", DefaultOrganizeConcurrency)
	viperCfg.SetDefault("scheduler.organize.execution_capacity", DefaultExecutionCapacity)
	viperCfg.SetDefault("scheduler.organize.waiting_capacity", DefaultWaitingCapacity)
	viperCfg.SetDefault("scheduler.organize.idle_interval", DefaultIdleInterval)
	viperCfg.SetDefault("scheduler.organize.yield_interval", DefaultYieldInterval)
	viperCfg.SetDefault("scheduler.organize.error_backoff", DefaultErrorBackoff)

	viperCfg.SetDefault("scheduler.metadata.max_concurrency", DefaultMetadataConcurrency)
	viperCfg.SetDefault("scheduler.metadata.execution_capacity", DefaultExecutionCapacity)
	viperCfg.SetDefault("scheduler.metadata.waiting_capacity", DefaultWaitingCapacity)
	viperCfg.SetDefault("scheduler.metadata.idle_interval", DefaultIdleInterval)
	viperCfg.SetDefault("scheduler.metadata.yield_interval", DefaultYieldInterval)
	viperCfg.SetDefault("scheduler.metadata.error_backoff", DefaultErrorBackoff)

	viperCfg.SetDefault("metadata.poll_interval", DefaultPollInterval)
	viperCfg.SetDefault("metadata.wait_timeout", DefaultWaitTimeout)

	viperCfg.SetDefault("persistence.strategy", DefaultStrategy)
	viperCfg.SetDefault("persistence.dir", defaultPersistenceDir)
	viperCfg.SetDefault("persistence.retention_minutes", DefaultRetentionMinutes)
	viperCfg.SetDefault("persistence.compression", DefaultCompression)

	viperCfg.SetDefault("organize.default_target_language", DefaultTargetLanguage)
	viperCfg.SetDefault("organize.default_standard", DefaultStandard)
	viperCfg.SetDefault("organize.storage_root", defaultStorageRoot)

	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", false)
	viperCfg.SetDefault("telemetry.log_json", false)
	viperCfg.SetDefault("telemetry.log_level", "info")
	viperCfg.SetDefault("telemetry.metrics_addr", "")
}
