// Package config provides configuration loading and validation for the
// workbook monitor.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrNoWatchDirs        = errors.New("at least one watch directory is required")
	ErrNoBaselineDir      = errors.New("baseline directory is required")
	ErrInvalidInterval    = errors.New("polling interval must be positive")
	ErrInvalidBudget      = errors.New("dense polling budget must be at least one interval")
	ErrInvalidThreshold   = errors.New("size threshold must be positive")
	ErrInvalidCodec       = errors.New("unknown baseline codec")
	ErrInvalidMetricsPort = errors.New("invalid metrics port")
)

// Default configuration values.
const (
	defaultDenseInterval  = "5s"
	defaultDenseBudget    = "15s"
	defaultSparseInterval = "15s"
	defaultSizeThreshold  = 10 << 20
	defaultDebounce       = "2s"
	defaultExtractTimeout = "120s"
	defaultMemoryLimitMB  = 2048
	defaultMetricsPort    = 9184
	maxPort               = 65535
)

// Config holds all configuration for the monitor.
type Config struct {
	Watch    WatchConfig    `mapstructure:"watch"`
	Baseline BaselineConfig `mapstructure:"baseline"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Polling  PollingConfig  `mapstructure:"polling"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Memory   MemoryConfig   `mapstructure:"memory"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// WatchConfig holds filesystem watching configuration.
type WatchConfig struct {
	Directories []string      `mapstructure:"directories"`
	Extensions  []string      `mapstructure:"extensions"`
	Debounce    time.Duration `mapstructure:"debounce"`
	CreateGrace time.Duration `mapstructure:"create_grace"`
}

// BaselineConfig holds baseline store configuration.
type BaselineConfig struct {
	Directory   string        `mapstructure:"directory"`
	Codec       string        `mapstructure:"codec"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryBase   time.Duration `mapstructure:"retry_base"`
}

// CacheConfig holds local mirror configuration for network files.
type CacheConfig struct {
	Directory string `mapstructure:"directory"`
	Enabled   bool   `mapstructure:"enabled"`
}

// PollingConfig holds adaptive polling cadence.
type PollingConfig struct {
	DenseInterval  time.Duration `mapstructure:"dense_interval"`
	DenseBudget    time.Duration `mapstructure:"dense_budget"`
	SparseInterval time.Duration `mapstructure:"sparse_interval"`
	SizeThreshold  int64         `mapstructure:"size_threshold"`
}

// ExtractConfig holds spreadsheet extraction configuration.
type ExtractConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	OpenRetries   int           `mapstructure:"open_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	RefreshAuthor bool          `mapstructure:"refresh_author"`
}

// MemoryConfig holds resource guard configuration. A zero limit
// disables the guard.
type MemoryConfig struct {
	LimitMB uint64 `mapstructure:"limit_mb"`
}

// BatchConfig holds baseline batch seeding configuration.
type BatchConfig struct {
	ProgressFile string        `mapstructure:"progress_file"`
	Resume       bool          `mapstructure:"resume"`
	MemoryPause  time.Duration `mapstructure:"memory_pause"`
}

// AuditConfig holds audit log configuration.
type AuditConfig struct {
	Directory      string `mapstructure:"directory"`
	Console        bool   `mapstructure:"console"`
	ReportIndirect bool   `mapstructure:"report_indirect"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig holds the Prometheus scrape endpoint configuration.
type MetricsConfig struct {
	Port    int  `mapstructure:"port"`
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("config")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("/etc/watchdog")
	}

	viperCfg.SetEnvPrefix("WATCHDOG")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	// Watch defaults.
	viperCfg.SetDefault("watch.extensions", []string{".xlsx", ".xlsm"})
	viperCfg.SetDefault("watch.debounce", defaultDebounce)
	viperCfg.SetDefault("watch.create_grace", "100ms")

	// Baseline defaults.
	viperCfg.SetDefault("baseline.directory", "./baselines")
	viperCfg.SetDefault("baseline.codec", "gzip")
	viperCfg.SetDefault("baseline.max_attempts", 5)
	viperCfg.SetDefault("baseline.retry_base", "200ms")

	// Cache defaults.
	viperCfg.SetDefault("cache.enabled", false)
	viperCfg.SetDefault("cache.directory", "./cache")

	// Polling defaults.
	viperCfg.SetDefault("polling.dense_interval", defaultDenseInterval)
	viperCfg.SetDefault("polling.dense_budget", defaultDenseBudget)
	viperCfg.SetDefault("polling.sparse_interval", defaultSparseInterval)
	viperCfg.SetDefault("polling.size_threshold", defaultSizeThreshold)

	// Extract defaults.
	viperCfg.SetDefault("extract.timeout", defaultExtractTimeout)
	viperCfg.SetDefault("extract.open_retries", 5)
	viperCfg.SetDefault("extract.retry_delay", "500ms")
	viperCfg.SetDefault("extract.refresh_author", false)

	// Memory defaults.
	viperCfg.SetDefault("memory.limit_mb", defaultMemoryLimitMB)

	// Batch defaults.
	viperCfg.SetDefault("batch.progress_file", "./baselines/progress.yaml")
	viperCfg.SetDefault("batch.resume", true)
	viperCfg.SetDefault("batch.memory_pause", "10s")

	// Audit defaults.
	viperCfg.SetDefault("audit.directory", "./audit")
	viperCfg.SetDefault("audit.console", true)
	viperCfg.SetDefault("audit.report_indirect", false)

	// Logging defaults.
	viperCfg.SetDefault("logging.level", "info")
	viperCfg.SetDefault("logging.format", "text")
	viperCfg.SetDefault("logging.output", "stdout")

	// Metrics defaults.
	viperCfg.SetDefault("metrics.enabled", false)
	viperCfg.SetDefault("metrics.port", defaultMetricsPort)
}

// knownCodecs are the codec names the baseline store accepts.
var knownCodecs = map[string]bool{
	"gzip": true,
	"lz4":  true,
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	if config.Baseline.Directory == "" {
		return ErrNoBaselineDir
	}

	if !knownCodecs[config.Baseline.Codec] {
		return fmt.Errorf("%w: %q", ErrInvalidCodec, config.Baseline.Codec)
	}

	if config.Polling.DenseInterval <= 0 || config.Polling.SparseInterval <= 0 {
		return ErrInvalidInterval
	}

	if config.Polling.DenseBudget < config.Polling.DenseInterval {
		return fmt.Errorf("%w: budget %s, interval %s",
			ErrInvalidBudget, config.Polling.DenseBudget, config.Polling.DenseInterval)
	}

	if config.Polling.SizeThreshold <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidThreshold, config.Polling.SizeThreshold)
	}

	if config.Metrics.Enabled && (config.Metrics.Port <= 0 || config.Metrics.Port > maxPort) {
		return fmt.Errorf("%w: %d", ErrInvalidMetricsPort, config.Metrics.Port)
	}

	return nil
}

// ValidateWatch checks the parts only the watch command needs; a
// standalone seeding or migration run has no watch directories.
func ValidateWatch(config *Config) error {
	if len(config.Watch.Directories) == 0 {
		return ErrNoWatchDirs
	}

	return nil
}
