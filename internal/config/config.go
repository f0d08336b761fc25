package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"netdiag-mcp/internal/ratelimit"
)

// Config holds the configuration for the diagnostics server.
type Config struct {
	Log struct {
		Level    string `yaml:"level"`  // DEBUG, INFO, WARN, ERROR
		Format   string `yaml:"format"` // text, json
		Output   string `yaml:"output"` // stderr, stdout, /path/to/file
		Rotation struct {
			MaxSize    int  `yaml:"max_size"` // megabytes
			MaxBackups int  `yaml:"max_backups"`
			MaxAge     int  `yaml:"max_age"` // days
			Compress   bool `yaml:"compress"`
		} `yaml:"rotation"`
	} `yaml:"log"`

	Server struct {
		Name        string        `yaml:"name"`
		Version     string        `yaml:"version"`
		DrainWindow time.Duration `yaml:"drain_window"`
		MetricsAddr string        `yaml:"metrics_addr"` // empty disables the listener
	} `yaml:"server"`

	Probe struct {
		BaseURL      string `yaml:"base_url"`
		LocationsURL string `yaml:"locations_url"`
	} `yaml:"probe"`
}

// GetLogLevel returns the slog.Level based on Log.Level string
func (c *Config) GetLogLevel() slog.Level {
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadConfig loads configuration from the YAML file and supplements it
// with environment variables.
func LoadConfig() *Config {
	cfg := &Config{}

	// Set defaults before loading
	cfg.Log.Level = "INFO"
	cfg.Log.Format = "text"
	// stdout carries the MCP stream; logs default to stderr.
	cfg.Log.Output = "stderr"
	cfg.Log.Rotation.MaxSize = 10
	cfg.Log.Rotation.MaxBackups = 3
	cfg.Log.Rotation.MaxAge = 14
	cfg.Server.Name = DefaultServerName
	cfg.Server.Version = "dev"
	cfg.Server.DrainWindow = DefaultDrainWindow

	configPath := getEnv("CONFIG_PATH", DefaultConfigPath)
	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			slog.Error("unmarshal config failed", "error", err, "path", configPath)
			os.Exit(1)
		}
		slog.Info("config loaded", "path", configPath)
	} else if !os.IsNotExist(err) {
		slog.Error("read config failed", "error", err, "path", configPath)
		os.Exit(1)
	}

	// Environment overrides for the common knobs.
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("LOG_OUTPUT"); v != "" {
		cfg.Log.Output = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Server.MetricsAddr = v
	}
	if v := os.Getenv("PROBE_BASE_URL"); v != "" {
		cfg.Probe.BaseURL = v
	}

	return cfg
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
	}
	if c.Server.DrainWindow <= 0 {
		errs = append(errs, fmt.Sprintf("invalid drain window: %v", c.Server.DrainWindow))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// envClass derives the environment-variable fragment for an operation
// class: the lowercase-underscore tag upper-cased, nothing more.
func envClass(class ratelimit.Class) string {
	return strings.ToUpper(string(class))
}

// BucketConfigs returns the per-class bucket parameters: compiled-in
// defaults overlaid with any RATE_LIMIT_<CLASS>_* environment variables
// that parse and sit within bounds.
func BucketConfigs() map[ratelimit.Class]ratelimit.BucketConfig {
	configs := ratelimit.DefaultConfigs()
	for class, cfg := range configs {
		prefix := EnvPrefixRateLimit + envClass(class)

		if v, ok := boundedEnvInt(prefix+EnvSuffixTokensPerIv, MaxTokensPerInterval); ok {
			cfg.TokensPerInterval = v
		}
		if v, ok := boundedEnvInt(prefix+EnvSuffixIntervalMs, MaxIntervalMs); ok {
			cfg.Interval = time.Duration(v) * time.Millisecond
		}
		if v, ok := boundedEnvInt(prefix+EnvSuffixMaxBucketSize, MaxBucketSizeBound); ok {
			cfg.MaxBucketSize = v
		}
		if v, ok := boundedEnvInt(prefix+EnvSuffixMaxDaily, MaxDailyRequestsBound); ok {
			cfg.MaxDailyRequests = v
		}
		if v, ok := boundedEnvInt(prefix+EnvSuffixMaxConcurrent, MaxConcurrentBound); ok {
			cfg.MaxConcurrentRequests = v
		}
		configs[class] = cfg
	}
	return configs
}

// BackoffConfig returns the backoff parameters with environment overrides
// applied.
func BackoffConfig() ratelimit.BackoffConfig {
	cfg := ratelimit.DefaultBackoff()
	if v, ok := boundedEnvInt(EnvBackoffBaseDelayMs, MaxBackoffBaseDelayMs); ok {
		cfg.BaseDelay = time.Duration(v) * time.Millisecond
	}
	if v, ok := boundedEnvInt(EnvBackoffMaxDelayMs, MaxBackoffMaxDelayMs); ok {
		cfg.MaxDelay = time.Duration(v) * time.Millisecond
	}
	if v, ok := boundedEnvFloat(EnvBackoffMultiplier, MaxBackoffMultiplier); ok {
		cfg.Multiplier = v
	}
	if v, ok := boundedEnvFloat(EnvBackoffJitterFactor, MaxBackoffJitterFactor); ok {
		cfg.JitterFactor = v
	}
	return cfg
}

// boundedEnvInt reads a positive integer with an upper bound. Malformed or
// out-of-bounds values are rejected with a one-line diagnostic.
func boundedEnvInt(key string, bound int) (int, bool) {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("ignoring malformed env value", "key", key, "value", raw)
		return 0, false
	}
	if v <= 0 || v > bound {
		slog.Warn("ignoring out-of-bounds env value", "key", key, "value", v, "bound", bound)
		return 0, false
	}
	return v, true
}

func boundedEnvFloat(key string, bound float64) (float64, bool) {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("ignoring malformed env value", "key", key, "value", raw)
		return 0, false
	}
	if v <= 0 || v > bound {
		slog.Warn("ignoring out-of-bounds env value", "key", key, "value", v, "bound", bound)
		return 0, false
	}
	return v, true
}

// Helper functions for reading environment variables

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
