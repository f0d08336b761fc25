package config

import "time"

// Default configuration values
const (
	DefaultConfigPath  = "config.yaml"
	DefaultServerName  = "netdiag-mcp"
	DefaultDrainWindow = 30 * time.Second
)

// Environment variable bounds. A value above its bound is rejected with a
// diagnostic and the compiled-in default is kept.
const (
	MaxTokensPerInterval   = 1000
	MaxIntervalMs          = 24 * 3600 * 1000
	MaxBucketSizeBound     = 10000
	MaxDailyRequestsBound  = 100000
	MaxConcurrentBound     = 100
	MaxBackoffBaseDelayMs  = 60000
	MaxBackoffMaxDelayMs   = 600000
	MaxBackoffMultiplier   = 10
	MaxBackoffJitterFactor = 1.0
)

// Rate-limit environment variable name fragments. The full name is
// RATE_LIMIT_<CLASS>_<SUFFIX>, where <CLASS> is the upper-cased operation
// class tag.
const (
	EnvPrefixRateLimit     = "RATE_LIMIT_"
	EnvSuffixTokensPerIv   = "_TOKENS_PER_INTERVAL"
	EnvSuffixIntervalMs    = "_INTERVAL_MS"
	EnvSuffixMaxBucketSize = "_MAX_BUCKET_SIZE"
	EnvSuffixMaxDaily      = "_MAX_DAILY_REQUESTS"
	EnvSuffixMaxConcurrent = "_MAX_CONCURRENT_REQUESTS"
	EnvBackoffBaseDelayMs  = "RATE_LIMIT_BACKOFF_BASE_DELAY_MS"
	EnvBackoffMaxDelayMs   = "RATE_LIMIT_BACKOFF_MAX_DELAY_MS"
	EnvBackoffMultiplier   = "RATE_LIMIT_BACKOFF_MULTIPLIER"
	EnvBackoffJitterFactor = "RATE_LIMIT_BACKOFF_JITTER_FACTOR"
)
