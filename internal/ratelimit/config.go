package ratelimit

import (
	"log/slog"
	"time"
)

// Class identifies a rate-limit bucket. Each tool binds statically to
// exactly one class.
type Class string

const (
	ClassSpeedTest      Class = "speed_test"
	ClassLatencyTest    Class = "latency_test"
	ClassDownloadTest   Class = "download_test"
	ClassUploadTest     Class = "upload_test"
	ClassPacketLossTest Class = "packet_loss_test"
	ClassConnectionInfo Class = "connection_info"

	// Reserved for future probe kinds. They carry buckets so that adding
	// tools for them is a registry change, not a limiter change.
	ClassPing       Class = "ping"
	ClassTraceroute Class = "traceroute"
)

// Classes returns every recognized operation class, reserved ones included.
func Classes() []Class {
	return []Class{
		ClassSpeedTest,
		ClassLatencyTest,
		ClassDownloadTest,
		ClassUploadTest,
		ClassPacketLossTest,
		ClassConnectionInfo,
		ClassPing,
		ClassTraceroute,
	}
}

// Denial reasons reported in RateLimitError and Admission.
const (
	ReasonTokenBucket     = "token_bucket"
	ReasonDailyLimit      = "daily_limit"
	ReasonConcurrentLimit = "concurrent_limit"
)

// DefaultConcurrentLimitWait is the advisory retry hint returned on
// concurrency denial. It is a fixed hint, not an estimate of actual
// slot-release timing.
const DefaultConcurrentLimitWait = time.Second

// BucketConfig fixes the admission parameters of one operation class for
// the life of the process.
type BucketConfig struct {
	TokensPerInterval     int
	Interval              time.Duration
	MaxBucketSize         int
	MaxDailyRequests      int
	MaxConcurrentRequests int
	ConcurrentLimitWait   time.Duration
}

// BackoffConfig controls the advisory backoff delay reported to callers
// hitting repeated denials on the same bucket.
type BackoffConfig struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
}

// DefaultBackoff returns the compiled-in backoff parameters.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		BaseDelay:    time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2,
		JitterFactor: 0.1,
	}
}

// DefaultConfigs returns the compiled-in per-class bucket parameters.
func DefaultConfigs() map[Class]BucketConfig {
	return map[Class]BucketConfig{
		ClassSpeedTest: {
			TokensPerInterval:     1,
			Interval:              180 * time.Second,
			MaxBucketSize:         2,
			MaxDailyRequests:      50,
			MaxConcurrentRequests: 1,
			ConcurrentLimitWait:   DefaultConcurrentLimitWait,
		},
		ClassLatencyTest: {
			TokensPerInterval:     10,
			Interval:              60 * time.Second,
			MaxBucketSize:         15,
			MaxDailyRequests:      500,
			MaxConcurrentRequests: 3,
			ConcurrentLimitWait:   DefaultConcurrentLimitWait,
		},
		ClassDownloadTest: {
			TokensPerInterval:     2,
			Interval:              120 * time.Second,
			MaxBucketSize:         3,
			MaxDailyRequests:      100,
			MaxConcurrentRequests: 2,
			ConcurrentLimitWait:   DefaultConcurrentLimitWait,
		},
		ClassUploadTest: {
			TokensPerInterval:     2,
			Interval:              120 * time.Second,
			MaxBucketSize:         3,
			MaxDailyRequests:      100,
			MaxConcurrentRequests: 2,
			ConcurrentLimitWait:   DefaultConcurrentLimitWait,
		},
		ClassPacketLossTest: {
			TokensPerInterval:     5,
			Interval:              90 * time.Second,
			MaxBucketSize:         8,
			MaxDailyRequests:      200,
			MaxConcurrentRequests: 2,
			ConcurrentLimitWait:   DefaultConcurrentLimitWait,
		},
		ClassConnectionInfo: {
			TokensPerInterval:     20,
			Interval:              60 * time.Second,
			MaxBucketSize:         30,
			MaxDailyRequests:      1000,
			MaxConcurrentRequests: 5,
			ConcurrentLimitWait:   DefaultConcurrentLimitWait,
		},
		// Reserved classes share the latency-test profile until real probe
		// kinds bind to them.
		ClassPing: {
			TokensPerInterval:     10,
			Interval:              60 * time.Second,
			MaxBucketSize:         15,
			MaxDailyRequests:      500,
			MaxConcurrentRequests: 3,
			ConcurrentLimitWait:   DefaultConcurrentLimitWait,
		},
		ClassTraceroute: {
			TokensPerInterval:     10,
			Interval:              60 * time.Second,
			MaxBucketSize:         15,
			MaxDailyRequests:      500,
			MaxConcurrentRequests: 3,
			ConcurrentLimitWait:   DefaultConcurrentLimitWait,
		},
	}
}

// sanitizeBucket replaces non-positive fields with compiled-in defaults.
// Diagnostics are logged once, on first encounter at construction.
func sanitizeBucket(class Class, cfg, def BucketConfig) BucketConfig {
	if cfg.TokensPerInterval <= 0 {
		slog.Warn("invalid tokensPerInterval, using default", "class", class, "value", cfg.TokensPerInterval, "default", def.TokensPerInterval)
		cfg.TokensPerInterval = def.TokensPerInterval
	}
	if cfg.Interval <= 0 {
		slog.Warn("invalid interval, using default", "class", class, "value", cfg.Interval, "default", def.Interval)
		cfg.Interval = def.Interval
	}
	if cfg.MaxBucketSize <= 0 {
		slog.Warn("invalid maxBucketSize, using default", "class", class, "value", cfg.MaxBucketSize, "default", def.MaxBucketSize)
		cfg.MaxBucketSize = def.MaxBucketSize
	}
	if cfg.MaxBucketSize < cfg.TokensPerInterval {
		slog.Warn("maxBucketSize below tokensPerInterval, raising", "class", class, "value", cfg.MaxBucketSize, "raised", cfg.TokensPerInterval)
		cfg.MaxBucketSize = cfg.TokensPerInterval
	}
	if cfg.MaxDailyRequests <= 0 {
		slog.Warn("invalid maxDailyRequests, using default", "class", class, "value", cfg.MaxDailyRequests, "default", def.MaxDailyRequests)
		cfg.MaxDailyRequests = def.MaxDailyRequests
	}
	if cfg.MaxConcurrentRequests <= 0 {
		slog.Warn("invalid maxConcurrentRequests, using default", "class", class, "value", cfg.MaxConcurrentRequests, "default", def.MaxConcurrentRequests)
		cfg.MaxConcurrentRequests = def.MaxConcurrentRequests
	}
	if cfg.ConcurrentLimitWait <= 0 {
		cfg.ConcurrentLimitWait = DefaultConcurrentLimitWait
	}
	return cfg
}

func sanitizeBackoff(cfg BackoffConfig) BackoffConfig {
	def := DefaultBackoff()
	if cfg.BaseDelay <= 0 {
		slog.Warn("invalid backoff baseDelay, using default", "value", cfg.BaseDelay, "default", def.BaseDelay)
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		slog.Warn("invalid backoff maxDelay, using default", "value", cfg.MaxDelay, "default", def.MaxDelay)
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Multiplier <= 0 {
		slog.Warn("invalid backoff multiplier, using default", "value", cfg.Multiplier, "default", def.Multiplier)
		cfg.Multiplier = def.Multiplier
	}
	if cfg.JitterFactor < 0 || cfg.JitterFactor > 1 {
		slog.Warn("invalid backoff jitterFactor, using default", "value", cfg.JitterFactor, "default", def.JitterFactor)
		cfg.JitterFactor = def.JitterFactor
	}
	return cfg
}
