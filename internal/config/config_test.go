package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"netdiag-mcp/internal/ratelimit"
)

func TestLoadConfig_Defaults(t *testing.T) {
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("LOG_FORMAT")
	os.Unsetenv("LOG_OUTPUT")
	os.Unsetenv("METRICS_ADDR")
	os.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	defer os.Unsetenv("CONFIG_PATH")

	cfg := LoadConfig()

	if cfg.Log.Level != "INFO" {
		t.Errorf("expected INFO level, got %s", cfg.Log.Level)
	}
	if cfg.Log.Output != "stderr" {
		t.Errorf("expected stderr output, got %s", cfg.Log.Output)
	}
	if cfg.Server.Name != DefaultServerName {
		t.Errorf("expected server name %s, got %s", DefaultServerName, cfg.Server.Name)
	}
	if cfg.Server.DrainWindow != DefaultDrainWindow {
		t.Errorf("expected drain window %v, got %v", DefaultDrainWindow, cfg.Server.DrainWindow)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	yamlContent := `
log:
  level: DEBUG
  format: json
server:
  metrics_addr: ":9091"
  drain_window: 10s
probe:
  base_url: https://edge.example.com
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}
	os.Setenv("CONFIG_PATH", path)
	defer os.Unsetenv("CONFIG_PATH")

	cfg := LoadConfig()

	if cfg.Log.Level != "DEBUG" || cfg.Log.Format != "json" {
		t.Errorf("yaml log settings not applied: %+v", cfg.Log)
	}
	if cfg.Server.MetricsAddr != ":9091" {
		t.Errorf("metrics addr = %s", cfg.Server.MetricsAddr)
	}
	if cfg.Server.DrainWindow != 10*time.Second {
		t.Errorf("drain window = %v", cfg.Server.DrainWindow)
	}
	if cfg.Probe.BaseURL != "https://edge.example.com" {
		t.Errorf("probe base url = %s", cfg.Probe.BaseURL)
	}
}

func TestLoadConfig_EnvOverridesYAML(t *testing.T) {
	os.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	os.Setenv("LOG_LEVEL", "ERROR")
	os.Setenv("PROBE_BASE_URL", "https://other.example.com")
	defer func() {
		os.Unsetenv("CONFIG_PATH")
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("PROBE_BASE_URL")
	}()

	cfg := LoadConfig()

	if cfg.Log.Level != "ERROR" {
		t.Errorf("log level = %s", cfg.Log.Level)
	}
	if cfg.Probe.BaseURL != "https://other.example.com" {
		t.Errorf("probe base url = %s", cfg.Probe.BaseURL)
	}
}

func TestValidate(t *testing.T) {
	cfg := LoadConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}

	cfg.Log.Level = "noisy"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for bogus log level")
	}
}

func TestBucketConfigs_EnvOverride(t *testing.T) {
	os.Setenv("RATE_LIMIT_SPEED_TEST_TOKENS_PER_INTERVAL", "5")
	os.Setenv("RATE_LIMIT_SPEED_TEST_INTERVAL_MS", "60000")
	os.Setenv("RATE_LIMIT_LATENCY_TEST_MAX_CONCURRENT_REQUESTS", "7")
	defer func() {
		os.Unsetenv("RATE_LIMIT_SPEED_TEST_TOKENS_PER_INTERVAL")
		os.Unsetenv("RATE_LIMIT_SPEED_TEST_INTERVAL_MS")
		os.Unsetenv("RATE_LIMIT_LATENCY_TEST_MAX_CONCURRENT_REQUESTS")
	}()

	configs := BucketConfigs()

	st := configs[ratelimit.ClassSpeedTest]
	if st.TokensPerInterval != 5 {
		t.Errorf("tokensPerInterval = %d, want 5", st.TokensPerInterval)
	}
	if st.Interval != time.Minute {
		t.Errorf("interval = %v, want 1m", st.Interval)
	}
	// Untouched fields keep defaults.
	if st.MaxDailyRequests != 50 {
		t.Errorf("maxDailyRequests = %d, want 50", st.MaxDailyRequests)
	}

	lt := configs[ratelimit.ClassLatencyTest]
	if lt.MaxConcurrentRequests != 7 {
		t.Errorf("maxConcurrentRequests = %d, want 7", lt.MaxConcurrentRequests)
	}
}

func TestBucketConfigs_RejectsMalformedAndOutOfBounds(t *testing.T) {
	os.Setenv("RATE_LIMIT_SPEED_TEST_TOKENS_PER_INTERVAL", "not-a-number")
	os.Setenv("RATE_LIMIT_SPEED_TEST_MAX_BUCKET_SIZE", "-3")
	os.Setenv("RATE_LIMIT_SPEED_TEST_MAX_DAILY_REQUESTS", "9999999")
	defer func() {
		os.Unsetenv("RATE_LIMIT_SPEED_TEST_TOKENS_PER_INTERVAL")
		os.Unsetenv("RATE_LIMIT_SPEED_TEST_MAX_BUCKET_SIZE")
		os.Unsetenv("RATE_LIMIT_SPEED_TEST_MAX_DAILY_REQUESTS")
	}()

	configs := BucketConfigs()
	def := ratelimit.DefaultConfigs()[ratelimit.ClassSpeedTest]

	st := configs[ratelimit.ClassSpeedTest]
	if st.TokensPerInterval != def.TokensPerInterval {
		t.Errorf("malformed value applied: %d", st.TokensPerInterval)
	}
	if st.MaxBucketSize != def.MaxBucketSize {
		t.Errorf("negative value applied: %d", st.MaxBucketSize)
	}
	if st.MaxDailyRequests != def.MaxDailyRequests {
		t.Errorf("out-of-bounds value applied: %d", st.MaxDailyRequests)
	}
}

func TestBackoffConfig_EnvOverride(t *testing.T) {
	os.Setenv("RATE_LIMIT_BACKOFF_BASE_DELAY_MS", "500")
	os.Setenv("RATE_LIMIT_BACKOFF_MULTIPLIER", "3")
	os.Setenv("RATE_LIMIT_BACKOFF_JITTER_FACTOR", "1.5") // above bound
	defer func() {
		os.Unsetenv("RATE_LIMIT_BACKOFF_BASE_DELAY_MS")
		os.Unsetenv("RATE_LIMIT_BACKOFF_MULTIPLIER")
		os.Unsetenv("RATE_LIMIT_BACKOFF_JITTER_FACTOR")
	}()

	cfg := BackoffConfig()

	if cfg.BaseDelay != 500*time.Millisecond {
		t.Errorf("baseDelay = %v", cfg.BaseDelay)
	}
	if cfg.Multiplier != 3 {
		t.Errorf("multiplier = %f", cfg.Multiplier)
	}
	if cfg.JitterFactor != 0.1 {
		t.Errorf("out-of-bounds jitter applied: %f", cfg.JitterFactor)
	}
}

func TestEnvClassDerivation(t *testing.T) {
	// The env fragment is the class tag upper-cased, for every class.
	cases := map[ratelimit.Class]string{
		ratelimit.ClassSpeedTest:      "SPEED_TEST",
		ratelimit.ClassLatencyTest:    "LATENCY_TEST",
		ratelimit.ClassPacketLossTest: "PACKET_LOSS_TEST",
		ratelimit.ClassConnectionInfo: "CONNECTION_INFO",
	}
	for class, want := range cases {
		if got := envClass(class); got != want {
			t.Errorf("envClass(%s) = %s, want %s", class, got, want)
		}
	}
}
