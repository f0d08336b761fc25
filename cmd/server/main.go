package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"netdiag-mcp/internal/catalog"
	"netdiag-mcp/internal/config"
	"netdiag-mcp/internal/pipeline"
	"netdiag-mcp/internal/probe"
	"netdiag-mcp/internal/ratelimit"
	"netdiag-mcp/internal/server"
	"netdiag-mcp/internal/tools"
)

func main() {

	// Best effort; the environment may carry everything already.
	_ = godotenv.Load()

	// Load configuration first
	cfg := config.LoadConfig()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Setup structured logging with configurable level, format, and output
	logger, logCleanup := setupLogger(cfg)
	defer logCleanup()
	slog.SetDefault(logger)

	// Admission control and probe plumbing
	limiter := ratelimit.New(config.BucketConfigs(), config.BackoffConfig())
	probeClient := probe.NewHTTPClient(probe.Config{
		BaseURL:      cfg.Probe.BaseURL,
		LocationsURL: cfg.Probe.LocationsURL,
	})
	serverCatalog := catalog.New(probeClient, limiter)

	// Tool registry behind the shared execution pipeline
	registry := tools.New(pipeline.New(limiter), probeClient, serverCatalog)
	srv := server.New(registry, cfg.Server.Name, cfg.Server.Version)
	slog.Info("tools registered", "count", len(registry.Tools()))

	// Optional metrics and health listener
	var metricsServer *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		// Liveness probe
		mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})

		// Readiness probe: checks upstream reachability
		mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
			if !probeClient.HealthCheck(r.Context()) {
				slog.Warn("upstream unhealthy")
				http.Error(w, "Upstream Unavailable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("Ready"))
		})

		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
		go func() {
			slog.Info("metrics listener starting", "addr", cfg.Server.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics listener failed", "error", err)
			}
		}()
	}

	// Run the MCP server over stdio
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	// Wait for interrupt signal or peer disconnect
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-done:
		if err != nil {
			slog.Error("server stopped", "error", err)
		}
	case sig := <-quit:
		slog.Info("server stopping", "signal", sig.String())
		cancel()

		// Allow in-flight invocations to drain
		select {
		case <-done:
			slog.Info("in-flight invocations drained")
		case <-time.After(cfg.Server.DrainWindow):
			slog.Warn("drain window elapsed, exiting")
		}
	}

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics listener shutdown forced", "error", err)
		}
	}

	slog.Info("server stopped")
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg *config.Config) (*slog.Logger, func()) {
	var writers []io.Writer
	var closers []io.Closer
	outputs := strings.Split(cfg.Log.Output, ",")

	for _, output := range outputs {
		output = strings.TrimSpace(output)
		if output == "" {
			continue
		}

		var w io.Writer
		switch output {
		case "stderr":
			w = os.Stderr
		case "stdout":
			// stdout carries the MCP stream; only use it when explicitly
			// requested.
			w = os.Stdout
		default:
			// Use lumberjack for log rotation
			l := &lumberjack.Logger{
				Filename:   output,
				MaxSize:    cfg.Log.Rotation.MaxSize,
				MaxBackups: cfg.Log.Rotation.MaxBackups,
				MaxAge:     cfg.Log.Rotation.MaxAge,
				Compress:   cfg.Log.Rotation.Compress,
			}
			w = l
			closers = append(closers, l)
		}
		writers = append(writers, w)
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	multiWriter := io.MultiWriter(writers...)
	opts := &slog.HandlerOptions{Level: cfg.GetLogLevel()}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(multiWriter, opts)
	} else {
		handler = slog.NewTextHandler(multiWriter, opts)
	}

	cleanup := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	return slog.New(handler), cleanup
}
