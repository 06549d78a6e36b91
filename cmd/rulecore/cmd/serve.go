package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/decisiongrid/rulecore/internal/config"
	"github.com/decisiongrid/rulecore/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the rule runtime",
	Long: `serve boots the Rule Cache, Loader (remote registry or local directory),
Rule Manager, and Version Manager, then blocks until interrupted.

If hot-reload is enabled (local source only) file changes under the rules
directory are picked up without a restart. If a version_manager refresh
interval is configured, conflicts against the remote registry are resolved
on that cadence using the configured strategy.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg)
	if file := config.ConfigFileUsed(); file != "" {
		logger.Info("loaded config", "file", file)
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	reg := prometheus.NewRegistry()
	rt, err := buildRuntime(cfg, logger, reg)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	if rt.watcher != nil {
		if err := rt.watcher.Start(); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		defer rt.watcher.Stop()
	}

	compiler, err := newCompiler()
	if err != nil {
		return fmt.Errorf("build compiler: %w", err)
	}
	if err := rt.loadAll(ctx, compiler); err != nil {
		return fmt.Errorf("initial rule load: %w", err)
	}
	rt.metrics.CacheSize.Set(float64(rt.cache.Size()))
	logger.Info("rules loaded", "count", rt.cache.Size(), "source", cfg.RuleSource)

	if cfg.MetricsAddr != "" {
		serveMetrics(ctx, cfg.MetricsAddr, reg, logger)
	}

	var tracerProvider *sdktrace.TracerProvider
	var meterProvider *sdkmetric.MeterProvider
	if cfg.DevMode {
		tracerProvider, err = telemetry.NewTracerProvider(telemetry.TracerProviderConfig{
			ServiceName: "rulecore",
			Writer:      os.Stderr,
		})
		if err != nil {
			logger.Warn("tracer provider disabled", "error", err)
		}
		meterProvider, err = telemetry.NewMeterProvider(os.Stderr)
		if err != nil {
			logger.Warn("meter provider disabled", "error", err)
		}
	}

	if cfg.VersionManager.RefreshInterval > 0 {
		go runVersionRefreshLoop(ctx, rt, cfg.VersionManager, logger)
	}

	logger.Info("rulecore serving", "rule_source", cfg.RuleSource, "engine_mode", cfg.Engine.Mode)
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := telemetry.Shutdown(shutdownCtx, tracerProvider, meterProvider); err != nil {
		logger.Warn("telemetry shutdown", "error", err)
	}

	logger.Info("rulecore stopped")
	return nil
}

func runVersionRefreshLoop(ctx context.Context, rt *runtime, vmCfg config.VersionManagerConfig, logger *slog.Logger) {
	ticker := time.NewTicker(vmCfg.RefreshInterval)
	defer ticker.Stop()
	opts := refreshOptions(vmCfg)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			spanCtx, span := telemetry.StartSpan(ctx, "rulecore/versionmgr", "AutoRefreshCache")
			ids := rt.cache.Keys()
			result := rt.versionMgr.AutoRefreshCache(spanCtx, ids, opts)
			span.End()
			for id, err := range result.Errors {
				logger.Warn("version refresh error", "rule_id", id, "error", err)
			}
			logger.Debug("version refresh cycle complete",
				"updated", len(result.Updated), "rolled_back", len(result.Rollbacks))
		}
	}
}

func newLogger(cfg *config.RuntimeConfig) *slog.Logger {
	level := parseLogLevel(cfg.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
