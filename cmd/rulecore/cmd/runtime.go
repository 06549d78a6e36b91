package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/decisiongrid/rulecore/internal/adapter/outbound/batcher"
	"github.com/decisiongrid/rulecore/internal/adapter/outbound/cel"
	"github.com/decisiongrid/rulecore/internal/adapter/outbound/compression"
	"github.com/decisiongrid/rulecore/internal/adapter/outbound/localfs"
	"github.com/decisiongrid/rulecore/internal/adapter/outbound/pool"
	"github.com/decisiongrid/rulecore/internal/adapter/outbound/registry"
	"github.com/decisiongrid/rulecore/internal/adapter/outbound/watcher"
	"github.com/decisiongrid/rulecore/internal/config"
	"github.com/decisiongrid/rulecore/internal/domain/rulecache"
	"github.com/decisiongrid/rulecore/internal/domain/ruleset"
	"github.com/decisiongrid/rulecore/internal/domain/version"
	"github.com/decisiongrid/rulecore/internal/port/outbound"
	"github.com/decisiongrid/rulecore/internal/service/versionmgr"
	"github.com/decisiongrid/rulecore/internal/telemetry"
)

// runtime bundles the components shared by serve and refresh: a Cache fed
// by whichever Loader cfg.RuleSource selects, a compiled RuleManager, and
// the telemetry registered against them.
type runtime struct {
	cfg        *config.RuntimeConfig
	cache      *rulecache.Cache
	loader     outbound.Loader
	manager    *ruleset.Manager
	versionMgr *versionmgr.Manager
	metrics    *telemetry.Metrics
	watcher    *watcher.Watcher
}

// buildRuntime wires the Rule Cache, Loader (remote or local), Rule
// Manager, and Version Manager from cfg. The returned runtime has no Close
// method; serve starts and stops the Hot-Reload Watcher, if any, itself.
func buildRuntime(cfg *config.RuntimeConfig, logger *slog.Logger, reg prometheus.Registerer) (*runtime, error) {
	cache := rulecache.New(cfg.CacheMaxSize)
	metrics := telemetry.NewMetrics(reg)

	loader, err := buildLoader(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build loader: %w", err)
	}

	compiler, err := newCompiler()
	if err != nil {
		return nil, fmt.Errorf("build rule compiler: %w", err)
	}
	manager := ruleset.NewManager()

	rt := &runtime{
		cfg:        cfg,
		cache:      cache,
		loader:     loader,
		manager:    manager,
		versionMgr: versionmgr.New(cache, loader),
		metrics:    metrics,
	}

	if cfg.EnableHotReload && cfg.RuleSource == config.RuleSourceLocal {
		w, err := watcher.New(watcher.Config{
			Root:   cfg.LocalRulesPath,
			Logger: logger,
		}, rt.onWatchEvent(compiler, logger))
		if err != nil {
			return nil, fmt.Errorf("start hot-reload watcher: %w", err)
		}
		rt.watcher = w
	}

	return rt, nil
}

func buildLoader(cfg *config.RuntimeConfig, logger *slog.Logger) (outbound.Loader, error) {
	switch cfg.RuleSource {
	case config.RuleSourceLocal:
		return localfs.New(localfs.Config{
			Root:      cfg.LocalRulesPath,
			Recursive: cfg.LocalRulesRecursive,
		}), nil
	case config.RuleSourceCloud:
		p := pool.New(pool.Config{
			BaseURL:                  cfg.APIURL,
			MaxConnections:           cfg.ConnectionPool.MaxConnections,
			MaxRequestsPerConnection: cfg.ConnectionPool.MaxRequestsPerConnection,
			KeepAliveTimeout:         cfg.ConnectionPool.KeepAliveTimeout,
			RequestTimeout:           cfg.HTTPTimeout,
		})
		codec := compression.New(0, logger)
		algo := compression.Algorithm(cfg.CompressionAlgorithm)
		return registry.New(registry.Config{
			ProjectID:             cfg.ProjectID,
			APIKey:                cfg.APIKey,
			EnableCompression:     cfg.EnableCompression,
			CompressionAlgorithm:  algo,
			EnableRequestBatching: cfg.EnableRequestBatching,
			BatcherConfig: batcher.Config{
				MaxBatchSize:         cfg.Batching.MaxBatchSize,
				MaxWaitTime:          cfg.Batching.MaxWaitTime,
				MaxConcurrentBatches: cfg.Batching.MaxConcurrentBatches,
				EnableAutoBatching:   true,
			},
		}, p, codec), nil
	default:
		return nil, fmt.Errorf("unknown rule_source %q", cfg.RuleSource)
	}
}

func newCompiler() (*cel.Compiler, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, err
	}
	return cel.NewCompiler(evaluator), nil
}

// loadAll pulls every rule from the Loader into the Cache and compiles it
// into the Rule Manager, replacing whatever the manager previously held.
func (rt *runtime) loadAll(ctx context.Context, compiler *cel.Compiler) error {
	loaded, err := rt.loader.LoadAllRules(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	for id, lr := range loaded {
		rt.cache.Set(id, lr.Artifact, lr.Metadata)
		rule, err := compiler.CompileRule(id, 0, lr.Metadata.Tags.Slice(), lr.Artifact)
		if err != nil {
			return fmt.Errorf("compile rule %q: %w", id, err)
		}
		rt.manager.AddRule(rule)
	}
	return nil
}

func (rt *runtime) onWatchEvent(compiler *cel.Compiler, logger *slog.Logger) func(watcher.Event) {
	return func(ev watcher.Event) {
		ctx := context.Background()
		switch ev.Change {
		case watcher.Deleted:
			rt.cache.Invalidate(ev.RuleID)
			rt.manager.RemoveRule(ev.RuleID)
			logger.Info("hot-reload: rule removed", "rule_id", ev.RuleID)
		default:
			lr, err := rt.loader.LoadRule(ctx, ev.RuleID)
			if err != nil {
				logger.Warn("hot-reload: failed to load rule", "rule_id", ev.RuleID, "error", err)
				return
			}
			rt.cache.Set(ev.RuleID, lr.Artifact, lr.Metadata)
			rule, err := compiler.CompileRule(ev.RuleID, 0, lr.Metadata.Tags.Slice(), lr.Artifact)
			if err != nil {
				logger.Warn("hot-reload: failed to compile rule", "rule_id", ev.RuleID, "error", err)
				return
			}
			rt.manager.RemoveRule(ev.RuleID)
			rt.manager.AddRule(rule)
			logger.Info("hot-reload: rule updated", "rule_id", ev.RuleID, "change", ev.Change)
		}
	}
}

// refreshOptions builds versionmgr.RefreshOptions from cfg.VersionManager.
func refreshOptions(cfg config.VersionManagerConfig) versionmgr.RefreshOptions {
	return versionmgr.RefreshOptions{
		Strategy:            strategyFromConfig(cfg.Strategy),
		BatchSize:           cfg.BatchSize,
		MaxRetries:          cfg.MaxRetries,
		CreateSnapshot:      true,
		ValidateAfterUpdate: cfg.ValidateAfterSync,
	}
}

func strategyFromConfig(s string) version.Strategy {
	return version.Strategy(strings.ReplaceAll(s, "_", "-"))
}

// serveMetrics starts a background HTTP listener exposing Prometheus
// metrics at /metrics. It runs until ctx is done.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server exited", "error", err)
		}
	}()
}
