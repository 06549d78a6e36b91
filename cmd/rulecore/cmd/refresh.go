package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/decisiongrid/rulecore/internal/config"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one version-check / cache-refresh cycle and exit",
	Long: `refresh loads every rule once, detects version conflicts against the
configured source, resolves them using the version_manager strategy, and
exits. Useful for a cron-driven refresh outside of a long-running serve
process.`,
	RunE: runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	reg := prometheus.NewRegistry()
	rt, err := buildRuntime(cfg, logger, reg)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	ctx := context.Background()
	compiler, err := newCompiler()
	if err != nil {
		return fmt.Errorf("build compiler: %w", err)
	}
	if err := rt.loadAll(ctx, compiler); err != nil {
		return fmt.Errorf("initial rule load: %w", err)
	}

	result := rt.versionMgr.AutoRefreshCache(ctx, rt.cache.Keys(), refreshOptions(cfg.VersionManager))
	for id, refreshErr := range result.Errors {
		logger.Warn("refresh error", "rule_id", id, "error", refreshErr)
	}
	logger.Info("refresh complete",
		"processed", len(result.Processed),
		"updated", len(result.Updated),
		"conflicts", len(result.Conflicts),
		"rolled_back", len(result.Rollbacks),
	)
	return nil
}
