package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/decisiongrid/rulecore/internal/config"
)

var rulesTagFilter []string

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List rules currently held in the Rule Cache",
	Long: `rules loads every rule from the configured source into the Rule Cache
and prints each rule's id, version, and tags. Pass --tag to filter to rules
carrying all of the given tags.`,
	RunE: runRules,
}

func init() {
	rulesCmd.Flags().StringSliceVar(&rulesTagFilter, "tag", nil, "only list rules carrying all of these tags")
	rootCmd.AddCommand(rulesCmd)
}

func runRules(cmd *cobra.Command, args []string) error {
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
		return fmt.Errorf("load rules: %w", err)
	}

	ids := rt.cache.Keys()
	if len(rulesTagFilter) > 0 {
		ids = rt.cache.GetRulesByTags(rulesTagFilter)
	}
	sort.Strings(ids)

	for _, id := range ids {
		meta, ok := rt.cache.GetMetadata(id)
		if !ok {
			continue
		}
		fmt.Printf("%s\tversion=%s\ttags=%v\n", id, meta.Version, meta.Tags.Slice())
	}
	return nil
}
