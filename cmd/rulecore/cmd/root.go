// Package cmd provides the CLI commands for rulecore.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/decisiongrid/rulecore/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "rulecore",
	Short: "rulecore - CORE rule-execution runtime",
	Long: `rulecore loads rule artifacts (decision graphs) from a remote registry
or a local directory, caches them in front of the Execution Engine, and keeps
them in sync via version comparison and hot-reload.

Quick start:
  1. Create a config file: rulecore.yaml
  2. Run: rulecore serve

Configuration:
  Config is loaded from rulecore.yaml in the current directory,
  $HOME/.rulecore/, or /etc/rulecore/.

  Environment variables can override config values with the RULECORE_ prefix.
  Example: RULECORE_METRICS_ADDR=:9090

Commands:
  serve       Start the rule runtime (cache, loader, hot-reload, version refresh)
  refresh     Run one version-check / cache-refresh cycle and exit
  rules       List rules currently held in the Rule Cache
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./rulecore.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
