// Package config provides configuration loading for rulecore.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for rulecore.yaml/.yml in standard locations.
// The search requires an explicit YAML extension to avoid matching the binary itself,
// which Viper's built-in SetConfigName would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location.
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("rulecore")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: RULECORE_RULE_SOURCE, RULECORE_API_KEY, ...
	viper.SetEnvPrefix("RULECORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a rulecore config file
// with an explicit YAML extension (.yaml or .yml). This prevents Viper from
// matching the binary "rulecore" (no extension) in the current directory.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".rulecore"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "rulecore"))
		}
	} else {
		paths = append(paths, "/etc/rulecore")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for rulecore.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "rulecore"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds all config keys for environment variable support.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("rule_source")
	_ = viper.BindEnv("api_url")
	_ = viper.BindEnv("api_key")
	_ = viper.BindEnv("project_id")
	_ = viper.BindEnv("local_rules_path")
	_ = viper.BindEnv("local_rules_recursive")
	_ = viper.BindEnv("enable_hot_reload")
	_ = viper.BindEnv("cache_max_size")
	_ = viper.BindEnv("http_timeout")
	_ = viper.BindEnv("enable_connection_pooling")
	_ = viper.BindEnv("enable_request_batching")
	_ = viper.BindEnv("enable_compression")
	_ = viper.BindEnv("compression_algorithm")

	_ = viper.BindEnv("batching.max_batch_size")
	_ = viper.BindEnv("batching.max_wait_time")
	_ = viper.BindEnv("batching.max_concurrent_batches")

	_ = viper.BindEnv("connection_pool.max_connections")
	_ = viper.BindEnv("connection_pool.max_requests_per_connection")
	_ = viper.BindEnv("connection_pool.keep_alive_timeout")

	_ = viper.BindEnv("memory_management.warning_threshold")
	_ = viper.BindEnv("memory_management.critical_threshold")
	_ = viper.BindEnv("memory_management.cleanup_interval")

	_ = viper.BindEnv("engine.mode")
	_ = viper.BindEnv("engine.max_concurrency")
	_ = viper.BindEnv("engine.continue_on_error")

	_ = viper.BindEnv("version_manager.strategy")
	_ = viper.BindEnv("version_manager.refresh_interval")
	_ = viper.BindEnv("version_manager.batch_size")
	_ = viper.BindEnv("version_manager.max_retries")
	_ = viper.BindEnv("version_manager.validate_after_sync")

	_ = viper.BindEnv("log_level")
	_ = viper.BindEnv("metrics_addr")
	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, applies the development defaults (cfg.SetDevDefaults) and
// validates the result (cfg.Validate) before returning the RuntimeConfig.
func LoadConfig() (*RuntimeConfig, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only.
	}

	var cfg RuntimeConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*RuntimeConfig, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg RuntimeConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
