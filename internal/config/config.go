// Package config provides the runtime configuration schema for rulecore.
//
// rulecore loads its rule pipeline either from a cloud registry or from a
// local directory; everything else (pooling, batching, compression,
// hot-reload, memory thresholds) tunes how that loader and the cache in
// front of it behave.
package config

import "time"

// RuleSource selects which Loader implementation backs the Rule Cache.
type RuleSource string

const (
	RuleSourceCloud RuleSource = "cloud"
	RuleSourceLocal RuleSource = "local"
)

// RuntimeConfig is the top-level configuration for rulecore.
type RuntimeConfig struct {
	// RuleSource selects the Loader implementation.
	RuleSource RuleSource `yaml:"rule_source" mapstructure:"rule_source" validate:"required,oneof=cloud local"`

	// APIURL, APIKey, ProjectID scope and authenticate the registry Loader.
	// Required when RuleSource is cloud.
	APIURL    string `yaml:"api_url" mapstructure:"api_url" validate:"required_if=RuleSource cloud,omitempty,url"`
	APIKey    string `yaml:"api_key" mapstructure:"api_key" validate:"required_if=RuleSource cloud"`
	ProjectID string `yaml:"project_id" mapstructure:"project_id" validate:"required_if=RuleSource cloud"`

	// LocalRulesPath is the root directory for the Local Loader. Required
	// when RuleSource is local.
	LocalRulesPath string `yaml:"local_rules_path" mapstructure:"local_rules_path" validate:"required_if=RuleSource local"`
	// LocalRulesRecursive enables recursive directory scanning for the Local Loader.
	LocalRulesRecursive bool `yaml:"local_rules_recursive" mapstructure:"local_rules_recursive"`

	// EnableHotReload activates the filesystem Watcher for local rule sources.
	EnableHotReload bool `yaml:"enable_hot_reload" mapstructure:"enable_hot_reload"`

	// CacheMaxSize is the Rule Cache's LRU capacity (rule count).
	CacheMaxSize int `yaml:"cache_max_size" mapstructure:"cache_max_size" validate:"omitempty,min=1"`

	// HTTPTimeout is the per-request ceiling for registry calls.
	HTTPTimeout time.Duration `yaml:"http_timeout" mapstructure:"http_timeout"`

	// EnableConnectionPooling is loaded but not read by the runtime; the
	// Remote Loader always sends registry requests through the Connection Pool.
	EnableConnectionPooling bool `yaml:"enable_connection_pooling" mapstructure:"enable_connection_pooling"`
	// EnableRequestBatching coalesces concurrent loader calls into registry batch requests.
	EnableRequestBatching bool `yaml:"enable_request_batching" mapstructure:"enable_request_batching"`
	// EnableCompression activates Accept-Encoding negotiation and payload decoding.
	EnableCompression bool `yaml:"enable_compression" mapstructure:"enable_compression"`
	// CompressionAlgorithm selects the codec when EnableCompression is set.
	CompressionAlgorithm string `yaml:"compression_algorithm" mapstructure:"compression_algorithm" validate:"omitempty,oneof=gzip deflate"`

	Batching         BatchingConfig         `yaml:"batching" mapstructure:"batching"`
	ConnectionPool   ConnectionPoolConfig   `yaml:"connection_pool" mapstructure:"connection_pool"`
	MemoryManagement MemoryManagementConfig `yaml:"memory_management" mapstructure:"memory_management"`

	// Engine holds the Execution Engine settings (see EngineConfig).
	Engine EngineConfig `yaml:"engine" mapstructure:"engine"`
	// VersionManager tunes periodic reconciliation against the Loader.
	VersionManager VersionManagerConfig `yaml:"version_manager" mapstructure:"version_manager"`

	// LogLevel sets the minimum structured-log level: debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	// MetricsAddr is the address the Prometheus /metrics endpoint binds to.
	// Empty disables the metrics server.
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
	// DevMode enables verbose logging and permissive defaults.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// BatchingConfig tunes the Request Batcher.
type BatchingConfig struct {
	MaxBatchSize         int           `yaml:"max_batch_size" mapstructure:"max_batch_size" validate:"omitempty,min=1"`
	MaxWaitTime          time.Duration `yaml:"max_wait_time" mapstructure:"max_wait_time"`
	MaxConcurrentBatches int           `yaml:"max_concurrent_batches" mapstructure:"max_concurrent_batches" validate:"omitempty,min=1"`
}

// ConnectionPoolConfig tunes the Connection Pool.
type ConnectionPoolConfig struct {
	MaxConnections           int           `yaml:"max_connections" mapstructure:"max_connections" validate:"omitempty,min=1"`
	MaxRequestsPerConnection int           `yaml:"max_requests_per_connection" mapstructure:"max_requests_per_connection" validate:"omitempty,min=0"`
	KeepAliveTimeout         time.Duration `yaml:"keep_alive_timeout" mapstructure:"keep_alive_timeout"`
}

// MemoryManagementConfig holds memory-pressure thresholds. They are
// defaulted and validated (warning must be below critical); the runtime
// does not read them and triggers no cache cleanup from them.
type MemoryManagementConfig struct {
	WarningThreshold  float64       `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"omitempty,min=0,max=1"`
	CriticalThreshold float64       `yaml:"critical_threshold" mapstructure:"critical_threshold" validate:"omitempty,min=0,max=1"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
}

// EngineConfig holds Execution Engine settings. serve logs Mode at startup;
// the CLI builds no Engine, so MaxConcurrency and ContinueOnError are not read.
type EngineConfig struct {
	Mode            string `yaml:"mode" mapstructure:"mode" validate:"omitempty,oneof=parallel sequential executeAllParallel"`
	MaxConcurrency  int    `yaml:"max_concurrency" mapstructure:"max_concurrency" validate:"omitempty,min=1"`
	ContinueOnError bool   `yaml:"continue_on_error" mapstructure:"continue_on_error"`
}

// VersionManagerConfig tunes AutoRefreshCache scheduling and conflict policy.
type VersionManagerConfig struct {
	Strategy          string        `yaml:"strategy" mapstructure:"strategy" validate:"omitempty,oneof=cloud_wins local_wins newer_wins rollback manual"`
	RefreshInterval   time.Duration `yaml:"refresh_interval" mapstructure:"refresh_interval"`
	BatchSize         int           `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`
	MaxRetries        int           `yaml:"max_retries" mapstructure:"max_retries" validate:"omitempty,min=0"`
	ValidateAfterSync bool          `yaml:"validate_after_sync" mapstructure:"validate_after_sync"`
}

// SetDefaults applies sensible default values to fields left at their zero value.
func (c *RuntimeConfig) SetDefaults() {
	if c.RuleSource == "" {
		c.RuleSource = RuleSourceLocal
	}
	if c.CacheMaxSize == 0 {
		c.CacheMaxSize = 1000
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	if c.CompressionAlgorithm == "" {
		c.CompressionAlgorithm = "gzip"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Batching.MaxBatchSize == 0 {
		c.Batching.MaxBatchSize = 50
	}
	if c.Batching.MaxWaitTime == 0 {
		c.Batching.MaxWaitTime = 50 * time.Millisecond
	}
	if c.Batching.MaxConcurrentBatches == 0 {
		c.Batching.MaxConcurrentBatches = 4
	}

	if c.ConnectionPool.MaxConnections == 0 {
		c.ConnectionPool.MaxConnections = 10
	}
	if c.ConnectionPool.KeepAliveTimeout == 0 {
		c.ConnectionPool.KeepAliveTimeout = 90 * time.Second
	}

	if c.MemoryManagement.WarningThreshold == 0 {
		c.MemoryManagement.WarningThreshold = 0.75
	}
	if c.MemoryManagement.CriticalThreshold == 0 {
		c.MemoryManagement.CriticalThreshold = 0.9
	}
	if c.MemoryManagement.CleanupInterval == 0 {
		c.MemoryManagement.CleanupInterval = 5 * time.Minute
	}

	if c.Engine.Mode == "" {
		c.Engine.Mode = "parallel"
	}
	if c.Engine.MaxConcurrency == 0 {
		c.Engine.MaxConcurrency = 8
	}

	if c.VersionManager.Strategy == "" {
		c.VersionManager.Strategy = "cloud_wins"
	}
	if c.VersionManager.RefreshInterval == 0 {
		c.VersionManager.RefreshInterval = time.Minute
	}
	if c.VersionManager.BatchSize == 0 {
		c.VersionManager.BatchSize = 4
	}
}

// SetDevDefaults applies permissive defaults so rulecore runs with a
// minimal config in development: a local rule directory if none is set.
func (c *RuntimeConfig) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.RuleSource == "" {
		c.RuleSource = RuleSourceLocal
	}
	if c.RuleSource == RuleSourceLocal && c.LocalRulesPath == "" {
		c.LocalRulesPath = "./rules"
	}
	if c.LogLevel == "" {
		c.LogLevel = "debug"
	}
}
