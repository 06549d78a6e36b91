package config

import (
	"strings"
	"testing"
)

func minimalCloudConfig() *RuntimeConfig {
	return &RuntimeConfig{
		RuleSource: RuleSourceCloud,
		APIURL:     "https://rules.example.com",
		APIKey:     "test-key",
		ProjectID:  "proj-1",
	}
}

func minimalLocalConfig() *RuntimeConfig {
	return &RuntimeConfig{
		RuleSource:     RuleSourceLocal,
		LocalRulesPath: "./rules",
	}
}

func TestValidate_ValidCloudConfig(t *testing.T) {
	t.Parallel()

	cfg := minimalCloudConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_ValidLocalConfig(t *testing.T) {
	t.Parallel()

	cfg := minimalLocalConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_CloudMissingAPIKey(t *testing.T) {
	t.Parallel()

	cfg := minimalCloudConfig()
	cfg.APIKey = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for missing api_key, got nil")
	}
	if !strings.Contains(err.Error(), "APIKey") {
		t.Errorf("error = %q, want to contain 'APIKey'", err.Error())
	}
}

func TestValidate_LocalMissingRulesPath(t *testing.T) {
	t.Parallel()

	cfg := minimalLocalConfig()
	cfg.LocalRulesPath = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for missing local_rules_path, got nil")
	}
}

func TestValidate_InvalidRuleSource(t *testing.T) {
	t.Parallel()

	cfg := minimalLocalConfig()
	cfg.RuleSource = "ftp"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for invalid rule_source, got nil")
	}
	if !strings.Contains(err.Error(), "RuleSource") {
		t.Errorf("error = %q, want to contain 'RuleSource'", err.Error())
	}
}

func TestValidate_InvalidCompressionAlgorithm(t *testing.T) {
	t.Parallel()

	cfg := minimalLocalConfig()
	cfg.CompressionAlgorithm = "brotli"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for invalid compression_algorithm, got nil")
	}
}

func TestValidate_InvalidEngineMode(t *testing.T) {
	t.Parallel()

	cfg := minimalLocalConfig()
	cfg.Engine.Mode = "eventual"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for invalid engine mode, got nil")
	}
}

func TestValidate_InvalidVersionManagerStrategy(t *testing.T) {
	t.Parallel()

	cfg := minimalLocalConfig()
	cfg.VersionManager.Strategy = "coinflip"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for invalid strategy, got nil")
	}
}

func TestValidate_ThresholdOrderingViolation(t *testing.T) {
	t.Parallel()

	cfg := minimalLocalConfig()
	cfg.MemoryManagement.WarningThreshold = 0.9
	cfg.MemoryManagement.CriticalThreshold = 0.5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error when warning_threshold >= critical_threshold, got nil")
	}
	if !strings.Contains(err.Error(), "warning_threshold") {
		t.Errorf("error = %q, want to mention warning_threshold", err.Error())
	}
}

func TestValidate_ZeroConfigAfterDefaults(t *testing.T) {
	t.Parallel()

	// Simulate running with no config file at all, falling back to local
	// rule source defaults plus a dev-mode rules path.
	cfg := &RuntimeConfig{DevMode: true}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() zero-config unexpected error: %v", err)
	}
}
