package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// Environment variables are not consulted; use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention PORTCULLIS_SECTION_FIELD (e.g., PORTCULLIS_LOGGING_LEVEL) and
// always take precedence over file-based configuration.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("PORTCULLIS_LOGGING_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("PORTCULLIS_LOGGING_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
	if val := os.Getenv("PORTCULLIS_LOGGING_ADD_SOURCE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Logging.AddSource = b
		}
	}

	if val := os.Getenv("PORTCULLIS_STORAGE_ENTITY_PATH"); val != "" {
		cfg.Storage.EntityPath = val
	}
	if val := os.Getenv("PORTCULLIS_STORAGE_POLICY_PATH"); val != "" {
		cfg.Storage.PolicyPath = val
	}
	if val := os.Getenv("PORTCULLIS_STORAGE_LEDGER_PATH"); val != "" {
		cfg.Storage.LedgerPath = val
	}
	if val := os.Getenv("PORTCULLIS_STORAGE_AUDIT_PATH"); val != "" {
		cfg.Storage.AuditPath = val
	}
	if val := os.Getenv("PORTCULLIS_STORAGE_BUSY_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Storage.BusyTimeout = d
		}
	}

	if val := os.Getenv("PORTCULLIS_POLICIES_PATH"); val != "" {
		cfg.Policies.Path = val
	}
	if val := os.Getenv("PORTCULLIS_POLICIES_WATCH"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Policies.Watch = b
		}
	}

	if val := os.Getenv("PORTCULLIS_LEDGER_VERIFY_SCHEDULE"); val != "" {
		cfg.Ledger.VerifySchedule = val
	}

	if val := os.Getenv("PORTCULLIS_ACCESS_STORE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Access.StoreTimeout = d
		}
	}
	if val := os.Getenv("PORTCULLIS_ACCESS_NOTARY_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Access.NotaryTimeout = d
		}
	}

	if val := os.Getenv("PORTCULLIS_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	if val := os.Getenv("PORTCULLIS_METRICS_LISTEN_ADDRESS"); val != "" {
		cfg.Metrics.ListenAddress = val
	}
}
