// Package config defines the application configuration and its YAML
// loader.
package config

import (
	"fmt"
	"time"
)

// Config is the top-level application configuration.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Storage  StorageConfig  `yaml:"storage"`
	Policies PoliciesConfig `yaml:"policies"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Access   AccessConfig   `yaml:"access"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is the minimum log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the output format ("json", "text").
	Format string `yaml:"format"`

	// AddSource includes file and line number in logs.
	AddSource bool `yaml:"add_source"`
}

// StorageConfig configures the SQLite database paths.
type StorageConfig struct {
	// EntityPath is the entity store database file.
	EntityPath string `yaml:"entity_path"`

	// PolicyPath is the policy store database file.
	PolicyPath string `yaml:"policy_path"`

	// LedgerPath is the ledger database file.
	LedgerPath string `yaml:"ledger_path"`

	// AuditPath is the audit trail database file.
	AuditPath string `yaml:"audit_path"`

	// BusyTimeout is the duration to wait when a database is locked.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// PoliciesConfig configures policy file loading.
type PoliciesConfig struct {
	// Path is a policy YAML file or a directory of them. Empty disables
	// file loading; policies then come only from the store.
	Path string `yaml:"path"`

	// Watch reloads policies when the files change.
	Watch bool `yaml:"watch"`

	// DebounceInterval is the quiet period before a reload fires.
	DebounceInterval time.Duration `yaml:"debounce_interval"`
}

// LedgerConfig configures ledger behavior.
type LedgerConfig struct {
	// VerifySchedule is a cron expression for scheduled chain
	// verification. Empty disables it.
	VerifySchedule string `yaml:"verify_schedule"`
}

// AccessConfig configures the orchestrator.
type AccessConfig struct {
	// StoreTimeout bounds storage calls during decision processing.
	StoreTimeout time.Duration `yaml:"store_timeout"`

	// NotaryTimeout bounds the notarization hook.
	NotaryTimeout time.Duration `yaml:"notary_timeout"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled serves metrics over HTTP.
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the metrics HTTP listen address.
	ListenAddress string `yaml:"listen_address"`

	// Namespace is the metric namespace prefix.
	Namespace string `yaml:"namespace"`
}

// ApplyDefaults fills unset fields with default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Storage.EntityPath == "" {
		cfg.Storage.EntityPath = "data/entities.db"
	}
	if cfg.Storage.PolicyPath == "" {
		cfg.Storage.PolicyPath = "data/policies.db"
	}
	if cfg.Storage.LedgerPath == "" {
		cfg.Storage.LedgerPath = "data/ledger.db"
	}
	if cfg.Storage.AuditPath == "" {
		cfg.Storage.AuditPath = "data/audit.db"
	}
	if cfg.Storage.BusyTimeout == 0 {
		cfg.Storage.BusyTimeout = 5 * time.Second
	}

	if cfg.Policies.DebounceInterval == 0 {
		cfg.Policies.DebounceInterval = 100 * time.Millisecond
	}

	if cfg.Ledger.VerifySchedule == "" {
		cfg.Ledger.VerifySchedule = "0 3 * * *"
	}

	if cfg.Access.StoreTimeout == 0 {
		cfg.Access.StoreTimeout = 5 * time.Second
	}
	if cfg.Access.NotaryTimeout == 0 {
		cfg.Access.NotaryTimeout = 2 * time.Second
	}

	if cfg.Metrics.ListenAddress == "" {
		cfg.Metrics.ListenAddress = ":9464"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "portcullis"
	}
}

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", cfg.Logging.Level)
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging.format %q", cfg.Logging.Format)
	}

	if cfg.Storage.BusyTimeout < 0 {
		return fmt.Errorf("storage.busy_timeout must not be negative")
	}
	if cfg.Access.StoreTimeout <= 0 {
		return fmt.Errorf("access.store_timeout must be positive")
	}
	if cfg.Access.NotaryTimeout <= 0 {
		return fmt.Errorf("access.notary_timeout must be positive")
	}
	if cfg.Policies.Watch && cfg.Policies.Path == "" {
		return fmt.Errorf("policies.watch requires policies.path")
	}

	return nil
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
