package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: debug\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level debug, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected default format json, got %q", cfg.Logging.Format)
	}
	if cfg.Storage.LedgerPath != "data/ledger.db" {
		t.Errorf("expected default ledger path, got %q", cfg.Storage.LedgerPath)
	}
	if cfg.Access.StoreTimeout != 5*time.Second {
		t.Errorf("expected default store timeout, got %v", cfg.Access.StoreTimeout)
	}
	if cfg.Ledger.VerifySchedule != "0 3 * * *" {
		t.Errorf("expected default verify schedule, got %q", cfg.Ledger.VerifySchedule)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad level", "logging:\n  level: loud\n"},
		{"bad format", "logging:\n  format: xml\n"},
		{"watch without path", "policies:\n  watch: true\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := LoadConfig(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEnvOverridesTakePrecedence(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\nstorage:\n  ledger_path: file.db\n")

	t.Setenv("PORTCULLIS_LOGGING_LEVEL", "error")
	t.Setenv("PORTCULLIS_STORAGE_LEDGER_PATH", "/var/lib/portcullis/ledger.db")
	t.Setenv("PORTCULLIS_ACCESS_STORE_TIMEOUT", "250ms")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides failed: %v", err)
	}

	if cfg.Logging.Level != "error" {
		t.Errorf("expected env override level error, got %q", cfg.Logging.Level)
	}
	if cfg.Storage.LedgerPath != "/var/lib/portcullis/ledger.db" {
		t.Errorf("expected env override ledger path, got %q", cfg.Storage.LedgerPath)
	}
	if cfg.Access.StoreTimeout != 250*time.Millisecond {
		t.Errorf("expected env override store timeout, got %v", cfg.Access.StoreTimeout)
	}
}

func TestEnvOverridesRevalidate(t *testing.T) {
	path := writeConfig(t, "")

	t.Setenv("PORTCULLIS_LOGGING_LEVEL", "loud")

	if _, err := LoadConfigWithEnvOverrides(path); err == nil {
		t.Error("expected validation error after bad env override")
	}
}
