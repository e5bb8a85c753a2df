package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"CONTROL_PLANE_ENV",
		"CONTROL_PLANE_ROOT",
		"CONTROL_PLANE_SIGNING_KEY",
		"CONTROL_PLANE_ALLOW_UNSIGNED",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"CONTROL_PLANE_LEDGER_BATCH_SIZE",
		"CONTROL_PLANE_LEDGER_ROTATE_BYTES",
		"CONTROL_PLANE_LEDGER_BATCH_INTERVAL_SEC",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Env != Development {
		t.Errorf("Env = %v, want Development", cfg.Env)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %v, want text", cfg.LogFormat)
	}
	if cfg.LedgerBatchSize != 1 {
		t.Errorf("LedgerBatchSize = %v, want 1", cfg.LedgerBatchSize)
	}
	if cfg.LedgerRotateBytes != 10485760 {
		t.Errorf("LedgerRotateBytes = %v, want 10485760", cfg.LedgerRotateBytes)
	}
	if cfg.AllowUnsigned {
		t.Error("AllowUnsigned should default to false")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONTROL_PLANE_ENV", "production")
	t.Setenv("CONTROL_PLANE_ROOT", "/planes/ho3")
	t.Setenv("CONTROL_PLANE_SIGNING_KEY", "topsecret")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("CONTROL_PLANE_LEDGER_BATCH_SIZE", "20")
	t.Setenv("CONTROL_PLANE_LEDGER_ROTATE_BYTES", "1024")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Env != Production {
		t.Errorf("Env = %v, want Production", cfg.Env)
	}
	if cfg.PlaneRoot != "/planes/ho3" {
		t.Errorf("PlaneRoot = %v, want /planes/ho3", cfg.PlaneRoot)
	}
	if cfg.SigningKey != "topsecret" {
		t.Errorf("SigningKey = %v, want topsecret", cfg.SigningKey)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.LedgerBatchSize != 20 {
		t.Errorf("LedgerBatchSize = %v, want 20", cfg.LedgerBatchSize)
	}
	if cfg.LedgerRotateBytes != 1024 {
		t.Errorf("LedgerRotateBytes = %v, want 1024", cfg.LedgerRotateBytes)
	}
}

func TestLoad_InvalidEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONTROL_PLANE_ENV", "staging")

	if _, err := Load(); err == nil {
		t.Error("Load() should reject an unknown CONTROL_PLANE_ENV")
	}
}

func TestLoad_InvalidBatchSize(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONTROL_PLANE_LEDGER_BATCH_SIZE", "0")

	if _, err := Load(); err == nil {
		t.Error("Load() should reject a batch size below 1")
	}
}

func TestLoad_InvalidRotateBytes(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONTROL_PLANE_LEDGER_ROTATE_BYTES", "not-a-number")

	if _, err := Load(); err == nil {
		t.Error("Load() should reject a non-numeric rotate-bytes value")
	}
}

func TestConfig_EnvironmentPredicates(t *testing.T) {
	cfg := &Config{Env: Testing}
	if cfg.IsDevelopment() || cfg.IsProduction() {
		t.Error("Testing environment must not report as development or production")
	}
	if !cfg.IsTesting() {
		t.Error("IsTesting() should be true")
	}
}

func TestConfig_Validate_RejectsUnsignedInProduction(t *testing.T) {
	cfg := &Config{Env: Production, AllowUnsigned: true, LedgerBatchSize: 1, LedgerRotateBytes: 1}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject AllowUnsigned=true in production")
	}
}

func TestConfig_Validate_OK(t *testing.T) {
	cfg := &Config{Env: Development, LedgerBatchSize: 1, LedgerRotateBytes: 1}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestResolveRoot(t *testing.T) {
	cfg := &Config{PlaneRoot: "/from/env"}

	if got := cfg.ResolveRoot("/from/flag", "/fallback"); got != "/from/flag" {
		t.Errorf("ResolveRoot() = %v, want flag value to win", got)
	}
	if got := cfg.ResolveRoot("", "/fallback"); got != "/from/env" {
		t.Errorf("ResolveRoot() = %v, want env value to win over fallback", got)
	}

	empty := &Config{}
	if got := empty.ResolveRoot("", "/fallback"); got != "/fallback" {
		t.Errorf("ResolveRoot() = %v, want fallback", got)
	}
}
