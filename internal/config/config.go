// Package config provides environment-aware configuration management for
// the control plane CLIs.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/control-plane/governor/infrastructure/runtime"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config holds the core's environment surface (spec section 6).
type Config struct {
	Env Environment

	// Plane
	PlaneRoot string

	// Signing (Package Factory G4)
	SigningKey    string
	AllowUnsigned bool

	// Logging
	LogLevel  string
	LogFormat string

	// Ledger tuning
	LedgerBatchSize        int
	LedgerRotateBytes      int64
	LedgerBatchIntervalSec int
}

// Load loads configuration for the environment named by CONTROL_PLANE_ENV
// (default development), after loading config/<env>.env if present. A
// missing env file is ignored and an unreadable or malformed one only
// prints a warning; Load fails only on an invalid environment name or
// invalid ledger tuning values.
func Load() (*Config, error) {
	envStr := os.Getenv("CONTROL_PLANE_ENV")
	if envStr == "" {
		envStr = string(Development)
	}

	parsedEnv, ok := runtime.ParseEnvironment(envStr)
	if !ok {
		return nil, fmt.Errorf("invalid CONTROL_PLANE_ENV: %s (must be development, testing, or production)", envStr)
	}
	env := Environment(parsedEnv)

	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("Warning: Could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	c.PlaneRoot = getEnv("CONTROL_PLANE_ROOT", "")
	c.SigningKey = getEnv("CONTROL_PLANE_SIGNING_KEY", "")
	c.AllowUnsigned = getBoolEnv("CONTROL_PLANE_ALLOW_UNSIGNED", false)

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "text")

	c.LedgerBatchSize = getIntEnv("CONTROL_PLANE_LEDGER_BATCH_SIZE", 1)
	if c.LedgerBatchSize < 1 {
		return fmt.Errorf("invalid CONTROL_PLANE_LEDGER_BATCH_SIZE: must be >= 1")
	}

	rotateBytesStr := getEnv("CONTROL_PLANE_LEDGER_ROTATE_BYTES", "10485760")
	rotateBytes, err := strconv.ParseInt(rotateBytesStr, 10, 64)
	if err != nil || rotateBytes < 1 {
		return fmt.Errorf("invalid CONTROL_PLANE_LEDGER_ROTATE_BYTES: %s", rotateBytesStr)
	}
	c.LedgerRotateBytes = rotateBytes

	c.LedgerBatchIntervalSec = getIntEnv("CONTROL_PLANE_LEDGER_BATCH_INTERVAL_SEC", 0)

	return nil
}

// IsDevelopment returns true if running in the development environment.
func (c *Config) IsDevelopment() bool { return c.Env == Development }

// IsTesting returns true if running in the testing environment.
func (c *Config) IsTesting() bool { return c.Env == Testing }

// IsProduction returns true if running in the production environment.
func (c *Config) IsProduction() bool { return c.Env == Production }

// ResolveRoot returns the effective plane root: an explicit CLI flag value
// takes precedence over CONTROL_PLANE_ROOT, which takes precedence over the
// fallback.
func (c *Config) ResolveRoot(flagValue, fallback string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if v := strings.TrimSpace(c.PlaneRoot); v != "" {
		return v
	}
	return fallback
}

// Validate validates the configuration's production-mode constraints.
func (c *Config) Validate() error {
	if c.IsProduction() && c.AllowUnsigned {
		return fmt.Errorf("CONTROL_PLANE_ALLOW_UNSIGNED must be false in production")
	}
	if c.LedgerBatchSize < 1 {
		return fmt.Errorf("LedgerBatchSize must be >= 1")
	}
	if c.LedgerRotateBytes < 1 {
		return fmt.Errorf("LedgerRotateBytes must be >= 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
