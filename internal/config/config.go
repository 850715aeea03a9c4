// Package config provides application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port      int
	LogLevel  string
	LogPretty bool

	// Data directory (database files live here)
	DataDir string

	// Database paths
	LedgerDBPath    string
	PortfolioDBPath string
	CacheDBPath     string

	// Advisor engine
	MinConfidence      float64       // recommendations below this are discarded
	DefaultExpiry      time.Duration // pending recommendations expire after this
	AdvisorSweepEvery  time.Duration
	ExpirySweepEvery   time.Duration
	ReconcileEvery     time.Duration
	SnapshotRetention  time.Duration // snapshots older than this are GC'd
	RiskAlertThreshold float64       // adverse move fraction that triggers risk_adjustment

	// Queue
	QueueWorkers int
}

// Load reads configuration from environment variables.
// A .env file is loaded first if present (development convenience).
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("VANTAGE_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data dir: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	cfg := &Config{
		Port:      getEnvAsInt("VANTAGE_PORT", 8090),
		LogLevel:  getEnv("VANTAGE_LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("VANTAGE_LOG_PRETTY", false),

		DataDir:         absDataDir,
		LedgerDBPath:    filepath.Join(absDataDir, "ledger.db"),
		PortfolioDBPath: filepath.Join(absDataDir, "portfolio.db"),
		CacheDBPath:     filepath.Join(absDataDir, "cache.db"),

		MinConfidence:      getEnvAsFloat("VANTAGE_MIN_CONFIDENCE", 0.6),
		DefaultExpiry:      time.Duration(getEnvAsInt("VANTAGE_EXPIRY_DAYS", 7)) * 24 * time.Hour,
		AdvisorSweepEvery:  time.Duration(getEnvAsInt("VANTAGE_ADVISOR_SWEEP_MINUTES", 15)) * time.Minute,
		ExpirySweepEvery:   time.Duration(getEnvAsInt("VANTAGE_EXPIRY_SWEEP_MINUTES", 60)) * time.Minute,
		ReconcileEvery:     time.Duration(getEnvAsInt("VANTAGE_RECONCILE_HOURS", 24)) * time.Hour,
		SnapshotRetention:  time.Duration(getEnvAsInt("VANTAGE_SNAPSHOT_RETENTION_DAYS", 30)) * 24 * time.Hour,
		RiskAlertThreshold: getEnvAsFloat("VANTAGE_RISK_ALERT_THRESHOLD", 0.15),

		QueueWorkers: getEnvAsInt("VANTAGE_QUEUE_WORKERS", 2),
	}

	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return nil, fmt.Errorf("VANTAGE_MIN_CONFIDENCE must be in [0, 1], got %f", cfg.MinConfidence)
	}

	return cfg, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloat gets an environment variable as float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
