package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all sync server settings, loaded from environment variables
// with defaults suitable for a desktop installation.
type Config struct {
	Host             string
	Port             int
	Env              string
	DatabasePath     string
	TokenSecret      string
	PairingTokenTTL  time.Duration
	AuthTokenExpiry  time.Duration
	MaxSyncBatchSize int
	LogFile          string
	ShutdownTimeout  time.Duration
}

func Load() Config {
	cfg := Config{
		Host:             getEnv("SYNC_HOST", "0.0.0.0"),
		Port:             getEnvInt("SYNC_PORT", 8765),
		Env:              getEnv("ENV", "development"),
		DatabasePath:     getEnv("SYNC_DATABASE_PATH", defaultDatabasePath()),
		TokenSecret:      getEnv("SYNC_SECRET_KEY", "change-this-in-production"),
		PairingTokenTTL:  getEnvDuration("SYNC_PAIRING_TTL", 5*time.Minute),
		AuthTokenExpiry:  getEnvDuration("SYNC_AUTH_TOKEN_EXPIRY", 365*24*time.Hour),
		MaxSyncBatchSize: getEnvInt("SYNC_MAX_BATCH_SIZE", 1000),
		LogFile:          getEnv("SYNC_LOG_FILE", ""),
		ShutdownTimeout:  getEnvDuration("SYNC_SHUTDOWN_TIMEOUT", 5*time.Second),
	}

	if cfg.Env == "production" && cfg.TokenSecret == "change-this-in-production" {
		slog.Error("SYNC_SECRET_KEY must be set in production environment")
		os.Exit(1)
	}

	return cfg
}

// defaultDatabasePath points at the database file the desktop application
// itself uses; the sync server never owns a separate datastore.
func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "storymaster.db"
	}
	return filepath.Join(home, ".local", "share", "storymaster", "storymaster.db")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("invalid integer in environment, using default", "key", key, "value", v)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("invalid duration in environment, using default", "key", key, "value", v)
	}
	return fallback
}
