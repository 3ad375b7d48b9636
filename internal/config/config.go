// Package config loads client configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the client needs to reach the remote authority
// and keep its local cache.
type Config struct {
	// APIBaseURL is the remote authority, e.g. "https://ledger.example.com".
	APIBaseURL string

	// Token is the opaque auth token; UserID is this client's numeric id.
	// Both come from the external login flow.
	Token  string
	UserID int64

	// CachePath is the sqlite cache file.
	CachePath string

	HTTPTimeout time.Duration
}

// Load reads configuration from the environment, consulting .env if
// present (non-fatal if missing).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		APIBaseURL: os.Getenv("LEDGER_API_URL"),
		Token:      os.Getenv("LEDGER_TOKEN"),
		CachePath:  getEnvDefault("LEDGER_CACHE_PATH", "./data/groupledger.db"),
	}

	if raw := os.Getenv("LEDGER_USER_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("LEDGER_USER_ID must be numeric: %w", err)
		}
		cfg.UserID = id
	}

	timeout := getEnvDefault("LEDGER_HTTP_TIMEOUT", "10s")
	d, err := time.ParseDuration(timeout)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_HTTP_TIMEOUT invalid: %w", err)
	}
	cfg.HTTPTimeout = d

	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("LEDGER_API_URL is required")
	}

	return cfg, nil
}

func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
