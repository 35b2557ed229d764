package config

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables that override file settings.
const (
	EnvWSURL    = "WS_URL"
	EnvAPIURL   = "API_URL"
	EnvToken    = "FABSYNC_TOKEN"
	EnvLogLevel = "LOG_LEVEL"
)

// dotenvPath is the .env file consulted for local development.
var dotenvPath = ".env"

// ApplyEnv loads .env (if present, without overriding variables already set)
// and applies environment overrides.
func (c *Config) ApplyEnv() {
	if err := godotenv.Load(dotenvPath); err != nil && !os.IsNotExist(err) {
		slog.Debug("ignoring unreadable .env file", "path", dotenvPath, "error", err)
	}

	if v := os.Getenv(EnvWSURL); v != "" {
		c.API.WSURL = v
	}
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.API.RestURL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.Session.Token = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
}
