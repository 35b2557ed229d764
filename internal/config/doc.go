// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// After the file is read, a .env file (if present) and the process environment
// override the push and REST endpoints (WS_URL, API_URL), the session token
// (FABSYNC_TOKEN) and the log level (LOG_LEVEL).
package config
