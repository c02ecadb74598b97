// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Backend  BackendConfig
	Staging  StagingConfig
	Submit   SubmitConfig
	Database DatabaseConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading the request, body included (default: 5m)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"5m"`

	// WriteTimeout is the maximum duration for writing the response (default: 10m,
	// long enough for a submission to finish)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"10m"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-submit requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// BackendConfig selects and tunes the processing backend.
type BackendConfig struct {
	// URL is the backend origin. When empty it is resolved from PublicURL.
	URL string `env:"BACKEND_URL" envAlt:"BACKEND_BASE_URL"`

	// PublicURL is the address users open the upload page at. Local
	// addresses resolve to a backend on LocalPort, others to the same origin.
	PublicURL string `env:"PUBLIC_URL"`

	// LocalPort is the port of a locally run backend (default: 5000)
	LocalPort int `env:"BACKEND_LOCAL_PORT" default:"5000"`

	// Timeout bounds every backend request (default: 5m)
	Timeout time.Duration `env:"BACKEND_TIMEOUT" default:"5m"`
}

// StagingConfig holds upload staging settings.
type StagingConfig struct {
	// Mode is the page layout: multi (two data and two schema boxes) or single (default: multi)
	Mode string `env:"STAGING_MODE" default:"multi"`

	// MaxFileSize overrides every slot's size limit when set, e.g. 25MB (default: per slot)
	MaxFileSize ByteSize `env:"STAGING_MAX_FILE_SIZE"`

	// SpoolDir holds uploaded bytes until submission (default: OS temp dir)
	SpoolDir string `env:"STAGING_SPOOL_DIR"`

	// SessionTTL is how long an idle session keeps its files (default: 2h)
	SessionTTL time.Duration `env:"STAGING_SESSION_TTL" default:"2h"`

	// SweepInterval is how often idle sessions are swept (default: 10m)
	SweepInterval time.Duration `env:"STAGING_SWEEP_INTERVAL" default:"10m"`
}

// SubmitConfig holds submission settings.
type SubmitConfig struct {
	// MaxConcurrent is the maximum number of parallel submissions (default: 4)
	MaxConcurrent int `env:"SUBMIT_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long to wait for a submission slot (default: 30s)
	MaxWaitTime time.Duration `env:"SUBMIT_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration for one submission (default: 5m)
	Timeout time.Duration `env:"SUBMIT_TIMEOUT" default:"5m"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. When empty, submission
	// history is kept in memory.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// HistoryRetention is how long submission history is kept (default: 720h)
	HistoryRetention time.Duration `env:"HISTORY_RETENTION" default:"720h"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for upload and submit endpoints (default: 20)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"20"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey guards the /api routes with X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
