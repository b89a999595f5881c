// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings except Providers can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Mail     MailConfig
	Database DatabaseConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig

	// Providers is the SMTP preset table plus the per-provider environment
	// snapshot. Built once by Load; see LoadProviders.
	Providers Providers
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 5000)
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"5000"`

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is 0 by default because a batch response is only written
	// after every recipient has been attempted.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 2m)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"2m"`
}

// MailConfig holds batch delivery settings.
type MailConfig struct {
	// SendDelaySeconds is the pause after each recipient (default: 2.0)
	SendDelaySeconds float64 `env:"EMAIL_SEND_DELAY_SECONDS" default:"2.0"`

	// TrailingPause keeps the pause after the final recipient of a batch (default: true)
	TrailingPause bool `env:"EMAIL_TRAILING_PAUSE" default:"true"`

	// FallbackEncoding decodes uploads that are not valid UTF-8 (default: gbk)
	FallbackEncoding string `env:"EMAIL_FALLBACK_ENCODING" default:"gbk"`

	// FallbackSubject is used when neither a template nor a row subject is given
	FallbackSubject string `env:"EMAIL_FALLBACK_SUBJECT" default:"无标题"`

	// ProvidersFile is an optional YAML file with provider preset overrides
	ProvidersFile string `env:"EMAIL_PROVIDERS_FILE"`

	// MaxFileSize is the maximum accepted upload size in bytes (default: 10MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"10485760"`

	// Timeout bounds the SMTP dial and every later read or write (default: 30s)
	Timeout time.Duration `env:"SMTP_TIMEOUT" default:"30s"`

	// MaxConcurrent is the number of batches allowed to run at once (default: 4)
	MaxConcurrent int `env:"SEND_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long a request waits for a batch slot (default: 30s)
	MaxWaitTime time.Duration `env:"SEND_MAX_WAIT_TIME" default:"30s"`
}

// SendDelay returns SendDelaySeconds as a duration.
func (c MailConfig) SendDelay() time.Duration {
	return time.Duration(c.SendDelaySeconds * float64(time.Second))
}

// DatabaseConfig holds the optional batch history database settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. History is disabled when empty.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 5)
	MaxConns int `env:"DB_MAX_CONNS" default:"5"`

	// MinConns is the minimum number of connections to keep open (default: 0)
	MinConns int `env:"DB_MIN_CONNS" default:"0"`
}

// Enabled reports whether a history database is configured.
func (c DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 60)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"60"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// SecretKey signs flash cookies
	SecretKey string `env:"APP_SECRET_KEY" default:"change-this-secret"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey guards the JSON API with X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`

	// AllowedOrigins lists CORS origins for the JSON API (default: none)
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text, json or console (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
