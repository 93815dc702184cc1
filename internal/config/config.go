package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth" validate:"required"`
	Portal    PortalConfig    `mapstructure:"portal" validate:"required"`
	Queues    QueuesConfig    `mapstructure:"queues" validate:"required"`
	Downloads DownloadsConfig `mapstructure:"downloads" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
// An empty URL disables persistence of task history.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// Enabled reports whether a database has been configured.
func (c DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
}

// TokenLifetime returns the configured token lifetime as a duration.
func (c AuthConfig) TokenLifetime() time.Duration {
	return time.Duration(c.TokenLifetimeMinutes) * time.Minute
}

// PortalConfig describes the tax portal the workflows talk to.
type PortalConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"required,url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"required,gt=0"`
}

// QueueConfig holds the admission limits of one resource queue.
// MaxConcurrent of zero means unbounded.
type QueueConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent" validate:"gte=0"`
	MinDelay      time.Duration `mapstructure:"min_delay" validate:"gte=0"`
}

// QueuesConfig holds the limits of every resource queue.
type QueuesConfig struct {
	Tabs      QueueConfig `mapstructure:"tabs"`
	Requests  QueueConfig `mapstructure:"requests"`
	Downloads QueueConfig `mapstructure:"downloads"`
}

// DownloadsConfig controls where downloaded receipts are written.
type DownloadsConfig struct {
	Dir string `mapstructure:"dir" validate:"required"`
}
