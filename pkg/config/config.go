// Package config provides configuration handling for flowpulse.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	// Server configuration for the relay
	Server ServerConfig `json:"server"`

	// Monitor configuration for the client
	Monitor MonitorConfig `json:"monitor"`

	// Store configuration for the relay snapshot store
	Store StoreConfig `json:"store"`

	// Auth configuration
	Auth AuthConfig `json:"auth"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig contains relay HTTP server settings
type ServerConfig struct {
	// Host to bind to
	Host string `json:"host"`

	// Port to listen on
	Port int `json:"port"`
}

// MonitorConfig contains client-side connection settings
type MonitorConfig struct {
	// ServerURL is the base URL of the workflow API
	ServerURL string `json:"server_url"`

	// Transport is the push transport to use
	Transport string `json:"transport"` // "websocket", "sse"

	// ReconnectBaseMillis is the backoff unit in milliseconds
	ReconnectBaseMillis int `json:"reconnect_base_millis"`

	// MaxReconnects is the attempt limit before degrading to polling
	MaxReconnects int `json:"max_reconnects"`

	// PollIntervalSeconds is the polling fallback period
	PollIntervalSeconds int `json:"poll_interval_seconds"`
}

// StoreConfig contains snapshot store settings
type StoreConfig struct {
	// Type of store to use
	Type string `json:"type"` // "memory", "redis"

	// Redis configuration
	Redis RedisConfig `json:"redis"`
}

// RedisConfig contains redis settings
type RedisConfig struct {
	// Addr is the host:port of the redis server
	Addr string `json:"addr"`

	// Password for the redis server
	Password string `json:"password"`

	// DB is the redis database number
	DB int `json:"db"`

	// Key under which the snapshot is stored
	Key string `json:"key"`
}

// AuthConfig contains authentication settings
type AuthConfig struct {
	// JWTSecret signs and validates bearer tokens; empty disables auth
	JWTSecret string `json:"jwt_secret"`

	// TokenExpiration is the token expiration time in hours
	TokenExpiration int `json:"token_expiration"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	// Level is the logging level
	Level string `json:"level"` // "debug", "info", "warn", "error"

	// Format is the log format
	Format string `json:"format"` // "json", "text"
}

// LoadConfig loads the configuration from a file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Monitor: MonitorConfig{
			ServerURL:           "http://localhost:8080",
			Transport:           "websocket",
			ReconnectBaseMillis: 1000,
			MaxReconnects:       3,
			PollIntervalSeconds: 5,
		},
		Store: StoreConfig{
			Type: "memory",
			Redis: RedisConfig{
				Addr: "localhost:6379",
				Key:  "flowpulse:snapshot",
			},
		},
		Auth: AuthConfig{
			TokenExpiration: 24,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// FromEnv loads a .env file if present and applies FLOWPULSE_* environment
// overrides on top of config.
func FromEnv(config *Config) *Config {
	// Missing .env files are fine; explicit env vars still apply.
	_ = godotenv.Load()

	if v := os.Getenv("FLOWPULSE_SERVER_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("FLOWPULSE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("FLOWPULSE_SERVER_URL"); v != "" {
		config.Monitor.ServerURL = v
	}
	if v := os.Getenv("FLOWPULSE_TRANSPORT"); v != "" {
		config.Monitor.Transport = v
	}
	if v := os.Getenv("FLOWPULSE_STORE_TYPE"); v != "" {
		config.Store.Type = v
	}
	if v := os.Getenv("FLOWPULSE_REDIS_ADDR"); v != "" {
		config.Store.Redis.Addr = v
	}
	if v := os.Getenv("FLOWPULSE_REDIS_PASSWORD"); v != "" {
		config.Store.Redis.Password = v
	}
	if v := os.Getenv("FLOWPULSE_JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}
	if v := os.Getenv("FLOWPULSE_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("FLOWPULSE_LOG_FORMAT"); v != "" {
		config.Logging.Format = v
	}
	return config
}
