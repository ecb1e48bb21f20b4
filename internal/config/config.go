// Package config loads and exposes application configuration (TOML).
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultJWTExpiresIn = "24h"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "concord"
	DefaultPGSSLMode    = "disable"

	// DefaultMaxMessageLength is the maximum message content length in runes.
	DefaultMaxMessageLength = 2000
	// DefaultTypingTTL is how long a typing indicator stays alive without refresh.
	DefaultTypingTTL = "3s"
	// DefaultStoreTimeout bounds every call into the identity and message stores.
	DefaultStoreTimeout = "5s"
	// DefaultSessionBuffer is the per-connection outbound event queue size.
	DefaultSessionBuffer = 64
	// DefaultInboundRate and DefaultInboundBurst bound inbound events per connection.
	DefaultInboundRate  = 20.0
	DefaultInboundBurst = 40
	// DefaultMaxFrameBytes limits the size of a single inbound websocket frame.
	DefaultMaxFrameBytes = 8192
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Postgres PostgresConfig `toml:"postgres"`
	Relay    RelayConfig    `toml:"relay"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// AuthConfig holds JWT secret and token expiry (e.g. 24h).
type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// RelayConfig holds relay tunables: message limits, typing expiry, store
// timeouts, and per-connection flow control.
type RelayConfig struct {
	MaxMessageLength int     `toml:"max_message_length"`
	TypingTTL        string  `toml:"typing_ttl"`
	StoreTimeout     string  `toml:"store_timeout"`
	SessionBuffer    int     `toml:"session_buffer"`
	InboundRate      float64 `toml:"inbound_rate"`
	InboundBurst     int     `toml:"inbound_burst"`
	MaxFrameBytes    int64   `toml:"max_frame_bytes"`
}

// Load reads and parses the TOML config file at path and applies default
// values for missing fields. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Relay: RelayConfig{
			MaxMessageLength: DefaultMaxMessageLength,
			TypingTTL:        DefaultTypingTTL,
			StoreTimeout:     DefaultStoreTimeout,
			SessionBuffer:    DefaultSessionBuffer,
			InboundRate:      DefaultInboundRate,
			InboundBurst:     DefaultInboundBurst,
			MaxFrameBytes:    DefaultMaxFrameBytes,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}
