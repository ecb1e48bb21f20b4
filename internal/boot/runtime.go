// Package boot provides runtime configuration and dependency wiring for the relay.
package boot

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/concordchat/concord/internal/config"
)

// RuntimeConfig holds parsed runtime settings (JWT, server address, relay tunables).
// Values may be overridden by environment variables (e.g. HTTP_ADDR, JWT_SECRET).
type RuntimeConfig struct {
	JwtSecret    string
	JwtExpiresIn time.Duration
	ServerAddr   string

	MaxMessageLength int
	TypingTTL        time.Duration
	StoreTimeout     time.Duration
	SessionBuffer    int
	InboundRate      float64
	InboundBurst     int
	MaxFrameBytes    int64
}

// ProvideRuntimeConfig builds RuntimeConfig from the given config and applies env overrides.
func ProvideRuntimeConfig(cfg config.Config) (*RuntimeConfig, error) {
	secret := cfg.Auth.JWTSecret
	if value := os.Getenv("JWT_SECRET"); value != "" {
		secret = value
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}

	jwtExpiresIn, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("invalid jwt expires in: %w", err)
	}

	typingTTL, err := time.ParseDuration(cfg.Relay.TypingTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid typing ttl: %w", err)
	}
	if typingTTL <= 0 {
		return nil, errors.New("typing ttl must be positive")
	}

	storeTimeout, err := time.ParseDuration(cfg.Relay.StoreTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid store timeout: %w", err)
	}
	if storeTimeout <= 0 {
		return nil, errors.New("store timeout must be positive")
	}

	ret := &RuntimeConfig{
		JwtSecret:        secret,
		JwtExpiresIn:     jwtExpiresIn,
		ServerAddr:       cfg.Server.Addr,
		MaxMessageLength: cfg.Relay.MaxMessageLength,
		TypingTTL:        typingTTL,
		StoreTimeout:     storeTimeout,
		SessionBuffer:    cfg.Relay.SessionBuffer,
		InboundRate:      cfg.Relay.InboundRate,
		InboundBurst:     cfg.Relay.InboundBurst,
		MaxFrameBytes:    cfg.Relay.MaxFrameBytes,
	}

	if ret.MaxMessageLength <= 0 {
		ret.MaxMessageLength = config.DefaultMaxMessageLength
	}
	if ret.SessionBuffer <= 0 {
		ret.SessionBuffer = config.DefaultSessionBuffer
	}
	if ret.InboundRate <= 0 {
		ret.InboundRate = config.DefaultInboundRate
	}
	if ret.InboundBurst <= 0 {
		ret.InboundBurst = config.DefaultInboundBurst
	}
	if ret.MaxFrameBytes <= 0 {
		ret.MaxFrameBytes = config.DefaultMaxFrameBytes
	}

	if value := os.Getenv("HTTP_ADDR"); value != "" {
		ret.ServerAddr = value
	}
	return ret, nil
}
