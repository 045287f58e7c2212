// Package config reads process configuration from the environment and
// evaluation profiles from YAML.
package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds server and CLI configuration.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Config struct {
	Root          string
	Port          string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	OTelEnabled   bool
	OTLPEndpoint  string
	OTLPInsecure  bool

	RateLimitRPS   float64
	RateLimitBurst int

	// ProfilePath is an optional YAML evaluation profile.
	ProfilePath string
	// SigningKey is a hex ed25519 seed for attestation tokens.
	SigningKey   string
	LiveSnapshot bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Root:           envOr("WARPGATE_ROOT", "."),
		Port:           envOr("PORT", "8080"),
		LogLevel:       strings.ToUpper(envOr("LOG_LEVEL", "INFO")),
		DatabaseURL:    envOr("DATABASE_URL", "sqlite://data/certificates.db"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		OTelEnabled:    envBool("OTEL_ENABLED", false),
		OTLPEndpoint:   envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure:   envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 40),
		ProfilePath:    os.Getenv("WARPGATE_PROFILE"),
		SigningKey:     os.Getenv("WARPGATE_SIGNING_KEY"),
		LiveSnapshot:   envBool("WARPGATE_LIVE_SNAPSHOT", true),
	}
}

// SlogLevel maps LogLevel onto slog. Unrecognized values are INFO.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SigningPrivateKey decodes SigningKey. It returns nil, nil when unset.
func (c *Config) SigningPrivateKey() (ed25519.PrivateKey, error) {
	if c.SigningKey == "" {
		return nil, nil
	}
	seed, err := hex.DecodeString(c.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("config: WARPGATE_SIGNING_KEY: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("config: WARPGATE_SIGNING_KEY: want %d-byte seed, got %d", ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config: ignoring malformed boolean", "key", key, "value", v)
		return def
	}
	return b
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		slog.Warn("config: ignoring malformed number", "key", key, "value", v)
		return def
	}
	return f
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		slog.Warn("config: ignoring malformed integer", "key", key, "value", v)
		return def
	}
	return n
}
