package config_test

import (
	"crypto/ed25519"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pestypig/casimirbot/warpgate/pkg/config"
	"github.com/pestypig/casimirbot/warpgate/pkg/gate"
	"github.com/pestypig/casimirbot/warpgate/pkg/viability"
)

var envKeys = []string{
	"WARPGATE_ROOT", "PORT", "LOG_LEVEL", "DATABASE_URL", "REDIS_ADDR", "OTEL_ENABLED",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "WARPGATE_PROFILE",
	"WARPGATE_SIGNING_KEY", "WARPGATE_LIVE_SNAPSHOT", "REDIS_PASSWORD", "OTEL_EXPORTER_OTLP_INSECURE",
}

func clearEnv(t *testing.T) {
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := config.Load()

	assert.Equal(t, ".", cfg.Root)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "sqlite://data/certificates.db", cfg.DatabaseURL)
	assert.Empty(t, cfg.RedisAddr)
	assert.False(t, cfg.OTelEnabled)
	assert.True(t, cfg.LiveSnapshot)
	assert.InDelta(t, 20, cfg.RateLimitRPS, 0)
	assert.Equal(t, 40, cfg.RateLimitBurst)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())

	key, err := cfg.SigningPrivateKey()
	require.NoError(t, err)
	assert.Nil(t, key)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://warp@db:5432/warp")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_BURST", "not-a-number")
	t.Setenv("WARPGATE_LIVE_SNAPSHOT", "false")
	t.Setenv("WARPGATE_SIGNING_KEY", strings.Repeat("ab", ed25519.SeedSize))

	cfg := config.Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, "postgres://warp@db:5432/warp", cfg.DatabaseURL)
	assert.True(t, cfg.OTelEnabled)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 0)
	assert.Equal(t, 40, cfg.RateLimitBurst)
	assert.False(t, cfg.LiveSnapshot)

	key, err := cfg.SigningPrivateKey()
	require.NoError(t, err)
	assert.Len(t, key, ed25519.PrivateKeySize)
}

func TestSigningPrivateKey_Malformed(t *testing.T) {
	for _, v := range []string{"zz", "abcd"} {
		cfg := &config.Config{SigningKey: v}
		_, err := cfg.SigningPrivateKey()
		assert.Error(t, err, v)
	}
}

func TestParseProfile(t *testing.T) {
	doc := `
name: strict-lab
gate:
  policy:
    mode: hard-only
  thresholds:
    cfl_max: 0.5
viability:
  ts_min: 250
calibration:
  m_target_kg: 1500
`
	p, err := config.ParseProfile([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "strict-lab", p.Name)
	assert.Equal(t, gate.ModeHardOnly, p.Gate.Policy.Mode)
	assert.True(t, p.Gate.Policy.UnknownAsFail, "omitted keys keep defaults")
	assert.True(t, p.Gate.Policy.ProxyAsUnknown)
	assert.InDelta(t, 0.5, p.Gate.Thresholds.CFLMax, 0)
	assert.InDelta(t, gate.DefaultThresholds().HRmsMax, p.Gate.Thresholds.HRmsMax, 0)
	assert.InDelta(t, 250, p.Viability.TSMin, 0)
	assert.InDelta(t, viability.DefaultThresholds().QIMax, p.Viability.QIMax, 0)
	assert.InDelta(t, 1500, p.Calibration.MTarget, 0)
}

func TestParseProfile_Empty(t *testing.T) {
	p, err := config.ParseProfile(nil)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultProfile(), p)
}

func TestParseProfile_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown key", "gate:\n  strictness: 3\n", "strictness"},
		{"unknown mode", "gate:\n  policy:\n    mode: soft-only\n", "unknown mode"},
		{"negative threshold", "gate:\n  thresholds:\n    h_rms_max: -1\n", "h_rms_max"},
		{"inverted band", "viability:\n  vdb_min: 10\n  vdb_max: 1\n", "vdb_min"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.ParseProfile([]byte(tc.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadProfile_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: file\n"), 0o600))
	p, err := config.LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "file", p.Name)

	_, err = config.LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
