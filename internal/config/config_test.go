package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	// Set required env vars
	setEnv(t, "PRIVATE_KEY", testKey)
	setEnv(t, "NONCE_SECRET", "sixteen-byte-secret!!")
	setEnv(t, "PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultRPCURL, cfg.RPCURL)
	assert.Equal(t, int64(DefaultChainID), cfg.ChainID)
	assert.Equal(t, DefaultTokenContract, cfg.TokenContract)
	assert.Equal(t, DefaultTokenName, cfg.TokenName)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
	assert.Equal(t, DefaultMinBid, cfg.DefaultMinBid)
}

func TestLoad_MissingPrivateKey(t *testing.T) {
	// Clear private key
	setEnv(t, "PRIVATE_KEY", "")
	setEnv(t, "NONCE_SECRET", "sixteen-byte-secret!!")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "PRIVATE_KEY is required")
}

func TestLoad_InvalidPrivateKeyLength(t *testing.T) {
	setEnv(t, "PRIVATE_KEY", "tooshort")
	setEnv(t, "NONCE_SECRET", "sixteen-byte-secret!!")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "64 hex characters")
}

func TestLoad_SweepIntervalOverride(t *testing.T) {
	setEnv(t, "PRIVATE_KEY", testKey)
	setEnv(t, "NONCE_SECRET", "sixteen-byte-secret!!")
	setEnv(t, "SWEEP_INTERVAL", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
}

func validConfig() Config {
	return Config{
		PrivateKey:    testKey,
		RPCURL:        "https://sepolia.base.org",
		NonceSecret:   "sixteen-byte-secret!!",
		TokenDecimals: 6,
		SweepInterval: time.Minute,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "missing private key",
			mutate:  func(c *Config) { c.PrivateKey = "" },
			wantErr: "PRIVATE_KEY is required",
		},
		{
			name:    "invalid private key length",
			mutate:  func(c *Config) { c.PrivateKey = "abc123" },
			wantErr: "64 hex characters",
		},
		{
			name:    "missing RPC URL",
			mutate:  func(c *Config) { c.RPCURL = "" },
			wantErr: "RPC_URL is required",
		},
		{
			name:    "missing nonce secret",
			mutate:  func(c *Config) { c.NonceSecret = "" },
			wantErr: "NONCE_SECRET is required",
		},
		{
			name:    "short nonce secret",
			mutate:  func(c *Config) { c.NonceSecret = "short" },
			wantErr: "at least 16 bytes",
		},
		{
			name:    "absurd token decimals",
			mutate:  func(c *Config) { c.TokenDecimals = 42 },
			wantErr: "TOKEN_DECIMALS",
		},
		{
			name:    "sweep interval too small",
			mutate:  func(c *Config) { c.SweepInterval = 100 * time.Millisecond },
			wantErr: "SWEEP_INTERVAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "TEST_DUR", "90s")
	setEnv(t, "TEST_DUR_BAD", "ninety")

	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DUR", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("NONEXISTENT_VAR", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("TEST_DUR_BAD", time.Minute))
}
