// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Blockchain settings
	RPCURL        string
	ChainID       int64
	PrivateKey    string // relayer key, hex-encoded, 0x prefix optional
	TokenContract string
	TokenSymbol   string
	TokenDecimals int
	TokenName     string // EIP-712 domain name
	TokenVersion  string // EIP-712 domain version

	// Escrow settings
	NonceSecret     string        // keys challenge nonce generation
	SweepInterval   time.Duration // how often the expiry sweeper runs
	DefaultMinBid   string        // platform floor for unregistered wallets
	SettleTimeout   time.Duration // how long to wait for a settlement receipt
	ChallengeExpiry time.Duration // authorization offer lifetime

	// Security
	RateLimitRPS int
}

// Base Sepolia defaults
const (
	DefaultRPCURL        = "https://sepolia.base.org"
	DefaultChainID       = 84532                                        // Base Sepolia
	DefaultTokenContract = "0x036CbD53842c5426634e7929541eC2318f3dCF7e" // Base Sepolia USDC
	DefaultTokenSymbol   = "USDC"
	DefaultTokenDecimals = 6
	DefaultTokenName     = "USD Coin"
	DefaultTokenVersion  = "2"
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultMinBid        = "0.50"
	DefaultRateLimit     = 100
	DefaultSweepInterval = 5 * time.Minute
	DefaultSettleTimeout = 90 * time.Second
	DefaultChallengeTTL  = 15 * time.Minute
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:     os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RPCURL:          getEnv("RPC_URL", DefaultRPCURL),
		ChainID:         getEnvInt64("CHAIN_ID", DefaultChainID),
		PrivateKey:      os.Getenv("PRIVATE_KEY"), // Required, no default
		TokenContract:   getEnv("TOKEN_CONTRACT", DefaultTokenContract),
		TokenSymbol:     getEnv("TOKEN_SYMBOL", DefaultTokenSymbol),
		TokenDecimals:   int(getEnvInt64("TOKEN_DECIMALS", DefaultTokenDecimals)),
		TokenName:       getEnv("TOKEN_NAME", DefaultTokenName),
		TokenVersion:    getEnv("TOKEN_VERSION", DefaultTokenVersion),
		NonceSecret:     os.Getenv("NONCE_SECRET"), // Required, no default
		SweepInterval:   getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		DefaultMinBid:   getEnv("DEFAULT_MIN_BID", DefaultMinBid),
		SettleTimeout:   getEnvDuration("SETTLE_TIMEOUT", DefaultSettleTimeout),
		ChallengeExpiry: getEnvDuration("CHALLENGE_EXPIRY", DefaultChallengeTTL),
		RateLimitRPS:    int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY is required")
	}

	// Allow both with and without 0x prefix
	key := c.PrivateKey
	if len(key) == 66 && key[:2] == "0x" {
		key = key[2:]
	}
	if len(key) != 64 {
		return fmt.Errorf("PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
	}

	if c.NonceSecret == "" {
		return fmt.Errorf("NONCE_SECRET is required")
	}
	if len(c.NonceSecret) < 16 {
		return fmt.Errorf("NONCE_SECRET must be at least 16 bytes")
	}

	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}

	if c.TokenDecimals < 0 || c.TokenDecimals > 18 {
		return fmt.Errorf("TOKEN_DECIMALS must be between 0 and 18")
	}

	if c.SweepInterval < time.Second {
		return fmt.Errorf("SWEEP_INTERVAL must be at least 1s")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
