// Package config provides configuration loading using koanf.
// Follows env → AWS SDK → defaults precedence.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/ridewise/authcore/internal/domain"
)

// Config holds all service configuration.
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	Cipher    CipherConfig    `koanf:"cipher"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Verify    VerifyConfig    `koanf:"verify"`
	SMS       SMSConfig       `koanf:"sms"`
	Token     TokenConfig     `koanf:"token"`
	Cleanup   CleanupConfig   `koanf:"cleanup"`

	DynamoDB DynamoDBConfig `koanf:"dynamodb"`
	Redis    RedisConfig    `koanf:"redis"`
	AWS      AWSConfig      `koanf:"aws"`

	OTEL OTELConfig `koanf:"otel"`
}

// CipherConfig configures the verification-code-at-rest key ring.
type CipherConfig struct {
	// KeyRetention is how many prior generations of the ring's AES-256-GCM
	// key are kept for decryption after a Rotate. Values <= 0 fall back to
	// domain.CipherKeyRetention.
	KeyRetention int `koanf:"key_retention"`
}

// RateLimitConfig overrides the per-phone/per-IP send_code and verify_code
// limiter windows.
type RateLimitConfig struct {
	SMSPerPhoneLimit  int           `koanf:"sms_per_phone_limit"`
	SMSPerPhoneWindow time.Duration `koanf:"sms_per_phone_window"`
	VerifyPerIPLimit  int           `koanf:"verify_per_ip_limit"`
	VerifyPerIPWindow time.Duration `koanf:"verify_per_ip_window"`
	ResendCooldown    time.Duration `koanf:"resend_cooldown"`
}

// VerifyConfig overrides lockout and progressive-delay tuning.
type VerifyConfig struct {
	MaxAttempts            int           `koanf:"max_attempts"`
	PhoneLockDuration      time.Duration `koanf:"phone_lock_duration"`
	BruteForceLockDuration time.Duration `koanf:"brute_force_lock_duration"`
	DelayBase              time.Duration `koanf:"delay_base"`
	DelayMax               time.Duration `koanf:"delay_max"`
}

// SMSConfig selects and tunes the SMS provider.
type SMSConfig struct {
	// Provider is "log" (local development) or "sns" (production).
	Provider         string        `koanf:"provider"`
	FailoverCooldown time.Duration `koanf:"failover_cooldown"`
}

// TokenConfig holds JWT minting parameters.
type TokenConfig struct {
	Issuer   string `koanf:"issuer"`
	Audience string `koanf:"audience"`
	// KeySource is "ephemeral" (local development, generates an RSA key at
	// startup) or "aws" (Secrets Manager + SSM; adapter.AWSKeyStore reads
	// fixed parameter/secret paths, not config — see its own constants).
	KeySource string `koanf:"keysource"`
}

// CleanupConfig tunes the background audit-archival loop.
type CleanupConfig struct {
	Interval  time.Duration `koanf:"interval"`
	Retention time.Duration `koanf:"retention"`
}

// DynamoDBConfig holds DynamoDB configuration.
type DynamoDBConfig struct {
	Endpoint         string        `koanf:"endpoint"` // Empty for production (uses default AWS endpoint)
	Timeout          time.Duration `koanf:"timeout"`
	UsersTable       string        `koanf:"users_table"`
	CredentialsTable string        `koanf:"credentials_table"`
	OTPFallbackTable string        `koanf:"otp_fallback_table"`
	BlacklistTable   string        `koanf:"blacklist_table"`
	AuditTable       string        `koanf:"audit_table"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string        `koanf:"addr"` // Required
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Timeout  time.Duration `koanf:"timeout"`
}

// AWSConfig holds AWS SDK configuration.
type AWSConfig struct {
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"` // LocalStack endpoint for development
}

// OTELConfig holds OpenTelemetry configuration.
type OTELConfig struct {
	Endpoint    string `koanf:"endpoint"` // Empty disables OTLP export
	ServiceName string `koanf:"service_name"`
}

// defaults returns a Config with compiled default values, matching the
// normative limits in internal/domain/constants.go.
func defaults() *Config {
	return &Config{
		Environment: "local",
		LogLevel:    "info",
		LogFormat:   "json",

		Cipher: CipherConfig{
			KeyRetention: domain.CipherKeyRetention,
		},
		RateLimit: RateLimitConfig{
			SMSPerPhoneLimit:  domain.SMSPerPhoneLimit,
			SMSPerPhoneWindow: domain.SMSPerPhoneWindow,
			VerifyPerIPLimit:  domain.VerifyPerIPLimit,
			VerifyPerIPWindow: domain.VerifyPerIPWindow,
			ResendCooldown:    domain.ResendCooldown,
		},
		Verify: VerifyConfig{
			MaxAttempts:            domain.MaxVerificationAttempts,
			PhoneLockDuration:      domain.PhoneLockDuration,
			BruteForceLockDuration: domain.BruteForceLockDuration,
			DelayBase:              domain.DelayBase,
			DelayMax:               domain.DelayMax,
		},
		SMS: SMSConfig{
			Provider:         "log",
			FailoverCooldown: domain.SMSFailoverCooldown,
		},
		Token: TokenConfig{
			Issuer:    "ridewise-authcore",
			Audience:  "ridewise-api",
			KeySource: "ephemeral",
		},
		Cleanup: CleanupConfig{
			Interval:  domain.CleanupInterval,
			Retention: domain.AuditArchiveAfter,
		},

		DynamoDB: DynamoDBConfig{
			Timeout:          domain.DatabaseTimeout,
			UsersTable:       "users",
			CredentialsTable: "refresh_credentials",
			OTPFallbackTable: "otp_fallback",
			BlacklistTable:   "token_blacklist",
			AuditTable:       "audit_log",
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			DB:      0,
			Timeout: domain.CacheTimeout,
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
	}
}

// Load loads configuration following the precedence:
// 1. Environment variables (highest)
// 2. AWS SDK (Secrets Manager / SSM for the JWT signing key, resolved by the
//    wiring layer using Token.KeySource — not performed
//    here, since it needs a context-scoped AWS client)
// 3. Compiled defaults (lowest)
func Load(ctx context.Context) (*Config, error) {
	k := koanf.New(".")

	cfg := defaults()

	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(s), "_", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validateRequired(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRequired checks that required configuration is present.
func validateRequired(cfg *Config) error {
	if cfg.Environment == "local" {
		return nil
	}

	if cfg.Environment == "prod" {
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("%w: redis.addr", domain.ErrConfigRequired)
		}
	}

	return nil
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
