package config_test

import (
	"context"
	"testing"

	"github.com/ridewise/authcore/internal/config"
	"github.com/ridewise/authcore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := config.Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)

	assert.Equal(t, domain.CipherKeyRetention, cfg.Cipher.KeyRetention)
	assert.Equal(t, domain.SMSPerPhoneLimit, cfg.RateLimit.SMSPerPhoneLimit)
	assert.Equal(t, domain.VerifyPerIPLimit, cfg.RateLimit.VerifyPerIPLimit)
	assert.Equal(t, domain.ResendCooldown, cfg.RateLimit.ResendCooldown)
	assert.Equal(t, domain.MaxVerificationAttempts, cfg.Verify.MaxAttempts)
	assert.Equal(t, "log", cfg.SMS.Provider)
	assert.Equal(t, "ephemeral", cfg.Token.KeySource)
	assert.Equal(t, domain.CleanupInterval, cfg.Cleanup.Interval)
	assert.Equal(t, domain.AuditArchiveAfter, cfg.Cleanup.Retention)

	assert.Equal(t, domain.DatabaseTimeout, cfg.DynamoDB.Timeout)
	assert.Equal(t, "users", cfg.DynamoDB.UsersTable)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, domain.CacheTimeout, cfg.Redis.Timeout)
	assert.Equal(t, "us-east-1", cfg.AWS.Region)
}

func TestIsLocal(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want bool
	}{
		{"local returns true", "local", true},
		{"prod returns false", "prod", false},
		{"dev returns false", "dev", false},
		{"empty returns false", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Environment: tt.env}

			assert.Equal(t, tt.want, cfg.IsLocal())
		})
	}
}

func TestIsProd(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want bool
	}{
		{"prod returns true", "prod", true},
		{"local returns false", "local", false},
		{"dev returns false", "dev", false},
		{"empty returns false", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Environment: tt.env}

			assert.Equal(t, tt.want, cfg.IsProd())
		})
	}
}

func TestValidateRequired_LocalAllowsMissingFields(t *testing.T) {
	t.Setenv("ENVIRONMENT", "local")

	cfg, err := config.Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Environment)
}

func TestValidateRequired_ProdRequiresRedisAddr(t *testing.T) {
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("REDIS_ADDR", "")

	_, err := config.Load(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfigRequired)
	assert.Contains(t, err.Error(), "redis.addr")
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("TOKEN_KEYSOURCE", "aws")

	cfg, err := config.Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "aws", cfg.Token.KeySource)
}
