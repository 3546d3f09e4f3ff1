package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/ridewise/authcore/internal/auth"
	"github.com/ridewise/authcore/internal/cipher"
	"github.com/ridewise/authcore/internal/codestore"
	"github.com/ridewise/authcore/internal/config"
	"github.com/ridewise/authcore/internal/core/adapter"
	"github.com/ridewise/authcore/internal/core/app"
	"github.com/ridewise/authcore/internal/domain"
	"github.com/ridewise/authcore/internal/dynamo"
	"github.com/ridewise/authcore/internal/ratelimiter"
	redisclient "github.com/ridewise/authcore/internal/redis"
	"github.com/ridewise/authcore/internal/server"
	"github.com/ridewise/authcore/internal/sms"
)

// JWT issuer/audience defaults, overridable via config.Token.
const (
	defaultJWTIssuer   = "ridewise-authcore"
	defaultJWTAudience = "ridewise-api"
)

// service bundles the composition root's handles for operations that have
// no HTTP route: key rotation and health aggregation. An operator tool or
// a future scheduled job calls these methods directly.
type service struct {
	cipher *cipher.Ring
	health *adapter.HealthChecker
}

// rotateCipherKey generates a new active key in the verification-code
// encryption ring, retiring the oldest generation past the configured
// retention.
func (s *service) rotateCipherKey() (string, error) {
	return s.cipher.Rotate()
}

// healthy reports whether every storage backend is currently reachable.
func (s *service) healthy(ctx context.Context) (bool, map[string]bool) {
	return s.health.Healthy(ctx)
}

// setup is the authcore service composition root. It wires infrastructure
// clients, adapters, the domain auth service, and the audit cleanup loop.
// There is no transport layer: no gRPC/HTTP registration happens here.
func setup(ctx context.Context, deps server.SetupDeps) (func(context.Context) error, error) {
	cfg := deps.Config
	logger := deps.Logger
	clock := domain.RealClock{}

	// 1. Infrastructure clients.
	dynamoClient, err := dynamo.NewClient(ctx, dynamo.Config{
		Endpoint: cfg.DynamoDB.Endpoint,
		Region:   cfg.AWS.Region,
		Timeout:  cfg.DynamoDB.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("authcore setup: create dynamo client: %w", err)
	}

	redisClient := redisclient.NewClient(redisclient.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
	})

	// 2. DynamoDB adapters.
	userStore := adapter.NewUserStore(dynamoClient.DB, cfg.DynamoDB.UsersTable)
	credentialStore := adapter.NewCredentialStore(dynamoClient.DB, cfg.DynamoDB.CredentialsTable, clock)
	otpFallbackStore := adapter.NewOTPFallbackStore(dynamoClient.DB, cfg.DynamoDB.OTPFallbackTable, clock)
	blacklistStore := adapter.NewBlacklistStore(dynamoClient.DB, cfg.DynamoDB.BlacklistTable)
	auditStore := adapter.NewAuditStore(dynamoClient.DB, cfg.DynamoDB.AuditTable, clock)
	transactor := adapter.NewTransactor(dynamoClient.DB, cfg.DynamoDB.UsersTable, cfg.DynamoDB.CredentialsTable)

	// 3. Redis-backed adapters, with DynamoDB-backed fallback/failover.
	codeStorePrimary := adapter.NewCodeStoreBackend(redisClient.RDB)
	codeStoreSecondary := adapter.NewCodeStoreFallbackBackend(otpFallbackStore)
	codeStore := codestore.New(codeStorePrimary, codeStoreSecondary, codestore.DefaultConfig(), logger)

	violationLogger := adapter.NewSlogViolationLogger(logger)
	rateLimitBackend := adapter.NewRateLimitBackend(redisClient.RDB)
	limiter := ratelimiter.New(rateLimitBackend, ratelimiter.DefaultConfig(), violationLogger)

	revocationStore := adapter.NewRevocationStore(redisClient.RDB)
	revocationSink := adapter.NewRevocationSink(revocationStore, blacklistStore, clock, logger)

	// 4. Cipher key ring (verification codes at rest).
	keyRing, err := cipher.NewRing(cfg.Cipher.KeyRetention)
	if err != nil {
		return nil, fmt.Errorf("authcore setup: create cipher ring: %w", err)
	}

	// 5. JWT signing key store + SMS provider (environment-dependent).
	keyStore, err := createKeyStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("authcore setup: create key store: %w", err)
	}

	smsProvider := createSMSProvider(cfg, logger)

	issuer := cfg.Token.Issuer
	if issuer == "" {
		issuer = defaultJWTIssuer
	}
	audience := cfg.Token.Audience
	if audience == "" {
		audience = defaultJWTAudience
	}

	minter := auth.NewMinter(auth.MinterConfig{
		KeyStore:  keyStore,
		AccessTTL: domain.AccessTokenLifetime,
		Issuer:    issuer,
		Audience:  audience,
		Clock:     clock,
	})
	validator := auth.NewValidator(auth.ValidatorConfig{
		KeyStore: keyStore,
		Issuer:   issuer,
		Audience: audience,
		Clock:    clock,
	})

	// 6. Domain auth service.
	authSvc := app.NewAuthService(app.AuthServiceConfig{
		CodeStore:       codeStore,
		Cipher:          keyRing,
		RateLimiter:     limiter,
		UserStore:       userStore,
		CredentialStore: credentialStore,
		Transactor:      transactor,
		Revocation:      revocationSink,
		Audit:           auditStore,
		SMSProvider:     smsProvider,
		Minter:          minter,
		Validator:       validator,
		Clock:           clock,
		Logger:          logger,
	})

	// 7. Background audit-archival loop.
	cleanupLoop := adapter.NewCleanup(auditStore, clock, logger, cfg.Cleanup.Interval, cfg.Cleanup.Retention)
	cleanupLoop.Start(ctx)

	// 8. Health aggregation, exposed as a plain method — no HTTP route.
	healthChecker := adapter.NewHealthChecker(redisClient, dynamoClient.DB, cfg.DynamoDB.UsersTable)

	currentService = &service{
		cipher: keyRing,
		health: healthChecker,
	}

	logger.InfoContext(ctx, "authcore service initialized")

	cleanup := func(_ context.Context) error {
		cleanupLoop.Stop()
		authSvc.Wait()
		return redisClient.Close()
	}

	return cleanup, nil
}

// createKeyStore returns the appropriate JWT signing key store for the
// environment. Local development generates an ephemeral RSA key pair;
// production loads from AWS Secrets Manager + SSM via AWSKeyStore.
func createKeyStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auth.KeyStore, error) {
	if cfg.Token.KeySource != "aws" {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("generate ephemeral RSA key: %w", err)
		}
		logger.Info("using ephemeral RSA key for signing", slog.String("key_id", "dev-key-001"))
		return auth.NewStaticKeyStore(key, "dev-key-001"), nil
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	smClient := secretsmanager.NewFromConfig(awsCfg)
	ssmClient := ssm.NewFromConfig(awsCfg)

	return adapter.NewAWSKeyStore(ctx, smClient, ssmClient, domain.RealClock{})
}

// createSMSProvider returns the appropriate SMS provider for the
// environment. When configured for "sns" it wraps the SNS provider in
// sms.Failover with a log-only backup, so a transient SNS outage degrades
// to logged codes instead of failing send_code outright. Local development
// uses the log-only provider directly.
func createSMSProvider(cfg *config.Config, logger *slog.Logger) auth.Provider {
	logProvider := adapter.NewLogSMSProvider(logger)

	if cfg.SMS.Provider != "sns" {
		logger.Info("using log-only SMS provider", slog.String("provider", cfg.SMS.Provider))
		return logProvider
	}

	awsCfg, err := loadAWSConfig(context.Background(), cfg)
	if err != nil {
		logger.Warn("failed to load AWS config for SNS, falling back to log provider", slog.String("error", err.Error()))
		return logProvider
	}

	client := sns.NewFromConfig(awsCfg)
	snsProvider := adapter.NewSNSSMSProvider(client)
	return sms.NewFailover(snsProvider, logProvider, cfg.SMS.FailoverCooldown, domain.RealClock{})
}
