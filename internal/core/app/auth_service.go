// Package app orchestrates the five authentication operations — send_code,
// verify_code, refresh, select_role, logout — over the narrow ports defined
// here. Concrete adapters live in internal/core/adapter; this package never
// imports a DynamoDB or Redis client directly.
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/ridewise/authcore/internal/audit"
	"github.com/ridewise/authcore/internal/auth"
	"github.com/ridewise/authcore/internal/cipher"
	"github.com/ridewise/authcore/internal/codestore"
	"github.com/ridewise/authcore/internal/domain"
	"github.com/ridewise/authcore/internal/ratelimiter"
)

var tracer = otel.Tracer("core/app")

var (
	sendCodeRequestsTotal     metric.Int64Counter
	tokenMintedTotal          metric.Int64Counter
	credentialCreatedTotal    metric.Int64Counter
	authFailuresTotal         metric.Int64Counter
	rateLimitsTotal           metric.Int64Counter
	credentialRevocationsTotal metric.Int64Counter
)

func init() {
	m := otel.Meter("core/app")

	sendCodeRequestsTotal, _ = m.Int64Counter("auth_send_code_requests_total",
		metric.WithDescription("Total send_code requests"))
	tokenMintedTotal, _ = m.Int64Counter("auth_token_minted_total",
		metric.WithDescription("Total access tokens minted"))
	credentialCreatedTotal, _ = m.Int64Counter("auth_credential_created_total",
		metric.WithDescription("Total refresh credentials created"))
	authFailuresTotal, _ = m.Int64Counter("security_auth_failures_total",
		metric.WithDescription("Total authentication failures"))
	rateLimitsTotal, _ = m.Int64Counter("security_rate_limits_total",
		metric.WithDescription("Total rate limit hits"))
	credentialRevocationsTotal, _ = m.Int64Counter("security_credential_revocations_total",
		metric.WithDescription("Total refresh credential revocations"))
}

// UserRecord mirrors adapter.UserRecord; the wiring layer converts between
// them so this package never imports the DynamoDB-specific adapter types.
type UserRecord struct {
	UserID      string
	PhoneHash   string
	CountryCode string
	UserType    *string
	Verified    bool
	Blocked     bool
	CreatedAt   string
	UpdatedAt   string
	LastLoginAt string
}

// CredentialRecord mirrors adapter.CredentialRecord.
type CredentialRecord struct {
	CredentialID string
	UserID       string
	TokenHash    string
	Family       string
	RotatedTo    string
	Revoked      bool
	CreatedAt    string
	ExpiresAt    string
	TTL          int64
}

// RegistrationParams holds the inputs for transactionally creating a new
// user alongside their first refresh credential.
type RegistrationParams struct {
	UserID      string
	PhoneHash   string
	CountryCode string
	Now         string

	CredentialID string
	TokenHash    string
	Family       string
	ExpiresAt    string
	TTL          int64
}

// LoginParams holds the inputs for transactionally issuing a refresh
// credential to an existing, already-resolved user.
type LoginParams struct {
	UserID string
	Now    string

	CredentialID string
	TokenHash    string
	Family       string
	ExpiresAt    string
	TTL          int64
}

// CodeStore is the subset of codestore.Store the service depends on.
type CodeStore interface {
	Put(ctx context.Context, record codestore.Record) (codestore.Used, error)
	Get(ctx context.Context, phone string) (*codestore.Record, codestore.Used, error)
	TTL(ctx context.Context, phone string) (time.Duration, error)
	IncrementAttempts(ctx context.Context, phone string) (int, codestore.Used, error)
	Clear(ctx context.Context, phone string) error
}

// Cipher is the subset of cipher.Ring the service depends on.
type Cipher interface {
	Encrypt(plaintext []byte, phone string) (cipher.Sealed, error)
	Verify(s cipher.Sealed, phone string, candidate []byte) (bool, error)
}

// RateLimiter is the subset of ratelimiter.Limiter the service depends on.
type RateLimiter interface {
	CheckSMS(ctx context.Context, phoneHash string) (ratelimiter.CheckResult, error)
	IncrementSMS(ctx context.Context, phoneHash string) (ratelimiter.CheckResult, error)
	CheckVerify(ctx context.Context, ip string) (ratelimiter.CheckResult, error)
	IncrementVerify(ctx context.Context, ip string) (ratelimiter.CheckResult, error)
	CheckLock(ctx context.Context, key string) (ratelimiter.CheckResult, error)
	RecordFailure(ctx context.Context, key string, lockDuration time.Duration) (bool, error)
	Reset(ctx context.Context, key string) error
}

// UserStore persists and retrieves user accounts.
type UserStore interface {
	GetByID(ctx context.Context, userID string) (*UserRecord, error)
	FindByPhoneHash(ctx context.Context, phoneHash string) (*UserRecord, error)
	SelectRole(ctx context.Context, userID string, role domain.Role, now string) error
	MarkVerified(ctx context.Context, userID string, now string) error
	UpdateLastLogin(ctx context.Context, userID string, now string) error
}

// CredentialStore persists and retrieves refresh credentials.
type CredentialStore interface {
	Create(ctx context.Context, cred CredentialRecord) error
	GetByID(ctx context.Context, credentialID string) (*CredentialRecord, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*CredentialRecord, error)
	ListByFamily(ctx context.Context, family string) ([]CredentialRecord, error)
	ListByUser(ctx context.Context, userID string) ([]CredentialRecord, error)
	Rotate(ctx context.Context, credentialID, successorID string) error
	Revoke(ctx context.Context, credentialID string) error
}

// AuthTransactor executes the multi-item writes that must be atomic:
// registering a brand-new user alongside their first refresh credential,
// and issuing a refresh credential to an already-resolved existing user.
type AuthTransactor interface {
	RegisterUser(ctx context.Context, params RegistrationParams) error
	IssueLoginCredential(ctx context.Context, params LoginParams) error
}

// RevocationPort tracks blacklisted access-credential jtis. Satisfied by
// adapter.RevocationSink (Redis + DynamoDB fallback) or adapter.RevocationStore
// directly.
type RevocationPort interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// SendCodeResult is returned by SendCode on success.
type SendCodeResult struct {
	NextResendAt time.Time
}

// VerifyCodeResult is returned by VerifyCode on success.
type VerifyCodeResult struct {
	UserID                string
	AccessToken           string
	RefreshToken          string
	ExpiresIn             int
	Role                  *string
	RequiresRoleSelection bool
	IsNewUser             bool
}

// RefreshResult is returned by Refresh on success.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// AuthServiceConfig holds the dependencies for AuthService.
type AuthServiceConfig struct {
	CodeStore       CodeStore
	Cipher          Cipher
	RateLimiter     RateLimiter
	UserStore       UserStore
	CredentialStore CredentialStore
	Transactor      AuthTransactor
	Revocation      RevocationPort
	Audit           audit.Sink
	SMSProvider     auth.Provider
	Minter          *auth.Minter
	Validator       *auth.Validator
	Clock           domain.Clock
	Logger          *slog.Logger
}

// AuthService orchestrates send_code, verify_code, refresh, select_role,
// and logout.
type AuthService struct {
	codeStore       CodeStore
	cipher          Cipher
	rateLimiter     RateLimiter
	userStore       UserStore
	credentialStore CredentialStore
	transactor      AuthTransactor
	revocation      RevocationPort
	audit           audit.Sink
	smsProvider     auth.Provider
	minter          *auth.Minter
	validator       *auth.Validator
	clock           domain.Clock
	logger          *slog.Logger
	bgWG            sync.WaitGroup // owns background goroutines (SMS sends, audit writes)
}

// NewAuthService creates a new AuthService with the given dependencies.
func NewAuthService(cfg AuthServiceConfig) *AuthService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		codeStore:       cfg.CodeStore,
		cipher:          cfg.Cipher,
		rateLimiter:     cfg.RateLimiter,
		userStore:       cfg.UserStore,
		credentialStore: cfg.CredentialStore,
		transactor:      cfg.Transactor,
		revocation:      cfg.Revocation,
		audit:           cfg.Audit,
		smsProvider:     cfg.SMSProvider,
		minter:          cfg.Minter,
		validator:       cfg.Validator,
		clock:           cfg.Clock,
		logger:          logger,
	}
}

// Wait blocks until all background goroutines owned by this service
// complete. The wiring layer must call this during graceful shutdown.
func (s *AuthService) Wait() {
	s.bgWG.Wait()
}

// recordAudit dispatches an audit entry from a background goroutine so the
// calling flow is never slowed down by the audit backend, per audit.Sink's
// contract.
func (s *AuthService) recordAudit(ctx context.Context, entry audit.Entry) {
	entry.CreatedAt = s.clock.Now().UTC()
	auditCtx := context.WithoutCancel(ctx)
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.audit.Record(auditCtx, entry); err != nil {
			s.logger.ErrorContext(auditCtx, "failed to record audit entry",
				"error", err, "event_type", entry.EventType)
		}
	}()
}
