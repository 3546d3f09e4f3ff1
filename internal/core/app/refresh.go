package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/ridewise/authcore/internal/audit"
	"github.com/ridewise/authcore/internal/auth"
	"github.com/ridewise/authcore/internal/domain"
)

// Refresh rotates a refresh credential: the presented token is hashed and
// looked up directly, with no access token or device binding required. An
// absent credential is rejected with InvalidRefreshToken outright. A
// credential that is expired or already rotated/revoked triggers
// family-wide revocation before InvalidRefreshToken is returned, since a
// credential reaching this flow in that state can only mean it was already
// consumed once (legitimately or by an attacker holding a stolen copy).
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	ctx, span := tracer.Start(ctx, "auth.refresh")
	defer span.End()

	tokenHash := auth.HashRefreshToken(refreshToken)

	// 1. Look up the presented credential by its hash.
	cred, err := s.credentialStore.FindByTokenHash(ctx, tokenHash)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("find credential by token hash: %w", err)
		}
		s.recordAudit(ctx, audit.Entry{EventType: audit.EventRefreshToken, Success: false, FailureReason: "credential not found"})
		span.SetStatus(codes.Error, domain.ErrInvalidRefreshToken.Error())
		return nil, domain.ErrInvalidRefreshToken
	}

	// 2. A revoked credential, or one whose TTL has already elapsed, means
	// this presentation is a reuse of a credential already consumed by a
	// prior refresh (or logout). Revoke every sibling in the family and
	// reject.
	expired := false
	if expiresAt, parseErr := time.Parse(time.RFC3339, cred.ExpiresAt); parseErr == nil {
		expired = s.clock.Now().UTC().After(expiresAt)
	}
	if cred.Revoked || expired {
		s.revokeFamily(ctx, cred.Family, cred.UserID)
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "refresh_token_reuse")))
		s.recordAudit(ctx, audit.Entry{EventType: audit.EventRefreshToken, Success: false, UserID: cred.UserID, FailureReason: "credential revoked or expired, family revoked"})
		span.SetStatus(codes.Error, domain.ErrInvalidRefreshToken.Error())
		return nil, domain.ErrInvalidRefreshToken
	}

	// 3. Load the owner; reject if blocked.
	user, err := s.userStore.GetByID(ctx, cred.UserID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load credential owner: %w", err)
	}
	if user.Blocked {
		s.recordAudit(ctx, audit.Entry{EventType: audit.EventRefreshToken, Success: false, UserID: user.UserID, FailureReason: "user blocked"})
		span.SetStatus(codes.Error, domain.ErrUserBlocked.Error())
		return nil, domain.ErrUserBlocked
	}

	// 4. Mint a new pair in the same family, persist it, and retire the
	// presented credential with a successor pointer.
	newToken, err := auth.GenerateRefreshToken()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	newHash := auth.HashRefreshToken(newToken)
	newID := uuid.NewString()
	newExpiry := s.clock.Now().UTC().Add(domain.RefreshTokenLifetime)

	if err := s.credentialStore.Create(ctx, CredentialRecord{
		CredentialID: newID,
		UserID:       cred.UserID,
		TokenHash:    newHash,
		Family:       cred.Family,
		CreatedAt:    s.clock.Now().UTC().Format(time.RFC3339),
		ExpiresAt:    newExpiry.Format(time.RFC3339),
		TTL:          newExpiry.Unix(),
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("create successor credential: %w", err)
	}
	if err := s.credentialStore.Rotate(ctx, cred.CredentialID, newID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("rotate credential: %w", err)
	}

	mintResult, err := s.minter.MintAccessToken(user.UserID, user.UserType, user.Verified)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	tokenMintedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("flow", "refresh")))
	credentialCreatedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("flow", "refresh")))

	// 5. Return the new pair.
	s.recordAudit(ctx, audit.Entry{EventType: audit.EventRefreshToken, Success: true, UserID: user.UserID})

	return &RefreshResult{
		AccessToken:  mintResult.Token,
		RefreshToken: newToken,
		ExpiresIn:    int(domain.AccessTokenLifetime.Seconds()),
	}, nil
}

// revokeFamily revokes every credential descended from the same original
// grant, the token-family reuse defense: one stolen-and-replayed credential
// poisons every credential derived from it, not just its immediate successor.
func (s *AuthService) revokeFamily(ctx context.Context, family, userID string) {
	if family == "" {
		return
	}
	siblings, err := s.credentialStore.ListByFamily(ctx, family)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list family for reuse revocation", "error", err, "family", family)
		return
	}
	for _, sib := range siblings {
		if sib.Revoked {
			continue
		}
		if err := s.credentialStore.Revoke(ctx, sib.CredentialID); err != nil {
			s.logger.ErrorContext(ctx, "failed to revoke family member", "error", err, "credential_id", sib.CredentialID)
			continue
		}
		credentialRevocationsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", "family_reuse"),
			attribute.String("user_id", userID),
		))
	}
}
