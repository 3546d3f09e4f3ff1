package app

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/ridewise/authcore/internal/audit"
	"github.com/ridewise/authcore/internal/domain"
	"github.com/ridewise/authcore/internal/observability"
)

// Logout blacklists the presented access credential's jti and revokes every
// outstanding refresh credential belonging to its owner, across every
// rotation family — a broader sweep than a single family revocation, since
// logout is the user explicitly asking to end every session, not just undo
// one compromised chain.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	ctx, span := tracer.Start(ctx, "auth.logout")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	// 1. Verify the access credential's signature and expiry.
	claims, err := s.validator.ValidateAccessToken(accessToken)
	if err != nil {
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "invalid_token")))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}

	// 2. Blacklist its jti until the credential would have expired anyway.
	var ttl time.Duration
	if claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Time.Sub(s.clock.Now().UTC())
	}
	if err := s.revocation.Revoke(ctx, claims.ID, ttl); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("revoke access credential jti: %w", err)
	}

	// 3. Revoke every outstanding refresh credential for this user.
	creds, err := s.credentialStore.ListByUser(ctx, claims.Subject)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("list credentials for logout: %w", err)
	}
	for _, cred := range creds {
		if cred.Revoked {
			continue
		}
		if err := s.credentialStore.Revoke(ctx, cred.CredentialID); err != nil {
			logger.ErrorContext(ctx, "failed to revoke credential on logout",
				"error", err, "credential_id", cred.CredentialID)
			continue
		}
		credentialRevocationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "logout")))
	}

	// 4. Audit.
	s.recordAudit(ctx, audit.Entry{EventType: audit.EventLogout, Success: true, UserID: claims.Subject})

	logger.InfoContext(ctx, "auth.logout", "user_id", claims.Subject, "jti", claims.ID)

	return nil
}
