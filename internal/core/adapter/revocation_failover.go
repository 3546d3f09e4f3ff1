package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ridewise/authcore/internal/domain"
)

// RevocationSink composes the Redis-backed RevocationStore (hot path) with
// the DynamoDB-backed BlacklistStore (durable fallback), consulting the
// fallback only when Redis itself errors — never merely because a JTI is
// absent, since absence is a legitimate "not revoked" answer.
type RevocationSink struct {
	primary  *RevocationStore
	fallback *BlacklistStore
	clock    domain.Clock
	logger   *slog.Logger
}

// NewRevocationSink creates a RevocationSink. fallback may be nil, in which
// case a primary failure is returned to the caller as-is.
func NewRevocationSink(primary *RevocationStore, fallback *BlacklistStore, clock domain.Clock, logger *slog.Logger) *RevocationSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &RevocationSink{primary: primary, fallback: fallback, clock: clock, logger: logger}
}

// Revoke marks jti revoked for ttl, the credential's actual remaining
// lifetime. It always writes through to the fallback too when one is
// configured, so a subsequent Redis outage doesn't lose a revocation that
// was only ever recorded in the hot path.
func (s *RevocationSink) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	primaryErr := s.primary.Revoke(ctx, jti, ttl)
	if s.fallback == nil {
		return primaryErr
	}

	if primaryErr != nil {
		s.logFallback(ctx, "revoke", primaryErr)
	}

	if ttl <= 0 {
		return primaryErr
	}
	expiresAt := s.clock.Now().UTC().Add(ttl)
	fbErr := s.fallback.Put(ctx, BlacklistRecord{
		JTI:       jti,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		TTL:       expiresAt.Unix(),
	})
	if primaryErr != nil && fbErr != nil {
		return fmt.Errorf("revocation sink: revoke: both backends unavailable: primary=%v fallback=%v", primaryErr, fbErr)
	}
	if primaryErr != nil {
		return nil
	}
	return fbErr
}

// IsRevoked checks the hot path first; only on a Redis error does it
// consult the durable fallback.
func (s *RevocationSink) IsRevoked(ctx context.Context, jti string) (bool, error) {
	revoked, err := s.primary.IsRevoked(ctx, jti)
	if err == nil {
		return revoked, nil
	}
	if s.fallback == nil {
		return true, err
	}

	s.logFallback(ctx, "is_revoked", err)
	fbRevoked, fbErr := s.fallback.IsBlacklisted(ctx, jti)
	if fbErr != nil {
		return true, fmt.Errorf("revocation sink: is_revoked: both backends unavailable: primary=%v fallback=%v", err, fbErr)
	}
	return fbRevoked, nil
}

func (s *RevocationSink) logFallback(ctx context.Context, op string, err error) {
	s.logger.WarnContext(ctx, "revocation sink falling through to durable blacklist",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}
