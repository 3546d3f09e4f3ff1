package adapter

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	redisclient "github.com/ridewise/authcore/internal/redis"
)

// revokedJTIPrefix is the Redis key prefix for revoked access token entries.
const revokedJTIPrefix = "revoked_jti:"

// RevocationStore implements access token (JTI) revocation backed by Redis.
// All read methods fail closed: a Redis error on IsRevoked is reported as
// revoked, since denying access beats granting access to a token that
// should have been blocked.
type RevocationStore struct {
	cmd redisclient.Cmdable
}

// NewRevocationStore creates a RevocationStore that uses cmd for Redis operations.
func NewRevocationStore(cmd redisclient.Cmdable) *RevocationStore {
	return &RevocationStore{cmd: cmd}
}

// Revoke marks a JTI as revoked. ttl should be set to the token's actual
// remaining lifetime (exp - now), not a fixed duration: a token revoked
// moments before expiry doesn't need to occupy the blacklist for a full
// access token lifetime, and a long-lived token must stay blocked for as
// long as it would otherwise have been valid.
func (s *RevocationStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "redis.revocation.revoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "SET"),
	)

	if ttl <= 0 {
		return nil
	}

	key := revokedJTIPrefix + jti
	err := s.cmd.Set(ctx, key, "1", ttl).Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("revoke jti %q: %w", jti, err)
	}

	return nil
}

// IsRevoked checks whether a JTI has been revoked. Returns (true, nil) if
// revoked, (false, nil) if not, and (true, err) on Redis failure.
func (s *RevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	ctx, span := tracer.Start(ctx, "redis.revocation.is_revoked")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EXISTS"),
	)

	key := revokedJTIPrefix + jti
	result, err := s.cmd.Exists(ctx, key).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return true, fmt.Errorf("check revocation %q: %w", jti, err)
	}

	return result > 0, nil
}
