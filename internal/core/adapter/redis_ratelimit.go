package adapter

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ridewise/authcore/internal/ratelimiter"
	redisclient "github.com/ridewise/authcore/internal/redis"
)

// Compile-time check: RateLimitBackend satisfies ratelimiter.Backend.
var _ ratelimiter.Backend = (*RateLimitBackend)(nil)

// rateLimitScript atomically increments a counter and sets a TTL on the
// first write. This avoids the MULTI/EXEC approach, which cannot
// conditionally EXPIRE only on the first increment, and avoids depending on
// EXPIRE ... NX (Redis 7.0+).
const rateLimitScript = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return count
`

// RateLimitBackend implements ratelimiter.Backend backed by Redis.
type RateLimitBackend struct {
	cmd redisclient.Cmdable
}

// NewRateLimitBackend creates a RateLimitBackend that uses cmd for Redis operations.
func NewRateLimitBackend(cmd redisclient.Cmdable) *RateLimitBackend {
	return &RateLimitBackend{cmd: cmd}
}

// Increment atomically increments the counter for key, setting window as
// its TTL on the first write within the window, and returns the new count.
func (r *RateLimitBackend) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	ctx, span := tracer.Start(ctx, "redis.ratelimit.increment")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EVAL"),
	)

	windowSeconds := int64(window / time.Second)
	if windowSeconds < 1 {
		windowSeconds = 1
	}

	count, err := r.cmd.Eval(ctx, rateLimitScript, []string{key}, windowSeconds).Int64()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("rate limit increment %q: %w", key, err)
	}

	return count, nil
}

// Exists reports whether key is present (used for the lock flag).
func (r *RateLimitBackend) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := tracer.Start(ctx, "redis.ratelimit.exists")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EXISTS"),
	)

	result, err := r.cmd.Exists(ctx, key).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("rate limit exists %q: %w", key, err)
	}

	return result > 0, nil
}

// Set writes a sentinel value for key with the given TTL (used for the lock flag).
func (r *RateLimitBackend) Set(ctx context.Context, key string, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "redis.ratelimit.set")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "SET"),
	)

	err := r.cmd.Set(ctx, key, "1", ttl).Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("rate limit set %q: %w", key, err)
	}

	return nil
}

// Delete removes every given key, ignoring keys that don't exist.
func (r *RateLimitBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "redis.ratelimit.delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "DEL"),
	)

	err := r.cmd.Del(ctx, keys...).Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("rate limit delete: %w", err)
	}

	return nil
}
