package adapter

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ridewise/authcore/internal/codestore"
	"github.com/ridewise/authcore/internal/domain"
	redisclient "github.com/ridewise/authcore/internal/redis"
)

// Compile-time check: CodeStoreBackend satisfies codestore.Backend.
var _ codestore.Backend = (*CodeStoreBackend)(nil)

// attemptsKeySuffix namespaces a parallel counter key kept beside each
// record's hash so IncrementAttempts can use an atomic Redis INCR rather
// than a read-modify-write over the record fields.
const attemptsKeySuffix = ":attempts"

// incrementAttemptsScript atomically increments the attempts counter only
// if the record it belongs to is still present, so a code that expired
// between requests is never silently "recreated" by the counter key alone.
// Returns -1 when the record key is absent.
const incrementAttemptsScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
return redis.call('INCR', KEYS[2])
`

// CodeStoreBackend is the Redis-backed primary implementation of
// codestore.Backend: a fast cache with per-key TTL for the single live
// verification code per phone.
type CodeStoreBackend struct {
	cmd redisclient.Cmdable
}

// NewCodeStoreBackend creates a CodeStoreBackend that uses cmd for Redis operations.
func NewCodeStoreBackend(cmd redisclient.Cmdable) *CodeStoreBackend {
	return &CodeStoreBackend{cmd: cmd}
}

// Put atomically replaces any existing record for record.Phone: the prior
// hash and attempt counter are deleted in the same pipeline that writes
// the new ones, so neither the new record nor a stale one is ever
// individually observable mid-write.
func (c *CodeStoreBackend) Put(ctx context.Context, record codestore.Record) error {
	ctx, span := tracer.Start(ctx, "redis.codestore.put")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "PIPELINE"),
	)

	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		err := fmt.Errorf("codestore redis backend: put: record for phone is already expired")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	key := codestore.Key(record.Phone)
	attemptsKey := key + attemptsKeySuffix

	fields := map[string]interface{}{
		"ciphertext": base64.StdEncoding.EncodeToString(record.Ciphertext),
		"nonce":      base64.StdEncoding.EncodeToString(record.Nonce),
		"key_id":     record.KeyID,
		"created_at": record.CreatedAt.UTC().Format(time.RFC3339),
		"expires_at": record.ExpiresAt.UTC().Format(time.RFC3339),
	}

	pipe := c.cmd.TxPipeline()
	pipe.Del(ctx, key, attemptsKey)
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)
	pipe.Set(ctx, attemptsKey, record.AttemptCount, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("codestore redis backend: put: %w", err)
	}

	return nil
}

// Get returns the live record for phone, or domain.ErrCodeNotFound if none
// exists. Redis's own key TTL is what actually expires a record; the
// returned record's ExpiresAt is included so callers can defensively
// double check.
func (c *CodeStoreBackend) Get(ctx context.Context, phone string) (*codestore.Record, error) {
	ctx, span := tracer.Start(ctx, "redis.codestore.get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "HGETALL"),
	)

	key := codestore.Key(phone)

	fields, err := c.cmd.HGetAll(ctx, key).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("codestore redis backend: get: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("codestore redis backend: get: %w", domain.ErrCodeNotFound)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(fields["ciphertext"])
	if err != nil {
		return nil, fmt.Errorf("codestore redis backend: get: decode ciphertext: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(fields["nonce"])
	if err != nil {
		return nil, fmt.Errorf("codestore redis backend: get: decode nonce: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("codestore redis backend: get: parse created_at: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339, fields["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("codestore redis backend: get: parse expires_at: %w", err)
	}

	attemptsKey := key + attemptsKeySuffix
	attemptCount, err := c.cmd.Get(ctx, attemptsKey).Int()
	if err != nil {
		attemptCount = 0
	}

	return &codestore.Record{
		Phone:        phone,
		Ciphertext:   ciphertext,
		Nonce:        nonce,
		KeyID:        fields["key_id"],
		CreatedAt:    createdAt,
		ExpiresAt:    expiresAt,
		AttemptCount: attemptCount,
	}, nil
}

// Exists reports whether a live record is present for phone.
func (c *CodeStoreBackend) Exists(ctx context.Context, phone string) (bool, error) {
	ctx, span := tracer.Start(ctx, "redis.codestore.exists")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EXISTS"),
	)

	result, err := c.cmd.Exists(ctx, codestore.Key(phone)).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("codestore redis backend: exists: %w", err)
	}

	return result > 0, nil
}

// TTL returns the remaining lifetime of the live record for phone.
func (c *CodeStoreBackend) TTL(ctx context.Context, phone string) (time.Duration, error) {
	ctx, span := tracer.Start(ctx, "redis.codestore.ttl")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "TTL"),
	)

	ttl, err := c.cmd.TTL(ctx, codestore.Key(phone)).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("codestore redis backend: ttl: %w", err)
	}
	if ttl < 0 {
		return 0, fmt.Errorf("codestore redis backend: ttl: %w", domain.ErrCodeNotFound)
	}

	return ttl, nil
}

// IncrementAttempts atomically adds one to the attempt counter for phone
// and returns the new count. Returns domain.ErrCodeNotFound if no live
// record exists for phone.
func (c *CodeStoreBackend) IncrementAttempts(ctx context.Context, phone string) (int, error) {
	ctx, span := tracer.Start(ctx, "redis.codestore.increment_attempts")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EVAL"),
	)

	key := codestore.Key(phone)
	attemptsKey := key + attemptsKeySuffix

	count, err := c.cmd.Eval(ctx, incrementAttemptsScript, []string{key, attemptsKey}).Int64()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("codestore redis backend: increment attempts: %w", err)
	}
	if count < 0 {
		return 0, fmt.Errorf("codestore redis backend: increment attempts: %w", domain.ErrCodeNotFound)
	}

	return int(count), nil
}

// Clear removes both the record and its attempt counter for phone.
func (c *CodeStoreBackend) Clear(ctx context.Context, phone string) error {
	ctx, span := tracer.Start(ctx, "redis.codestore.clear")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "DEL"),
	)

	key := codestore.Key(phone)
	attemptsKey := key + attemptsKeySuffix

	if err := c.cmd.Del(ctx, key, attemptsKey).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("codestore redis backend: clear: %w", err)
	}

	return nil
}
