// Package codestore stores the single live encrypted verification code for
// each phone number behind a primary/secondary failover pair. The primary
// is expected to be a fast cache with per-key TTL; the secondary is a
// persistent table consulted only when the primary is unreachable.
package codestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ridewise/authcore/internal/domain"
)

// Record is an encrypted verification code envelope: ciphertext, nonce, and
// the key ring identifier needed to decrypt it, plus the code's lifecycle
// attributes. It mirrors cipher.Sealed rather than importing it directly,
// since the store has no need for the cipher package's Decrypt/Verify logic.
type Record struct {
	Phone        string
	Ciphertext   []byte
	Nonce        []byte
	KeyID        string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	AttemptCount int
}

// Backend is a single key-value store capable of holding one live Record
// per phone. Both the Redis-backed primary and the DynamoDB-backed
// secondary implement this interface.
type Backend interface {
	Put(ctx context.Context, record Record) error
	Get(ctx context.Context, phone string) (*Record, error)
	Exists(ctx context.Context, phone string) (bool, error)
	TTL(ctx context.Context, phone string) (time.Duration, error)
	IncrementAttempts(ctx context.Context, phone string) (int, error)
	Clear(ctx context.Context, phone string) error
}

// Used identifies which backend actually served an operation, so callers
// can log or emit a metric when the secondary is in play.
type Used string

const (
	UsedPrimary   Used = "primary"
	UsedSecondary Used = "secondary"
)

// Config controls the store's failure policy.
type Config struct {
	// RetryAttempts is how many times the primary is tried before the
	// store falls through to the secondary. Values <= 0 fall back to
	// domain.CodeStoreRetryAttempts.
	RetryAttempts int

	// RetryBackoff is the delay between primary retries. Values <= 0 fall
	// back to domain.CodeStoreRetryBackoff.
	RetryBackoff time.Duration

	// FallbackEnabled controls whether the secondary is used at all. When
	// false, primary exhaustion is a fatal error for the flow.
	FallbackEnabled bool
}

// DefaultConfig returns the store's normative retry and fallback policy.
func DefaultConfig() Config {
	return Config{
		RetryAttempts:   domain.CodeStoreRetryAttempts,
		RetryBackoff:    domain.CodeStoreRetryBackoff,
		FallbackEnabled: true,
	}
}

// Store composes a primary and secondary Backend with a bounded retry
// budget on the primary before falling through to the secondary.
type Store struct {
	primary   Backend
	secondary Backend
	cfg       Config
	logger    *slog.Logger
}

// New creates a Store. secondary may be nil, in which case FallbackEnabled
// in cfg is treated as false regardless of its configured value.
func New(primary, secondary Backend, cfg Config, logger *slog.Logger) *Store {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = domain.CodeStoreRetryAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = domain.CodeStoreRetryBackoff
	}
	if secondary == nil {
		cfg.FallbackEnabled = false
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{primary: primary, secondary: secondary, cfg: cfg, logger: logger}
}

// Put stores record atomically, replacing any existing record for the same
// phone, and reports which backend served the write.
func (s *Store) Put(ctx context.Context, record Record) (Used, error) {
	err := s.retryPrimary(ctx, "put", func(ctx context.Context, b Backend) error {
		return b.Put(ctx, record)
	})
	if err == nil {
		return UsedPrimary, nil
	}
	if !s.cfg.FallbackEnabled {
		return "", fmt.Errorf("codestore: put: primary unavailable: %w", err)
	}

	s.logFallback(ctx, "put", err)
	if fbErr := s.secondary.Put(ctx, record); fbErr != nil {
		return "", fmt.Errorf("codestore: put: both backends unavailable: %w", fbErr)
	}
	return UsedSecondary, nil
}

// Get returns the live record for phone, or domain.ErrCodeNotFound if none
// exists or it has expired.
func (s *Store) Get(ctx context.Context, phone string) (*Record, Used, error) {
	var record *Record
	err := s.retryPrimary(ctx, "get", func(ctx context.Context, b Backend) error {
		r, err := b.Get(ctx, phone)
		if err != nil {
			return err
		}
		record = r
		return nil
	})
	if err == nil {
		if live := s.expireIfStale(record); live != nil {
			return live, UsedPrimary, nil
		}
		return nil, UsedPrimary, fmt.Errorf("codestore: get: %w", domain.ErrCodeNotFound)
	}
	if domain.IsNotFound(err) {
		return nil, UsedPrimary, err
	}
	if !s.cfg.FallbackEnabled {
		return nil, "", fmt.Errorf("codestore: get: primary unavailable: %w", err)
	}

	s.logFallback(ctx, "get", err)
	r, fbErr := s.secondary.Get(ctx, phone)
	if fbErr != nil {
		return nil, "", fmt.Errorf("codestore: get: both backends unavailable: %w", fbErr)
	}
	if live := s.expireIfStale(r); live != nil {
		return live, UsedSecondary, nil
	}
	return nil, UsedSecondary, fmt.Errorf("codestore: get: %w", domain.ErrCodeNotFound)
}

// expireIfStale returns nil for an expired record, which Get reports as
// domain.ErrCodeNotFound. Backends are expected to honor TTL themselves; this is a defensive
// second check against clock skew between the backend's TTL and the
// record's own ExpiresAt.
func (s *Store) expireIfStale(r *Record) *Record {
	if r == nil {
		return nil
	}
	if time.Now().After(r.ExpiresAt) {
		return nil
	}
	return r
}

// Exists reports whether a live record is present for phone.
func (s *Store) Exists(ctx context.Context, phone string) (bool, error) {
	var exists bool
	err := s.retryPrimary(ctx, "exists", func(ctx context.Context, b Backend) error {
		e, err := b.Exists(ctx, phone)
		if err != nil {
			return err
		}
		exists = e
		return nil
	})
	if err == nil {
		return exists, nil
	}
	if !s.cfg.FallbackEnabled {
		return false, fmt.Errorf("codestore: exists: primary unavailable: %w", err)
	}

	s.logFallback(ctx, "exists", err)
	e, fbErr := s.secondary.Exists(ctx, phone)
	if fbErr != nil {
		return false, fmt.Errorf("codestore: exists: both backends unavailable: %w", fbErr)
	}
	return e, nil
}

// TTL returns the remaining lifetime of the live record for phone.
func (s *Store) TTL(ctx context.Context, phone string) (time.Duration, error) {
	var ttl time.Duration
	err := s.retryPrimary(ctx, "ttl", func(ctx context.Context, b Backend) error {
		t, err := b.TTL(ctx, phone)
		if err != nil {
			return err
		}
		ttl = t
		return nil
	})
	if err == nil {
		return ttl, nil
	}
	if domain.IsNotFound(err) {
		return 0, err
	}
	if !s.cfg.FallbackEnabled {
		return 0, fmt.Errorf("codestore: ttl: primary unavailable: %w", err)
	}

	s.logFallback(ctx, "ttl", err)
	t, fbErr := s.secondary.TTL(ctx, phone)
	if fbErr != nil {
		return 0, fmt.Errorf("codestore: ttl: both backends unavailable: %w", fbErr)
	}
	return t, nil
}

// IncrementAttempts atomically adds one to the attempt counter for phone
// and returns the new count. Race-free across concurrent verification
// requests against whichever backend serves the call.
func (s *Store) IncrementAttempts(ctx context.Context, phone string) (int, Used, error) {
	var count int
	err := s.retryPrimary(ctx, "increment_attempts", func(ctx context.Context, b Backend) error {
		c, err := b.IncrementAttempts(ctx, phone)
		if err != nil {
			return err
		}
		count = c
		return nil
	})
	if err == nil {
		return count, UsedPrimary, nil
	}
	if domain.IsNotFound(err) {
		return 0, UsedPrimary, err
	}
	if !s.cfg.FallbackEnabled {
		return 0, "", fmt.Errorf("codestore: increment_attempts: primary unavailable: %w", err)
	}

	s.logFallback(ctx, "increment_attempts", err)
	c, fbErr := s.secondary.IncrementAttempts(ctx, phone)
	if fbErr != nil {
		return 0, "", fmt.Errorf("codestore: increment_attempts: both backends unavailable: %w", fbErr)
	}
	return c, UsedSecondary, nil
}

// Clear removes both the record and its metadata for phone from whichever
// backend holds it. Both backends are cleared unconditionally so a prior
// fallback write doesn't outlive the record it shadowed.
func (s *Store) Clear(ctx context.Context, phone string) error {
	primaryErr := s.primary.Clear(ctx, phone)
	var secondaryErr error
	if s.secondary != nil {
		secondaryErr = s.secondary.Clear(ctx, phone)
	}

	if primaryErr != nil && (s.secondary == nil || secondaryErr != nil) {
		return fmt.Errorf("codestore: clear: both backends unavailable: primary=%v secondary=%v", primaryErr, secondaryErr)
	}
	return nil
}

// retryPrimary calls op against the primary backend up to cfg.RetryAttempts
// times with a constant cfg.RetryBackoff delay between attempts, returning
// the last error on exhaustion. A domain.ErrNotFound-class error is never
// retried: it's not a backend failure, it just means there's no live code
// for the phone. Context cancellation also stops retrying immediately.
func (s *Store) retryPrimary(ctx context.Context, opName string, op func(context.Context, Backend) error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.RetryBackoff), uint64(s.cfg.RetryAttempts-1)),
		ctx,
	)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}

		opErr := op(ctx, s.primary)
		if opErr == nil {
			return nil
		}
		if domain.IsNotFound(opErr) {
			return backoff.Permanent(opErr)
		}
		return opErr
	}, policy)

	if err == nil || domain.IsNotFound(err) || ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("codestore: %s: exhausted %d attempts: %w", opName, attempts, err)
}

func (s *Store) logFallback(ctx context.Context, op string, err error) {
	s.logger.WarnContext(ctx, "codestore falling through to secondary backend",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}
