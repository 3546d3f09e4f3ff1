package adapter

import (
	"context"
	"time"

	"github.com/ridewise/authcore/internal/codestore"
	"github.com/ridewise/authcore/internal/domain"
)

// Compile-time check: CodeStoreFallbackBackend satisfies codestore.Backend.
var _ codestore.Backend = (*CodeStoreFallbackBackend)(nil)

// CodeStoreFallbackBackend adapts OTPFallbackStore's phone-hash-keyed
// DynamoDB item to codestore.Backend, so the code store can use it as a
// secondary backend without OTPFallbackStore itself depending on the
// codestore package.
type CodeStoreFallbackBackend struct {
	store *OTPFallbackStore
}

// NewCodeStoreFallbackBackend wraps store as a codestore.Backend.
func NewCodeStoreFallbackBackend(store *OTPFallbackStore) *CodeStoreFallbackBackend {
	return &CodeStoreFallbackBackend{store: store}
}

func (b *CodeStoreFallbackBackend) Put(ctx context.Context, record codestore.Record) error {
	return b.store.Put(ctx, OTPFallbackRecord{
		PhoneHash:    record.Phone,
		Ciphertext:   record.Ciphertext,
		Nonce:        record.Nonce,
		KeyID:        record.KeyID,
		CreatedAt:    record.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:    record.ExpiresAt.UTC().Format(time.RFC3339),
		AttemptCount: record.AttemptCount,
		TTL:          record.ExpiresAt.Unix(),
	})
}

func (b *CodeStoreFallbackBackend) Get(ctx context.Context, phone string) (*codestore.Record, error) {
	rec, err := b.store.Get(ctx, phone)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.ErrCodeNotFound
		}
		return nil, err
	}

	createdAt, err := time.Parse(time.RFC3339, rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	expiresAt, err := time.Parse(time.RFC3339, rec.ExpiresAt)
	if err != nil {
		return nil, err
	}

	return &codestore.Record{
		Phone:        phone,
		Ciphertext:   rec.Ciphertext,
		Nonce:        rec.Nonce,
		KeyID:        rec.KeyID,
		CreatedAt:    createdAt,
		ExpiresAt:    expiresAt,
		AttemptCount: rec.AttemptCount,
	}, nil
}

func (b *CodeStoreFallbackBackend) Exists(ctx context.Context, phone string) (bool, error) {
	return b.store.Exists(ctx, phone)
}

func (b *CodeStoreFallbackBackend) TTL(ctx context.Context, phone string) (time.Duration, error) {
	ttl, err := b.store.TTL(ctx, phone)
	if err != nil {
		if domain.IsNotFound(err) {
			return 0, domain.ErrCodeNotFound
		}
		return 0, err
	}
	return ttl, nil
}

func (b *CodeStoreFallbackBackend) IncrementAttempts(ctx context.Context, phone string) (int, error) {
	count, err := b.store.IncrementAttempts(ctx, phone)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (b *CodeStoreFallbackBackend) Clear(ctx context.Context, phone string) error {
	return b.store.Clear(ctx, phone)
}
