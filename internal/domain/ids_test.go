package domain_test

import (
	"testing"

	"github.com/ridewise/authcore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserID(t *testing.T) {
	validUUID := "550e8400-e29b-41d4-a716-446655440000"

	t.Run("valid UUID", func(t *testing.T) {
		id, err := domain.NewUserID(validUUID)
		require.NoError(t, err)
		assert.Equal(t, validUUID, id.String())
		assert.False(t, id.IsZero())
	})

	t.Run("empty string returns error", func(t *testing.T) {
		_, err := domain.NewUserID("")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrEmptyID)
	})

	t.Run("invalid format returns error", func(t *testing.T) {
		_, err := domain.NewUserID("not-a-uuid")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidID)
	})

	t.Run("zero value is zero", func(t *testing.T) {
		var id domain.UserID
		assert.True(t, id.IsZero())
		assert.Empty(t, id.String())
	})

	t.Run("generate creates valid ID", func(t *testing.T) {
		id := domain.GenerateUserID()
		assert.False(t, id.IsZero())
		_, err := domain.NewUserID(id.String())
		require.NoError(t, err)
	})

	t.Run("MustUserID panics on invalid", func(t *testing.T) {
		assert.Panics(t, func() {
			domain.MustUserID("invalid")
		})
	})

	t.Run("MustUserID succeeds on valid", func(t *testing.T) {
		assert.NotPanics(t, func() {
			id := domain.MustUserID(validUUID)
			assert.Equal(t, validUUID, id.String())
		})
	})
}

func TestCredentialID(t *testing.T) {
	validUUID := "550e8400-e29b-41d4-a716-446655440000"

	t.Run("valid UUID", func(t *testing.T) {
		id, err := domain.NewCredentialID(validUUID)
		require.NoError(t, err)
		assert.Equal(t, validUUID, id.String())
	})

	t.Run("empty string returns error", func(t *testing.T) {
		_, err := domain.NewCredentialID("")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrEmptyID)
	})

	t.Run("invalid format returns error", func(t *testing.T) {
		_, err := domain.NewCredentialID("not-a-uuid")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidID)
	})

	t.Run("generate creates valid ID", func(t *testing.T) {
		id := domain.GenerateCredentialID()
		assert.False(t, id.IsZero())
	})
}

func TestFamilyID(t *testing.T) {
	validUUID := "550e8400-e29b-41d4-a716-446655440000"

	t.Run("valid UUID", func(t *testing.T) {
		id, err := domain.NewFamilyID(validUUID)
		require.NoError(t, err)
		assert.Equal(t, validUUID, id.String())
	})

	t.Run("empty string returns error", func(t *testing.T) {
		_, err := domain.NewFamilyID("")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrEmptyID)
	})

	t.Run("generate creates valid ID", func(t *testing.T) {
		id := domain.GenerateFamilyID()
		assert.False(t, id.IsZero())
		_, err := domain.NewFamilyID(id.String())
		require.NoError(t, err)
	})
}
