package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridewise/authcore/internal/core/app"
	"github.com/ridewise/authcore/internal/domain"
)

func TestLogout_Success(t *testing.T) {
	h := newTestHarness(t)

	mintResult, err := h.minter.MintAccessToken("user-1", nil, true)
	require.NoError(t, err)

	h.credentialStore.listByUserFn = func(context.Context, string) ([]app.CredentialRecord, error) {
		return []app.CredentialRecord{
			{CredentialID: "cred-1", UserID: "user-1", Revoked: false},
			{CredentialID: "cred-2", UserID: "user-1", Revoked: true},
		}, nil
	}

	var revokedCreds []string
	h.credentialStore.revokeFn = func(_ context.Context, credentialID string) error {
		revokedCreds = append(revokedCreds, credentialID)
		return nil
	}

	err = h.svc.Logout(context.Background(), mintResult.Token)
	require.NoError(t, err)
	assert.Equal(t, []string{"cred-1"}, revokedCreds)

	h.svc.Wait()
	entries := h.audit.recorded()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.Equal(t, "user-1", entries[0].UserID)
}

func TestLogout_InvalidToken(t *testing.T) {
	h := newTestHarness(t)

	err := h.svc.Logout(context.Background(), "not-a-valid-jwt")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestLogout_BlacklistsJTI(t *testing.T) {
	h := newTestHarness(t)

	mintResult, err := h.minter.MintAccessToken("user-2", nil, true)
	require.NoError(t, err)

	var blacklisted string
	var blacklistTTL time.Duration
	h.revocation.revokeFn = func(_ context.Context, jti string, ttl time.Duration) error {
		blacklisted = jti
		blacklistTTL = ttl
		return nil
	}
	h.credentialStore.listByUserFn = func(context.Context, string) ([]app.CredentialRecord, error) {
		return nil, nil
	}

	err = h.svc.Logout(context.Background(), mintResult.Token)
	require.NoError(t, err)
	assert.Equal(t, mintResult.JTI, blacklisted)
	assert.Greater(t, blacklistTTL, time.Duration(0))
}
