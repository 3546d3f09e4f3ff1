package sms_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridewise/authcore/internal/domain"
	"github.com/ridewise/authcore/internal/domain/domaintest"
	"github.com/ridewise/authcore/internal/sms"
)

// stubProvider is a configurable auth.Provider test double.
type stubProvider struct {
	name       string
	sendErr    error
	healthErr  error
	sendCalls  int
	healthCall int
}

func (s *stubProvider) Send(_ context.Context, _ string, _ string) error {
	s.sendCalls++
	return s.sendErr
}

func (s *stubProvider) Health(_ context.Context) error {
	s.healthCall++
	return s.healthErr
}

func (s *stubProvider) Name() string { return s.name }

func TestFailover_Send(t *testing.T) {
	t.Run("uses primary when healthy", func(t *testing.T) {
		primary := &stubProvider{name: "primary"}
		backup := &stubProvider{name: "backup"}
		clock := domaintest.NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
		f := sms.NewFailover(primary, backup, 30*time.Second, clock)

		err := f.Send(context.Background(), "+15551234567", "123456")

		require.NoError(t, err)
		assert.Equal(t, 1, primary.sendCalls)
		assert.Equal(t, 0, backup.sendCalls)
		assert.False(t, f.UsingBackup())
	})

	t.Run("falls back to backup when primary fails", func(t *testing.T) {
		primary := &stubProvider{name: "primary", sendErr: errors.New("primary down")}
		backup := &stubProvider{name: "backup"}
		clock := domaintest.NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
		f := sms.NewFailover(primary, backup, 30*time.Second, clock)

		err := f.Send(context.Background(), "+15551234567", "123456")

		require.NoError(t, err)
		assert.Equal(t, 1, primary.sendCalls)
		assert.Equal(t, 1, backup.sendCalls)
		assert.True(t, f.UsingBackup())
	})

	t.Run("returns wrapped error when both providers fail", func(t *testing.T) {
		primary := &stubProvider{name: "primary", sendErr: errors.New("primary down")}
		backup := &stubProvider{name: "backup", sendErr: errors.New("backup down")}
		clock := domaintest.NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
		f := sms.NewFailover(primary, backup, 30*time.Second, clock)

		err := f.Send(context.Background(), "+15551234567", "123456")

		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrUnavailable))
	})

	t.Run("stays on backup until cooldown elapses", func(t *testing.T) {
		primary := &stubProvider{name: "primary", sendErr: errors.New("primary down")}
		backup := &stubProvider{name: "backup"}
		clock := domaintest.NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
		f := sms.NewFailover(primary, backup, 30*time.Second, clock)

		require.NoError(t, f.Send(context.Background(), "+15551234567", "1"))
		assert.True(t, f.UsingBackup())
		assert.Equal(t, 1, primary.sendCalls)

		clock.Advance(10 * time.Second)
		require.NoError(t, f.Send(context.Background(), "+15551234567", "2"))
		// Still within cooldown: primary not retried.
		assert.Equal(t, 1, primary.sendCalls)
		assert.Equal(t, 2, backup.sendCalls)
	})

	t.Run("retries primary after cooldown elapses", func(t *testing.T) {
		primary := &stubProvider{name: "primary", sendErr: errors.New("primary down")}
		backup := &stubProvider{name: "backup"}
		clock := domaintest.NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
		f := sms.NewFailover(primary, backup, 30*time.Second, clock)

		require.NoError(t, f.Send(context.Background(), "+15551234567", "1"))
		assert.True(t, f.UsingBackup())

		clock.Advance(31 * time.Second)
		primary.sendErr = nil

		require.NoError(t, f.Send(context.Background(), "+15551234567", "2"))
		assert.Equal(t, 2, primary.sendCalls)
		assert.False(t, f.UsingBackup())
	})

	t.Run("zero cooldown falls back to default", func(t *testing.T) {
		primary := &stubProvider{name: "primary"}
		backup := &stubProvider{name: "backup"}
		clock := domaintest.NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
		f := sms.NewFailover(primary, backup, 0, clock)

		require.NoError(t, f.Send(context.Background(), "+15551234567", "1"))
		assert.False(t, f.UsingBackup())
	})
}

func TestFailover_Health(t *testing.T) {
	t.Run("healthy when primary is healthy", func(t *testing.T) {
		primary := &stubProvider{name: "primary"}
		backup := &stubProvider{name: "backup"}
		clock := domaintest.NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
		f := sms.NewFailover(primary, backup, 30*time.Second, clock)

		assert.NoError(t, f.Health(context.Background()))
	})

	t.Run("unhealthy when both providers unhealthy", func(t *testing.T) {
		primary := &stubProvider{name: "primary", healthErr: errors.New("down")}
		backup := &stubProvider{name: "backup", healthErr: errors.New("down")}
		clock := domaintest.NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
		f := sms.NewFailover(primary, backup, 30*time.Second, clock)

		err := f.Health(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrUnavailable))
	})

	t.Run("recovers primary on successful health check", func(t *testing.T) {
		primary := &stubProvider{name: "primary", sendErr: errors.New("down")}
		backup := &stubProvider{name: "backup"}
		clock := domaintest.NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
		f := sms.NewFailover(primary, backup, 30*time.Second, clock)

		require.NoError(t, f.Send(context.Background(), "+15551234567", "1"))
		assert.True(t, f.UsingBackup())

		require.NoError(t, f.Health(context.Background()))
		assert.False(t, f.UsingBackup())
	})
}

func TestFailover_Name(t *testing.T) {
	f := sms.NewFailover(&stubProvider{name: "primary"}, &stubProvider{name: "backup"}, 30*time.Second, domaintest.NewFakeClock(time.Now()))
	assert.Equal(t, "failover", f.Name())
}
