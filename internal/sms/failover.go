// Package sms provides SMS delivery abstractions for verification-code
// dispatch, including a failover wrapper that falls back to a backup
// provider when the primary is unavailable.
package sms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ridewise/authcore/internal/auth"
	"github.com/ridewise/authcore/internal/domain"
)

// state tracks which provider is currently favored and how recently the
// primary failed, so that a recovered primary is retried automatically
// after the cooldown elapses.
type state struct {
	mu                       sync.RWMutex
	usingBackup              bool
	lastPrimaryFailure       time.Time
	consecutivePrimaryFailures int
}

// Failover composes a primary and backup auth.Provider, sending through
// the primary while it's healthy and falling back to the backup on
// failure. It automatically retries the primary after cooldown elapses.
type Failover struct {
	primary  auth.Provider
	backup   auth.Provider
	cooldown time.Duration
	clock    domain.Clock
	state    state
}

// NewFailover creates a Failover wrapper. cooldown is how long to keep
// using the backup after a primary failure before retrying the primary;
// values <= 0 fall back to domain.SMSFailoverCooldown.
func NewFailover(primary, backup auth.Provider, cooldown time.Duration, clock domain.Clock) *Failover {
	if cooldown <= 0 {
		cooldown = domain.SMSFailoverCooldown
	}
	return &Failover{
		primary:  primary,
		backup:   backup,
		cooldown: cooldown,
		clock:    clock,
	}
}

func (f *Failover) shouldTryPrimary() bool {
	f.state.mu.RLock()
	defer f.state.mu.RUnlock()
	if !f.state.usingBackup {
		return true
	}
	if f.state.lastPrimaryFailure.IsZero() {
		return true
	}
	return f.clock.Now().Sub(f.state.lastPrimaryFailure) > f.cooldown
}

func (f *Failover) recordPrimaryFailure() {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	f.state.consecutivePrimaryFailures++
	f.state.lastPrimaryFailure = f.clock.Now()
	f.state.usingBackup = true
}

func (f *Failover) recordPrimarySuccess() {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	f.state.usingBackup = false
	f.state.consecutivePrimaryFailures = 0
	f.state.lastPrimaryFailure = time.Time{}
}

// UsingBackup reports whether the failover is currently favoring the
// backup provider, for observability.
func (f *Failover) UsingBackup() bool {
	f.state.mu.RLock()
	defer f.state.mu.RUnlock()
	return f.state.usingBackup
}

// Send attempts delivery through the primary provider, falling back to
// the backup on failure. It returns an error only if both providers fail.
func (f *Failover) Send(ctx context.Context, phone string, code string) error {
	if f.shouldTryPrimary() {
		if err := f.primary.Send(ctx, phone, code); err == nil {
			f.recordPrimarySuccess()
			return nil
		}
		f.recordPrimaryFailure()
	}

	if err := f.backup.Send(ctx, phone, code); err != nil {
		return fmt.Errorf("%w: both SMS providers failed (primary=%s, backup=%s): %v",
			domain.ErrUnavailable, f.primary.Name(), f.backup.Name(), err)
	}
	return nil
}

// Health reports availability by probing both providers. It updates the
// internal failover state the same way Send does, so a probe can recover
// the primary without requiring a live send.
func (f *Failover) Health(ctx context.Context) error {
	primaryErr := f.primary.Health(ctx)
	backupErr := f.backup.Health(ctx)

	switch {
	case primaryErr == nil:
		f.recordPrimarySuccess()
	case backupErr == nil:
		f.recordPrimaryFailure()
	}

	if primaryErr != nil && backupErr != nil {
		return fmt.Errorf("%w: both SMS providers unhealthy", domain.ErrUnavailable)
	}
	return nil
}

// Name identifies this provider for logging and metrics.
func (f *Failover) Name() string { return "failover" }

var _ auth.Provider = (*Failover)(nil)
