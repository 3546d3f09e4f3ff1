// Package ratelimiter enforces per-phone and per-IP caps on verification
// code sends and checks, plus a hard lockout after repeated failures.
package ratelimiter

import (
	"context"
	"fmt"
	"time"
)

// Backend is the narrow cache contract the limiter needs: atomic increment
// with first-write TTL, key existence, and explicit set/delete. The Redis
// adapter in internal/core/adapter implements this with a Lua script for
// the atomic increment+expire.
type Backend interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Status classifies the outcome of a Check call.
type Status int

const (
	// Allowed means the request may proceed.
	Allowed Status = iota
	// Exceeded means the axis's own counter limit was hit.
	Exceeded
	// Locked means a hard lockout is in effect for this key.
	Locked
)

// CheckResult is returned by CheckSMS/CheckVerify.
type CheckResult struct {
	Status     Status
	Remaining  int
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
	Reason     string
}

// Config holds the configurable limits and lock durations enforced across
// the SMS send, verify, and lockout axes.
type Config struct {
	SMSPerPhoneHourLimit int
	SMSPerPhoneDayLimit  int
	VerifyPerIPLimit     int
	VerifyPerIPWindow    time.Duration
	FailuresToLock       int
	PhoneLockDuration    time.Duration
	OTPLockDuration      time.Duration
	BruteForceLockDuration time.Duration
}

// DefaultConfig returns the normative default limits.
func DefaultConfig() Config {
	return Config{
		SMSPerPhoneHourLimit:   3,
		SMSPerPhoneDayLimit:    10,
		VerifyPerIPLimit:       10,
		VerifyPerIPWindow:      time.Hour,
		FailuresToLock:         5,
		PhoneLockDuration:      30 * time.Minute,
		OTPLockDuration:        60 * time.Minute,
		BruteForceLockDuration: 120 * time.Minute,
	}
}

// Violation describes a rate-limit or lockout event for structured logging.
type Violation struct {
	Identifier string
	Kind       string
	Action     string
}

// ViolationLogger receives rate-limit violation events. Implementations
// typically forward to slog; tests can use a recording fake.
type ViolationLogger interface {
	LogViolation(ctx context.Context, v Violation)
}

// Limiter implements the two-axis + lockout rate limiter: per-phone/per-IP
// send and verify counters, plus a hard lockout after repeated failures.
type Limiter struct {
	backend Backend
	cfg     Config
	logger  ViolationLogger
}

// New creates a Limiter backed by the given cache.
func New(backend Backend, cfg Config, logger ViolationLogger) *Limiter {
	return &Limiter{backend: backend, cfg: cfg, logger: logger}
}

// CheckLock reports whether an explicit lockout set by RecordFailure is in
// effect for key, independent of any rate-limit axis. Used where a lock
// must be consulted directly rather than as a side effect of checking an
// SMS or verify counter — e.g. the phone-level OTP lockout consulted
// before a verification attempt is even looked up.
func (l *Limiter) CheckLock(ctx context.Context, key string) (CheckResult, error) {
	res, _, err := l.checkLock(ctx, key, "blocked by lockout")
	if err != nil {
		return CheckResult{}, err
	}
	return res, nil
}

// CheckSMS reports whether a send may proceed for the given phone hash,
// consulting the lock flag before the counters.
func (l *Limiter) CheckSMS(ctx context.Context, phoneHash string) (CheckResult, error) {
	if res, locked, err := l.checkLock(ctx, phoneHash, "sms send blocked by lockout"); err != nil || locked {
		return res, err
	}

	return CheckResult{Status: Allowed, Limit: l.cfg.SMSPerPhoneHourLimit, Window: time.Hour}, nil
}

// IncrementSMS atomically increments the phone's hourly and daily SMS
// counters, returning Exceeded if either limit is now over threshold.
func (l *Limiter) IncrementSMS(ctx context.Context, phoneHash string) (CheckResult, error) {
	hourCount, err := l.backend.Increment(ctx, smsPhoneHourKey(phoneHash), time.Hour)
	if err != nil {
		return CheckResult{}, fmt.Errorf("ratelimiter: increment sms hourly: %w", err)
	}

	dayCount, err := l.backend.Increment(ctx, smsPhoneDayKey(phoneHash), 24*time.Hour)
	if err != nil {
		return CheckResult{}, fmt.Errorf("ratelimiter: increment sms daily: %w", err)
	}

	if hourCount > int64(l.cfg.SMSPerPhoneHourLimit) {
		l.logViolation(ctx, phoneHash, "sms_hourly", "rejected")
		return CheckResult{Status: Exceeded, Limit: l.cfg.SMSPerPhoneHourLimit, Window: time.Hour, RetryAfter: time.Hour}, nil
	}
	if dayCount > int64(l.cfg.SMSPerPhoneDayLimit) {
		l.logViolation(ctx, phoneHash, "sms_daily", "rejected")
		return CheckResult{Status: Exceeded, Limit: l.cfg.SMSPerPhoneDayLimit, Window: 24 * time.Hour, RetryAfter: 24 * time.Hour}, nil
	}

	remaining := int(int64(l.cfg.SMSPerPhoneHourLimit) - hourCount)
	if remaining < 0 {
		remaining = 0
	}
	return CheckResult{Status: Allowed, Remaining: remaining, Limit: l.cfg.SMSPerPhoneHourLimit, Window: time.Hour}, nil
}

// CheckVerify reports whether a verification attempt may proceed for the
// given IP, consulting the lock flag before the counter.
func (l *Limiter) CheckVerify(ctx context.Context, ip string) (CheckResult, error) {
	if res, locked, err := l.checkLock(ctx, ip, "verify blocked by lockout"); err != nil || locked {
		return res, err
	}

	return CheckResult{Status: Allowed, Limit: l.cfg.VerifyPerIPLimit, Window: l.cfg.VerifyPerIPWindow}, nil
}

// IncrementVerify atomically increments the IP's verify counter, returning
// Exceeded once the per-IP limit is crossed.
func (l *Limiter) IncrementVerify(ctx context.Context, ip string) (CheckResult, error) {
	count, err := l.backend.Increment(ctx, verifyIPKey(ip), l.cfg.VerifyPerIPWindow)
	if err != nil {
		return CheckResult{}, fmt.Errorf("ratelimiter: increment verify: %w", err)
	}

	if count > int64(l.cfg.VerifyPerIPLimit) {
		l.logViolation(ctx, ip, "verify_ip", "rejected")
		return CheckResult{Status: Exceeded, Limit: l.cfg.VerifyPerIPLimit, Window: l.cfg.VerifyPerIPWindow, RetryAfter: l.cfg.VerifyPerIPWindow}, nil
	}

	remaining := int(int64(l.cfg.VerifyPerIPLimit) - count)
	if remaining < 0 {
		remaining = 0
	}
	return CheckResult{Status: Allowed, Remaining: remaining, Limit: l.cfg.VerifyPerIPLimit, Window: l.cfg.VerifyPerIPWindow}, nil
}

// RecordFailure increments the failed-attempt counter for key. When the
// threshold configured in Config.FailuresToLock is crossed, it atomically
// sets the lock flag with the given duration and returns true.
func (l *Limiter) RecordFailure(ctx context.Context, key string, lockDuration time.Duration) (locked bool, err error) {
	count, err := l.backend.Increment(ctx, failuresKey(key), 24*time.Hour)
	if err != nil {
		return false, fmt.Errorf("ratelimiter: record failure: %w", err)
	}

	if count < int64(l.cfg.FailuresToLock) {
		return false, nil
	}

	if err := l.backend.Set(ctx, lockKey(key), lockDuration); err != nil {
		return false, fmt.Errorf("ratelimiter: set lockout: %w", err)
	}

	l.logViolation(ctx, key, "lockout", "locked")
	return true, nil
}

// Reset clears the failure counter and lock flag for key, called on
// successful authentication.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.backend.Delete(ctx, failuresKey(key), lockKey(key)); err != nil {
		return fmt.Errorf("ratelimiter: reset: %w", err)
	}
	return nil
}

// LogViolation emits a structured violation event via the configured logger.
func (l *Limiter) LogViolation(ctx context.Context, identifier, kind, action string) {
	l.logViolation(ctx, identifier, kind, action)
}

func (l *Limiter) logViolation(ctx context.Context, identifier, kind, action string) {
	if l.logger == nil {
		return
	}
	l.logger.LogViolation(ctx, Violation{Identifier: identifier, Kind: kind, Action: action})
}

// checkLock inspects the lock flag for key. It returns (zero, false, nil)
// when unlocked, (Locked result, true, nil) when locked, and (zero, false,
// err) on backend failure. Locked is fail-open on read errors only in the
// sense that the caller propagates the error; callers SHOULD treat a
// backend error on this path as a service-unavailable condition, not as
// an implicit allow.
func (l *Limiter) checkLock(ctx context.Context, key, reason string) (CheckResult, bool, error) {
	locked, err := l.backend.Exists(ctx, lockKey(key))
	if err != nil {
		return CheckResult{}, false, fmt.Errorf("ratelimiter: check lock: %w", err)
	}
	if !locked {
		return CheckResult{}, false, nil
	}

	return CheckResult{Status: Locked, Reason: reason}, true, nil
}
