package app

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/ridewise/authcore/internal/audit"
	"github.com/ridewise/authcore/internal/auth"
	"github.com/ridewise/authcore/internal/codestore"
	"github.com/ridewise/authcore/internal/domain"
	"github.com/ridewise/authcore/internal/observability"
	"github.com/ridewise/authcore/internal/ratelimiter"
)

const resendCooldown = domain.ResendCooldown

// SendCode normalizes the phone number, enforces the SMS rate limit and
// resend cooldown, generates and seals a fresh verification code, and
// dispatches it for delivery.
func (s *AuthService) SendCode(ctx context.Context, rawPhone, countryCode, clientIP string) (*SendCodeResult, error) {
	ctx, span := tracer.Start(ctx, "auth.send_code")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	// 1. Normalize phone to E.164.
	phoneNumber, err := domain.NormalizePhone(rawPhone, countryCode)
	if err != nil {
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "invalid_phone")))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	phone := phoneNumber.String()
	phoneHash := auth.HashPhone(phone)

	// 2. rate_limiter.check_sms — lock/exceeded short-circuits the flow.
	checkRes, err := s.rateLimiter.CheckSMS(ctx, phoneHash)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("check sms rate limit: %w", err)
	}
	if limitErr := s.rejectIfLimited(ctx, checkRes, "send_code", domain.ErrPhoneRateLimited); limitErr != nil {
		span.SetStatus(codes.Error, limitErr.Error())
		s.recordAudit(ctx, audit.Entry{EventType: audit.EventSendCode, Success: false, PhoneHash: phoneHash, IPAddress: clientIP, FailureReason: limitErr.Error()})
		return nil, limitErr
	}

	// 3. Resend cooldown — a live code created within the last
	// cooldown window blocks a new send regardless of the rate limit.
	ttl, err := s.codeStore.TTL(ctx, phone)
	if err != nil && !domain.IsNotFound(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("check resend cooldown: %w", err)
	}
	if err == nil && ttl > domain.VerificationCodeValidity-resendCooldown {
		retryAfter := ttl - (domain.VerificationCodeValidity - resendCooldown)
		cdErr := fmt.Errorf("%w: retry after %s", domain.ErrResendCooldown, retryAfter)
		span.SetStatus(codes.Error, cdErr.Error())
		s.recordAudit(ctx, audit.Entry{EventType: audit.EventSendCode, Success: false, PhoneHash: phoneHash, IPAddress: clientIP, FailureReason: cdErr.Error()})
		return nil, cdErr
	}

	// 4. Generate a cryptographically random six-digit code.
	code, err := auth.GenerateOTP()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("generate verification code: %w", err)
	}

	// 5. Seal the code under the active cipher key.
	sealed, err := s.cipher.Encrypt([]byte(code), phone)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("encrypt verification code: %w", err)
	}

	now := s.clock.Now().UTC()
	expiresAt := now.Add(domain.VerificationCodeValidity)

	// 6. code_store.put — atomically supersedes any prior code for this phone.
	if _, err := s.codeStore.Put(ctx, codestore.Record{
		Phone:      phone,
		Ciphertext: sealed.Ciphertext,
		Nonce:      sealed.Nonce,
		KeyID:      sealed.KeyID,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("store verification code: %w", err)
	}

	// 7. Dispatch delivery; on transport failure, undo the just-stored code
	// so a cancelled/failed send_code never leaves an unreturnable code
	// behind.
	if err := s.smsProvider.Send(ctx, phone, code); err != nil {
		if clearErr := s.codeStore.Clear(ctx, phone); clearErr != nil {
			logger.ErrorContext(ctx, "failed to clear code after sms send failure",
				"error", clearErr, "phone_hash", phoneHash)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.recordAudit(ctx, audit.Entry{EventType: audit.EventSendCode, Success: false, PhoneHash: phoneHash, IPAddress: clientIP, FailureReason: "sms delivery failed"})
		return nil, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}

	// 8. rate_limiter.increment_sms.
	if _, err := s.rateLimiter.IncrementSMS(ctx, phoneHash); err != nil {
		logger.WarnContext(ctx, "increment sms counter failed after successful send",
			"error", err, "phone_hash", phoneHash)
	}

	// 9. Audit success — masked phone, no code material.
	s.recordAudit(ctx, audit.Entry{
		EventType: audit.EventSendCode,
		Success:   true,
		PhoneHash: phoneHash,
		IPAddress: clientIP,
		Payload:   map[string]string{"phone_masked": domain.MaskPhone(phone)},
	})

	sendCodeRequestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	logger.InfoContext(ctx, "auth.code_sent", "phone_hash", phoneHash)

	return &SendCodeResult{NextResendAt: now.Add(resendCooldown)}, nil
}

// rejectIfLimited translates a ratelimiter.CheckResult into a domain error,
// or nil when the check allows the request to proceed. exceededErr is the
// axis-specific sentinel (phone vs. IP) returned when the counter itself is
// over threshold, as opposed to an explicit lockout.
func (s *AuthService) rejectIfLimited(ctx context.Context, res ratelimiter.CheckResult, endpoint string, exceededErr error) error {
	switch res.Status {
	case ratelimiter.Allowed:
		return nil
	case ratelimiter.Locked:
		rateLimitsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("limit_type", "lock"),
		))
		return fmt.Errorf("%w: %s", domain.ErrLocked, res.Reason)
	default:
		rateLimitsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("limit_type", "counter"),
		))
		return fmt.Errorf("%w: retry after %s", exceededErr, res.RetryAfter)
	}
}
