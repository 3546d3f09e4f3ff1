package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/ridewise/authcore/internal/audit"
	"github.com/ridewise/authcore/internal/auth"
	"github.com/ridewise/authcore/internal/cipher"
	"github.com/ridewise/authcore/internal/domain"
	"github.com/ridewise/authcore/internal/observability"
	"github.com/ridewise/authcore/internal/ratelimiter"
)

// VerifyCode checks a candidate verification code against the live code for
// phone, then resolves or creates the user account and issues a fresh
// access/refresh credential pair.
func (s *AuthService) VerifyCode(ctx context.Context, rawPhone, code, clientIP, userAgent, deviceInfo string) (*VerifyCodeResult, error) {
	ctx, span := tracer.Start(ctx, "auth.verify_code")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	// 1. Normalize phone. verify_code receives no country-code hint, so
	// only already-E.164 input (or an unambiguous national format) resolves.
	phoneNumber, err := domain.NormalizePhone(rawPhone, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	phone := phoneNumber.String()
	phoneHash := auth.HashPhone(phone)

	auditFields := audit.Entry{EventType: audit.EventVerifyCode, PhoneHash: phoneHash, IPAddress: clientIP, UserAgent: userAgent}

	// 2. rate_limiter.check_verify(ip).
	ipCheck, err := s.rateLimiter.CheckVerify(ctx, clientIP)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("check verify rate limit: %w", err)
	}
	if limitErr := s.rejectIfLimited(ctx, ipCheck, "verify_code", domain.ErrIPRateLimited); limitErr != nil {
		auditFields.Success = false
		auditFields.FailureReason = limitErr.Error()
		s.recordAudit(ctx, auditFields)
		span.SetStatus(codes.Error, limitErr.Error())
		return nil, limitErr
	}
	if _, err := s.rateLimiter.IncrementVerify(ctx, clientIP); err != nil {
		logger.WarnContext(ctx, "increment verify ip counter failed", "error", err)
	}

	// 3. Check the phone-level lock flag, set by a prior exhaustion.
	lockCheck, err := s.rateLimiter.CheckLock(ctx, phoneHash)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("check phone lockout: %w", err)
	}
	if lockCheck.Status == ratelimiter.Locked {
		lockErr := fmt.Errorf("%w: %s", domain.ErrLocked, lockCheck.Reason)
		auditFields.Success = false
		auditFields.FailureReason = lockErr.Error()
		s.recordAudit(ctx, auditFields)
		span.SetStatus(codes.Error, lockErr.Error())
		return nil, lockErr
	}

	// 5. Fetch the live code. No record means nothing to verify against.
	record, _, err := s.codeStore.Get(ctx, phone)
	if err != nil {
		auditFields.Success = false
		auditFields.FailureReason = "no active verification code"
		s.recordAudit(ctx, auditFields)
		span.SetStatus(codes.Error, err.Error())
		return nil, domain.ErrInvalidVerificationCode
	}

	// 4. Progressive delay based on attempts already made against this
	// code, applied before the cipher comparison to flatten timing oracles.
	delay := verificationDelay(record.AttemptCount)
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	// 6. Increment the attempt counter; exhaustion clears the code and
	// triggers the phone-level lockout.
	attempts, _, err := s.codeStore.IncrementAttempts(ctx, phone)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("increment verification attempts: %w", err)
	}
	if attempts > domain.MaxVerificationAttempts {
		if clearErr := s.codeStore.Clear(ctx, phone); clearErr != nil {
			logger.ErrorContext(ctx, "failed to clear exhausted code", "error", clearErr)
		}
		if _, lockErr := s.rateLimiter.RecordFailure(ctx, phoneHash, domain.OTPLockDuration); lockErr != nil {
			logger.ErrorContext(ctx, "failed to record lockout failure", "error", lockErr)
		}
		auditFields.Success = false
		auditFields.FailureReason = "max verification attempts exceeded"
		s.recordAudit(ctx, auditFields)
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "max_attempts_exceeded")))
		span.SetStatus(codes.Error, domain.ErrMaxAttemptsExceeded.Error())
		return nil, domain.ErrMaxAttemptsExceeded
	}

	// 7. Constant-time comparison against the sealed code.
	match, err := s.cipher.Verify(cipher.Sealed{
		Ciphertext: record.Ciphertext,
		Nonce:      record.Nonce,
		KeyID:      record.KeyID,
		CreatedAt:  record.CreatedAt,
	}, phone, []byte(code))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("verify code: %w", err)
	}
	if !match {
		remaining := domain.MaxVerificationAttempts - attempts
		auditFields.Success = false
		auditFields.FailureReason = "code mismatch"
		s.recordAudit(ctx, auditFields)
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "invalid_code")))
		span.SetStatus(codes.Error, domain.ErrInvalidVerificationCode.Error())
		return nil, fmt.Errorf("%w: %d attempts remaining", domain.ErrInvalidVerificationCode, remaining)
	}

	// 8. Success — clear the code and reset the lockout/failure state.
	if clearErr := s.codeStore.Clear(ctx, phone); clearErr != nil {
		logger.ErrorContext(ctx, "failed to clear verified code", "error", clearErr)
	}
	if resetErr := s.rateLimiter.Reset(ctx, phoneHash); resetErr != nil {
		logger.ErrorContext(ctx, "failed to reset lockout state", "error", resetErr)
	}

	result, err := s.resolveOrCreateUser(ctx, phone, phoneHash)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Bool("auth.is_new_user", result.IsNewUser))
	logger.InfoContext(ctx, "auth.code_verified", "user_id", result.UserID, "is_new_user", result.IsNewUser)

	auditFields.Success = true
	auditFields.UserID = result.UserID
	s.recordAudit(ctx, auditFields)

	return result, nil
}

// resolveOrCreateUser implements verify_code steps 9-11: resolve or create
// the account, enforce it isn't blocked, issue a fresh credential pair.
func (s *AuthService) resolveOrCreateUser(ctx context.Context, phone, phoneHash string) (*VerifyCodeResult, error) {
	now := s.clock.Now().UTC()
	nowStr := now.Format(time.RFC3339)

	existing, findErr := s.userStore.FindByPhoneHash(ctx, phoneHash)
	if findErr != nil && !errors.Is(findErr, domain.ErrNotFound) {
		return nil, fmt.Errorf("find user by phone hash: %w", findErr)
	}

	if errors.Is(findErr, domain.ErrNotFound) {
		result, err := s.registerUser(ctx, phone, phoneHash, nowStr)
		if err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				existing, findErr = s.userStore.FindByPhoneHash(ctx, phoneHash)
				if findErr != nil {
					return nil, fmt.Errorf("find user after registration race: %w", findErr)
				}
				if existing.Blocked {
					return nil, domain.ErrUserBlocked
				}
				return s.issueLogin(ctx, existing, nowStr)
			}
			return nil, err
		}
		return result, nil
	}

	if existing.Blocked {
		return nil, domain.ErrUserBlocked
	}
	return s.issueLogin(ctx, existing, nowStr)
}

func (s *AuthService) registerUser(ctx context.Context, phone, phoneHash, nowStr string) (*VerifyCodeResult, error) {
	userID := uuid.NewString()
	credentialID := uuid.NewString()
	family := uuid.NewString()

	refreshToken, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	tokenHash := auth.HashRefreshToken(refreshToken)

	credentialExpiry := s.clock.Now().UTC().Add(domain.RefreshTokenLifetime)

	if err := s.transactor.RegisterUser(ctx, RegistrationParams{
		UserID:       userID,
		PhoneHash:    phoneHash,
		CountryCode:  domain.DialingCodeOf(phone),
		Now:          nowStr,
		CredentialID: credentialID,
		TokenHash:    tokenHash,
		Family:       family,
		ExpiresAt:    credentialExpiry.Format(time.RFC3339),
		TTL:          credentialExpiry.Unix(),
	}); err != nil {
		return nil, fmt.Errorf("register user: %w", err)
	}

	mintResult, err := s.minter.MintAccessToken(userID, nil, true)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	tokenMintedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("flow", "registration")))
	credentialCreatedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("flow", "registration")))

	return &VerifyCodeResult{
		UserID:                userID,
		AccessToken:           mintResult.Token,
		RefreshToken:          refreshToken,
		ExpiresIn:             int(domain.AccessTokenLifetime.Seconds()),
		Role:                  nil,
		RequiresRoleSelection: true,
		IsNewUser:             true,
	}, nil
}

func (s *AuthService) issueLogin(ctx context.Context, user *UserRecord, nowStr string) (*VerifyCodeResult, error) {
	credentialID := uuid.NewString()
	family := uuid.NewString()

	refreshToken, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	tokenHash := auth.HashRefreshToken(refreshToken)

	credentialExpiry := s.clock.Now().UTC().Add(domain.RefreshTokenLifetime)

	if err := s.transactor.IssueLoginCredential(ctx, LoginParams{
		UserID:       user.UserID,
		Now:          nowStr,
		CredentialID: credentialID,
		TokenHash:    tokenHash,
		Family:       family,
		ExpiresAt:    credentialExpiry.Format(time.RFC3339),
		TTL:          credentialExpiry.Unix(),
	}); err != nil {
		return nil, fmt.Errorf("issue login credential: %w", err)
	}

	if !user.Verified {
		if err := s.userStore.MarkVerified(ctx, user.UserID, nowStr); err != nil {
			return nil, fmt.Errorf("mark user verified: %w", err)
		}
	} else if err := s.userStore.UpdateLastLogin(ctx, user.UserID, nowStr); err != nil {
		return nil, fmt.Errorf("update last login: %w", err)
	}

	mintResult, err := s.minter.MintAccessToken(user.UserID, user.UserType, true)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	tokenMintedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("flow", "login")))
	credentialCreatedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("flow", "login")))

	return &VerifyCodeResult{
		UserID:                user.UserID,
		AccessToken:           mintResult.Token,
		RefreshToken:          refreshToken,
		ExpiresIn:             int(domain.AccessTokenLifetime.Seconds()),
		Role:                  user.UserType,
		RequiresRoleSelection: user.UserType == nil,
		IsNewUser:             false,
	}, nil
}
