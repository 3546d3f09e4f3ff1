package app

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/codes"

	"github.com/ridewise/authcore/internal/audit"
	"github.com/ridewise/authcore/internal/domain"
	"github.com/ridewise/authcore/internal/observability"
)

// SelectRole assigns a user's role. A role, once set, cannot be changed —
// the marketplace side a user joined on is a one-time choice.
func (s *AuthService) SelectRole(ctx context.Context, userID string, role domain.Role) error {
	ctx, span := tracer.Start(ctx, "auth.select_role")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	if !domain.IsValidRole(role) {
		span.SetStatus(codes.Error, domain.ErrInvalidRole.Error())
		return domain.ErrInvalidRole
	}

	// 1. Load the user by id.
	user, err := s.userStore.GetByID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("load user: %w", err)
	}

	// 2. Reject if already set.
	if user.UserType != nil {
		span.SetStatus(codes.Error, domain.ErrRoleAlreadySelected.Error())
		return domain.ErrRoleAlreadySelected
	}

	// 3. Persist.
	now := s.clock.Now().UTC().Format("2006-01-02T15:04:05Z07:00")
	if err := s.userStore.SelectRole(ctx, userID, role, now); err != nil {
		if errors.Is(err, domain.ErrRoleAlreadySelected) {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("select role: %w", err)
	}

	s.recordAudit(ctx, audit.Entry{EventType: audit.EventSelectRole, Success: true, UserID: userID, Payload: map[string]string{"role": string(role)}})
	logger.InfoContext(ctx, "auth.role_selected", "user_id", userID, "role", string(role))

	return nil
}
