package adapter

import (
	"context"
	"log/slog"

	"github.com/ridewise/authcore/internal/ratelimiter"
)

// SlogViolationLogger implements ratelimiter.ViolationLogger by emitting a
// structured warning log line per violation. Identifiers passed through
// here are already hashed or otherwise non-reversible by the time the
// limiter records them — this adapter does no redaction of its own.
type SlogViolationLogger struct {
	logger *slog.Logger
}

// NewSlogViolationLogger creates a SlogViolationLogger. A nil logger falls
// back to slog.Default().
func NewSlogViolationLogger(logger *slog.Logger) *SlogViolationLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogViolationLogger{logger: logger}
}

// LogViolation emits a warning-level log entry describing the violation.
func (s *SlogViolationLogger) LogViolation(ctx context.Context, v ratelimiter.Violation) {
	s.logger.WarnContext(ctx, "rate limit violation",
		"identifier", v.Identifier,
		"kind", v.Kind,
		"action", v.Action,
	)
}

var _ ratelimiter.ViolationLogger = (*SlogViolationLogger)(nil)
