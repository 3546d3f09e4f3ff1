// Package errmap maps domain sentinel errors onto the HTTP status/code pairs
// a caller-facing layer would return. No HTTP server lives in this module;
// this mapping exists so an embedding caller or a future transport has a
// single, tested place to look up the right response for a domain error.
package errmap

import (
	"errors"
	"net/http"

	"github.com/ridewise/authcore/internal/domain"
)

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e HTTPError) Error() string {
	return e.Message
}

// ToHTTPError converts a domain error into the HTTP status/code pair it maps
// to under the Validation/Unauthorized/Forbidden/NotFound/Conflict/
// RateLimit-Lock/ServiceUnavailable/Internal category table.
func ToHTTPError(err error) HTTPError {
	if err == nil {
		return HTTPError{StatusCode: http.StatusOK}
	}

	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrCodeNotFound):
		return HTTPError{
			StatusCode: http.StatusNotFound,
			Code:       "NOT_FOUND",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrRoleAlreadySelected):
		return HTTPError{
			StatusCode: http.StatusConflict,
			Code:       "ALREADY_EXISTS",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrInvalidRefreshToken),
		errors.Is(err, domain.ErrCredentialExpired),
		errors.Is(err, domain.ErrCredentialRevoked),
		errors.Is(err, domain.ErrRefreshTokenReuse):
		return HTTPError{
			StatusCode: http.StatusUnauthorized,
			Code:       "UNAUTHENTICATED",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrUserBlocked):
		return HTTPError{
			StatusCode: http.StatusForbidden,
			Code:       "PERMISSION_DENIED",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidPhoneNumber),
		errors.Is(err, domain.ErrInvalidRole),
		errors.Is(err, domain.ErrInvalidCodeFormat),
		errors.Is(err, domain.ErrInvalidVerificationCode),
		errors.Is(err, domain.ErrCodeExpired),
		errors.Is(err, domain.ErrEmptyID),
		errors.Is(err, domain.ErrInvalidID):
		return HTTPError{
			StatusCode: http.StatusBadRequest,
			Code:       "INVALID_ARGUMENT",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrRateLimited),
		errors.Is(err, domain.ErrPhoneRateLimited),
		errors.Is(err, domain.ErrIPRateLimited),
		errors.Is(err, domain.ErrLocked),
		errors.Is(err, domain.ErrMaxAttemptsExceeded),
		errors.Is(err, domain.ErrResendCooldown):
		return HTTPError{
			StatusCode: http.StatusTooManyRequests,
			Code:       "RATE_LIMITED",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrUnavailable), errors.Is(err, domain.ErrKeyRingUnavailable):
		return HTTPError{
			StatusCode: http.StatusServiceUnavailable,
			Code:       "UNAVAILABLE",
			Message:    err.Error(),
		}

	default:
		// Never expose internal error details to clients
		return HTTPError{
			StatusCode: http.StatusInternalServerError,
			Code:       "INTERNAL",
			Message:    "internal error",
		}
	}
}

// ToHTTPStatusCode extracts just the HTTP status code for a domain error.
func ToHTTPStatusCode(err error) int {
	return ToHTTPError(err).StatusCode
}
