package app

import (
	"math"
	"time"

	"github.com/ridewise/authcore/internal/domain"
)

// verificationDelay computes the progressive sleep applied before a
// verify_code attempt is actually checked: zero until the phone has
// accumulated domain.DelayAfterAttempts failures, then
// base * multiplier^(failedAttempts - delayAfterAttempts), capped at max.
func verificationDelay(failedAttempts int) time.Duration {
	if failedAttempts < domain.DelayAfterAttempts {
		return 0
	}

	exponent := float64(failedAttempts - domain.DelayAfterAttempts)
	delay := float64(domain.DelayBase) * math.Pow(domain.DelayBackoffMultiplier, exponent)

	if delay > float64(domain.DelayMax) {
		return domain.DelayMax
	}
	return time.Duration(delay)
}
