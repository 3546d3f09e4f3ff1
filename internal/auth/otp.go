package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

var otpMax = big.NewInt(1_000_000) // 10^6 for 6-digit OTP

// GenerateOTP generates a cryptographically random 6-digit verification
// code. Uses crypto/rand with rejection sampling (via big.Int) to avoid
// modulo bias. The code is zero-padded (e.g., "000123").
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpMax)
	if err != nil {
		return "", fmt.Errorf("generate OTP: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// HashPhone returns the SHA-256 hex digest of an E.164 phone number.
// Used as the partition key for the user table's phone_hash index and
// for the audit log, so that raw phone numbers never sit in plaintext
// indexes.
func HashPhone(phone string) string {
	h := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(h[:])
}
