package auth

import "github.com/golang-jwt/jwt/v5"

// Claims represents the JWT claims carried by an access token. UserType is
// a pointer because a newly registered user has not yet completed role
// selection: nil means "authenticated, role not yet chosen."
type Claims struct {
	jwt.RegisteredClaims
	UserType   *string `json:"user_type,omitempty"`
	IsVerified bool    `json:"is_verified"`
}
