package security

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is what the client needs to know about its own bearer token.
// The signature is checked by the server; the client only reads the claims.
type Claims struct {
	Subject   string
	ExpiresAt time.Time // zero when the token has no exp claim
}

// Expired reports whether the token is past its exp claim at now.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ParseClaims extracts the subject and expiry from a JWT without verifying it.
func ParseClaims(tokenStr string) (Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return Claims{}, fmt.Errorf("parse token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return Claims{}, fmt.Errorf("token subject: %w", err)
	}
	if sub == "" {
		return Claims{}, jwt.ErrTokenInvalidSubject
	}
	out := Claims{Subject: sub}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("token expiry: %w", err)
	}
	if exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}
