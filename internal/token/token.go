// Package token inspects bearer tokens without verifying their signature.
// The client only needs the expiry claim to decide whether a persisted
// session is still usable; signature validation is the server's job.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// ExpiresAt decodes raw as a JWT and returns its expiry claim.
// An undecodable token or a missing exp claim is an error; callers treat
// both as an expired session.
func ExpiresAt(raw string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, errors.Wrap(err, "failed to decode token")
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token has no expiry claim")
	}
	return claims.ExpiresAt.Time, nil
}

// Valid reports whether raw expires more than skew after now. Tokens that
// cannot be decoded are never valid.
func Valid(raw string, skew time.Duration, now time.Time) bool {
	exp, err := ExpiresAt(raw)
	if err != nil {
		return false
	}
	return exp.After(now.Add(skew))
}
