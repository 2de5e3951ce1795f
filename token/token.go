// Package token holds the access/refresh token pair issued by the backend
// and best-effort JWT introspection helpers for it.
//
// Introspection here is deliberately unverified except for Verify: the
// backend validates every token on every request, so local checks only
// decide when to refresh or which screen to show.
package token

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Pair holds the access and refresh tokens for a session.
// The access token is a JWT; the refresh token is opaque to the client.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// ExpirationTime decodes the JWT payload without verifying the signature
// and returns the exp claim. ok is false when the token cannot be decoded
// or carries no expiry.
func ExpirationTime(raw string) (time.Time, bool) {
	claims, err := unverifiedClaims(raw)
	if err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// IsExpired reports whether the token's expiry has passed. Undecodable
// tokens report expired, so callers always fall through to a refresh
// rather than sending a token the backend will reject anyway.
func IsExpired(raw string) bool {
	exp, ok := ExpirationTime(raw)
	if !ok {
		return true
	}
	return !NowTimeFunc().Before(exp)
}

// Subject returns the sub claim, or "" when the token cannot be decoded.
func Subject(raw string) string {
	claims, err := unverifiedClaims(raw)
	if err != nil {
		return ""
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

// Verify parses the token and checks its HMAC signature and expiry against
// the given secret. Used in production builds where a shared verification
// secret is configured; everywhere else IsExpired is the only local check.
func Verify(raw string, secret []byte) error {
	parsed, err := jwtlib.Parse(raw, func(*jwtlib.Token) (any, error) {
		return secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwtlib.WithExpirationRequired())
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return jwtlib.ErrTokenUnverifiable
	}
	return nil
}

func unverifiedClaims(raw string) (jwtlib.MapClaims, error) {
	unverified, _, err := jwtlib.NewParser().ParseUnverified(raw, jwtlib.MapClaims{})
	if err != nil {
		return nil, err
	}
	claims, ok := unverified.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, jwtlib.ErrTokenMalformed
	}
	return claims, nil
}
