package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the parts of an upstream access token the gateway cares about.
type Claims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

var unverified = jwt.NewParser()

// ReadClaims extracts subject and timestamps from a JWT without verifying
// its signature. The upstream backend is the only party that validates
// tokens; the gateway reads them for bookkeeping only.
// Simple JWT backends put the subject in "user_id" rather than "sub".
func ReadClaims(token string) (Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := unverified.ParseUnverified(token, claims); err != nil {
		return Claims{}, fmt.Errorf("reading token claims: %w", err)
	}
	var c Claims
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		c.Subject = sub
	} else if uid, ok := claims["user_id"]; ok {
		c.Subject = fmt.Sprint(uid)
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}
