/*
token.go - JWT issue and verification

HS256 tokens carrying the principal's id, role, and email. Verification
yields an engine.Principal; everything downstream is role checks.
*/
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/promomundial/verification-engine/engine"
)

// TokenIssuer signs and verifies access tokens.
type TokenIssuer struct {
	Secret []byte
	TTL    time.Duration
}

// NewTokenIssuer creates an issuer. TTL defaults to 24h when zero,
// matching the promotion's session length.
func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{Secret: secret, TTL: ttl}
}

// Issue signs a token for the given principal.
func (ti *TokenIssuer) Issue(p engine.Principal, email string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   p.ID,
		"role":  string(p.Role),
		"email": email,
		"iat":   now.Unix(),
		"exp":   now.Add(ti.TTL).Unix(),
	})
	return token.SignedString(ti.Secret)
}

// Verify parses and validates a token, returning its principal. Any
// failure is Unauthenticated; callers never learn why a token was bad.
func (ti *TokenIssuer) Verify(tokenString string) (engine.Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrInvalidKeyType
		}
		return ti.Secret, nil
	})
	if err != nil || !token.Valid {
		return engine.Principal{}, fmt.Errorf("%w: invalid token", engine.ErrUnauthenticated)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return engine.Principal{}, fmt.Errorf("%w: invalid claims", engine.ErrUnauthenticated)
	}

	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if sub == "" || role == "" {
		return engine.Principal{}, fmt.Errorf("%w: incomplete claims", engine.ErrUnauthenticated)
	}

	return engine.Principal{ID: sub, Role: engine.Role(role)}, nil
}
