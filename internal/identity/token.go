package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scopes carried by platform tokens.
const (
	ScopeRegister = "registrations:write"
	ScopeAnchor   = "anchors:write"
)

// ErrEmptySecret is returned when a token issuer is created without a key.
var ErrEmptySecret = errors.New("token secret is empty")

// PlatformClaims are the JWT claims for a platform token. A platform token
// binds registrations submitted with it to one platform ID.
type PlatformClaims struct {
	jwt.RegisteredClaims
	PlatformID string   `json:"platform_id"`
	Scopes     []string `json:"scopes"`
}

// PlatformTokenIssuer issues and verifies platform tokens signed with HS256.
type PlatformTokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewPlatformTokenIssuer creates a PlatformTokenIssuer.
//
//	secret — HMAC key shared by every server instance.
//	issuer — The "iss" claim value.
//	ttl    — Token lifetime (default: 30 days).
func NewPlatformTokenIssuer(secret []byte, issuer string, ttl time.Duration) (*PlatformTokenIssuer, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if ttl == 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &PlatformTokenIssuer{
		secret: append([]byte(nil), secret...),
		issuer: issuer,
		ttl:    ttl,
	}, nil
}

// Issue creates a signed token for platformID with the requested scopes.
func (t *PlatformTokenIssuer) Issue(platformID string, scopes []string) (string, error) {
	if platformID == "" {
		return "", fmt.Errorf("platform id is required")
	}
	now := time.Now().UTC()
	claims := PlatformClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   platformID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		PlatformID: platformID,
		Scopes:     scopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a platform token, returning its claims on success.
func (t *PlatformTokenIssuer) Verify(tokenStr string) (*PlatformClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&PlatformClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(*PlatformClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.PlatformID == "" {
		return nil, fmt.Errorf("token has no platform_id")
	}
	return claims, nil
}

// TTL returns the configured token lifetime.
func (t *PlatformTokenIssuer) TTL() time.Duration { return t.ttl }

// HasScope checks whether the claims contain the requested scope.
func HasScope(claims *PlatformClaims, scope string) bool {
	if claims == nil {
		return false
	}
	for _, s := range claims.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
