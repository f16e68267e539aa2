// Package auth implements bearer-token authentication for the Session
// Manager's connect step (SPEC_FULL.md §4.5): a JWT service that signs and
// validates HS256 tokens carrying a user identity.
//
// Grounded on the teacher's internal/auth/jwt.go (JWTService), condensed to
// drop the teacher's API-key and OAuth provider paths, which SPEC_FULL.md's
// Session Manager does not name.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrAuthDisabled is returned when no signing secret has been configured.
	ErrAuthDisabled = errors.New("auth: disabled")
	// ErrInvalidToken is returned when a bearer token fails to parse or validate.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Identity is the user identity carried inside a validated token.
type Identity struct {
	UserID string
	Email  string
}

// Claims is the JWT claim set issued for a session connection.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Service signs and validates bearer tokens for WebSocket connections.
type Service struct {
	secret []byte
	expiry time.Duration
}

// NewService builds a Service from a signing secret and token lifetime. An
// empty secret disables authentication entirely (Enabled reports false).
func NewService(secret string, expiry time.Duration) *Service {
	return &Service{secret: []byte(secret), expiry: expiry}
}

// Enabled reports whether token validation should run.
func (s *Service) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// Issue signs a token for the given user id.
func (s *Service) Issue(userID, email string) (string, error) {
	if !s.Enabled() {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("auth: user id required")
	}
	now := time.Now()
	claims := Claims{
		Email: strings.TrimSpace(email),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.expiry))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses a bearer token and returns the identity embedded in it.
func (s *Service) Validate(token string) (Identity, error) {
	if !s.Enabled() {
		return Identity{}, ErrAuthDisabled
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value, or returns it verbatim if no scheme prefix is present (the
// WebSocket transport also allows the raw token as a query parameter).
func BearerToken(headerOrRaw string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(headerOrRaw, prefix) {
		return strings.TrimSpace(headerOrRaw[len(prefix):])
	}
	return strings.TrimSpace(headerOrRaw)
}
