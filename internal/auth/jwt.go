// Package auth provides the authentication primitives of the API: bearer
// tokens, password hashing, password-reset tokens, the Google OAuth client,
// and the middleware that gates protected routes.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. The client registers or logs in (POST /auth/register, /auth/login),
//     or completes Google OAuth (GET /auth/google → /auth/google/callback).
//  2. The server answers with a signed JWT that embeds the user's ID and
//     expires 7 days after issuance.
//  3. The client sends it back on every protected request as
//     "Authorization: Bearer <token>".
//  4. RequireAuth validates the token, loads the user and puts it in the
//     request context.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"<userID>","iss":"job-tracker","iat":...,"exp":...}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is how long an issued token stays valid.
const DefaultTokenTTL = 7 * 24 * time.Hour

const tokenIssuer = "job-tracker"

var (
	// ErrTokenExpired is returned by Validate for a well-formed token whose
	// expiry has passed.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid covers every other rejection: bad signature, wrong
	// algorithm or issuer, missing claims, garbage input.
	ErrTokenInvalid = errors.New("auth: invalid token")
)

// TokenService handles JWT creation and validation.
//
// now is the clock used for both issuing and checking tokens. Production
// code uses time.Now; tests swap it to move across the expiry boundary
// without sleeping.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a TokenService with the given secret and token
// lifetime. A non-positive ttl falls back to DefaultTokenTTL.
// Example secret: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// WithClock returns a copy of the service that reads time from now.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	cp := *s
	cp.now = now
	return &cp
}

// TTL returns the lifetime of tokens issued by Generate.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

type claims struct {
	jwt.RegisteredClaims
}

// Generate creates and signs a token for userID that expires TTL() after
// issuance.
func (s *TokenService) Generate(userID string) (string, error) {
	return s.GenerateWithDuration(userID, s.ttl)
}

// GenerateWithDuration creates a token with a custom lifetime. A negative
// duration yields an already-expired token, which tests rely on.
//
// JWT NumericDate values have one-second precision, so the issue time is
// truncated to the second first. That keeps exp exactly iat+d instead of
// drifting by the dropped fraction.
func (s *TokenService) GenerateWithDuration(userID string, d time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("auth: cannot issue token without a subject")
	}

	issuedAt := s.now().Truncate(time.Second)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(d)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate verifies a token and returns the user ID in its "sub" claim.
//
// The signature and algorithm are checked by the jwt parser. Expiry is
// checked here instead of by the library's claim validator: the library
// rejects a token at the exact instant it expires, while a token issued at T
// must still be accepted at T+TTL and rejected only strictly after.
//
// ALGORITHM CONFUSION ATTACK:
// Without pinning the algorithm, an attacker could send a token signed with
// "none". jwt.WithValidMethods rejects anything that isn't HS256.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("%w: unreadable claims", ErrTokenInvalid)
	}
	if c.Issuer != tokenIssuer {
		return "", fmt.Errorf("%w: unexpected issuer %q", ErrTokenInvalid, c.Issuer)
	}
	if c.ExpiresAt == nil {
		return "", fmt.Errorf("%w: missing exp claim", ErrTokenInvalid)
	}
	if s.now().After(c.ExpiresAt.Time) {
		return "", ErrTokenExpired
	}
	if c.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrTokenInvalid)
	}

	return c.Subject, nil
}
