// token.go

// Signed bearer token issuance and verification.
//
// Tokens are HS256 JWTs carrying user id, email, and role. Any process
// holding the signing secret can verify a bearer without a database round
// trip; the session registry exists for audit and revocation, not for the
// primary authorization decision. Storage only ever sees the SHA-256
// fingerprint of a token, never the token itself.
package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired marks a token that was validly signed but is past its
// expiry window. Callers treat it as unauthenticated but may log it apart
// from forgeries.
var ErrTokenExpired = errors.New("token expired")

// ErrTokenInvalid marks a token that is syntactically or cryptographically
// invalid.
var ErrTokenInvalid = errors.New("token invalid")

// Claims is the claim set bound into every issued token.
type Claims struct {
	UserID  int64  `json:"user_id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies bearer tokens with a server-held secret.
// Verification is pure computation; safe for concurrent use.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService returns a TokenService issuing tokens valid for ttl.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), ttl: ttl}
}

// TTL returns the validity window of issued tokens.
func (t *TokenService) TTL() time.Duration { return t.ttl }

// Issue produces a signed token for the given identity. The jti claim gives
// every issuance a distinct identity even for back-to-back logins within the
// same second.
func (t *TokenService) Issue(userID int64, email string, isAdmin bool) (string, *Claims, error) {
	jti, err := uuid.NewV7()
	if err != nil {
		return "", nil, fmt.Errorf("generating jti: %w", err)
	}

	now := time.Now()
	claims := &Claims{
		UserID:  userID,
		Email:   email,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", nil, fmt.Errorf("signing token: %w", err)
	}
	return signed, claims, nil
}

// Verify checks signature and expiry. Returns ErrTokenExpired for a validly
// signed token past its window and ErrTokenInvalid for everything else wrong
// with it; callers distinguish the two with errors.Is.
func (t *TokenService) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(tk *jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Fingerprint returns the SHA-256 of a raw token, base64url-encoded.
// This is the only form in which a token is ever persisted.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
