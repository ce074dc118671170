// Package session issues and verifies the signed session token and binds
// it to the HTTP response as a cookie.  Tokens are stateless: validity is
// entirely a function of the HMAC signature and the embedded expiry.
package session

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "waitlist-admin"

var (
	// ErrInvalidToken covers malformed input, bad signatures and wrong
	// algorithms.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned once now > expires_at + clock skew.
	ErrTokenExpired = errors.New("token expired")
)

// Identity is the account data a token carries.
type Identity struct {
	AccountID  uint64
	Identifier string
	Role       string
}

// Claims is the JWT payload.  Timestamps are epoch seconds (NumericDate).
type Claims struct {
	AccountID  uint64 `json:"aid"`
	Identifier string `json:"idf"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// Token is a signed token and its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenService signs with HS256 using a server-held secret.
type TokenService struct {
	key  []byte
	skew time.Duration
	now  func() time.Time
}

// NewTokenService builds a service; skew is the leeway applied to exp,
// nbf and iat checks.
func NewTokenService(secret string, skew time.Duration) *TokenService {
	if skew < 0 {
		skew = 0
	}
	return &TokenService{key: []byte(secret), skew: skew, now: time.Now}
}

// Issue signs id into a token that expires ttl from now.
func (s *TokenService) Issue(id Identity, ttl time.Duration) (Token, error) {
	if ttl <= 0 {
		return Token{}, fmt.Errorf("session: non-positive ttl %s", ttl)
	}
	now := s.now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)
	claims := Claims{
		AccountID:  id.AccountID,
		Identifier: id.Identifier,
		Role:       id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatUint(id.AccountID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return Token{}, fmt.Errorf("session: sign: %w", err)
	}
	return Token{Value: signed, ExpiresAt: exp}, nil
}

// Verify checks signature, algorithm, issuer and time claims and returns
// the decoded claims.  Every failure maps to ErrInvalidToken or
// ErrTokenExpired.
func (s *TokenService) Verify(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.skew),
		jwt.WithTimeFunc(s.now),
		jwt.WithStrictDecoding(),
	)
	claims := &Claims{}
	tok, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, ErrInvalidToken
	case !tok.Valid:
		return nil, ErrInvalidToken
	}
	if claims.Subject != strconv.FormatUint(claims.AccountID, 10) || claims.AccountID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
