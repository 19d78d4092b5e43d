// Package auth issues and verifies bearer session tokens and implements
// credential registration and login.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/lobbychat/internal/domain"
)

var (
	// ErrInvalidToken covers bad signatures, algorithms, claims and garbage input.
	ErrInvalidToken = fmt.Errorf("invalid token: %w", domain.ErrInvalid)
	// ErrExpiredToken is returned once the clock reaches the token's exp.
	ErrExpiredToken = fmt.Errorf("token has expired: %w", domain.ErrUnauthorized)
)

// TokenIssuer signs and verifies HS256 session tokens. It holds no mutable
// state and is safe for concurrent use.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewTokenIssuer returns an issuer signing with secret. Tokens expire ttl
// after issuance.
func NewTokenIssuer(secret string, ttl time.Duration, issuer string) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: issuer,
		now:    time.Now,
	}
}

// WithClock replaces the time source used for issuance and expiry checks.
func (ti *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	ti.now = now
	return ti
}

// TTL returns the configured token lifetime.
func (ti *TokenIssuer) TTL() time.Duration {
	return ti.ttl
}

// Issue returns a signed token for subject valid for the configured TTL.
func (ti *TokenIssuer) Issue(subject string) (domain.Token, error) {
	if subject == "" {
		return domain.Token{}, fmt.Errorf("empty subject: %w", domain.ErrInvalid)
	}

	// NumericDate has second precision.
	issuedAt := ti.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(ti.ttl)

	claims := jwt.RegisteredClaims{
		Issuer:    ti.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return domain.Token{}, fmt.Errorf("sign token: %w", err)
	}

	return domain.Token{
		Value:     signed,
		Subject:   subject,
		ExpiresAt: expiresAt.UTC(),
	}, nil
}

// Verify checks the signature and expiry of token and returns its subject.
// Errors are ErrInvalidToken or ErrExpiredToken.
func (ti *TokenIssuer) Verify(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	}
	if ti.issuer != "" {
		opts = append(opts, jwt.WithIssuer(ti.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return ti.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
