package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gatehouse.org/internal/clock"
)

const defaultIssuer = "gatehouse"

var (
	// ErrInvalidToken indicates the token failed validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingSecret indicates no signing secret was configured.
	ErrMissingSecret = errors.New("auth secret is not configured")
)

// Claims represents the JWT claims carried by principal tokens.
type Claims struct {
	Role string `json:"role"`
	Unit string `json:"unit,omitempty"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 principal tokens.
type Tokens struct {
	secret []byte
	issuer string
	clock  clock.Clock
	skew   time.Duration
}

// TokenOption configures Tokens.
type TokenOption func(*Tokens)

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(t *Tokens) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			t.issuer = issuer
		}
	}
}

// WithTokenClock sets the time source used for issuing and validating tokens.
func WithTokenClock(c clock.Clock) TokenOption {
	return func(t *Tokens) {
		if c != nil {
			t.clock = c
		}
	}
}

// NewTokens constructs a signer/verifier for secret.
func NewTokens(secret string, opts ...TokenOption) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	t := &Tokens{
		secret: []byte(secret),
		issuer: defaultIssuer,
		clock:  clock.Real(),
		skew:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Generate signs a token for p valid for ttl.
func (t *Tokens) Generate(p Principal, ttl time.Duration) (string, time.Time, error) {
	if !p.Authenticated() {
		return "", time.Time{}, errors.New("principal id and a known role are required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be greater than zero")
	}

	now := t.clock.Now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Role: string(p.Role),
		Unit: strings.TrimSpace(p.UnitNumber),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   strings.TrimSpace(p.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseAndValidate verifies the token signature and claims and returns the principal.
func (t *Tokens) ParseAndValidate(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrInvalidToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(t.skew),
		jwt.WithTimeFunc(t.clock.Now),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}

	role, ok := ParseRole(claims.Role)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return Principal{}, ErrInvalidToken
	}
	return Principal{ID: claims.Subject, Role: role, UnitNumber: claims.Unit}, nil
}
