package identity

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/scanledger/internal/clock"
	"github.com/smallbiznis/scanledger/internal/config"
)

var (
	ErrMissingSecret = errors.New("auth_jwt_secret_not_configured")
	ErrInvalidToken  = errors.New("invalid_token")
)

// Tokens issues and parses HS256 access tokens.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  clock.Clock
}

func NewTokens(cfg config.Config, clk clock.Clock) (*Tokens, error) {
	if cfg.AuthJWTSecret == "" {
		if cfg.IsProduction() {
			return nil, ErrMissingSecret
		}
		cfg.AuthJWTSecret = "scanledger-development-secret"
	}
	ttl := cfg.AuthTokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Tokens{
		secret: []byte(cfg.AuthJWTSecret),
		issuer: cfg.AppName,
		ttl:    ttl,
		clock:  clk,
	}, nil
}

// Issue signs a token whose subject is subject.
func (t *Tokens) Issue(subject string) (string, time.Time, error) {
	now := t.clock.Now()
	expires := now.Add(t.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    t.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Subject validates raw and returns its subject claim.
func (t *Tokens) Subject(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidToken
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
