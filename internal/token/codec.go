// Package token encodes and decodes the signed, self-contained tokens handed
// to clients. A token carries the session fingerprint and its kind; it has no
// server-side state.
package token

import (
	"errors"
	"fmt"
	"time"

	"colleague-auth/internal/apperrors"
	"colleague-auth/internal/config"
	"colleague-auth/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// Kind separates access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claims is the signed payload.
type Claims struct {
	Identity models.Fingerprint `json:"identity"`
	Kind     Kind               `json:"type"`
	jwt.RegisteredClaims
}

// Pair is the access and refresh token minted for one login.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Codec signs and verifies HS256 tokens with a single server secret.
type Codec struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	parser     *jwt.Parser
}

type Option func(*Codec)

// WithClock overrides the time source used for iat, exp and validation.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

func NewCodec(secret []byte, cfg config.JWTConfig, opts ...Option) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("token signing secret is empty")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}

	c := &Codec{
		secret:     secret,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
	}
	if c.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(c.issuer))
	}
	c.parser = jwt.NewParser(parserOpts...)

	return c, nil
}

// Lifetime returns the configured lifetime for kind.
func (c *Codec) Lifetime(kind Kind) time.Duration {
	if kind == KindRefresh {
		return c.refreshTTL
	}
	return c.accessTTL
}

// Encode signs identity as a token of the given kind expiring at expiresAt.
// The output only depends on its inputs and the clock.
func (c *Codec) Encode(identity models.Fingerprint, kind Kind, expiresAt time.Time) (string, error) {
	if kind != KindAccess && kind != KindRefresh {
		return "", fmt.Errorf("unknown token kind %q", kind)
	}

	claims := Claims{
		Identity: identity,
		Kind:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(c.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// IssuePair mints an access and a refresh token sharing identity.
func (c *Codec) IssuePair(identity models.Fingerprint) (Pair, error) {
	now := c.now()

	access, err := c.Encode(identity, KindAccess, now.Add(c.accessTTL))
	if err != nil {
		return Pair{}, err
	}
	refresh, err := c.Encode(identity, KindRefresh, now.Add(c.refreshTTL))
	if err != nil {
		return Pair{}, err
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// Decode verifies the signature and expiry of raw. It returns
// apperrors.ErrTokenExpired for expired tokens and apperrors.ErrTokenMalformed
// for anything else that fails verification.
func (c *Codec) Decode(raw string) (*Claims, error) {
	claims := &Claims{}

	_, err := c.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		// Signature is checked before expiry, so an expired error implies a
		// genuine token.
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.ErrTokenExpired
		}
		return nil, apperrors.ErrTokenMalformed
	}

	if claims.Identity.UserID == "" || claims.Identity.DeviceID == "" {
		return nil, apperrors.ErrTokenMalformed
	}
	if claims.Kind != KindAccess && claims.Kind != KindRefresh {
		return nil, apperrors.ErrTokenMalformed
	}

	return claims, nil
}

// DecodeKind is Decode plus a check that the token is of the wanted kind.
func (c *Codec) DecodeKind(raw string, want Kind) (*Claims, error) {
	claims, err := c.Decode(raw)
	if err != nil {
		return nil, err
	}
	if claims.Kind != want {
		return nil, apperrors.ErrTokenMalformed
	}
	return claims, nil
}
