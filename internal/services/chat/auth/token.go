// Package auth issues and verifies chat session tokens and normalizes the
// account credentials users present at login.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/babel.chat/internal/platform/errors"
)

// DefaultTokenTTL is how long a session token stays valid.
const DefaultTokenTTL = 7 * 24 * time.Hour

const signingMethod = "HS256"

// Identity is the verified caller bound to a connection or request.
type Identity struct {
	UserID         string
	DisplayName    string
	ContactAddress string
}

// sessionClaims is the JWT body; field names match what web clients decode.
type sessionClaims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// IssuerConfig configures token signing.
type IssuerConfig struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer validates cfg and returns an Issuer.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	return &Issuer{secret: secret, ttl: cfg.TTL, now: cfg.Now}, nil
}

// Issue signs a session token for identity.
func (i *Issuer) Issue(identity Identity) (string, error) {
	if strings.TrimSpace(identity.UserID) == "" {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "user id is required")
	}
	now := i.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		UserID:   identity.UserID,
		Username: identity.DisplayName,
		Email:    identity.ContactAddress,
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of token and returns its identity.
// Every failure is an AUTH_ERROR.
func (i *Issuer) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, apperrors.New(apperrors.CodeAuth, "token is required")
	}

	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{signingMethod}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return Identity{}, mapJWTError(err)
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return Identity{}, apperrors.New(apperrors.CodeAuth, "token has no user")
	}
	return Identity{
		UserID:         claims.UserID,
		DisplayName:    claims.Username,
		ContactAddress: claims.Email,
	}, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.Wrap(apperrors.CodeAuth, "token is expired", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperrors.Wrap(apperrors.CodeAuth, "token signature is invalid", err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return apperrors.Wrap(apperrors.CodeAuth, "token alg is invalid", err)
	default:
		return apperrors.Wrap(apperrors.CodeAuth, "token is invalid", err)
	}
}
