// Package auth issues and validates the two credential kinds the platform
// accepts: RS256 bearer tokens signed with the process signing key, and
// opaque API keys stored hashed.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vantagecms/vantage/pkg/signing"
)

// Claims are the JWT claims carried by issued access tokens.
type Claims struct {
	jwt.RegisteredClaims
	OrganizationID int64    `json:"org"`
	Scopes         []string `json:"scopes,omitempty"`
	Superuser      bool     `json:"superuser,omitempty"`
}

// TokenIssuer signs and verifies access tokens using the signing manager's
// keypair.
type TokenIssuer struct {
	keys     *signing.Manager
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. ttl defaults to 15 minutes.
func NewTokenIssuer(keys *signing.Manager, issuer, audience string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TokenIssuer{
		keys:     keys,
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Issue signs a new access token for the user in the given organization.
func (t *TokenIssuer) Issue(userID string, organizationID int64, scopes []string, superuser bool) (string, time.Time, error) {
	key, err := t.keys.SigningKey()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: signing key: %w", err)
	}
	kid, err := t.keys.KeyID()
	if err != nil {
		return "", time.Time{}, err
	}

	now := t.now()
	exp := now.Add(t.ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    t.issuer,
			Audience:  jwt.ClaimStrings{t.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		OrganizationID: organizationID,
		Scopes:         scopes,
		Superuser:      superuser,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses and validates a bearer token: RS256 signature against the
// manager's verification key, plus standard exp/iat/aud/iss checks.
func (t *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	pub, err := t.keys.VerificationKey()
	if err != nil {
		return nil, fmt.Errorf("auth: verification key: %w", err)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return pub, nil
	},
		jwt.WithIssuer(t.issuer),
		jwt.WithAudience(t.audience),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("auth: invalid token")
	}
	return claims, nil
}
