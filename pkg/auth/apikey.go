package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	// KeyPrefix identifies Vantage API keys
	KeyPrefix = "vnt_"
	// KeyLength is the total length of random bytes (32 bytes = 256 bits)
	KeyLength = 32
)

// APIKey represents an API key record. The raw key is returned exactly once
// at creation time and only its SHA-256 hash is stored.
type APIKey struct {
	ID             int64      `json:"id"`
	OrganizationID int64      `json:"organization_id"`
	UserID         int64      `json:"user_id"`
	KeyHash        string     `json:"-"`
	KeyDisplay     string     `json:"key_display"`
	Name           string     `json:"name"`
	Active         bool       `json:"active"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

// KeyGenerator generates and hashes API keys
type KeyGenerator struct{}

// NewKeyGenerator creates a new key generator
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{}
}

// Generate creates a new API key.
// Format: vnt_<base64url(32 random bytes)>
func (g *KeyGenerator) Generate() (key string, keyHash string, keyDisplay string, err error) {
	randomBytes := make([]byte, KeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	full := KeyPrefix + encoded

	return full, g.Hash(full), displayPrefix(full), nil
}

// Hash computes the SHA-256 hash of a key for storage and lookup.
func (g *KeyGenerator) Hash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ValidateFormat checks if a key has the correct shape before hitting the
// database.
func (g *KeyGenerator) ValidateFormat(key string) error {
	if !strings.HasPrefix(key, KeyPrefix) {
		return fmt.Errorf("key must start with %q", KeyPrefix)
	}

	encoded := strings.TrimPrefix(key, KeyPrefix)
	if encoded == "" {
		return fmt.Errorf("key is too short")
	}
	if _, err := base64.RawURLEncoding.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid key encoding: %w", err)
	}
	return nil
}

// displayPrefix extracts the short prefix shown in listings.
func displayPrefix(key string) string {
	encoded := strings.TrimPrefix(key, KeyPrefix)
	if len(encoded) >= 8 {
		return KeyPrefix + encoded[:8]
	}
	return key
}
