package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vantagecms/vantage/pkg/authz"
)

// APIKeyStore manages API key persistence and lookup.
type APIKeyStore struct {
	db  *sql.DB
	gen *KeyGenerator
	now func() time.Time
}

// NewAPIKeyStore creates a new API key store
func NewAPIKeyStore(db *sql.DB) *APIKeyStore {
	return &APIKeyStore{db: db, gen: NewKeyGenerator(), now: time.Now}
}

// Create issues a new API key for a user in an organization. The raw key is
// returned once and never stored.
func (s *APIKeyStore) Create(ctx context.Context, organizationID, userID int64, name string, expiresAt *time.Time) (*APIKey, string, error) {
	raw, hash, display, err := s.gen.Generate()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate key: %w", err)
	}

	key := &APIKey{
		OrganizationID: organizationID,
		UserID:         userID,
		KeyHash:        hash,
		KeyDisplay:     display,
		Name:           name,
		Active:         true,
		ExpiresAt:      expiresAt,
	}

	query := `
		INSERT INTO api_keys (organization_id, user_id, key_hash, key_display, name, active, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	now := s.now()
	err = s.db.QueryRowContext(ctx, query,
		key.OrganizationID, key.UserID, key.KeyHash, key.KeyDisplay, key.Name, key.Active, key.ExpiresAt, now,
	).Scan(&key.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create api key: %w", err)
	}
	key.CreatedAt = now

	return key, raw, nil
}

// Validate looks up a raw key and checks it is active, not expired and not
// revoked. Returns authz.ErrUnauthenticated for every invalid-credential
// case so callers cannot distinguish a revoked key from an unknown one.
func (s *APIKeyStore) Validate(ctx context.Context, raw string) (*APIKey, error) {
	if err := s.gen.ValidateFormat(raw); err != nil {
		return nil, authz.ErrUnauthenticated
	}

	query := `
		SELECT id, organization_id, user_id, key_display, name, active, expires_at, last_used_at, created_at, revoked_at
		FROM api_keys
		WHERE key_hash = $1
	`
	key := &APIKey{KeyHash: s.gen.Hash(raw)}
	var expiresAt, lastUsedAt, revokedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, key.KeyHash).Scan(
		&key.ID, &key.OrganizationID, &key.UserID, &key.KeyDisplay, &key.Name,
		&key.Active, &expiresAt, &lastUsedAt, &key.CreatedAt, &revokedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authz.ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}

	if expiresAt.Valid {
		t := expiresAt.Time
		key.ExpiresAt = &t
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		key.LastUsedAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		key.RevokedAt = &t
	}

	now := s.now()
	if !key.Active || key.RevokedAt != nil {
		return nil, authz.ErrUnauthenticated
	}
	if key.ExpiresAt != nil && now.After(*key.ExpiresAt) {
		return nil, authz.ErrUnauthenticated
	}

	// Best effort; a failed timestamp update must not fail authentication.
	_, _ = s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, now, key.ID)

	return key, nil
}

// Revoke marks a key revoked. Revoking an already-revoked key is a no-op.
func (s *APIKeyStore) Revoke(ctx context.Context, keyID int64) error {
	query := `UPDATE api_keys SET active = FALSE, revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`
	_, err := s.db.ExecContext(ctx, query, s.now(), keyID)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	return nil
}

// List returns all keys for an organization, newest first.
func (s *APIKeyStore) List(ctx context.Context, organizationID int64) ([]*APIKey, error) {
	query := `
		SELECT id, organization_id, user_id, key_display, name, active, expires_at, last_used_at, created_at, revoked_at
		FROM api_keys
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		key := &APIKey{}
		var expiresAt, lastUsedAt, revokedAt sql.NullTime
		if err := rows.Scan(
			&key.ID, &key.OrganizationID, &key.UserID, &key.KeyDisplay, &key.Name,
			&key.Active, &expiresAt, &lastUsedAt, &key.CreatedAt, &revokedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			key.ExpiresAt = &t
		}
		if lastUsedAt.Valid {
			t := lastUsedAt.Time
			key.LastUsedAt = &t
		}
		if revokedAt.Valid {
			t := revokedAt.Time
			key.RevokedAt = &t
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// CleanupExpired deactivates keys whose expiry has passed. Run periodically.
func (s *APIKeyStore) CleanupExpired(ctx context.Context) (int64, error) {
	query := `UPDATE api_keys SET active = FALSE WHERE active = TRUE AND expires_at IS NOT NULL AND expires_at < $1`
	result, err := s.db.ExecContext(ctx, query, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired api keys: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}
