package scopes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/vantagecms/vantage/pkg/authz"
)

// isUniqueViolation recognizes unique-constraint errors from the lib/pq
// production driver and from the sqlite driver the tests run on. The
// existence pre-checks race with concurrent writers; the constraint is the
// arbiter.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Store handles scope persistence. A scope is unique per (name,
// organization_id); global system scopes carry a NULL organization and are
// visible to every tenant.
type Store struct {
	db *sql.DB
}

// NewStore creates a new scope store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const scopeColumns = `id, name, label, description, category, platform, active, system, organization_id, created_at, updated_at`

// Create inserts a new scope. Returns authz.ErrConflict when a scope with the
// same name already exists in the same organization.
func (s *Store) Create(ctx context.Context, scope *Scope) error {
	existing, err := s.GetByName(ctx, scope.Name, scope.OrganizationID)
	if err != nil && !errors.Is(err, authz.ErrNotFound) {
		return err
	}
	if existing != nil {
		return fmt.Errorf("scope %q: %w", scope.Name, authz.ErrConflict)
	}

	query := `
		INSERT INTO api_scopes (name, label, description, category, platform, active, system, organization_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	now := time.Now()
	err = s.db.QueryRowContext(ctx, query,
		scope.Name,
		scope.Label,
		scope.Description,
		scope.Category,
		scope.Platform,
		scope.Active,
		scope.System,
		scope.OrganizationID,
		now,
		now,
	).Scan(&scope.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("scope %q: %w", scope.Name, authz.ErrConflict)
		}
		return fmt.Errorf("failed to create scope: %w", err)
	}

	scope.CreatedAt = now
	scope.UpdatedAt = now
	return nil
}

// Get retrieves a scope by ID, restricted to the caller's organization plus
// global scopes. A scope belonging to another tenant reads as not found.
func (s *Store) Get(ctx context.Context, scopeID int64, organizationID *int64) (*Scope, error) {
	query := `
		SELECT ` + scopeColumns + `
		FROM api_scopes
		WHERE id = $1 AND (organization_id IS NULL OR organization_id = $2)
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, scopeID, organizationID))
}

// GetByName retrieves a scope by name within an organization, falling back to
// the global scope of the same name.
func (s *Store) GetByName(ctx context.Context, name string, organizationID *int64) (*Scope, error) {
	query := `
		SELECT ` + scopeColumns + `
		FROM api_scopes
		WHERE name = $1 AND (organization_id = $2 OR organization_id IS NULL)
		ORDER BY organization_id DESC NULLS LAST
		LIMIT 1
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, name, organizationID))
}

// List returns the scopes visible to an organization: its own plus global
// system scopes.
func (s *Store) List(ctx context.Context, organizationID *int64, filter ListFilter) ([]*Scope, error) {
	query := `
		SELECT ` + scopeColumns + `
		FROM api_scopes
		WHERE (organization_id IS NULL OR organization_id = $1)
	`
	args := []interface{}{organizationID}

	if filter.Category != "" {
		args = append(args, filter.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if filter.Platform != "" {
		args = append(args, filter.Platform)
		query += fmt.Sprintf(" AND platform = $%d", len(args))
	}
	if filter.ActiveOnly {
		query += " AND active = TRUE"
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}
	defer rows.Close()

	var result []*Scope
	for rows.Next() {
		scope, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, scope)
	}
	return result, rows.Err()
}

// Update rewrites the mutable attributes of a scope. Name changes that would
// collide with an existing scope return authz.ErrConflict.
func (s *Store) Update(ctx context.Context, scope *Scope) error {
	current, err := s.Get(ctx, scope.ID, scope.OrganizationID)
	if err != nil {
		return err
	}
	if current.Name != scope.Name {
		existing, err := s.GetByName(ctx, scope.Name, scope.OrganizationID)
		if err != nil && !errors.Is(err, authz.ErrNotFound) {
			return err
		}
		if existing != nil && existing.ID != scope.ID {
			return fmt.Errorf("scope %q: %w", scope.Name, authz.ErrConflict)
		}
	}

	query := `
		UPDATE api_scopes
		SET name = $1, label = $2, description = $3, category = $4, platform = $5, active = $6, updated_at = $7
		WHERE id = $8
	`
	_, err = s.db.ExecContext(ctx, query,
		scope.Name, scope.Label, scope.Description, scope.Category, scope.Platform, scope.Active, time.Now(), scope.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update scope: %w", err)
	}
	return nil
}

// Delete removes a tenant scope and cascades its role bindings. System scopes
// cannot be deleted; a scope owned by another tenant reads as not found.
func (s *Store) Delete(ctx context.Context, scopeID int64, organizationID *int64) error {
	scope, err := s.Get(ctx, scopeID, organizationID)
	if err != nil {
		return err
	}
	if scope.System {
		return fmt.Errorf("system scope %q cannot be deleted: %w", scope.Name, authz.ErrForbidden)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_api_scopes WHERE scope_id = $1`, scopeID); err != nil {
		return fmt.Errorf("failed to delete scope bindings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM api_scopes WHERE id = $1`, scopeID); err != nil {
		return fmt.Errorf("failed to delete scope: %w", err)
	}

	return tx.Commit()
}

func (s *Store) scanOne(row *sql.Row) (*Scope, error) {
	scope := &Scope{}
	var orgID sql.NullInt64
	err := row.Scan(
		&scope.ID, &scope.Name, &scope.Label, &scope.Description, &scope.Category,
		&scope.Platform, &scope.Active, &scope.System, &orgID, &scope.CreatedAt, &scope.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authz.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scope: %w", err)
	}
	if orgID.Valid {
		id := orgID.Int64
		scope.OrganizationID = &id
	}
	return scope, nil
}

func (s *Store) scanRow(rows *sql.Rows) (*Scope, error) {
	scope := &Scope{}
	var orgID sql.NullInt64
	err := rows.Scan(
		&scope.ID, &scope.Name, &scope.Label, &scope.Description, &scope.Category,
		&scope.Platform, &scope.Active, &scope.System, &orgID, &scope.CreatedAt, &scope.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan scope: %w", err)
	}
	if orgID.Valid {
		id := orgID.Int64
		scope.OrganizationID = &id
	}
	return scope, nil
}
