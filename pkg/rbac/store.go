package rbac

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

// Store handles role and binding persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateRole creates a new role. Role names are unique per organization.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	var existing int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM roles WHERE name = $1 AND organization_id = $2`,
		role.Name, role.OrganizationID,
	).Scan(&existing)
	if err == nil {
		return fmt.Errorf("role %q: %w", role.Name, authz.ErrConflict)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check role name: %w", err)
	}

	query := `
		INSERT INTO roles (name, description, organization_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	now := time.Now()
	err = s.db.QueryRowContext(ctx, query,
		role.Name, role.Description, role.OrganizationID, now, now,
	).Scan(&role.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("role %q: %w", role.Name, authz.ErrConflict)
		}
		return fmt.Errorf("failed to create role: %w", err)
	}
	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole retrieves a role by ID within an organization. Cross-tenant reads
// report not found.
func (s *Store) GetRole(ctx context.Context, roleID, organizationID int64) (*Role, error) {
	query := `
		SELECT id, name, description, organization_id, created_at, updated_at
		FROM roles
		WHERE id = $1 AND organization_id = $2
	`
	role := &Role{}
	err := s.db.QueryRowContext(ctx, query, roleID, organizationID).Scan(
		&role.ID, &role.Name, &role.Description, &role.OrganizationID, &role.CreatedAt, &role.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authz.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListRoles returns all roles in an organization.
func (s *Store) ListRoles(ctx context.Context, organizationID int64) ([]*Role, error) {
	query := `
		SELECT id, name, description, organization_id, created_at, updated_at
		FROM roles
		WHERE organization_id = $1
		ORDER BY name
	`
	rows, err := s.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role := &Role{}
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.OrganizationID, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// DeleteRole removes a role and all of its bindings.
func (s *Store) DeleteRole(ctx context.Context, roleID, organizationID int64) error {
	if _, err := s.GetRole(ctx, roleID, organizationID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM role_api_scopes WHERE role_id = $1`,
		`DELETE FROM role_permissions WHERE role_id = $1`,
		`DELETE FROM field_permissions WHERE role_id = $1`,
		`DELETE FROM user_roles WHERE role_id = $1`,
		`DELETE FROM roles WHERE id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, roleID); err != nil {
			return fmt.Errorf("failed to delete role: %w", err)
		}
	}
	return tx.Commit()
}

// AssignRole binds a role to a user. Assigning an already-assigned role is a
// no-op.
func (s *Store) AssignRole(ctx context.Context, userID, roleID int64) error {
	var existing int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID,
	).Scan(&existing)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check role assignment: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_roles (user_id, role_id, granted_at) VALUES ($1, $2, $3)`,
		userID, roleID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// RemoveRole unbinds a role from a user. Removing an absent binding is a
// no-op.
func (s *Store) RemoveRole(ctx context.Context, userID, roleID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return nil
}

// RolesForUser returns the IDs of the roles a user holds within one
// organization.
func (s *Store) RolesForUser(ctx context.Context, userID, organizationID int64) ([]int64, error) {
	query := `
		SELECT r.id
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1 AND r.organization_id = $2
		ORDER BY r.id
	`
	rows, err := s.db.QueryContext(ctx, query, userID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan role id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GrantScope binds a scope to a role. Granting an already-granted scope is a
// no-op, not an error.
func (s *Store) GrantScope(ctx context.Context, roleID, scopeID int64) error {
	var existing int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM role_api_scopes WHERE role_id = $1 AND scope_id = $2`, roleID, scopeID,
	).Scan(&existing)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check scope grant: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO role_api_scopes (role_id, scope_id, created_at) VALUES ($1, $2, $3)`,
		roleID, scopeID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to grant scope: %w", err)
	}
	return nil
}

// RevokeScope unbinds a scope from a role. Revoking an absent grant is a
// no-op.
func (s *Store) RevokeScope(ctx context.Context, roleID, scopeID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM role_api_scopes WHERE role_id = $1 AND scope_id = $2`, roleID, scopeID,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke scope: %w", err)
	}
	return nil
}

// ScopesForRoles returns the distinct active scope names bound to any of the
// given roles.
func (s *Store) ScopesForRoles(ctx context.Context, roleIDs []int64) ([]string, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(roleIDs))
	args := make([]interface{}, len(roleIDs))
	for i, id := range roleIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT sc.name
		FROM api_scopes sc
		JOIN role_api_scopes ras ON ras.scope_id = sc.id
		WHERE ras.role_id IN (%s) AND sc.active = TRUE
		ORDER BY sc.name
	`, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get role scopes: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan scope name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// GlobalSystemScopes returns the names of active global system scopes, which
// every tenant's principals receive implicitly.
func (s *Store) GlobalSystemScopes(ctx context.Context) ([]string, error) {
	query := `
		SELECT name FROM api_scopes
		WHERE organization_id IS NULL AND system = TRUE AND active = TRUE
		ORDER BY name
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get system scopes: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan scope name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// AllScopeNames returns every active scope name visible to an organization.
// Used for the superuser bypass.
func (s *Store) AllScopeNames(ctx context.Context, organizationID int64) ([]string, error) {
	query := `
		SELECT name FROM api_scopes
		WHERE active = TRUE AND (organization_id IS NULL OR organization_id = $1)
		ORDER BY name
	`
	rows, err := s.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get scope names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan scope name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// SetFieldPermission records an explicit grant or deny for (role,
// content_type, field, permission). Writing the same decision twice is a
// no-op; writing the opposite decision overwrites it.
func (s *Store) SetFieldPermission(ctx context.Context, fp *FieldPermission) error {
	var existingID int64
	var existingGranted bool
	err := s.db.QueryRowContext(ctx, `
		SELECT id, granted FROM field_permissions
		WHERE role_id = $1 AND content_type = $2 AND field_name = $3 AND permission = $4
	`, fp.RoleID, fp.ContentType, fp.FieldName, fp.Permission).Scan(&existingID, &existingGranted)

	switch {
	case err == nil:
		fp.ID = existingID
		if existingGranted == fp.Granted {
			return nil
		}
		_, err = s.db.ExecContext(ctx,
			`UPDATE field_permissions SET granted = $1 WHERE id = $2`, fp.Granted, existingID,
		)
		if err != nil {
			return fmt.Errorf("failed to update field permission: %w", err)
		}
		return nil
	case errors.Is(err, sql.ErrNoRows):
		query := `
			INSERT INTO field_permissions (role_id, content_type, field_name, permission, granted, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`
		now := time.Now()
		err = s.db.QueryRowContext(ctx, query,
			fp.RoleID, fp.ContentType, fp.FieldName, fp.Permission, fp.Granted, now,
		).Scan(&fp.ID)
		if err != nil {
			return fmt.Errorf("failed to create field permission: %w", err)
		}
		fp.CreatedAt = now
		return nil
	default:
		return fmt.Errorf("failed to check field permission: %w", err)
	}
}

// ClearFieldPermission removes the explicit row, returning the field to the
// default policy. Clearing an absent row is a no-op.
func (s *Store) ClearFieldPermission(ctx context.Context, roleID int64, contentType, fieldName, permission string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM field_permissions
		WHERE role_id = $1 AND content_type = $2 AND field_name = $3 AND permission = $4
	`, roleID, contentType, fieldName, permission)
	if err != nil {
		return fmt.Errorf("failed to clear field permission: %w", err)
	}
	return nil
}

// FieldPermissionsFor returns the explicit rows for any of the given roles on
// one content type and permission.
func (s *Store) FieldPermissionsFor(ctx context.Context, roleIDs []int64, contentType, permission string) ([]*FieldPermission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(roleIDs))
	args := []interface{}{contentType, permission}
	for i, id := range roleIDs {
		args = append(args, id)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}

	query := fmt.Sprintf(`
		SELECT id, role_id, content_type, field_name, permission, granted, created_at
		FROM field_permissions
		WHERE content_type = $1 AND permission = $2 AND role_id IN (%s)
	`, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get field permissions: %w", err)
	}
	defer rows.Close()

	var perms []*FieldPermission
	for rows.Next() {
		fp := &FieldPermission{}
		if err := rows.Scan(&fp.ID, &fp.RoleID, &fp.ContentType, &fp.FieldName, &fp.Permission, &fp.Granted, &fp.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan field permission: %w", err)
		}
		perms = append(perms, fp)
	}
	return perms, rows.Err()
}

// ListFieldPermissions returns all explicit rows for one role.
func (s *Store) ListFieldPermissions(ctx context.Context, roleID int64) ([]*FieldPermission, error) {
	query := `
		SELECT id, role_id, content_type, field_name, permission, granted, created_at
		FROM field_permissions
		WHERE role_id = $1
		ORDER BY content_type, field_name, permission
	`
	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list field permissions: %w", err)
	}
	defer rows.Close()

	var perms []*FieldPermission
	for rows.Next() {
		fp := &FieldPermission{}
		if err := rows.Scan(&fp.ID, &fp.RoleID, &fp.ContentType, &fp.FieldName, &fp.Permission, &fp.Granted, &fp.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan field permission: %w", err)
		}
		perms = append(perms, fp)
	}
	return perms, rows.Err()
}
