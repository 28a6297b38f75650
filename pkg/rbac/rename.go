package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
)

// RenameScopePreservingBindings renames a scope while keeping every role
// binding intact. When a scope with the new name already exists in the same
// organization, the old scope's bindings are merged into it (skipping roles
// already bound, to avoid duplicate-key violations) and the old scope is
// deleted. When the new name is free, the old scope is renamed in place and
// its bindings follow automatically. Safe to re-run: a second invocation
// finds no scope under the old name and performs no writes.
//
// Each (scope, organization) pair is processed in its own transaction so
// bindings never reference a deleted scope.
func (s *Store) RenameScopePreservingBindings(ctx context.Context, oldName, newName string) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, organization_id FROM api_scopes WHERE name = $1`, oldName,
	)
	if err != nil {
		return fmt.Errorf("failed to find scopes named %q: %w", oldName, err)
	}

	type target struct {
		id    int64
		orgID sql.NullInt64
	}
	var targets []target
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.id, &t.orgID); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan scope: %w", err)
		}
		targets = append(targets, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, t := range targets {
		if err := s.renameOneScope(ctx, t.id, t.orgID, newName); err != nil {
			return fmt.Errorf("failed to rename scope %q to %q: %w", oldName, newName, err)
		}
	}
	return nil
}

func (s *Store) renameOneScope(ctx context.Context, oldID int64, orgID sql.NullInt64, newName string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var newID int64
	var lookupErr error
	if orgID.Valid {
		lookupErr = tx.QueryRowContext(ctx,
			`SELECT id FROM api_scopes WHERE name = $1 AND organization_id = $2`, newName, orgID.Int64,
		).Scan(&newID)
	} else {
		lookupErr = tx.QueryRowContext(ctx,
			`SELECT id FROM api_scopes WHERE name = $1 AND organization_id IS NULL`, newName,
		).Scan(&newID)
	}

	switch {
	case errors.Is(lookupErr, sql.ErrNoRows):
		// New name is free: rename in place, bindings stay on the same row.
		if _, err := tx.ExecContext(ctx,
			`UPDATE api_scopes SET name = $1 WHERE id = $2`, newName, oldID,
		); err != nil {
			return err
		}
	case lookupErr == nil:
		// Merge: rebind roles not already bound to the new scope, then drop
		// the old scope and its leftover bindings.
		if _, err := tx.ExecContext(ctx, `
			UPDATE role_api_scopes SET scope_id = $1
			WHERE scope_id = $2
			  AND role_id NOT IN (SELECT role_id FROM role_api_scopes WHERE scope_id = $1)
		`, newID, oldID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM role_api_scopes WHERE scope_id = $1`, oldID,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM api_scopes WHERE id = $1`, oldID,
		); err != nil {
			return err
		}
	default:
		return lookupErr
	}

	return tx.Commit()
}

// RenameLegacyPermission applies the same merge-or-rename algorithm to the
// legacy coarse permission table and its role bindings.
func (s *Store) RenameLegacyPermission(ctx context.Context, oldName, newName string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var oldID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM permissions WHERE name = $1`, oldName).Scan(&oldID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find permission %q: %w", oldName, err)
	}

	var newID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM permissions WHERE name = $1`, newName).Scan(&newID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			`UPDATE permissions SET name = $1 WHERE id = $2`, newName, oldID,
		); err != nil {
			return fmt.Errorf("failed to rename permission: %w", err)
		}
	case err == nil:
		if _, err := tx.ExecContext(ctx, `
			UPDATE role_permissions SET permission_id = $1
			WHERE permission_id = $2
			  AND role_id NOT IN (SELECT role_id FROM role_permissions WHERE permission_id = $1)
		`, newID, oldID); err != nil {
			return fmt.Errorf("failed to rebind permission: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM role_permissions WHERE permission_id = $1`, oldID,
		); err != nil {
			return fmt.Errorf("failed to delete old bindings: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM permissions WHERE id = $1`, oldID,
		); err != nil {
			return fmt.Errorf("failed to delete old permission: %w", err)
		}
	default:
		return fmt.Errorf("failed to find permission %q: %w", newName, err)
	}

	return tx.Commit()
}

// MigrateLegacyPermissionNames applies an old-to-new rename mapping over the
// legacy permission table in deterministic order. Idempotent: entries whose
// old name no longer exists are skipped.
func MigrateLegacyPermissionNames(ctx context.Context, store *Store, renames map[string]string) error {
	oldNames := make([]string, 0, len(renames))
	for oldName := range renames {
		oldNames = append(oldNames, oldName)
	}
	sort.Strings(oldNames)

	for _, oldName := range oldNames {
		if err := store.RenameLegacyPermission(ctx, oldName, renames[oldName]); err != nil {
			return err
		}
	}
	return nil
}

// DefaultLegacyRenames maps the retired underscore permission names to their
// dot-notation successors.
var DefaultLegacyRenames = map[string]string{
	"content_type.read":   "content.type.read",
	"content_type.create": "content.type.create",
	"content_type.update": "content.type.update",
	"content_type.delete": "content.type.delete",
	"content_entry.read":  "content.entry.read",
	"content_entry.write": "content.entry.write",
	"role_manage":         "role.manage",
	"scope_manage":        "scope.manage",
	"org_switch":          "org.switch",
}
