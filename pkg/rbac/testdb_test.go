package rbac

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	_, err = db.Exec(`
		CREATE TABLE organizations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL
		);

		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL,
			superuser INTEGER NOT NULL DEFAULT 0,
			default_organization_id INTEGER
		);

		CREATE TABLE user_organizations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			organization_id INTEGER NOT NULL,
			UNIQUE(user_id, organization_id)
		);

		CREATE TABLE roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			organization_id INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(name, organization_id)
		);

		CREATE TABLE user_roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			role_id INTEGER NOT NULL,
			granted_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(user_id, role_id)
		);

		CREATE TABLE api_scopes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			platform TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1,
			system INTEGER NOT NULL DEFAULT 0,
			organization_id INTEGER,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(name, organization_id)
		);

		CREATE TABLE role_api_scopes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			role_id INTEGER NOT NULL,
			scope_id INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(role_id, scope_id)
		);

		CREATE TABLE permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		);

		CREATE TABLE role_permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			role_id INTEGER NOT NULL,
			permission_id INTEGER NOT NULL,
			UNIQUE(role_id, permission_id)
		);

		CREATE TABLE field_permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			role_id INTEGER NOT NULL,
			content_type TEXT NOT NULL,
			field_name TEXT NOT NULL,
			permission TEXT NOT NULL,
			granted INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(role_id, content_type, field_name, permission)
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}

	return db
}

// createTestScope inserts a scope directly and returns its ID.
func createTestScope(t *testing.T, db *sql.DB, name string, orgID interface{}, active, system bool) int64 {
	t.Helper()

	var id int64
	err := db.QueryRow(
		`INSERT INTO api_scopes (name, active, system, organization_id) VALUES ($1, $2, $3, $4) RETURNING id`,
		name, active, system, orgID,
	).Scan(&id)
	if err != nil {
		t.Fatalf("failed to create scope %q: %v", name, err)
	}
	return id
}

// createTestRole inserts a role and returns its ID.
func createTestRole(t *testing.T, db *sql.DB, name string, orgID int64) int64 {
	t.Helper()

	ctx := context.Background()
	role := &Role{Name: name, OrganizationID: orgID}
	if err := NewStore(db).CreateRole(ctx, role); err != nil {
		t.Fatalf("failed to create role %q: %v", name, err)
	}
	return role.ID
}

func bindScope(t *testing.T, db *sql.DB, roleID, scopeID int64) {
	t.Helper()

	if err := NewStore(db).GrantScope(context.Background(), roleID, scopeID); err != nil {
		t.Fatalf("failed to bind scope: %v", err)
	}
}
