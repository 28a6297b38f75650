package rbac

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all authorization schema migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create organizations and users tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					owner_id BIGINT,
					external_identity VARCHAR(255),
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					email VARCHAR(255) NOT NULL UNIQUE,
					superuser BOOLEAN NOT NULL DEFAULT FALSE,
					default_organization_id BIGINT REFERENCES organizations(id) ON DELETE SET NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS user_organizations (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					UNIQUE(user_id, organization_id)
				);

				CREATE INDEX idx_user_organizations_user_id ON user_organizations(user_id);
			`,
		},
		{
			Version:     2,
			Description: "Create roles and user_roles tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(name, organization_id)
				);

				CREATE TABLE IF NOT EXISTS user_roles (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					granted_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, role_id)
				);

				CREATE INDEX idx_roles_organization_id ON roles(organization_id);
				CREATE INDEX idx_user_roles_user_id ON user_roles(user_id);
				CREATE INDEX idx_user_roles_role_id ON user_roles(role_id);
			`,
		},
		{
			Version:     3,
			Description: "Create api_scopes and role_api_scopes tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS api_scopes (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					label VARCHAR(255) NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT '',
					category VARCHAR(100) NOT NULL DEFAULT '',
					platform VARCHAR(100) NOT NULL DEFAULT '',
					active BOOLEAN NOT NULL DEFAULT TRUE,
					system BOOLEAN NOT NULL DEFAULT FALSE,
					organization_id BIGINT REFERENCES organizations(id) ON DELETE CASCADE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(name, organization_id)
				);

				CREATE TABLE IF NOT EXISTS role_api_scopes (
					id BIGSERIAL PRIMARY KEY,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					scope_id BIGINT NOT NULL REFERENCES api_scopes(id) ON DELETE CASCADE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(role_id, scope_id)
				);

				CREATE INDEX idx_api_scopes_organization_id ON api_scopes(organization_id);
				CREATE INDEX idx_api_scopes_name ON api_scopes(name);
				CREATE INDEX idx_role_api_scopes_role_id ON role_api_scopes(role_id);
				CREATE INDEX idx_role_api_scopes_scope_id ON role_api_scopes(scope_id);
			`,
		},
		{
			Version:     4,
			Description: "Create legacy permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE
				);

				CREATE TABLE IF NOT EXISTS role_permissions (
					id BIGSERIAL PRIMARY KEY,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					UNIQUE(role_id, permission_id)
				);

				CREATE INDEX idx_role_permissions_role_id ON role_permissions(role_id);
			`,
		},
		{
			Version:     5,
			Description: "Create field_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS field_permissions (
					id BIGSERIAL PRIMARY KEY,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					content_type VARCHAR(255) NOT NULL,
					field_name VARCHAR(255) NOT NULL,
					permission VARCHAR(255) NOT NULL,
					granted BOOLEAN NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(role_id, content_type, field_name, permission)
				);

				CREATE INDEX idx_field_permissions_role_id ON field_permissions(role_id);
				CREATE INDEX idx_field_permissions_content_type ON field_permissions(content_type);
			`,
		},
		{
			Version:     6,
			Description: "Create api_keys table",
			SQL: `
				CREATE TABLE IF NOT EXISTS api_keys (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					key_hash VARCHAR(64) NOT NULL UNIQUE,
					key_display VARCHAR(32) NOT NULL,
					name VARCHAR(255) NOT NULL,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					expires_at TIMESTAMP,
					last_used_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					revoked_at TIMESTAMP
				);

				CREATE INDEX idx_api_keys_organization_id ON api_keys(organization_id);
				CREATE INDEX idx_api_keys_user_id ON api_keys(user_id);
			`,
		},
	}
}

// RunMigrations applies all pending migrations in version order.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS authz_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM authz_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Description, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO authz_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
