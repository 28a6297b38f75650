package rbac

import (
	"context"
	"database/sql"
	"reflect"
	"sort"
	"testing"
)

func rolesBoundToScope(t *testing.T, db *sql.DB, scopeName string) []int64 {
	t.Helper()

	rows, err := db.Query(`
		SELECT ras.role_id
		FROM role_api_scopes ras
		JOIN api_scopes sc ON sc.id = ras.scope_id
		WHERE sc.name = $1
	`, scopeName)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func scopeCount(t *testing.T, db *sql.DB, name string) int {
	t.Helper()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM api_scopes WHERE name = $1`, name).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return count
}

func TestRenameScope_MergeWithConflict(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewStore(db)

	roleA := createTestRole(t, db, "a", 1)
	roleB := createTestRole(t, db, "b", 1)
	roleC := createTestRole(t, db, "c", 1)

	oldScope := createTestScope(t, db, "content_type.read", int64(1), true, false)
	newScope := createTestScope(t, db, "content.type.read", int64(1), true, false)
	bindScope(t, db, roleA, oldScope)
	bindScope(t, db, roleB, oldScope)
	bindScope(t, db, roleB, newScope)
	bindScope(t, db, roleC, newScope)

	if err := store.RenameScopePreservingBindings(ctx, "content_type.read", "content.type.read"); err != nil {
		t.Fatalf("rename failed: %v", err)
	}

	got := rolesBoundToScope(t, db, "content.type.read")
	want := []int64{roleA, roleB, roleC}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected bindings %v, got %v", want, got)
	}
	if scopeCount(t, db, "content_type.read") != 0 {
		t.Error("old scope must no longer exist")
	}
	if scopeCount(t, db, "content.type.read") != 1 {
		t.Error("expected exactly one surviving scope")
	}
}

func TestRenameScope_InPlaceWhenNewNameFree(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewStore(db)

	role := createTestRole(t, db, "editor", 1)
	oldScope := createTestScope(t, db, "role_manage", int64(1), true, false)
	bindScope(t, db, role, oldScope)

	if err := store.RenameScopePreservingBindings(ctx, "role_manage", "role.manage"); err != nil {
		t.Fatalf("rename failed: %v", err)
	}

	got := rolesBoundToScope(t, db, "role.manage")
	if !reflect.DeepEqual(got, []int64{role}) {
		t.Errorf("binding lost during in-place rename: %v", got)
	}

	// Same row, new name: the scope ID is unchanged.
	var id int64
	if err := db.QueryRow(`SELECT id FROM api_scopes WHERE name = 'role.manage'`).Scan(&id); err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if id != oldScope {
		t.Errorf("expected in-place rename to keep id %d, got %d", oldScope, id)
	}
}

func TestRenameScope_SecondRunPerformsNoWrites(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewStore(db)

	roleA := createTestRole(t, db, "a", 1)
	oldScope := createTestScope(t, db, "content_type.read", int64(1), true, false)
	bindScope(t, db, roleA, oldScope)

	if err := store.RenameScopePreservingBindings(ctx, "content_type.read", "content.type.read"); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	before := rolesBoundToScope(t, db, "content.type.read")
	if err := store.RenameScopePreservingBindings(ctx, "content_type.read", "content.type.read"); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	after := rolesBoundToScope(t, db, "content.type.read")

	if !reflect.DeepEqual(before, after) {
		t.Errorf("second run changed bindings: %v -> %v", before, after)
	}
	if scopeCount(t, db, "content.type.read") != 1 {
		t.Error("second run duplicated the scope")
	}
}

func TestRenameScope_PerOrganization(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewStore(db)

	// Same old name in two orgs. Org 1 has a conflict target, org 2 does not.
	role1 := createTestRole(t, db, "r1", 1)
	role2 := createTestRole(t, db, "r2", 2)
	old1 := createTestScope(t, db, "legacy.read", int64(1), true, false)
	new1 := createTestScope(t, db, "modern.read", int64(1), true, false)
	old2 := createTestScope(t, db, "legacy.read", int64(2), true, false)
	bindScope(t, db, role1, old1)
	bindScope(t, db, role2, old2)
	_ = new1

	if err := store.RenameScopePreservingBindings(ctx, "legacy.read", "modern.read"); err != nil {
		t.Fatalf("rename failed: %v", err)
	}

	if scopeCount(t, db, "legacy.read") != 0 {
		t.Error("old name survived in some organization")
	}
	if scopeCount(t, db, "modern.read") != 2 {
		t.Error("each organization should keep its own renamed scope")
	}

	got := rolesBoundToScope(t, db, "modern.read")
	want := []int64{role1, role2}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected bindings %v, got %v", want, got)
	}
}

func TestMigrateLegacyPermissionNames(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewStore(db)

	seed := func(name string) int64 {
		var id int64
		if err := db.QueryRow(`INSERT INTO permissions (name) VALUES ($1) RETURNING id`, name).Scan(&id); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
		return id
	}
	bind := func(roleID, permID int64) {
		if _, err := db.Exec(`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, roleID, permID); err != nil {
			t.Fatalf("bind failed: %v", err)
		}
	}

	roleA := createTestRole(t, db, "a", 1)
	roleB := createTestRole(t, db, "b", 1)

	oldPerm := seed("content_type.read")
	newPerm := seed("content.type.read")
	onlyOld := seed("role_manage")
	bind(roleA, oldPerm)
	bind(roleB, oldPerm)
	bind(roleB, newPerm)
	bind(roleA, onlyOld)

	if err := MigrateLegacyPermissionNames(ctx, store, DefaultLegacyRenames); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	var mergedBindings int
	if err := db.QueryRow(`
		SELECT COUNT(*) FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE p.name = 'content.type.read'
	`).Scan(&mergedBindings); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if mergedBindings != 2 {
		t.Errorf("expected roles {a, b} bound to merged permission, got %d bindings", mergedBindings)
	}

	var oldCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM permissions WHERE name IN ('content_type.read', 'role_manage')`).Scan(&oldCount); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if oldCount != 0 {
		t.Error("old permission names survived the migration")
	}

	var renamed int
	if err := db.QueryRow(`SELECT COUNT(*) FROM permissions WHERE name = 'role.manage'`).Scan(&renamed); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if renamed != 1 {
		t.Error("expected role_manage renamed in place to role.manage")
	}

	// Re-running finds nothing to do.
	if err := MigrateLegacyPermissionNames(ctx, store, DefaultLegacyRenames); err != nil {
		t.Fatalf("second migration run failed: %v", err)
	}
}
