package rbac

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

// These tests pin the exact statements GrantScope issues so the
// idempotency check stays a read, not a write.

func TestGrantScope_ExistingBindingSkipsInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	store := NewStore(db)

	mock.ExpectQuery(`SELECT id FROM role_api_scopes WHERE role_id = \$1 AND scope_id = \$2`).
		WithArgs(int64(7), int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	if err := store.GrantScope(context.Background(), 7, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGrantScope_MissingBindingInserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	store := NewStore(db)

	mock.ExpectQuery(`SELECT id FROM role_api_scopes WHERE role_id = \$1 AND scope_id = \$2`).
		WithArgs(int64(7), int64(3)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO role_api_scopes \(role_id, scope_id, created_at\)`).
		WithArgs(int64(7), int64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.GrantScope(context.Background(), 7, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGrantScope_CheckErrorPropagates(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	store := NewStore(db)

	mock.ExpectQuery(`SELECT id FROM role_api_scopes`).
		WillReturnError(sql.ErrConnDone)

	if err := store.GrantScope(context.Background(), 7, 3); err == nil {
		t.Error("expected error, got nil")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestScopesForRoles_EmptyRoleListSkipsQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	store := NewStore(db)

	names, err := store.ScopesForRoles(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names != nil {
		t.Errorf("expected nil scope list, got %v", names)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
