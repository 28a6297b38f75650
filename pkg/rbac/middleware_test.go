package rbac

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vantagecms/vantage/pkg/authz"
	"github.com/vantagecms/vantage/pkg/contextkeys"
	"github.com/vantagecms/vantage/pkg/observability"
)

func newTestEnforcer(t *testing.T) (*Enforcer, *Store, func()) {
	t.Helper()

	db := setupTestDB(t)
	store := NewStore(db)
	enforcer := NewEnforcer(NewGraph(store, nil), NewFieldResolver(store), nil)
	return enforcer, store, func() { db.Close() }
}

func TestEnforcer_EvaluateScope(t *testing.T) {
	enforcer, store, cleanup := newTestEnforcer(t)
	defer cleanup()

	ctx := context.Background()
	db := store.db

	role := createTestRole(t, db, "editor", 1)
	scope := createTestScope(t, db, "content.read", int64(1), true, false)
	bindScope(t, db, role, scope)

	holder := &authz.Principal{UserID: 1, OrganizationID: 1, RoleIDs: []int64{role}}
	if err := enforcer.Evaluate(ctx, holder, authz.RequireScope("content.read")); err != nil {
		t.Errorf("expected scope holder to pass, got %v", err)
	}

	outsider := &authz.Principal{UserID: 2, OrganizationID: 1}
	err := enforcer.Evaluate(ctx, outsider, authz.RequireScope("content.read"))
	if !errors.Is(err, authz.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestEnforcer_EvaluateFieldAccess(t *testing.T) {
	enforcer, store, cleanup := newTestEnforcer(t)
	defer cleanup()

	ctx := context.Background()
	role := createTestRole(t, store.db, "editor", 1)
	mustSetFieldPermission(t, store, role, "article", "price", "content.update", false)

	principal := &authz.Principal{UserID: 1, OrganizationID: 1, RoleIDs: []int64{role}}

	err := enforcer.Evaluate(ctx, principal, authz.RequireFieldAccess("article", "price", "content.update"))
	if !errors.Is(err, authz.ErrForbidden) {
		t.Errorf("expected ErrForbidden on denied field, got %v", err)
	}

	if err := enforcer.Evaluate(ctx, principal, authz.RequireFieldAccess("article", "title", "content.update")); err != nil {
		t.Errorf("unconfigured field must pass, got %v", err)
	}

	super := &authz.Principal{UserID: 2, OrganizationID: 1, Superuser: true}
	if err := enforcer.Evaluate(ctx, super, authz.RequireFieldAccess("article", "price", "content.update")); err != nil {
		t.Errorf("superuser must bypass field checks, got %v", err)
	}
}

func TestRequireMiddleware(t *testing.T) {
	enforcer, store, cleanup := newTestEnforcer(t)
	defer cleanup()

	db := store.db
	role := createTestRole(t, db, "editor", 1)
	scope := createTestScope(t, db, "content.read", int64(1), true, false)
	bindScope(t, db, role, scope)

	var reached bool
	handler := enforcer.Require(authz.RequireScope("content.read"))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reached = true
			w.WriteHeader(http.StatusOK)
		}),
	)

	// No principal on the request context.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a principal, got %d", rec.Code)
	}
	if reached {
		t.Error("handler must not run without a principal")
	}

	// Principal without the scope.
	outsider := &authz.Principal{UserID: 2, OrganizationID: 1}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(contextkeys.WithPrincipal(req.Context(), outsider))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 without the scope, got %d", rec.Code)
	}

	// Principal holding the scope.
	holder := &authz.Principal{UserID: 1, OrganizationID: 1, RoleIDs: []int64{role}}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(contextkeys.WithPrincipal(req.Context(), holder))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !reached {
		t.Errorf("expected handler to run for scope holder, got %d", rec.Code)
	}
}

func TestRequireMiddleware_RejectionLogFields(t *testing.T) {
	enforcer, store, cleanup := newTestEnforcer(t)
	defer cleanup()

	role := createTestRole(t, store.db, "editor", 1)
	mustSetFieldPermission(t, store, role, "article", "price", "content.update", false)
	principal := &authz.Principal{UserID: 7, OrganizationID: 1, RoleIDs: []int64{role}}

	var buf bytes.Buffer
	logger := observability.NewLogger(observability.DebugLevel, &buf)

	handler := enforcer.Require(authz.RequireFieldAccess("article", "price", "content.update"))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := observability.WithLogger(contextkeys.WithPrincipal(req.Context(), principal), logger)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(ctx))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	line := buf.String()
	for _, want := range []string{`"kind":"field_access"`, `"content_type":"article"`, `"field":"price"`, `"permission":"content.update"`} {
		if !strings.Contains(line, want) {
			t.Errorf("rejection log missing %s: %s", want, line)
		}
	}
	if strings.Contains(line, `"scope":""`) {
		t.Errorf("rejection log carries an empty scope field: %s", line)
	}
}
