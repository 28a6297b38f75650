package rbac

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/vantagecms/vantage/pkg/authz"
	"github.com/vantagecms/vantage/pkg/contextkeys"
	"github.com/vantagecms/vantage/pkg/observability"
	"github.com/vantagecms/vantage/pkg/scopes"
)

// Handlers exposes role, scope and field-permission administration.
type Handlers struct {
	store    *Store
	graph    *Graph
	fields   *FieldResolver
	scopes   *scopes.Store
	enforcer *Enforcer
}

// NewHandlers creates the admin handler set.
func NewHandlers(store *Store, graph *Graph, fields *FieldResolver, scopeStore *scopes.Store, enforcer *Enforcer) *Handlers {
	return &Handlers{store: store, graph: graph, fields: fields, scopes: scopeStore, enforcer: enforcer}
}

// RegisterRoutes mounts the administration API. All routes require an
// authenticated principal plus the relevant management scope.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	roles := router.PathPrefix("/roles").Subrouter()
	roles.Use(h.enforcer.Require(authz.RequireScope("role.manage")))
	roles.HandleFunc("", h.listRoles).Methods(http.MethodGet)
	roles.HandleFunc("", h.createRole).Methods(http.MethodPost)
	roles.HandleFunc("/{id:[0-9]+}", h.getRole).Methods(http.MethodGet)
	roles.HandleFunc("/{id:[0-9]+}", h.deleteRole).Methods(http.MethodDelete)
	roles.HandleFunc("/{id:[0-9]+}/scopes/{scopeID:[0-9]+}", h.grantScope).Methods(http.MethodPut)
	roles.HandleFunc("/{id:[0-9]+}/scopes/{scopeID:[0-9]+}", h.revokeScope).Methods(http.MethodDelete)
	roles.HandleFunc("/{id:[0-9]+}/users/{userID:[0-9]+}", h.assignRole).Methods(http.MethodPut)
	roles.HandleFunc("/{id:[0-9]+}/users/{userID:[0-9]+}", h.removeRole).Methods(http.MethodDelete)
	roles.HandleFunc("/{id:[0-9]+}/field-permissions", h.listFieldPermissions).Methods(http.MethodGet)
	roles.HandleFunc("/{id:[0-9]+}/field-permissions", h.setFieldPermission).Methods(http.MethodPut)
	roles.HandleFunc("/{id:[0-9]+}/field-permissions", h.clearFieldPermission).Methods(http.MethodDelete)

	scopeRoutes := router.PathPrefix("/scopes").Subrouter()
	scopeRoutes.Use(h.enforcer.Require(authz.RequireScope("scope.manage")))
	scopeRoutes.HandleFunc("", h.listScopes).Methods(http.MethodGet)
	scopeRoutes.HandleFunc("", h.createScope).Methods(http.MethodPost)
	scopeRoutes.HandleFunc("/{id:[0-9]+}", h.getScope).Methods(http.MethodGet)
	scopeRoutes.HandleFunc("/{id:[0-9]+}", h.updateScope).Methods(http.MethodPut)
	scopeRoutes.HandleFunc("/{id:[0-9]+}", h.deleteScope).Methods(http.MethodDelete)

	router.HandleFunc("/permissions/effective", h.effectiveScopes).Methods(http.MethodGet)
	router.HandleFunc("/permissions/fields/check", h.checkFields).Methods(http.MethodPost)
}

func (h *Handlers) listRoles(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	roles, err := h.store.ListRoles(r.Context(), principal.OrganizationID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"roles": roles})
}

func (h *Handlers) createRole(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	role := &Role{Name: req.Name, Description: req.Description, OrganizationID: principal.OrganizationID}
	if err := h.store.CreateRole(r.Context(), role); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

func (h *Handlers) getRole(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	roleID := pathID(r, "id")

	role, err := h.store.GetRole(r.Context(), roleID, principal.OrganizationID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	scopeNames, err := h.store.ScopesForRoles(r.Context(), []int64{role.ID})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"role": role, "scopes": scopeNames})
}

func (h *Handlers) deleteRole(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())

	if err := h.store.DeleteRole(r.Context(), pathID(r, "id"), principal.OrganizationID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.graph.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) grantScope(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	roleID := pathID(r, "id")
	scopeID := pathID(r, "scopeID")

	// Role and scope must both be visible to the caller's organization.
	if _, err := h.store.GetRole(r.Context(), roleID, principal.OrganizationID); err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.scopes.Get(r.Context(), scopeID, &principal.OrganizationID); err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.graph.GrantScope(r.Context(), roleID, scopeID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) revokeScope(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	roleID := pathID(r, "id")

	if _, err := h.store.GetRole(r.Context(), roleID, principal.OrganizationID); err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.graph.RevokeScope(r.Context(), roleID, pathID(r, "scopeID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) assignRole(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	roleID := pathID(r, "id")

	if _, err := h.store.GetRole(r.Context(), roleID, principal.OrganizationID); err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.store.AssignRole(r.Context(), pathID(r, "userID"), roleID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.graph.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) removeRole(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	roleID := pathID(r, "id")

	if _, err := h.store.GetRole(r.Context(), roleID, principal.OrganizationID); err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.store.RemoveRole(r.Context(), pathID(r, "userID"), roleID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.graph.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) listFieldPermissions(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	roleID := pathID(r, "id")

	if _, err := h.store.GetRole(r.Context(), roleID, principal.OrganizationID); err != nil {
		h.fail(w, r, err)
		return
	}

	perms, err := h.store.ListFieldPermissions(r.Context(), roleID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"field_permissions": perms})
}

func (h *Handlers) setFieldPermission(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	roleID := pathID(r, "id")

	if _, err := h.store.GetRole(r.Context(), roleID, principal.OrganizationID); err != nil {
		h.fail(w, r, err)
		return
	}

	var req struct {
		ContentType string `json:"content_type"`
		FieldName   string `json:"field_name"`
		Permission  string `json:"permission"`
		Granted     bool   `json:"granted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ContentType == "" || req.FieldName == "" || req.Permission == "" {
		http.Error(w, "content_type, field_name and permission are required", http.StatusBadRequest)
		return
	}

	fp := &FieldPermission{
		RoleID:      roleID,
		ContentType: req.ContentType,
		FieldName:   req.FieldName,
		Permission:  req.Permission,
		Granted:     req.Granted,
	}
	if err := h.store.SetFieldPermission(r.Context(), fp); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fp)
}

func (h *Handlers) clearFieldPermission(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	roleID := pathID(r, "id")

	if _, err := h.store.GetRole(r.Context(), roleID, principal.OrganizationID); err != nil {
		h.fail(w, r, err)
		return
	}

	var req struct {
		ContentType string `json:"content_type"`
		FieldName   string `json:"field_name"`
		Permission  string `json:"permission"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.store.ClearFieldPermission(r.Context(), roleID, req.ContentType, req.FieldName, req.Permission); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) listScopes(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())

	filter := scopes.ListFilter{
		Category:   r.URL.Query().Get("category"),
		Platform:   r.URL.Query().Get("platform"),
		ActiveOnly: r.URL.Query().Get("active") == "true",
	}
	result, err := h.scopes.List(r.Context(), &principal.OrganizationID, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"scopes": result})
}

func (h *Handlers) createScope(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())

	var scope scopes.Scope
	if err := json.NewDecoder(r.Body).Decode(&scope); err != nil || scope.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	// Tenants create tenant scopes; global system scopes are seeded by the
	// operator, not through this API.
	scope.OrganizationID = &principal.OrganizationID
	scope.System = false

	if err := h.scopes.Create(r.Context(), &scope); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, scope)
}

func (h *Handlers) getScope(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())

	scope, err := h.scopes.Get(r.Context(), pathID(r, "id"), &principal.OrganizationID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scope)
}

func (h *Handlers) updateScope(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())

	current, err := h.scopes.Get(r.Context(), pathID(r, "id"), &principal.OrganizationID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if current.OrganizationID == nil {
		// Global scopes are operator-managed.
		h.fail(w, r, authz.ErrForbidden)
		return
	}

	var req struct {
		Name        string `json:"name"`
		Label       string `json:"label"`
		Description string `json:"description"`
		Category    string `json:"category"`
		Platform    string `json:"platform"`
		Active      bool   `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	current.Name = req.Name
	current.Label = req.Label
	current.Description = req.Description
	current.Category = req.Category
	current.Platform = req.Platform
	current.Active = req.Active

	if err := h.scopes.Update(r.Context(), current); err != nil {
		h.fail(w, r, err)
		return
	}
	h.graph.Invalidate()
	writeJSON(w, http.StatusOK, current)
}

func (h *Handlers) deleteScope(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())

	if err := h.scopes.Delete(r.Context(), pathID(r, "id"), &principal.OrganizationID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.graph.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

// effectiveScopes reports the caller's own resolved scope set.
func (h *Handlers) effectiveScopes(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	if principal == nil {
		authz.WriteError(w, authz.ErrUnauthenticated)
		return
	}

	names, err := h.graph.EffectiveScopes(r.Context(), principal)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"scopes": names})
}

// checkFields is the batch capability query used by editing UIs.
func (h *Handlers) checkFields(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	if principal == nil {
		authz.WriteError(w, authz.ErrUnauthenticated)
		return
	}

	var req struct {
		ContentType string   `json:"content_type"`
		Fields      []string `json:"fields"`
		Permission  string   `json:"permission"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ContentType == "" || req.Permission == "" {
		http.Error(w, "content_type and permission are required", http.StatusBadRequest)
		return
	}

	if principal.Superuser {
		decisions := make(map[string]bool, len(req.Fields))
		for _, f := range req.Fields {
			decisions[f] = true
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"fields": decisions})
		return
	}

	decisions, err := h.fields.Check(r.Context(), principal.RoleIDs, req.ContentType, req.Fields, req.Permission)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"fields": decisions})
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	if authz.StatusFor(err) == http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
	}
	authz.WriteError(w, err)
}

func pathID(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
