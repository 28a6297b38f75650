package tenancy

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vantagecms/vantage/pkg/authz"
	"github.com/vantagecms/vantage/pkg/contextkeys"
	"github.com/vantagecms/vantage/pkg/observability"
)

// Handlers exposes the organization listing and switching API.
type Handlers struct {
	service *Service
}

// NewHandlers creates tenancy handlers.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes mounts the tenancy API. Authentication middleware must run
// before these handlers.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/organizations", h.listOrganizations).Methods(http.MethodGet)
	router.HandleFunc("/organizations/switch", h.switchOrganization).Methods(http.MethodPost)
	router.HandleFunc("/organizations/default", h.setDefaultOrganization).Methods(http.MethodPut)
}

type organizationsResponse struct {
	Organizations         []Organization `json:"organizations"`
	CurrentOrganizationID int64          `json:"current_organization_id"`
}

func (h *Handlers) listOrganizations(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	if principal == nil {
		authz.WriteError(w, authz.ErrUnauthenticated)
		return
	}

	orgs, err := h.service.ListOrganizations(r.Context(), principal)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, organizationsResponse{
		Organizations:         orgs,
		CurrentOrganizationID: principal.OrganizationID,
	})
}

func (h *Handlers) switchOrganization(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	if principal == nil {
		authz.WriteError(w, authz.ErrUnauthenticated)
		return
	}

	var req struct {
		OrganizationID int64 `json:"organization_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrganizationID == 0 {
		http.Error(w, "organization_id is required", http.StatusBadRequest)
		return
	}

	switched, err := h.service.Switch(r.Context(), principal, req.OrganizationID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	orgs, err := h.service.ListOrganizations(r.Context(), switched)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, organizationsResponse{
		Organizations:         orgs,
		CurrentOrganizationID: switched.OrganizationID,
	})
}

func (h *Handlers) setDefaultOrganization(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	if principal == nil {
		authz.WriteError(w, authz.ErrUnauthenticated)
		return
	}

	var req struct {
		OrganizationID int64 `json:"organization_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrganizationID == 0 {
		http.Error(w, "organization_id is required", http.StatusBadRequest)
		return
	}

	if err := h.service.SetDefaultOrganization(r.Context(), principal, req.OrganizationID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	if authz.StatusFor(err) == http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).Error("tenancy request failed")
	}
	authz.WriteError(w, err)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
