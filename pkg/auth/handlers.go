package auth

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/vantagecms/vantage/pkg/authz"
	"github.com/vantagecms/vantage/pkg/contextkeys"
	"github.com/vantagecms/vantage/pkg/observability"
)

// Handlers manages API keys over HTTP. Routes expect authentication
// middleware to have populated the principal; the composition root guards
// them with the apikey.manage scope.
type Handlers struct {
	keys *APIKeyStore
}

// NewHandlers creates API key handlers.
func NewHandlers(keys *APIKeyStore) *Handlers {
	return &Handlers{keys: keys}
}

// RegisterRoutes mounts the API key management routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api-keys", h.list).Methods(http.MethodGet)
	router.HandleFunc("/api-keys", h.create).Methods(http.MethodPost)
	router.HandleFunc("/api-keys/{id:[0-9]+}", h.revoke).Methods(http.MethodDelete)
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	if principal == nil {
		authz.WriteError(w, authz.ErrUnauthenticated)
		return
	}

	keys, err := h.keys.List(r.Context(), principal.OrganizationID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to list api keys")
		authz.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"api_keys": keys})
}

func (h *Handlers) create(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	if principal == nil {
		authz.WriteError(w, authz.ErrUnauthenticated)
		return
	}

	var req struct {
		Name      string     `json:"name"`
		ExpiresAt *time.Time `json:"expires_at,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	key, raw, err := h.keys.Create(r.Context(), principal.OrganizationID, principal.UserID, req.Name, req.ExpiresAt)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to create api key")
		authz.WriteError(w, err)
		return
	}

	// The raw key appears exactly once, in this response.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{"api_key": key, "key": raw})
}

func (h *Handlers) revoke(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	if principal == nil {
		authz.WriteError(w, authz.ErrUnauthenticated)
		return
	}

	keyID, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	// Only keys in the caller's organization are visible.
	keys, err := h.keys.List(r.Context(), principal.OrganizationID)
	if err != nil {
		authz.WriteError(w, err)
		return
	}
	var owned bool
	for _, k := range keys {
		if k.ID == keyID {
			owned = true
			break
		}
	}
	if !owned {
		authz.WriteError(w, authz.ErrNotFound)
		return
	}

	if err := h.keys.Revoke(r.Context(), keyID); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to revoke api key")
		authz.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
