package signing

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// Handlers serves the public-key discovery endpoints.
type Handlers struct {
	manager *Manager
	issuer  string
}

// NewHandlers creates discovery handlers for the given issuer base URL.
func NewHandlers(manager *Manager, issuer string) *Handlers {
	return &Handlers{manager: manager, issuer: issuer}
}

// RegisterRoutes registers the well-known endpoints.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/.well-known/jwks.json", h.JWKS).Methods(http.MethodGet)
	r.HandleFunc("/.well-known/openid-configuration", h.OpenIDConfiguration).Methods(http.MethodGet)
}

// JWKS handles GET /.well-known/jwks.json
func (h *Handlers) JWKS(w http.ResponseWriter, r *http.Request) {
	jwks, err := h.manager.PublishJWKS()
	if err != nil {
		http.Error(w, "signing key unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	json.NewEncoder(w).Encode(jwks)
}

// OpenIDConfiguration handles GET /.well-known/openid-configuration
func (h *Handlers) OpenIDConfiguration(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	json.NewEncoder(w).Encode(h.manager.PublishOpenIDConfiguration(h.issuer))
}
