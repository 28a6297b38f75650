package authz

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the authorization core. Handlers translate these into
// HTTP responses with StatusFor; everything else maps to 500.
var (
	// ErrUnauthenticated means no valid credential was presented, or the token
	// signature/expiry failed validation. Never treated as anonymous.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden means the credential is valid but the principal lacks the
	// organization membership or scope required for the action.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound means a referenced organization, role, or scope does not
	// exist in the caller's visible set. Cross-tenant existence probes return
	// this rather than ErrForbidden so that other tenants' resources are
	// indistinguishable from missing ones.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a uniqueness violation: duplicate scope name, a create
	// that collides with an existing row.
	ErrConflict = errors.New("conflict")

	// ErrMisconfigured means invalid startup configuration (malformed key
	// material). Fatal: the process must not start serving.
	ErrMisconfigured = errors.New("misconfigured")
)

// StatusFor maps a core error to its HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes a JSON error response for a core error.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, msg)
}
