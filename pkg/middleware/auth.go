package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/vantagecms/vantage/pkg/authz"
	"github.com/vantagecms/vantage/pkg/contextkeys"
	"github.com/vantagecms/vantage/pkg/observability"
	"github.com/vantagecms/vantage/pkg/tenancy"
)

// PrincipalResolver authenticates raw credentials into a principal.
type PrincipalResolver interface {
	Resolve(ctx context.Context, creds tenancy.Credentials) (*authz.Principal, error)
}

// Authenticator populates the request context with the authenticated
// principal.
type Authenticator struct {
	resolver PrincipalResolver
}

// NewAuthenticator creates an authenticator over a principal resolver.
func NewAuthenticator(resolver PrincipalResolver) *Authenticator {
	return &Authenticator{resolver: resolver}
}

// Authenticate requires a valid credential. A presented-but-invalid
// credential is rejected, never downgraded to anonymous.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creds := extractCredentials(r)

		principal, err := a.resolver.Resolve(r.Context(), creds)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Debug("authentication rejected")
			authz.WriteError(w, authz.ErrUnauthenticated)
			return
		}

		ctx := contextkeys.WithPrincipal(r.Context(), principal)
		if creds.APIKey != "" {
			ctx = contextkeys.WithAPIKey(ctx, creds.APIKey)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional resolves a credential when one is present but lets anonymous
// requests through. An invalid credential is still rejected.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creds := extractCredentials(r)
		if creds.BearerToken == "" && creds.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		principal, err := a.resolver.Resolve(r.Context(), creds)
		if err != nil {
			authz.WriteError(w, authz.ErrUnauthenticated)
			return
		}

		ctx := contextkeys.WithPrincipal(r.Context(), principal)
		if creds.APIKey != "" {
			ctx = contextkeys.WithAPIKey(ctx, creds.APIKey)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractCredentials(r *http.Request) tenancy.Credentials {
	creds := tenancy.Credentials{
		APIKey: r.Header.Get(APIKeyHeader),
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		creds.BearerToken = strings.TrimPrefix(header, "Bearer ")
	}
	return creds
}
