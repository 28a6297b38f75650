// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here. This
// prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import (
	"context"

	"github.com/vantagecms/vantage/pkg/authz"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *authz.Principal
	// Set by: middleware.Authenticate (pkg/middleware/auth.go)
	// Required by: all protected endpoints, requirement middleware
	PrincipalKey Key = "principal"

	// APIKeyKey contains the raw API key string presented on the request
	// Set by: middleware.Authenticate when an X-API-Key header is present
	// Used by: rate-limit identity classification
	APIKeyKey Key = "api_key"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: logger, audit trail
	RequestIDKey Key = "request_id"
)

// WithPrincipal adds the authenticated principal to the context.
func WithPrincipal(ctx context.Context, p *authz.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// GetPrincipal retrieves the authenticated principal, or nil.
func GetPrincipal(ctx context.Context) *authz.Principal {
	p, _ := ctx.Value(PrincipalKey).(*authz.Principal)
	return p
}

// WithAPIKey records the raw API key presented on the request.
func WithAPIKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, APIKeyKey, key)
}

// GetAPIKey retrieves the raw API key, or "".
func GetAPIKey(ctx context.Context) string {
	k, _ := ctx.Value(APIKeyKey).(string)
	return k
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from context, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
