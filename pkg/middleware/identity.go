// Package middleware provides the HTTP request pipeline: request IDs,
// logging, authentication, rate-limit identity classification, quota
// reporting and enforcement.
package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/vantagecms/vantage/pkg/contextkeys"
)

// APIKeyHeader carries opaque API keys.
const APIKeyHeader = "X-API-Key"

// Classify derives the rate-limiting identity for a request. Precedence:
// an API key header wins over an authenticated principal, which wins over
// the client IP. The enforcement layer and the quota reader both key their
// counters by this exact string.
func Classify(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return "apikey:" + key
	}
	if p := contextkeys.GetPrincipal(r.Context()); p != nil {
		return fmt.Sprintf("user:%d:%d", p.OrganizationID, p.UserID)
	}
	return "ip:" + clientIP(r)
}

// IdentityClass returns the identity's class (apikey, user, ip) for metric
// labels.
func IdentityClass(identity string) string {
	if i := strings.IndexByte(identity, ':'); i > 0 {
		return identity[:i]
	}
	return "unknown"
}

// clientIP prefers the first entry of X-Forwarded-For, falling back to the
// direct peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := fwd
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			first = fwd[:i]
		}
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
